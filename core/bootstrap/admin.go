// Package bootstrap seeds the database with the records the server
// cannot run without.
package bootstrap

import (
	"context"
	"fmt"

	"icsforms/config"
	"icsforms/core/auth"
	"icsforms/core/store"
	"icsforms/core/utils"
)

const (
	DefaultAdminUsername = "admin"
	defaultAdminPassword = "icsforms-admin"
)

// EnsureDefaultAdmin creates the built-in admin account on first start.
// The account is created with a forced password change so the shipped
// default never survives past the first login.
func EnsureDefaultAdmin(ctx context.Context, users store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) error {
	existing, _, err := users.FindByUsername(ctx, DefaultAdminUsername)
	if err != nil {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		return nil
	}
	ph, err := auth.HashPassword(defaultAdminPassword, cfg.Pepper)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	admin := &store.User{
		Username:              DefaultAdminUsername,
		FullName:              "Administrator",
		PasswordHash:          ph.Hash,
		Salt:                  ph.Salt,
		RequirePasswordChange: true,
		Active:                true,
	}
	if _, err := users.Create(ctx, admin, []string{"admin"}); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Warnf("created default admin account %q with a temporary password, change it on first login", DefaultAdminUsername)
	return nil
}
