package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type User struct {
	ID                    int64      `json:"id"`
	Username              string     `json:"username"`
	FullName              string     `json:"full_name"`
	Email                 string     `json:"email"`
	ICSPosition           string     `json:"ics_position"`
	HomeAgency            string     `json:"home_agency"`
	PasswordHash          string     `json:"-"`
	Salt                  string     `json:"-"`
	PasswordSet           bool       `json:"password_set"`
	RequirePasswordChange bool       `json:"require_password_change"`
	FailedAttempts        int        `json:"-"`
	LockedUntil           *time.Time `json:"locked_until,omitempty"`
	LastLoginAt           *time.Time `json:"last_login_at,omitempty"`
	Active                bool       `json:"active"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

type Role struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	BuiltIn     bool     `json:"built_in"`
}

type UsersStore interface {
	Create(ctx context.Context, user *User, roles []string) (int64, error)
	// Update persists user fields; a nil roles slice leaves role bindings unchanged.
	Update(ctx context.Context, user *User, roles []string) error
	Get(ctx context.Context, id int64) (*User, []string, error)
	FindByUsername(ctx context.Context, username string) (*User, []string, error)
	List(ctx context.Context) ([]User, error)
	UserRoles(ctx context.Context, userID int64) ([]string, error)
	Deactivate(ctx context.Context, id int64) error

	ListRoles(ctx context.Context) ([]Role, error)
	EnsureBuiltinRoles(ctx context.Context, roles []Role) error
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `id, username, full_name, email, ics_position, home_agency, password_hash, salt, require_password_change, failed_attempts, locked_until, last_login_at, active, created_at, updated_at`

func (s *usersStore) Create(ctx context.Context, user *User, roles []string) (int64, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users(username, full_name, email, ics_position, home_agency, password_hash, salt, require_password_change, failed_attempts, locked_until, last_login_at, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		strings.ToLower(strings.TrimSpace(user.Username)), user.FullName, user.Email, user.ICSPosition, user.HomeAgency,
		user.PasswordHash, user.Salt, boolToInt(user.RequirePasswordChange), user.FailedAttempts,
		nullableTime(user.LockedUntil), nullableTime(user.LastLoginAt), boolToInt(user.Active), now, now)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, _ := res.LastInsertId()
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	if err := s.replaceRolesTx(ctx, tx, id, roles); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *usersStore) Update(ctx context.Context, user *User, roles []string) error {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET full_name=?, email=?, ics_position=?, home_agency=?, password_hash=?, salt=?, require_password_change=?, failed_attempts=?, locked_until=?, last_login_at=?, active=?, updated_at=?
		WHERE id=?`,
		user.FullName, user.Email, user.ICSPosition, user.HomeAgency, user.PasswordHash, user.Salt,
		boolToInt(user.RequirePasswordChange), user.FailedAttempts, nullableTime(user.LockedUntil),
		nullableTime(user.LastLoginAt), boolToInt(user.Active), now, user.ID); err != nil {
		tx.Rollback()
		return err
	}
	if roles != nil {
		if err := s.replaceRolesTx(ctx, tx, user.ID, roles); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	user.UpdatedAt = now
	return nil
}

func (s *usersStore) replaceRolesTx(ctx context.Context, tx *sql.Tx, userID int64, roles []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=?`, userID); err != nil {
		return err
	}
	for _, name := range roles {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var roleID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=?`, name).Scan(&roleID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_roles(user_id, role_id) VALUES(?,?)`, userID, roleID); err != nil {
			return err
		}
	}
	return nil
}

func (s *usersStore) Get(ctx context.Context, id int64) (*User, []string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id)
	user, err := scanUser(row)
	if err != nil || user == nil {
		return user, nil, err
	}
	roles, err := s.UserRoles(ctx, user.ID)
	return user, roles, err
}

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, []string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, strings.ToLower(strings.TrimSpace(username)))
	user, err := scanUser(row)
	if err != nil || user == nil {
		return user, nil, err
	}
	roles, err := s.UserRoles(ctx, user.ID)
	return user, roles, err
}

func (s *usersStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *user)
	}
	return out, rows.Err()
}

func (s *usersStore) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id=r.id WHERE ur.user_id=? ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *usersStore) Deactivate(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active=0, updated_at=? WHERE id=? AND active=1`, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *usersStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, permissions, built_in FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var role Role
		var perms string
		var builtIn int
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &perms, &builtIn); err != nil {
			return nil, err
		}
		role.BuiltIn = builtIn == 1
		_ = json.Unmarshal([]byte(perms), &role.Permissions)
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *usersStore) EnsureBuiltinRoles(ctx context.Context, roles []Role) error {
	for _, role := range roles {
		perms, err := json.Marshal(role.Permissions)
		if err != nil {
			return err
		}
		var existing int64
		err = s.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE name=?`, role.Name).Scan(&existing)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if _, err := s.db.ExecContext(ctx, `
				INSERT INTO roles(name, description, permissions, built_in) VALUES(?,?,?,1)`,
				role.Name, role.Description, string(perms)); err != nil {
				return err
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, `
			UPDATE roles SET description=?, permissions=?, built_in=1, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
			role.Description, string(perms), existing); err != nil {
			return err
		}
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var requireChange, active int
	var lockedUntil, lastLoginAt sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.ICSPosition, &u.HomeAgency,
		&u.PasswordHash, &u.Salt, &requireChange, &u.FailedAttempts, &lockedUntil, &lastLoginAt,
		&active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.RequirePasswordChange = requireChange == 1
	u.Active = active == 1
	u.PasswordSet = strings.TrimSpace(u.PasswordHash) != ""
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLoginAt)
	return &u, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
