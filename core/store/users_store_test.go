package store

import (
	"context"
	"errors"
	"testing"
)

func seedRoles(t *testing.T, users UsersStore) {
	t.Helper()
	err := users.EnsureBuiltinRoles(context.Background(), []Role{
		{Name: "admin", Description: "Full access", Permissions: []string{"forms.manage", "accounts.manage"}},
		{Name: "viewer", Description: "Read only", Permissions: []string{"forms.view"}},
	})
	if err != nil {
		t.Fatalf("ensure roles: %v", err)
	}
}

func TestCreateUserWithRoles(t *testing.T) {
	db := testDB(t)
	users := NewUsersStore(db)
	seedRoles(t, users)
	ctx := context.Background()

	user := &User{Username: "  Operator1 ", FullName: "Dana Reyes", ICSPosition: "Comms Unit Leader", Active: true}
	id, err := users.Create(ctx, user, []string{"viewer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, roles, err := users.FindByUsername(ctx, "OPERATOR1")
	if err != nil || got == nil {
		t.Fatalf("find: %v %v", got, err)
	}
	if got.ID != id || got.Username != "operator1" {
		t.Fatalf("username not normalized: %+v", got)
	}
	if got.PasswordSet {
		t.Fatalf("expected password_set=false for empty hash")
	}
	if len(roles) != 1 || roles[0] != "viewer" {
		t.Fatalf("expected viewer role, got %v", roles)
	}
}

func TestUpdateUserNilRolesKeepsBindings(t *testing.T) {
	db := testDB(t)
	users := NewUsersStore(db)
	seedRoles(t, users)
	ctx := context.Background()

	user := &User{Username: "op2", Active: true}
	if _, err := users.Create(ctx, user, []string{"viewer", "admin"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	user.FullName = "Updated Name"
	if err := users.Update(ctx, user, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	_, roles, err := users.Get(ctx, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("nil roles dropped bindings: %v", roles)
	}

	if err := users.Update(ctx, user, []string{"viewer"}); err != nil {
		t.Fatalf("update roles: %v", err)
	}
	_, roles, _ = users.Get(ctx, user.ID)
	if len(roles) != 1 || roles[0] != "viewer" {
		t.Fatalf("role replacement failed: %v", roles)
	}
}

func TestDeactivateUser(t *testing.T) {
	db := testDB(t)
	users := NewUsersStore(db)
	seedRoles(t, users)
	ctx := context.Background()

	user := &User{Username: "op3", Active: true}
	if _, err := users.Create(ctx, user, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := users.Deactivate(ctx, user.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _, _ := users.Get(ctx, user.ID)
	if got.Active {
		t.Fatalf("user still active")
	}
	if err := users.Deactivate(ctx, user.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("double deactivate should conflict, got %v", err)
	}
}

func TestEnsureBuiltinRolesUpdatesExisting(t *testing.T) {
	db := testDB(t)
	users := NewUsersStore(db)
	ctx := context.Background()
	seedRoles(t, users)

	err := users.EnsureBuiltinRoles(ctx, []Role{
		{Name: "viewer", Description: "Read only", Permissions: []string{"forms.view", "incidents.view"}},
	})
	if err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	roles, err := users.ListRoles(ctx)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	var viewer *Role
	for i := range roles {
		if roles[i].Name == "viewer" {
			viewer = &roles[i]
		}
	}
	if viewer == nil {
		t.Fatalf("viewer role missing: %+v", roles)
	}
	if len(viewer.Permissions) != 2 {
		t.Fatalf("permissions not updated: %v", viewer.Permissions)
	}
	if !viewer.BuiltIn {
		t.Fatalf("expected built_in role")
	}
}
