// Package routegroups wires handler methods onto chi routers behind the
// session and permission guards supplied by the server.
package routegroups

import (
	"net/http"

	"icsforms/core/rbac"
)

type Guards struct {
	WithSession func(http.HandlerFunc) http.HandlerFunc
	Require     func(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc
	RequireAny  func(perms ...rbac.Permission) func(http.HandlerFunc) http.HandlerFunc
}

func (g Guards) SessionPerm(perm rbac.Permission, h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(g.Require(perm)(h))
}

func (g Guards) SessionAnyPerm(h http.HandlerFunc, perms ...rbac.Permission) http.HandlerFunc {
	return g.WithSession(g.RequireAny(perms...)(h))
}

func (g Guards) SessionOnly(h http.HandlerFunc) http.HandlerFunc {
	return g.WithSession(h)
}
