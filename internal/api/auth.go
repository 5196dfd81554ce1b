// Package api implements the HTTP surface of the zone and dispatch service.
package api

import (
	"context"
	"net/http"
	"strings"

	"zonedispatch/internal/auth"
)

type ctxKey string

const ctxPrincipalKey ctxKey = "zonedispatch_principal"

// principal resolves the caller. A bearer token is checked by the configured
// verifier; without one, dev mode falls back to X-Role and X-Driver-Id
// headers and defaults to operator.
func (s *Server) principal(r *http.Request) (auth.Principal, bool) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		pr, err := s.Auth.Verify(tok)
		if err != nil {
			return auth.Principal{}, false
		}
		return pr, true
	}
	if s.Auth != nil && s.Auth.Mode != "dev" {
		return auth.Principal{}, false
	}
	role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
	if role == "" {
		role = auth.RoleOperator
	}
	return auth.Principal{Role: role, DriverID: r.Header.Get("X-Driver-Id")}, true
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pr, ok := s.principal(r)
		if !ok {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid bearer token", r.URL.Path)
			return
		}
		ctx := context.WithValue(r.Context(), ctxPrincipalKey, pr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) auth.Principal {
	pr, _ := ctx.Value(ctxPrincipalKey).(auth.Principal)
	return pr
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[principalFrom(r.Context()).Role] {
				writeProblem(w, http.StatusForbidden, "Forbidden", strings.Join(roles, " or ")+" required", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// selfOrOperator lets operators act on any driver and drivers only on
// themselves.
func selfOrOperator(w http.ResponseWriter, r *http.Request, driverID string) bool {
	pr := principalFrom(r.Context())
	if pr.IsOperator() || (pr.IsDriver() && pr.DriverID != "" && pr.DriverID == driverID) {
		return true
	}
	writeProblem(w, http.StatusForbidden, "Forbidden", "not authorized for driver "+driverID, r.URL.Path)
	return false
}
