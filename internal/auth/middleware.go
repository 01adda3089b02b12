package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/noah-isme/slot-reservations/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Middleware wires caller identity into HTTP handlers.
type Middleware struct {
	Verifier *Verifier
}

// Authenticate attaches the identity when a valid token is present and
// otherwise lets the request through anonymously.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.identify(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole rejects requests without a valid token carrying role.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := m.identify(r)
			if err != nil {
				var appErr *common.AppError
				if errors.As(err, &appErr) {
					common.WriteError(w, appErr)
					return
				}
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
				return
			}
			if role != "" && id.Role != role {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient role", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Subject names the caller of r for request logs, or returns "".
func (m Middleware) Subject(r *http.Request) string {
	if id, ok := FromContext(r.Context()); ok {
		return id.Subject
	}
	id, err := m.identify(r)
	if err != nil {
		return ""
	}
	return id.Subject
}

func (m Middleware) identify(r *http.Request) (Identity, error) {
	if m.Verifier == nil {
		return Identity{}, errors.New("auth: verifier not configured")
	}
	token := bearerToken(r)
	if token == "" {
		return Identity{}, errNoToken
	}
	return m.Verifier.Parse(token)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
