package auth

import (
	"log"
	"net/http"
	"strings"
)

// Middleware authenticates API calls and checks route permissions.
type Middleware struct {
	verifier *Verifier
	policy   Policy
	logger   *log.Logger
}

// NewMiddleware constructs the middleware. logger may be nil.
func NewMiddleware(verifier *Verifier, policy Policy, logger *log.Logger) *Middleware {
	return &Middleware{verifier: verifier, policy: policy, logger: logger}
}

// Wrap guards next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || m.verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perm, guarded := m.policy.Resolve(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.verifier.Verify(tokenFrom(r))
		if err != nil {
			m.logf("auth: rejected path=%s err=%v", r.URL.Path, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !id.Role.Can(perm) {
			m.logf("auth: forbidden path=%s subject=%s role=%s need=%s", r.URL.Path, id.Subject, id.Role, perm)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Middleware) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

// tokenFrom reads the bearer token. Event streams may pass it as
// access_token since EventSource cannot set headers.
func tokenFrom(r *http.Request) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if strings.HasSuffix(r.URL.Path, "/stream") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
