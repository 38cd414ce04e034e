package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const CronSecretHeader = "x-cron-secret"

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal set by a guard, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// DenyFunc writes the response for a rejected request.
type DenyFunc func(w http.ResponseWriter, r *http.Request, err error)

// Guard turns the service into chi-compatible middleware.
type Guard struct {
	svc        *Service
	cronSecret string
	deny       DenyFunc
}

func NewGuard(svc *Service, cronSecret string, deny DenyFunc) *Guard {
	if deny == nil {
		deny = func(w http.ResponseWriter, r *http.Request, err error) {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrForbidden) {
				status = http.StatusForbidden
			}
			http.Error(w, http.StatusText(status), status)
		}
	}
	return &Guard{svc: svc, cronSecret: cronSecret, deny: deny}
}

// Optional attaches the principal when the request carries a valid session
// and lets anonymous requests through.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := g.svc.Authenticate(r); err == nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.svc.Authenticate(r)
		if err != nil {
			g.deny(w, r, ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (g *Guard) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.svc.Authenticate(r)
		if err != nil {
			g.deny(w, r, ErrUnauthorized)
			return
		}
		if !p.IsAdmin() {
			g.svc.logger.Warnw("Admin route refused", "user_id", p.UserID, "path", r.URL.Path)
			g.deny(w, r, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireCronSecret accepts the shared secret in either the x-cron-secret
// header or an Authorization Bearer header. An unset secret closes the route.
func (g *Guard) RequireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cronAuthorized(r) {
			g.deny(w, r, ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) cronAuthorized(r *http.Request) bool {
	if g.cronSecret == "" {
		return false
	}
	presented := r.Header.Get(CronSecretHeader)
	if presented == "" {
		if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
			presented = strings.TrimSpace(token)
		}
	}
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(g.cronSecret)) == 1
}
