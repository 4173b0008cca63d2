// Package guard gates protected routes on the identity store's
// resolution state.
//
// THE THREE OUTCOMES:
//
//	Pending      session still resolving → show the loading placeholder,
//	             never redirect (redirecting here would bounce users who
//	             are about to turn out to be signed in)
//	Authorized   principal present with a usable email → let the request
//	             through unchanged
//	Unauthorized no principal, or one without an email → redirect to the
//	             authentication entry route, remembering where the
//	             visitor was headed
//
// Decide is a pure function of (state, location) — no hidden counters,
// no side effects — so it can be re-evaluated on every request and on
// every store change and always agree with itself.
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rakin/trackauth/internal/identity"
	"github.com/rakin/trackauth/internal/model"
)

// AuthRoute is the fixed authentication entry path unauthenticated
// visitors are redirected to.
const AuthRoute = "/login"

// FromParam is the query parameter carrying the attempted location
// through the redirect. The login and registration completion handlers
// consume it exactly once to decide the post-login destination.
const FromParam = "from"

// SessionCookie is the cookie the session token travels in.
const SessionCookie = "session"

// Action is what the guard decided to do with a request.
type Action int

const (
	ActionPending  Action = iota // render the loading placeholder
	ActionRender                 // render the protected content
	ActionRedirect               // send the visitor to AuthRoute
)

// Decision is the guard's verdict for one (state, location) pair.
// AttemptedLocation is set only for ActionRedirect.
type Decision struct {
	Action            Action
	RedirectTo        string
	AttemptedLocation string
}

// Decide maps the store's resolution state and the current location to
// a render decision. Idempotent: unchanged inputs always produce the
// same Decision.
func Decide(state identity.ResolutionState, location string) Decision {
	switch {
	case state.Phase == identity.PhaseResolving:
		return Decision{Action: ActionPending}
	case state.Phase == identity.PhasePresent && model.IsAuthorized(state.Principal):
		return Decision{Action: ActionRender}
	default:
		// Absent, or present without a usable email.
		return Decision{
			Action:            ActionRedirect,
			RedirectTo:        AuthRoute,
			AttemptedLocation: location,
		}
	}
}

// StoreSource hands the guard the identity store for a session token.
// *identity.Manager satisfies it.
type StoreSource interface {
	StoreFor(token string) *identity.Store
}

// Guard is the HTTP middleware form of the route guard.
type Guard struct {
	stores  StoreSource
	loading http.Handler
	logger  *slog.Logger
}

// New creates a Guard. loading is the placeholder rendered while the
// session resolves; nil falls back to a minimal built-in page.
func New(stores StoreSource, loading http.Handler, logger *slog.Logger) *Guard {
	if loading == nil {
		loading = http.HandlerFunc(defaultLoading)
	}
	return &Guard{stores: stores, loading: loading, logger: logger}
}

// Protect wraps next so it only runs for an authorized session. The
// decision is re-taken from the store on every request, so a session
// that resolved since the last request is seen immediately — there is
// no cached verdict to go stale.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := g.stores.StoreFor(TokenFromRequest(r))
		state := store.Observe()

		d := Decide(state, r.URL.Path)
		switch d.Action {
		case ActionPending:
			g.loading.ServeHTTP(w, r)

		case ActionRender:
			ctx := withPrincipal(r.Context(), state.Principal)
			next.ServeHTTP(w, r.WithContext(ctx))

		case ActionRedirect:
			g.logger.Debug("redirecting unauthenticated visitor",
				slog.String("attempted", d.AttemptedLocation),
			)
			http.Redirect(w, r, RedirectURL(d), http.StatusSeeOther)
		}
	})
}

// RedirectURL renders a redirect decision as the URL to send the
// visitor to: the auth route with the attempted location attached.
func RedirectURL(d Decision) string {
	if d.AttemptedLocation == "" {
		return d.RedirectTo
	}
	return d.RedirectTo + "?" + FromParam + "=" + url.QueryEscape(d.AttemptedLocation)
}

// TokenFromRequest reads the session token cookie. Missing cookie means
// an anonymous session — returned as the empty token, not an error.
func TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// contextKey keeps principal context values private to this package —
// outside code goes through PrincipalFromContext.
type contextKey string

const principalKey contextKey = "principal"

func withPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authorized principal the guard
// attached to the request. ok is false on unguarded routes.
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}

// defaultLoading is the built-in loading placeholder: a bare page that
// retries shortly, for the window where the background session check
// has not finished.
func defaultLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!doctype html><meta http-equiv="refresh" content="1"><title>Loading</title><p>Loading…</p>`))
}
