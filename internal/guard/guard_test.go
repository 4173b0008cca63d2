package guard_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rakin/trackauth/internal/guard"
	"github.com/rakin/trackauth/internal/identity"
	"github.com/rakin/trackauth/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		state      identity.ResolutionState
		location   string
		wantAction guard.Action
		wantFrom   string
	}{
		{
			name:       "resolving renders the loading placeholder",
			state:      identity.ResolutionState{Phase: identity.PhaseResolving},
			location:   "/dashboard",
			wantAction: guard.ActionPending,
		},
		{
			name: "present with email renders children",
			state: identity.ResolutionState{
				Phase:     identity.PhasePresent,
				Principal: &model.Principal{ID: "p1", Email: "a@b.com"},
			},
			location:   "/dashboard",
			wantAction: guard.ActionRender,
		},
		{
			name:       "absent redirects with the attempted location",
			state:      identity.ResolutionState{Phase: identity.PhaseAbsent},
			location:   "/dashboard",
			wantAction: guard.ActionRedirect,
			wantFrom:   "/dashboard",
		},
		{
			name: "present without email is unauthorized",
			state: identity.ResolutionState{
				Phase:     identity.PhasePresent,
				Principal: &model.Principal{ID: "p1", Email: ""},
			},
			location:   "/orders/42",
			wantAction: guard.ActionRedirect,
			wantFrom:   "/orders/42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := guard.Decide(tt.state, tt.location)
			assert.Equal(t, tt.wantAction, d.Action)
			if tt.wantAction == guard.ActionRedirect {
				assert.Equal(t, guard.AuthRoute, d.RedirectTo)
				assert.Equal(t, tt.wantFrom, d.AttemptedLocation)
			}
		})
	}
}

func TestDecide_Idempotent(t *testing.T) {
	// Same inputs, same decision — no hidden state, no side effects.
	state := identity.ResolutionState{Phase: identity.PhaseAbsent}
	first := guard.Decide(state, "/dashboard")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, guard.Decide(state, "/dashboard"))
	}
}

func TestRedirectURL(t *testing.T) {
	d := guard.Decision{
		Action:            guard.ActionRedirect,
		RedirectTo:        guard.AuthRoute,
		AttemptedLocation: "/orders/42?tab=open",
	}
	u, err := url.Parse(guard.RedirectURL(d))
	assert.NoError(t, err)
	assert.Equal(t, guard.AuthRoute, u.Path)
	assert.Equal(t, "/orders/42?tab=open", u.Query().Get(guard.FromParam))

	bare := guard.Decision{Action: guard.ActionRedirect, RedirectTo: guard.AuthRoute}
	assert.Equal(t, guard.AuthRoute, guard.RedirectURL(bare))
}

// fixedStores serves pre-built stores so middleware tests control the
// resolution state exactly.
type fixedStores struct {
	stores map[string]*identity.Store
}

func (f *fixedStores) StoreFor(token string) *identity.Store {
	return f.stores[token]
}

// storeInPhase builds a store already in the wanted phase. Resolving is
// the store's initial state; the others are reached through the
// store's own operations.
func storeInPhase(t *testing.T, phase identity.Phase, p *model.Principal) *identity.Store {
	t.Helper()
	s := identity.NewStore(nil, testLogger())
	switch phase {
	case identity.PhaseResolving:
		// initial state
	case identity.PhasePresent:
		s.SetPrincipal(p)
	case identity.PhaseAbsent:
		s.SetPrincipal(nil)
	}
	return s
}

func protectedEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := guard.PrincipalFromContext(r.Context())
		if !ok {
			t.Error("guard let a request through without attaching the principal")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(principal.Email))
	})
}

func TestProtect_PendingRendersLoading(t *testing.T) {
	stores := &fixedStores{stores: map[string]*identity.Store{
		"tok": storeInPhase(t, identity.PhaseResolving, nil),
	}}
	g := guard.New(stores, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: guard.SessionCookie, Value: "tok"})
	rr := httptest.NewRecorder()

	g.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("protected handler ran while the session was still resolving")
	})).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Loading")
	assert.Empty(t, rr.Header().Get("Location"), "pending must never redirect")
}

func TestProtect_AuthorizedRendersChildren(t *testing.T) {
	stores := &fixedStores{stores: map[string]*identity.Store{
		"tok": storeInPhase(t, identity.PhasePresent, &model.Principal{ID: "p1", Email: "a@b.com"}),
	}}
	g := guard.New(stores, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: guard.SessionCookie, Value: "tok"})
	rr := httptest.NewRecorder()

	g.Protect(protectedEcho(t)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "a@b.com", rr.Body.String())
}

func TestProtect_UnauthorizedRedirects(t *testing.T) {
	stores := &fixedStores{stores: map[string]*identity.Store{
		"": storeInPhase(t, identity.PhaseAbsent, nil),
	}}
	g := guard.New(stores, nil, testLogger())

	// No session cookie — anonymous visitor heading for /dashboard.
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rr := httptest.NewRecorder()

	g.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("protected handler ran for an unauthorized request")
	})).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	assert.NoError(t, err)
	assert.Equal(t, guard.AuthRoute, loc.Path)
	assert.Equal(t, "/dashboard", loc.Query().Get(guard.FromParam))
}

func TestProtect_ReEvaluatesOnEveryRequest(t *testing.T) {
	// The same session first resolves, then signs out — the guard must
	// follow the store with no stale verdict in between.
	store := storeInPhase(t, identity.PhaseResolving, nil)
	stores := &fixedStores{stores: map[string]*identity.Store{"tok": store}}
	g := guard.New(stores, nil, testLogger())
	protected := g.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: guard.SessionCookie, Value: "tok"})
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		return rr
	}

	assert.Contains(t, request().Body.String(), "Loading")

	store.SetPrincipal(&model.Principal{ID: "p1", Email: "a@b.com"})
	assert.Equal(t, http.StatusOK, request().Code)

	store.SignOut()
	assert.Equal(t, http.StatusSeeOther, request().Code)
}

func TestPrincipalFromContext_Miss(t *testing.T) {
	_, ok := guard.PrincipalFromContext(context.Background())
	assert.False(t, ok)
}
