package identity

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/rakin/trackauth/internal/model"
)

// fakeProvider is an in-memory identity.Provider. A hand-written fake
// (not a mock framework) keeps the tests easy to read.
type fakeProvider struct {
	createErr  error
	authErr    error
	updateErr  error
	resolveErr error

	resolved *model.Principal // what ResolveSession returns

	updateCalls []ProfileUpdate
}

func (f *fakeProvider) CreateAccount(ctx context.Context, email, secret string) (Session, error) {
	if f.createErr != nil {
		return Session{}, f.createErr
	}
	return Session{
		Token:     "tok-" + email,
		Principal: &model.Principal{ID: "p1", Email: email},
	}, nil
}

func (f *fakeProvider) Authenticate(ctx context.Context, email, secret string) (Session, error) {
	if f.authErr != nil {
		return Session{}, f.authErr
	}
	return Session{
		Token:     "tok-" + email,
		Principal: &model.Principal{ID: "p1", Email: email, DisplayName: "Existing"},
	}, nil
}

func (f *fakeProvider) UpdateProfile(ctx context.Context, principalID string, update ProfileUpdate) error {
	f.updateCalls = append(f.updateCalls, update)
	return f.updateErr
}

func (f *fakeProvider) UpsertExternalAccount(ctx context.Context, ext ExternalIdentity) (Session, error) {
	return Session{
		Token:     "tok-ext",
		Principal: &model.Principal{ID: "pext", Email: ext.Email, DisplayName: ext.DisplayName},
	}, nil
}

func (f *fakeProvider) ResolveSession(ctx context.Context, token string) (*model.Principal, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.resolved, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewStore_StartsResolving(t *testing.T) {
	s := NewStore(&fakeProvider{}, testLogger())

	state := s.Observe()
	if state.Phase != PhaseResolving {
		t.Errorf("initial phase = %v, want %v", state.Phase, PhaseResolving)
	}
	if state.Principal != nil {
		t.Error("initial state should carry no principal")
	}
}

func TestResolveSession_Present(t *testing.T) {
	p := &model.Principal{ID: "p1", Email: "a@b.com"}
	s := NewStore(&fakeProvider{resolved: p}, testLogger())

	s.ResolveSession(context.Background(), "some-token")

	state := s.Observe()
	if state.Phase != PhasePresent {
		t.Fatalf("phase = %v, want %v", state.Phase, PhasePresent)
	}
	if state.Principal.Email != "a@b.com" {
		t.Errorf("principal email = %q, want %q", state.Principal.Email, "a@b.com")
	}
	if s.Token() != "some-token" {
		t.Errorf("token = %q, want %q", s.Token(), "some-token")
	}
}

func TestResolveSession_Absent(t *testing.T) {
	s := NewStore(&fakeProvider{resolved: nil}, testLogger())

	s.ResolveSession(context.Background(), "")

	if state := s.Observe(); state.Phase != PhaseAbsent {
		t.Errorf("phase = %v, want %v", state.Phase, PhaseAbsent)
	}
}

func TestResolveSession_ProviderErrorResolvesAbsent(t *testing.T) {
	s := NewStore(&fakeProvider{resolveErr: errors.New("database is on fire")}, testLogger())

	s.ResolveSession(context.Background(), "tok")

	if state := s.Observe(); state.Phase != PhaseAbsent {
		t.Errorf("phase = %v, want %v", state.Phase, PhaseAbsent)
	}
}

func TestResolveSession_LateResultDiscarded(t *testing.T) {
	// An explicit sign-in beats the background check; the check's
	// result must not overwrite it.
	p := &model.Principal{ID: "stale", Email: "stale@b.com"}
	s := NewStore(&fakeProvider{resolved: p}, testLogger())

	if _, err := s.SignIn(context.Background(), "fresh@b.com", "Secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	s.ResolveSession(context.Background(), "old-token")

	state := s.Observe()
	if state.Phase != PhasePresent {
		t.Fatalf("phase = %v, want %v", state.Phase, PhasePresent)
	}
	if state.Principal.Email != "fresh@b.com" {
		t.Errorf("principal email = %q, late resolution overwrote an explicit sign-in", state.Principal.Email)
	}
}

func TestCreatePrincipal_SetsPresent(t *testing.T) {
	s := NewStore(&fakeProvider{}, testLogger())

	p, err := s.CreatePrincipal(context.Background(), "new@b.com", "Secret1")
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if p.Email != "new@b.com" {
		t.Errorf("principal email = %q, want %q", p.Email, "new@b.com")
	}

	state := s.Observe()
	if state.Phase != PhasePresent {
		t.Errorf("phase = %v, want %v", state.Phase, PhasePresent)
	}
	if s.Token() == "" {
		t.Error("token should be set after account creation")
	}
}

func TestCreatePrincipal_ProviderErrorKeepsState(t *testing.T) {
	s := NewStore(&fakeProvider{createErr: errors.New("duplicate email")}, testLogger())

	if _, err := s.CreatePrincipal(context.Background(), "dup@b.com", "Secret1"); err == nil {
		t.Fatal("CreatePrincipal should propagate provider errors")
	}

	if state := s.Observe(); state.Phase != PhaseResolving {
		t.Errorf("phase = %v, a failed creation must not change state", state.Phase)
	}
}

func TestEnrichPrincipal_MergesLocally(t *testing.T) {
	fp := &fakeProvider{}
	s := NewStore(fp, testLogger())

	if _, err := s.CreatePrincipal(context.Background(), "a@b.com", "Secret1"); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}

	if err := s.EnrichPrincipal(context.Background(), "Ada", "https://img.example/a.png"); err != nil {
		t.Fatalf("EnrichPrincipal: %v", err)
	}

	// The local cache reflects the enrichment immediately, without
	// waiting on provider propagation.
	state := s.Observe()
	if state.Principal.DisplayName != "Ada" {
		t.Errorf("DisplayName = %q, want %q", state.Principal.DisplayName, "Ada")
	}
	if state.Principal.AvatarURL != "https://img.example/a.png" {
		t.Errorf("AvatarURL = %q, want %q", state.Principal.AvatarURL, "https://img.example/a.png")
	}
	if state.Principal.Email != "a@b.com" {
		t.Errorf("Email = %q, enrichment must not touch the email", state.Principal.Email)
	}

	if len(fp.updateCalls) != 1 {
		t.Fatalf("UpdateProfile called %d times, want 1", len(fp.updateCalls))
	}
}

func TestEnrichPrincipal_ProviderFailureLeavesCacheUntouched(t *testing.T) {
	fp := &fakeProvider{updateErr: errors.New("provider says no")}
	s := NewStore(fp, testLogger())

	if _, err := s.CreatePrincipal(context.Background(), "a@b.com", "Secret1"); err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}

	if err := s.EnrichPrincipal(context.Background(), "Ada", "url"); err == nil {
		t.Fatal("EnrichPrincipal should propagate provider errors")
	}

	if state := s.Observe(); state.Principal.DisplayName != "" {
		t.Error("a failed enrichment must not merge fields locally")
	}
}

func TestEnrichPrincipal_NoPrincipal(t *testing.T) {
	s := NewStore(&fakeProvider{}, testLogger())
	if err := s.EnrichPrincipal(context.Background(), "Ada", "url"); err == nil {
		t.Fatal("EnrichPrincipal should fail when no principal is signed in")
	}
}

func TestSignOut_SupersedesPrincipal(t *testing.T) {
	s := NewStore(&fakeProvider{}, testLogger())
	if _, err := s.SignIn(context.Background(), "a@b.com", "Secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	s.SignOut()

	state := s.Observe()
	if state.Phase != PhaseAbsent {
		t.Errorf("phase = %v, want %v", state.Phase, PhaseAbsent)
	}
	if s.Token() != "" {
		t.Error("token should be cleared on sign-out")
	}
}

func TestSetPrincipal_NilMeansAbsent(t *testing.T) {
	s := NewStore(&fakeProvider{}, testLogger())

	s.SetPrincipal(&model.Principal{ID: "p9", Email: "x@y.z"})
	if state := s.Observe(); state.Phase != PhasePresent {
		t.Errorf("phase = %v, want %v", state.Phase, PhasePresent)
	}

	s.SetPrincipal(nil)
	if state := s.Observe(); state.Phase != PhaseAbsent {
		t.Errorf("phase = %v, want %v", state.Phase, PhaseAbsent)
	}
}

func TestSubscribe_NotifiedSynchronously(t *testing.T) {
	s := NewStore(&fakeProvider{}, testLogger())

	var seen []Phase
	unsubscribe := s.Subscribe(func(state ResolutionState) {
		seen = append(seen, state.Phase)
	})

	// The notification fires before the mutating call returns — by the
	// time SignIn is done, the subscriber has seen Present.
	if _, err := s.SignIn(context.Background(), "a@b.com", "Secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if len(seen) != 1 || seen[0] != PhasePresent {
		t.Fatalf("seen = %v, want [present]", seen)
	}

	s.SignOut()
	if len(seen) != 2 || seen[1] != PhaseAbsent {
		t.Fatalf("seen = %v, want [present absent]", seen)
	}

	unsubscribe()
	s.SetPrincipal(&model.Principal{ID: "p", Email: "e@f.g"})
	if len(seen) != 2 {
		t.Errorf("subscriber called after unsubscribe: %v", seen)
	}
}

func TestSubscribe_CallbackMayObserve(t *testing.T) {
	// Subscribers run outside the store lock, so reading back is legal.
	s := NewStore(&fakeProvider{}, testLogger())

	var observed Phase
	s.Subscribe(func(state ResolutionState) {
		observed = s.Observe().Phase
	})

	s.SignOut()
	if observed != PhaseAbsent {
		t.Errorf("Observe inside callback = %v, want %v", observed, PhaseAbsent)
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseResolving.String() != "resolving" || PhasePresent.String() != "present" || PhaseAbsent.String() != "absent" {
		t.Error("Phase.String() mismatch")
	}
}
