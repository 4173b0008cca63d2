// Package identity holds the session-scoped identity state the rest of
// the application reads: who the current principal is, and whether that
// question has been answered yet.
//
// RESOLUTION LIFECYCLE:
// A Store starts in the Resolving phase. A background session check
// (the provider validating whatever token the client presented) moves
// it exactly once to Present or Absent. After that, only explicit
// login/logout flip it between Present and Absent — it never returns
// to Resolving. Re-initialization means building a new Store.
//
// WHO MUTATES, WHO READS:
// All mutations go through the Store's exported operations. The route
// guard and the handlers only read, via Observe or Subscribe. That
// one-writer discipline is what makes the guard's decision function
// safe to call from any request goroutine.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rakin/trackauth/internal/model"
)

// Phase is the tri-state resolution status. Exactly one phase holds at
// any instant.
type Phase int

const (
	PhaseResolving Phase = iota // initial session check still running
	PhasePresent                // a principal is signed in
	PhaseAbsent                 // no principal
)

func (p Phase) String() string {
	switch p {
	case PhaseResolving:
		return "resolving"
	case PhasePresent:
		return "present"
	case PhaseAbsent:
		return "absent"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ResolutionState is the value the Store exposes: the phase, plus the
// principal when the phase is Present. Principal is nil otherwise.
type ResolutionState struct {
	Phase     Phase
	Principal *model.Principal
}

// Store tracks the current principal for one session and notifies
// subscribers on every change.
//
// CONCURRENCY:
// A mutex guards the state; subscriber callbacks run after the mutation
// is committed but before the mutating call returns, so an observer
// never sees a notification for a state that Observe would not confirm.
// Callbacks must not block — they run on the mutating goroutine.
type Store struct {
	provider Provider
	logger   *slog.Logger

	mu      sync.Mutex
	state   ResolutionState
	token   string // opaque session token for the current principal
	nextSub int
	subs    map[int]func(ResolutionState)
}

// NewStore creates a Store in the Resolving phase. Callers normally
// follow up with ResolveSession (usually on a background goroutine —
// see Manager) to complete the initial check.
func NewStore(provider Provider, logger *slog.Logger) *Store {
	return &Store{
		provider: provider,
		logger:   logger,
		state:    ResolutionState{Phase: PhaseResolving},
		subs:     make(map[int]func(ResolutionState)),
	}
}

// Observe returns the current resolution state. The returned principal
// pointer is shared — consumers read it, never mutate it.
func (s *Store) Observe() ResolutionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the session token for the current principal, or "" when
// no principal is signed in.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Subscribe registers fn to be called with the new state after every
// change. It returns an unsubscribe function. fn is not called with the
// current state on registration — call Observe for that.
func (s *Store) Subscribe(fn func(ResolutionState)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// ResolveSession completes the initial session check: it asks the
// provider whether token identifies a live principal and moves the
// store out of Resolving accordingly.
//
// If the store has already left Resolving (an explicit login or logout
// beat the background check), the result is discarded — late resolution
// never overwrites a deliberate transition.
func (s *Store) ResolveSession(ctx context.Context, token string) {
	principal, err := s.provider.ResolveSession(ctx, token)
	if err != nil {
		s.logger.Warn("session resolution failed, treating as absent",
			slog.String("error", err.Error()),
		)
		principal = nil
	}

	s.mu.Lock()
	if s.state.Phase != PhaseResolving {
		s.mu.Unlock()
		return
	}
	if principal != nil {
		s.state = ResolutionState{Phase: PhasePresent, Principal: principal}
		s.token = token
	} else {
		s.state = ResolutionState{Phase: PhaseAbsent}
		s.token = ""
	}
	s.notifyLocked()
}

// CreatePrincipal delegates account creation to the provider and, on
// success, moves the store to Present with the returned principal. The
// principal carries no profile metadata yet — EnrichPrincipal fills
// that in as a second step.
func (s *Store) CreatePrincipal(ctx context.Context, email, secret string) (*model.Principal, error) {
	session, err := s.provider.CreateAccount(ctx, email, secret)
	if err != nil {
		return nil, fmt.Errorf("identity: creating account for %s: %w", email, err)
	}

	s.mu.Lock()
	s.state = ResolutionState{Phase: PhasePresent, Principal: session.Principal}
	s.token = session.Token
	s.notifyLocked()

	return session.Principal, nil
}

// EnrichPrincipal updates the provider-held profile and merges the new
// fields into the cached principal so subsequent reads reflect them
// immediately — the provider's own asynchronous propagation is not
// waited on for local consistency.
func (s *Store) EnrichPrincipal(ctx context.Context, displayName, avatarURL string) error {
	s.mu.Lock()
	current := s.state.Principal
	s.mu.Unlock()
	if current == nil {
		return fmt.Errorf("identity: no principal to enrich")
	}

	err := s.provider.UpdateProfile(ctx, current.ID, ProfileUpdate{
		DisplayName: displayName,
		AvatarURL:   avatarURL,
	})
	if err != nil {
		return fmt.Errorf("identity: updating profile for %s: %w", current.ID, err)
	}

	// Merge locally ahead of the provider's confirmation. A copy keeps
	// earlier readers' snapshot intact.
	enriched := *current
	enriched.DisplayName = displayName
	enriched.AvatarURL = avatarURL
	s.SetPrincipal(&enriched)
	return nil
}

// SetPrincipal directly overrides the cached principal. Passing nil
// moves the store to Absent. Used to reflect enrichment results
// synchronously and by the external-login handler.
func (s *Store) SetPrincipal(p *model.Principal) {
	s.mu.Lock()
	if p != nil {
		s.state = ResolutionState{Phase: PhasePresent, Principal: p}
	} else {
		s.state = ResolutionState{Phase: PhaseAbsent}
		s.token = ""
	}
	s.notifyLocked()
}

// SignIn authenticates email/secret against the provider and moves the
// store to Present on success.
func (s *Store) SignIn(ctx context.Context, email, secret string) (Session, error) {
	session, err := s.provider.Authenticate(ctx, email, secret)
	if err != nil {
		return Session{}, fmt.Errorf("identity: authenticating %s: %w", email, err)
	}

	s.mu.Lock()
	s.state = ResolutionState{Phase: PhasePresent, Principal: session.Principal}
	s.token = session.Token
	s.notifyLocked()

	return session, nil
}

// SignOut supersedes the current principal: the store moves to Absent.
// The principal record itself is not destroyed — the provider keeps it.
func (s *Store) SignOut() {
	s.mu.Lock()
	s.state = ResolutionState{Phase: PhaseAbsent}
	s.token = ""
	s.notifyLocked()
}

// notifyLocked snapshots the subscribers and state, releases the mutex,
// and invokes the callbacks. Must be called with s.mu held; the mutex
// is released on return.
//
// Callbacks run outside the lock so they may call Observe (or even
// Subscribe) without deadlocking, but still before the mutating
// operation returns to its caller.
func (s *Store) notifyLocked() {
	state := s.state
	fns := make([]func(ResolutionState), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
