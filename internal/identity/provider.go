package identity

import (
	"context"

	"github.com/rakin/trackauth/internal/model"
)

// ProfileUpdate carries the mutable profile fields applied to a
// principal after account creation. The provider's create call does not
// accept these atomically, which is why enrichment is a separate step.
type ProfileUpdate struct {
	DisplayName string
	AvatarURL   string
}

// Session is what the provider hands back when an account is created or
// authenticated: the principal plus an opaque token the client presents
// on later requests. How the token is produced (JWT, reference ID, ...)
// is the provider's business.
type Session struct {
	Token     string
	Principal *model.Principal
}

// ExternalIdentity is a normalized identity returned by an external
// login (e.g. Google). It contains facts only, no decisions — the
// provider turns it into an account, the store turns it into state.
type ExternalIdentity struct {
	Provider    string // e.g. "google"
	Subject     string // provider-scoped stable user identifier (sub)
	Email       string // may be empty if the user hides it
	DisplayName string
	AvatarURL   string
}

// Provider is the identity-provider collaborator the store delegates
// to. Credential verification, token issuance, and storage are all
// behind this interface; the store treats its consistency model as a
// black box and only caches what it is told.
//
// ResolveSession returns (nil, nil) for a missing or expired session —
// that is the resolved-absent outcome, not an error.
type Provider interface {
	CreateAccount(ctx context.Context, email, secret string) (Session, error)
	Authenticate(ctx context.Context, email, secret string) (Session, error)
	UpdateProfile(ctx context.Context, principalID string, update ProfileUpdate) error
	UpsertExternalAccount(ctx context.Context, ext ExternalIdentity) (Session, error)
	ResolveSession(ctx context.Context, token string) (*model.Principal, error)
}
