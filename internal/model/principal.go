// Package model defines the data structures used throughout the application.
package model

import "time"

// DefaultRole is the role assigned to every mirrored registration
// record at creation. Role changes happen elsewhere, never here.
const DefaultRole = "User"

// Principal represents the authenticated identity held by the identity
// provider and cached locally by the identity store.
//
// Email is immutable after creation — the provider keys the account on
// it. DisplayName and AvatarURL are filled in by the enrichment step
// that follows account creation, because the provider's create call
// does not accept profile metadata atomically.
//
// WHY Email string (not *string)?
// External logins can hide the email, in which case it stays the empty
// string. The route guard treats an empty email as unauthorized, so a
// zero value is both safe and simpler than a nullable pointer.
type Principal struct {
	ID          string    `json:"id"          db:"id"`
	Email       string    `json:"email"       db:"email"`
	DisplayName string    `json:"displayName" db:"display_name"`
	AvatarURL   string    `json:"avatarUrl"   db:"avatar_url"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"`
}

// IsAuthorized reports whether p is a usable authenticated identity:
// present with a non-empty email. The route guard calls this instead of
// poking at fields so the rule lives in exactly one place.
func IsAuthorized(p *Principal) bool {
	return p != nil && p.Email != ""
}

// RegistrationRecord is the backing-store mirror of a newly created
// account, independent of the provider's own record. It is written only
// after the provider-side principal exists; a principal without a
// record is a documented, tolerated inconsistency.
type RegistrationRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Photo string `json:"photo"`
	Role  string `json:"role"`
}
