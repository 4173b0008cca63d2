// Package local is the built-in identity provider: accounts live in an
// embedded SQLite database, secrets are bcrypt-hashed, and sessions are
// signed JWTs.
//
// The rest of the application only sees identity.Provider — swapping
// this for a hosted provider means implementing that interface, nothing
// else changes.
//
// WHY modernc.org/sqlite?
// Pure Go translation of SQLite — no CGo, no C compiler, trivial
// cross-compilation. ":memory:" databases make the tests fast and
// self-contained.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rakin/trackauth/internal/apperror"
	"github.com/rakin/trackauth/internal/identity"
	"github.com/rakin/trackauth/internal/model"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// compile-time check that *Provider implements identity.Provider
var _ identity.Provider = (*Provider)(nil)

// Provider implements identity.Provider on top of SQLite.
type Provider struct {
	conn   *sql.DB
	tokens *TokenService
	cost   int // bcrypt work factor
	logger *slog.Logger
}

// New opens (or creates) the account database at dbPath and prepares
// the provider. Use ":memory:" for tests.
func New(dbPath, sessionSecret string, bcryptCost int, logger *slog.Logger) (*Provider, error) {
	tokens, err := NewTokenService(sessionSecret)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("local: opening account database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local: pinging account database: %w", err)
	}

	// WAL allows concurrent reads while a write is in flight — several
	// request goroutines hit this database at once.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local: enabling foreign keys: %w", err)
	}

	p := &Provider{conn: conn, tokens: tokens, cost: bcryptCost, logger: logger}
	if err := p.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local: running migrations: %w", err)
	}

	return p, nil
}

// Close closes the underlying database pool.
func (p *Provider) Close() error {
	return p.conn.Close()
}

// migrate creates the accounts table. Email uniqueness is enforced only
// for non-empty emails: external logins may hide the email, and several
// hidden-email accounts must coexist. The same trick keys external
// accounts on (ext_provider, ext_subject).
func (p *Provider) migrate() error {
	_, err := p.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL DEFAULT '',
			secret_hash  TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			avatar_url   TEXT NOT NULL DEFAULT '',
			ext_provider TEXT NOT NULL DEFAULT '',
			ext_subject  TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email
			ON accounts(email) WHERE email <> '';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_external
			ON accounts(ext_provider, ext_subject) WHERE ext_provider <> '';
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}
	return nil
}

// CreateAccount creates a new principal for email/secret and signs it
// in. The returned principal carries no profile metadata — callers
// enrich it with UpdateProfile as a second step.
//
// Duplicate emails are rejected with a credential error, matching how a
// hosted provider reports "email already in use".
func (p *Provider) CreateAccount(ctx context.Context, email, secret string) (identity.Session, error) {
	if email == "" {
		return identity.Session{}, apperror.CredentialRejected("email is required")
	}

	var existing string
	err := p.conn.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE email = ?`, email,
	).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return identity.Session{}, fmt.Errorf("local: looking up email %s: %w", email, err)
	}
	if existing != "" {
		return identity.Session{}, apperror.CredentialRejected("an account with this email already exists")
	}

	hash, err := p.hashSecret(secret)
	if err != nil {
		return identity.Session{}, err
	}

	now := time.Now()
	principal := &model.Principal{
		ID:        xid.New().String(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = p.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, email, secret_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		principal.ID, principal.Email, hash, principal.CreatedAt, principal.UpdatedAt,
	)
	if err != nil {
		return identity.Session{}, fmt.Errorf("local: inserting account for %s: %w", email, err)
	}

	return p.issueSession(principal)
}

// Authenticate verifies email/secret and signs the principal in.
// Unknown email and wrong secret produce the same credential error, so
// callers cannot probe which emails exist.
func (p *Provider) Authenticate(ctx context.Context, email, secret string) (identity.Session, error) {
	principal, hash, err := p.accountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.Session{}, apperror.CredentialRejected("invalid email or password")
		}
		return identity.Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return identity.Session{}, apperror.CredentialRejected("invalid email or password")
	}

	return p.issueSession(principal)
}

// UpdateProfile applies the enrichment step: display name and avatar
// URL on an existing account. Email is deliberately not touchable here.
func (p *Provider) UpdateProfile(ctx context.Context, principalID string, update identity.ProfileUpdate) error {
	res, err := p.conn.ExecContext(ctx,
		`UPDATE accounts SET display_name = ?, avatar_url = ?, updated_at = ?
		 WHERE id = ?`,
		update.DisplayName, update.AvatarURL, time.Now(), principalID,
	)
	if err != nil {
		return fmt.Errorf("local: updating profile for %s: %w", principalID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("local: updating profile for %s: %w", principalID, err)
	}
	if n == 0 {
		return apperror.NotFound("account", principalID)
	}
	return nil
}

// UpsertExternalAccount creates or refreshes an account backed by an
// external login and signs it in. First login inserts; later logins
// update the profile in case it changed upstream, keeping the internal
// ID stable.
func (p *Provider) UpsertExternalAccount(ctx context.Context, ext identity.ExternalIdentity) (identity.Session, error) {
	if ext.Provider == "" || ext.Subject == "" {
		return identity.Session{}, fmt.Errorf("local: external identity must carry provider and subject")
	}

	var principal model.Principal
	err := p.conn.QueryRowContext(ctx,
		`SELECT id, email, display_name, avatar_url, created_at, updated_at
		 FROM accounts WHERE ext_provider = ? AND ext_subject = ?`,
		ext.Provider, ext.Subject,
	).Scan(
		&principal.ID, &principal.Email, &principal.DisplayName,
		&principal.AvatarURL, &principal.CreatedAt, &principal.UpdatedAt,
	)

	switch {
	case err == nil:
		principal.Email = ext.Email
		principal.DisplayName = ext.DisplayName
		principal.AvatarURL = ext.AvatarURL
		principal.UpdatedAt = time.Now()
		_, err = p.conn.ExecContext(ctx,
			`UPDATE accounts SET email = ?, display_name = ?, avatar_url = ?, updated_at = ?
			 WHERE id = ?`,
			principal.Email, principal.DisplayName, principal.AvatarURL,
			principal.UpdatedAt, principal.ID,
		)
		if err != nil {
			return identity.Session{}, fmt.Errorf("local: refreshing external account %s: %w", principal.ID, err)
		}

	case errors.Is(err, sql.ErrNoRows):
		now := time.Now()
		principal = model.Principal{
			ID:          xid.New().String(),
			Email:       ext.Email,
			DisplayName: ext.DisplayName,
			AvatarURL:   ext.AvatarURL,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		_, err = p.conn.ExecContext(ctx,
			`INSERT INTO accounts (id, email, display_name, avatar_url, ext_provider, ext_subject, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			principal.ID, principal.Email, principal.DisplayName, principal.AvatarURL,
			ext.Provider, ext.Subject, principal.CreatedAt, principal.UpdatedAt,
		)
		if err != nil {
			return identity.Session{}, fmt.Errorf("local: inserting external account (%s/%s): %w", ext.Provider, ext.Subject, err)
		}

	default:
		return identity.Session{}, fmt.Errorf("local: looking up external account (%s/%s): %w", ext.Provider, ext.Subject, err)
	}

	return p.issueSession(&principal)
}

// ResolveSession answers the background session check. A missing,
// invalid, or expired token resolves to (nil, nil) — absent, not an
// error. Errors are reserved for the database misbehaving.
func (p *Provider) ResolveSession(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return nil, nil
	}

	principalID, err := p.tokens.Validate(token)
	if err != nil {
		p.logger.Debug("session token rejected", slog.String("error", err.Error()))
		return nil, nil
	}

	var principal model.Principal
	err = p.conn.QueryRowContext(ctx,
		`SELECT id, email, display_name, avatar_url, created_at, updated_at
		 FROM accounts WHERE id = ?`,
		principalID,
	).Scan(
		&principal.ID, &principal.Email, &principal.DisplayName,
		&principal.AvatarURL, &principal.CreatedAt, &principal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Valid token for a deleted account — absent.
			return nil, nil
		}
		return nil, fmt.Errorf("local: loading account %s: %w", principalID, err)
	}

	return &principal, nil
}

func (p *Provider) hashSecret(secret string) (string, error) {
	if len(secret) > 72 {
		// bcrypt silently truncates beyond 72 bytes; reject instead.
		return "", apperror.CredentialRejected("password must be 72 bytes or fewer")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.cost)
	if err != nil {
		return "", fmt.Errorf("local: hashing secret: %w", err)
	}
	return string(hash), nil
}

func (p *Provider) accountByEmail(ctx context.Context, email string) (*model.Principal, string, error) {
	var principal model.Principal
	var hash string
	err := p.conn.QueryRowContext(ctx,
		`SELECT id, email, secret_hash, display_name, avatar_url, created_at, updated_at
		 FROM accounts WHERE email = ? AND email <> ''`,
		email,
	).Scan(
		&principal.ID, &principal.Email, &hash, &principal.DisplayName,
		&principal.AvatarURL, &principal.CreatedAt, &principal.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("local: looking up account by email: %w", err)
	}
	return &principal, hash, nil
}

func (p *Provider) issueSession(principal *model.Principal) (identity.Session, error) {
	token, err := p.tokens.Generate(principal.ID)
	if err != nil {
		return identity.Session{}, err
	}
	return identity.Session{Token: token, Principal: principal}, nil
}
