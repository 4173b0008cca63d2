// Package registration orchestrates account sign-up: local validation,
// avatar upload, account creation, profile enrichment, and the
// best-effort mirror write to the user directory.
//
// ORDERING:
// The five steps are strictly sequential — each later call depends on
// the previous one's result (the uploaded URL feeds enrichment, the
// created principal feeds enrichment and the mirror record). No step
// starts before the previous one succeeds.
//
// FATAL VS NON-FATAL:
// Validation, upload, and account-creation failures abort the
// submission — no account exists, the user is told, nothing navigates.
// Enrichment and mirror failures do NOT abort: the account already
// exists and is usable, so the flow still reports success and
// navigates. That asymmetry reflects the irreversibility of account
// creation — a degraded-but-functional account beats blocking the user.
//
// Every terminal branch emits exactly one user-facing notification.
package registration

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"unicode"

	"github.com/rakin/trackauth/internal/apperror"
	"github.com/rakin/trackauth/internal/model"
)

// DefaultLanding is where a successful registration navigates when no
// attempted location was remembered.
const DefaultLanding = "/"

// Uploader resolves an image blob to a durable public URL.
type Uploader interface {
	Upload(ctx context.Context, image []byte, filename string) (string, error)
}

// Recorder persists the mirrored registration record to the backing
// store.
type Recorder interface {
	SaveRecord(ctx context.Context, rec model.RegistrationRecord) (string, error)
}

// IdentityStore is the slice of the identity store the flow drives:
// create the principal, then enrich it.
type IdentityStore interface {
	CreatePrincipal(ctx context.Context, email, secret string) (*model.Principal, error)
	EnrichPrincipal(ctx context.Context, displayName, avatarURL string) error
}

// Notifier receives the single user-facing notification each terminal
// outcome produces (the toast, in UI terms).
type Notifier interface {
	Success(message string)
	Error(message string)
}

// Navigator performs the post-success navigation.
type Navigator interface {
	NavigateTo(path string)
}

// Form is one registration submission as the user filled it in.
// AttemptedLocation is the path the visitor tried to reach before being
// redirected to authentication; empty means none.
type Form struct {
	Name              string
	Email             string
	Password          string
	Image             []byte
	ImageFilename     string
	AttemptedLocation string
}

// Submission bundles the form with the per-request collaborators: the
// session's identity store and the channels for the flow's user-visible
// side effects.
type Submission struct {
	Form      Form
	Store     IdentityStore
	Notifier  Notifier
	Navigator Navigator
}

// Flow runs registration submissions. One Flow serves the whole
// process; per-submission state travels in the Submission.
type Flow struct {
	uploader Uploader
	recorder Recorder // nil disables the mirror write
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{} // emails with a submission in flight
}

// NewFlow creates a Flow. recorder may be nil, in which case the mirror
// write is skipped (and logged once per submission).
func NewFlow(uploader Uploader, recorder Recorder, logger *slog.Logger) *Flow {
	return &Flow{
		uploader: uploader,
		recorder: recorder,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Submit runs one registration submission end to end.
//
// Re-submission while an attempt for the same email is still in flight
// is rejected before any remote call — two racing submissions must not
// create duplicate accounts.
//
// If ctx is cancelled mid-flight (the user navigated away), remote
// calls that already went out are not chased down; their results are
// discarded and no notification or navigation fires.
func (f *Flow) Submit(ctx context.Context, sub Submission) error {
	form := sub.Form

	if !f.begin(form.Email) {
		err := apperror.ValidationFailed("email", "a registration for this email is already in progress")
		f.fail(ctx, sub, err)
		return err
	}
	defer f.end(form.Email)

	// Step 1: all local validation before any remote call — a doomed
	// submission must not waste an upload.
	if err := form.validate(); err != nil {
		f.fail(ctx, sub, err)
		return err
	}

	// Step 2: avatar upload. Fatal — no account is created on failure.
	avatarURL, err := f.uploader.Upload(ctx, form.Image, form.ImageFilename)
	if err != nil {
		f.logger.Warn("registration: avatar upload failed",
			slog.String("email", form.Email),
			slog.String("error", err.Error()),
		)
		f.fail(ctx, sub, err)
		return err
	}

	if ctx.Err() != nil {
		// The user navigated away while the upload was in flight. The
		// uploaded image is discarded silently; no account is created.
		return fmt.Errorf("registration: submission abandoned: %w", ctx.Err())
	}

	// Step 3: create the principal. Fatal on failure; the uploaded
	// avatar is orphaned on the media host — accepted, not cleaned up.
	principal, err := sub.Store.CreatePrincipal(ctx, form.Email, form.Password)
	if err != nil {
		f.logger.Warn("registration: account creation failed",
			slog.String("email", form.Email),
			slog.String("error", err.Error()),
		)
		f.fail(ctx, sub, err)
		return err
	}

	f.logger.Info("registration: principal created",
		slog.String("principalID", principal.ID),
		slog.String("email", principal.Email),
	)

	// Step 4: enrichment. Non-fatal — the principal already exists, so
	// a failure here leaves a usable account with a bare profile.
	if err := sub.Store.EnrichPrincipal(ctx, form.Name, avatarURL); err != nil {
		f.logger.Error("registration: profile enrichment failed, account remains usable",
			slog.String("principalID", principal.ID),
			slog.String("error", err.Error()),
		)
	}

	// Step 5: mirror the registration record. Best-effort — failure is
	// logged, never surfaced, never rolled back.
	if f.recorder == nil {
		f.logger.Debug("registration: no directory configured, skipping mirror write")
	} else {
		record := model.RegistrationRecord{
			Name:  form.Name,
			Email: form.Email,
			Photo: avatarURL,
			Role:  model.DefaultRole,
		}
		if _, err := f.recorder.SaveRecord(ctx, record); err != nil {
			f.logger.Error("registration: directory mirror write failed",
				slog.String("principalID", principal.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Step 6: success side effects, independent of step 5's outcome.
	if ctx.Err() != nil {
		return fmt.Errorf("registration: submission abandoned: %w", ctx.Err())
	}
	sub.Notifier.Success("Registration successful!")
	sub.Navigator.NavigateTo(Destination(form.AttemptedLocation))
	return nil
}

// fail emits the single error notification for a fatal outcome, unless
// the submission was abandoned.
func (f *Flow) fail(ctx context.Context, sub Submission, err error) {
	if ctx.Err() != nil {
		return
	}
	sub.Notifier.Error(err.Error())
}

func (f *Flow) begin(email string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.inFlight[email]; busy {
		return false
	}
	f.inFlight[email] = struct{}{}
	return true
}

func (f *Flow) end(email string) {
	f.mu.Lock()
	delete(f.inFlight, email)
	f.mu.Unlock()
}

// Destination resolves where a completed login or registration should
// navigate: the attempted location if one was remembered, otherwise the
// default landing route. Only local paths are honored — anything else
// (another origin, a protocol-relative URL) falls back to the default
// so the remembered location cannot become an open redirect.
func Destination(attempted string) string {
	if attempted == "" || !strings.HasPrefix(attempted, "/") || strings.HasPrefix(attempted, "//") {
		return DefaultLanding
	}
	return attempted
}

// supportedImageTypes are the content types the media host accepts.
// Detection sniffs the blob itself, not the filename.
var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// validate checks the whole form locally. Field order mirrors the form;
// the first violation wins so the user sees one problem at a time.
func (form Form) validate() error {
	if strings.TrimSpace(form.Name) == "" {
		return apperror.ValidationFailed("name", "Name is required")
	}
	if form.Email == "" {
		return apperror.ValidationFailed("email", "Email is required")
	}
	if _, err := mail.ParseAddress(form.Email); err != nil {
		return apperror.ValidationFailed("email", "Email is not a valid address")
	}
	if err := validatePassword(form.Password); err != nil {
		return err
	}
	if len(form.Image) == 0 {
		return apperror.ValidationFailed("image", "A profile image is required")
	}
	if !supportedImageTypes[http.DetectContentType(form.Image)] {
		return apperror.ValidationFailed("image", "Profile image must be a PNG, JPEG, GIF, or WebP file")
	}
	return nil
}

// validatePassword enforces the password policy: at least 6 characters
// with at least one uppercase and one lowercase letter.
func validatePassword(password string) error {
	var hasUpper, hasLower bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}
	if len(password) < 6 || !hasUpper || !hasLower {
		return apperror.ValidationFailed("password",
			"Password must be at least 6 characters with one uppercase and one lowercase letter")
	}
	return nil
}
