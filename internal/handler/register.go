package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rakin/trackauth/internal/guard"
	"github.com/rakin/trackauth/internal/identity"
	"github.com/rakin/trackauth/internal/registration"
)

// maxUploadSize caps the multipart body; avatars larger than this are
// rejected before the media host ever sees them.
const maxUploadSize = 10 << 20 // 10 MiB

// RegisterHandler runs the registration flow for the sign-up form.
//
// Each request gets its own identity store — a registration is a fresh
// session by definition, and the per-request store keeps a half-created
// principal from ever leaking into the shared anonymous store. On
// success the resulting session is adopted into the manager and the
// token set as the session cookie.
type RegisterHandler struct {
	flow     *registration.Flow
	provider identity.Provider
	manager  *identity.Manager
	logger   *slog.Logger
}

func NewRegisterHandler(
	flow *registration.Flow,
	provider identity.Provider,
	manager *identity.Manager,
	logger *slog.Logger,
) *RegisterHandler {
	return &RegisterHandler{
		flow:     flow,
		provider: provider,
		manager:  manager,
		logger:   logger,
	}
}

// FlowResponse is what the registration and login endpoints return: the
// single user-facing message plus, on success, where the client should
// navigate next.
type FlowResponse struct {
	Message    string `json:"message"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

// HandleRegister accepts the multipart sign-up form.
//
// HTTP: POST /api/register
// Fields: name, email, password, image (file), from (optional attempted
// location, carried over from the guard's redirect).
func (h *RegisterHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Could not read the registration form",
		})
		return
	}

	form := registration.Form{
		Name:              r.FormValue("name"),
		Email:             r.FormValue("email"),
		Password:          r.FormValue("password"),
		AttemptedLocation: r.FormValue(guard.FromParam),
	}

	// The image is optional at the HTTP layer; the flow's validation
	// decides whether its absence is an error, keeping the policy in
	// one place.
	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		blob, err := io.ReadAll(file)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "Could not read the uploaded image",
			})
			return
		}
		form.Image = blob
		form.ImageFilename = header.Filename
	}

	store := identity.NewStore(h.provider, h.logger)
	notifier := &responseNotifier{}
	navigator := &responseNavigator{}

	err := h.flow.Submit(r.Context(), registration.Submission{
		Form:      form,
		Store:     store,
		Notifier:  notifier,
		Navigator: navigator,
	})
	if err != nil {
		status, class := errorStatus(err)
		writeJSON(w, status, ErrorResponse{Error: class, Message: notifier.message})
		return
	}

	// The flow succeeded: the store now holds the new principal and its
	// session token. Hand the session to the manager and the cookie to
	// the browser.
	state := store.Observe()
	session := identity.Session{Token: store.Token(), Principal: state.Principal}
	h.manager.Adopt(session)
	setSessionCookie(w, session.Token)

	writeJSON(w, http.StatusCreated, FlowResponse{
		Message:    notifier.message,
		RedirectTo: navigator.target,
	})
}

// setSessionCookie installs the session token as an HttpOnly cookie.
// HttpOnly keeps scripts away from it; SameSite=Lax keeps it off
// cross-site POSTs.
func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     guard.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie tells the browser to drop the session cookie.
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     guard.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
