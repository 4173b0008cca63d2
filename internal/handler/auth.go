package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/rakin/trackauth/internal/guard"
	"github.com/rakin/trackauth/internal/identity"
	"github.com/rakin/trackauth/internal/identity/google"
	"github.com/rakin/trackauth/internal/registration"
)

// AuthHandler covers everything around an existing account: password
// login, logout, the current-user endpoint, and the Google external
// login.
type AuthHandler struct {
	provider identity.Provider
	manager  *identity.Manager
	google   *google.Login // nil when Google login is not configured
	logger   *slog.Logger
}

func NewAuthHandler(
	provider identity.Provider,
	manager *identity.Manager,
	googleLogin *google.Login,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		manager:  manager,
		google:   googleLogin,
		logger:   logger,
	}
}

// HandleLogin authenticates email/password and signs the session in.
//
// HTTP: POST /api/login (form fields: email, password, from)
//
// The attempted location arrives in the "from" field — the login page
// copies it out of the query string the guard redirected with — and is
// consumed here, once, to pick the post-login destination.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Could not read the login form",
		})
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")

	store := identity.NewStore(h.provider, h.logger)
	session, err := store.SignIn(r.Context(), email, password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("email", email))
		writeError(w, err)
		return
	}

	h.manager.Adopt(session)
	setSessionCookie(w, session.Token)

	h.logger.Info("user signed in",
		slog.String("principalID", session.Principal.ID),
		slog.String("email", session.Principal.Email),
	)

	writeJSON(w, http.StatusOK, FlowResponse{
		Message:    "Login successful!",
		RedirectTo: registration.Destination(r.FormValue(guard.FromParam)),
	})
}

// HandleLogout clears the session cookie and flips the session's store
// to absent, so requests already holding the store see the logout too.
//
// HTTP: POST /auth/logout — POST because logout changes state; a GET
// would be CSRF-able and prefetchable.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := guard.TokenFromRequest(r)
	if token != "" {
		h.manager.StoreFor(token).SignOut()
		h.manager.Drop(token)
	}
	clearSessionCookie(w)

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the authenticated principal.
//
// HTTP: GET /api/me — behind the route guard, which attached the
// principal to the context.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := guard.PrincipalFromContext(r.Context())
	if !ok {
		// Unreachable behind the guard, but don't panic on a miswired route.
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "credential_error",
			Message: "Not signed in",
		})
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

// HandleGoogleLogin starts the Google OAuth flow.
//
// HTTP: GET /auth/google/login?from=/dashboard
//
// The random state lands in a short-lived cookie for the CSRF check on
// callback; the attempted location rides along in its own cookie
// because the OAuth round-trip does not preserve our query string.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Google login is not configured",
		})
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	if from := r.URL.Query().Get(guard.FromParam); from != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     "auth_from",
			Value:    from,
			Path:     "/",
			MaxAge:   600,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback finishes the Google OAuth flow: CSRF check,
// code exchange, account upsert, session cookie, redirect to the
// attempted location or home.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		http.NotFound(w, r)
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("google callback: state check failed")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Both cookies are single-use.
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})
	from := ""
	if c, err := r.Cookie("auth_from"); err == nil {
		from = c.Value
		http.SetCookie(w, &http.Cookie{Name: "auth_from", Value: "", Path: "/", MaxAge: -1})
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("google callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, guard.AuthRoute+"?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ext, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	session, err := h.provider.UpsertExternalAccount(r.Context(), ext)
	if err != nil {
		h.logger.Error("google callback: account upsert failed",
			slog.String("subject", ext.Subject),
			slog.String("error", err.Error()),
		)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	h.manager.Adopt(session)
	setSessionCookie(w, session.Token)

	h.logger.Info("user signed in via google",
		slog.String("principalID", session.Principal.ID),
	)

	http.Redirect(w, r, registration.Destination(from), http.StatusSeeOther)
}
