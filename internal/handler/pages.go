package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/rakin/trackauth/internal/guard"
)

// PageHandler serves the handful of HTML shells the flows hang off.
// The pages are deliberately bare — layout and styling are not this
// service's problem — but they carry the one piece of plumbing that
// matters: the attempted location travels from the guard's redirect
// query into a hidden form field, so a successful login can return the
// visitor to where they were headed.
type PageHandler struct {
	logger *slog.Logger
}

func NewPageHandler(logger *slog.Logger) *PageHandler {
	return &PageHandler{logger: logger}
}

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<title>Login</title>
<h1>Login</h1>
<form method="post" action="/api/login">
  <input type="hidden" name="from" value="{{.From}}">
  <input name="email" type="email" placeholder="email" required>
  <input name="password" type="password" placeholder="password" required>
  <button>Login</button>
</form>
<p><a href="/auth/google/login{{if .From}}?from={{.From}}{{end}}">Sign in with Google</a></p>
<p>New here? <a href="/register{{if .From}}?from={{.From}}{{end}}">Register</a></p>
`))

var registerPage = template.Must(template.New("register").Parse(`<!doctype html>
<title>Register</title>
<h1>Register your account</h1>
<form method="post" action="/api/register" enctype="multipart/form-data">
  <input type="hidden" name="from" value="{{.From}}">
  <input name="name" placeholder="name" required>
  <input name="image" type="file" required>
  <input name="email" type="email" placeholder="email" required>
  <input name="password" type="password" placeholder="password" required>
  <button>Register</button>
</form>
<p>Already have an account? <a href="/login{{if .From}}?from={{.From}}{{end}}">Login</a></p>
`))

var dashboardPage = template.Must(template.New("dash").Parse(`<!doctype html>
<title>Dashboard</title>
<h1>Welcome, {{.}}</h1>
<form method="post" action="/auth/logout"><button>Logout</button></form>
`))

type pageData struct {
	From string
}

// HandleHome is the public landing page.
func (h *PageHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!doctype html><title>track</title><h1>track</h1><p><a href="/dashboard">Dashboard</a></p>`))
}

// HandleLoginPage renders the login form, threading the attempted
// location through from the guard's redirect.
func (h *PageHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, loginPage, pageData{From: r.URL.Query().Get(guard.FromParam)})
}

// HandleRegisterPage renders the registration form.
func (h *PageHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, registerPage, pageData{From: r.URL.Query().Get(guard.FromParam)})
}

// HandleDashboard is a protected page; the guard attached the principal
// before we got here.
func (h *PageHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	principal, _ := guard.PrincipalFromContext(r.Context())
	name := principal.DisplayName
	if name == "" {
		name = principal.Email
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardPage.Execute(w, name); err != nil {
		h.logger.Error("rendering dashboard", slog.String("error", err.Error()))
	}
}

func (h *PageHandler) render(w http.ResponseWriter, tmpl *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		h.logger.Error("rendering page", slog.String("error", err.Error()))
	}
}
