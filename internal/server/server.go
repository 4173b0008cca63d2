// Package server wires the application together: the identity provider,
// the session manager, the registration flow, the route guard, and the
// HTTP routes that expose them.
//
// This is the composition root — every dependency is constructed and
// connected here (and in main), so the rest of the codebase can take
// its collaborators as injected interfaces.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rakin/trackauth/internal/avatar"
	"github.com/rakin/trackauth/internal/config"
	"github.com/rakin/trackauth/internal/directory"
	"github.com/rakin/trackauth/internal/guard"
	"github.com/rakin/trackauth/internal/handler"
	"github.com/rakin/trackauth/internal/identity"
	"github.com/rakin/trackauth/internal/identity/google"
	"github.com/rakin/trackauth/internal/identity/local"
	"github.com/rakin/trackauth/internal/middleware"
	"github.com/rakin/trackauth/internal/registration"
)

// Server owns the router and the resources that need closing on
// shutdown (the identity provider's database).
type Server struct {
	router   *chi.Mux
	cfg      *config.Config
	logger   *slog.Logger
	provider *local.Provider
}

// New builds the full dependency graph and registers all routes.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	provider, err := local.New(cfg.DBPath, cfg.JWTSecret, cfg.BcryptCost, logger)
	if err != nil {
		return nil, fmt.Errorf("creating identity provider: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		logger:   logger,
		provider: provider,
	}

	if err := s.setupRoutes(); err != nil {
		provider.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes assembles middleware, collaborators, and routes.
//
// ROUTE MAP:
//
//	GET  /                      landing page (public)
//	GET  /login                 login form (public, reads ?from=)
//	GET  /register              registration form (public)
//	POST /api/register          registration flow
//	POST /api/login             password login
//	POST /auth/logout           logout
//	GET  /auth/google/login     start Google OAuth
//	GET  /auth/google/callback  finish Google OAuth
//	GET  /api/me                guarded: current principal
//	GET  /dashboard             guarded page
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// Collaborators.
	manager := identity.NewManager(s.provider, s.logger)
	uploader := avatar.New(s.cfg.AvatarHostURL, s.cfg.AvatarAPIKey, nil)

	// The directory mirror and Google login are both optional — the
	// registration and login flows degrade gracefully without them.
	var recorder registration.Recorder
	if s.cfg.DirectoryURL != "" {
		recorder = directory.New(s.cfg.DirectoryURL, nil)
	} else {
		s.logger.Warn("DIRECTORY_URL not set — registration records will not be mirrored")
	}

	var googleLogin *google.Login
	if s.cfg.GoogleClientID != "" && s.cfg.GoogleClientSecret != "" {
		googleLogin = google.NewLogin(s.cfg.GoogleClientID, s.cfg.GoogleClientSecret, s.cfg.GoogleCallbackURL)
	} else {
		s.logger.Warn("Google OAuth credentials not set — Google login disabled")
	}

	flow := registration.NewFlow(uploader, recorder, s.logger)

	// Handlers.
	pages := handler.NewPageHandler(s.logger)
	registerHandler := handler.NewRegisterHandler(flow, s.provider, manager, s.logger)
	authHandler := handler.NewAuthHandler(s.provider, manager, googleLogin, s.logger)

	routeGuard := guard.New(manager, nil, s.logger)

	// Public routes.
	s.router.Get("/", pages.HandleHome)
	s.router.Get("/login", pages.HandleLoginPage)
	s.router.Get("/register", pages.HandleRegisterPage)
	s.router.Post("/api/register", registerHandler.HandleRegister)
	s.router.Post("/api/login", authHandler.HandleLogin)
	s.router.Post("/auth/logout", authHandler.HandleLogout)
	s.router.Get("/auth/google/login", authHandler.HandleGoogleLogin)
	s.router.Get("/auth/google/callback", authHandler.HandleGoogleCallback)

	// Protected routes — everything below the guard re-evaluates the
	// session's resolution state on each request.
	s.router.Group(func(r chi.Router) {
		r.Use(routeGuard.Protect)
		r.Get("/api/me", authHandler.HandleMe)
		r.Get("/dashboard", pages.HandleDashboard)
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then drains in-flight
// requests for up to 30 seconds and closes the identity provider.
func (s *Server) Start() error {
	defer s.provider.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("database", s.cfg.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
