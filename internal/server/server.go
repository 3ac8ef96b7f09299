// Package server builds the HTTP server: routing, middleware, timeouts.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"claudebridge/internal/auth"
	"claudebridge/internal/handler"
	"claudebridge/internal/middleware"
	"claudebridge/internal/service"
	"claudebridge/internal/thinking"
)

// Options carries the wired application components.
type Options struct {
	Port   int
	Auth   *auth.Manager
	Login  *auth.Login
	Cache  *thinking.Cache
	Client *service.Client
}

// New creates the HTTP server with all routes and middleware configured.
func New(opts Options) *http.Server {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.APIKey)
	r.Use(chimw.Recoverer)

	proxy := handler.NewProxy(opts.Auth, opts.Cache, opts.Client)
	models := &handler.Models{Auth: opts.Auth, Client: opts.Client}
	status := &handler.Status{Auth: opts.Auth, Cache: opts.Cache}
	authRoutes := &handler.AuthRoutes{Login: opts.Login, Manager: opts.Auth}

	r.Get("/", handler.LoginPage)
	r.Get("/index.html", handler.LoginPage)

	r.Get("/v1", status.ServeHTTP)
	r.Get("/v1/models", models.ServeHTTP)
	r.Get("/models", models.ServeHTTP)

	r.Post("/v1/chat/completions", proxy.Completions)
	r.Post("/chat/completions", proxy.Completions)
	r.Post("/v1/messages", proxy.Completions)
	r.Get("/v1/chat/completions", handler.MethodGuidance)
	r.Get("/v1/messages", handler.MethodGuidance)

	r.Post("/auth/oauth/start", authRoutes.Start)
	r.Post("/auth/login/start", authRoutes.Start)
	r.Post("/auth/oauth/callback", authRoutes.Callback)
	r.Get("/auth/status", authRoutes.Status)
	r.Get("/auth/logout", authRoutes.Logout)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodGuidance)

	addr := fmt.Sprintf(":%d", opts.Port)
	slog.Info("server starting", "address", addr)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
}

// requestLogger is a simple request logging middleware.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
