package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/timekeeperhq/timekeeper/app"
	"github.com/timekeeperhq/timekeeper/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-PII-Masked", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Login is public but still audited
			r.With(deps.AuditMiddleware.Record).Post("/login", deps.AuthHandler.HandleLogin)

			// The audit recorder sits inside the auth guard so the actor
			// is already attached when the entry is built
			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireAuth)
				r.Use(deps.AuditMiddleware.Record)
				r.Post("/logout", deps.AuthHandler.HandleLogout)
				r.Get("/me", deps.AuthHandler.HandleMe)
				r.Put("/change-password", deps.AuthHandler.HandleChangePassword)
				r.Get("/sessions", deps.SessionHandler.HandleListSessions)
				r.Delete("/sessions/{id}", deps.SessionHandler.HandleRevokeSession)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuditMiddleware.Record)

			// Trail access is decided per caller inside the handler:
			// system admins read raw, audit_log_read holders read masked
			r.Route("/audit-logs", func(r chi.Router) {
				r.Get("/", deps.AuditHandler.HandleList)
				r.Get("/export", deps.AuditHandler.HandleExport)
				r.Get("/{id}", deps.AuditHandler.HandleGet)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
