package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes plus the static operator frontend.
func SetupRoutes(h *Handlers, staticDir string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Template generation (generative-text proxy)
		r.Post("/generate-template", h.HandleGenerateTemplate)

		// Synchronous bulk dispatch
		r.Post("/generate-emails", h.HandleGenerateEmails)

		// Background bulk dispatch
		r.Post("/dispatch-jobs", h.HandleCreateDispatchJob)
		r.Get("/dispatch-jobs/{id}", h.HandleGetDispatchJob)
	})

	// Operator frontend
	staticHandler(r, staticDir)

	return r
}

// staticHandler serves the frontend assets with a fallback to index.html.
func staticHandler(r chi.Router, staticDir string) {
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path

		// Skip API routes
		if strings.HasPrefix(path, "/api") || strings.HasPrefix(path, "/health") {
			http.NotFound(w, req)
			return
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path))
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			http.ServeFile(w, req, filePath)
			return
		}

		http.ServeFile(w, req, filepath.Join(staticDir, "index.html"))
	})
}
