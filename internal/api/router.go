package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moneyrag.io/backend/internal/auth"
	"moneyrag.io/backend/internal/metrics"
)

const slowRequest = 5 * time.Second

func NewRouter(apiHandler *APIHandler, verifier auth.Verifier, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(recoverJSON)
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(accessLog(m, slowRequest))

	// All API routes live under /api/v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Handle("/metrics", promhttp.Handler())

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(authenticate(verifier))

			r.Get("/auth/me", apiHandler.MeHandler)

			r.Get("/config", apiHandler.GetConfigHandler)
			r.Put("/config", apiHandler.PutConfigHandler)

			r.Route("/files", func(r chi.Router) {
				r.Get("/", apiHandler.ListFilesHandler)
				r.Post("/upload", apiHandler.UploadFilesHandler)
				r.Get("/ingestion-status", apiHandler.IngestionStatusHandler)
				r.Delete("/{fileID}", apiHandler.DeleteFileHandler)
			})

			r.Post("/transactions", apiHandler.CreateTransactionHandler)
			r.Get("/transactions", apiHandler.ListTransactionsHandler)

			r.Post("/chat", apiHandler.PostChatHandler)
			r.Get("/chat/history", apiHandler.ChatHistoryHandler)
		})
	})

	return r
}
