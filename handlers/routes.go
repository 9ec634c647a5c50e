package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Server bundles the handlers mounted under /api.
type Server struct {
	Mentions       *MentionHandler
	Review         *ReviewHandler
	Suppliers      *SupplierHandler
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   s.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{"status": "ok"}
		if s.Review != nil && s.Review.Hub != nil {
			health["review_clients"] = s.Review.Hub.ClientCount()
		}
		writeJSON(w, http.StatusOK, health)
	})

	r.Route("/api", func(r chi.Router) {
		// the websocket stream is long-lived and stays outside the request timeout
		r.Get("/review/events", s.Review.Events)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))

			r.Route("/mentions", func(r chi.Router) {
				r.Post("/", s.Mentions.Ingest)
				r.Post("/batch", s.Mentions.IngestBatch)
			})

			r.Route("/review", func(r chi.Router) {
				r.Get("/pending", s.Review.ListPending)
				r.Post("/{alias_id}/accept", s.Review.Accept)
				r.Post("/{alias_id}/reject", s.Review.Reject)
			})

			r.Route("/suppliers", func(r chi.Router) {
				r.Get("/", s.Suppliers.ListSuppliers)
				r.Route("/{supplier_id}", func(r chi.Router) {
					r.Get("/", s.Suppliers.GetSupplier)
					r.Put("/", s.Suppliers.UpdateSupplier)
					r.Get("/resolve", s.Suppliers.Resolve)
					r.Get("/aliases", s.Suppliers.ListAliases)
					r.Get("/records", s.Suppliers.ListRecords)
					r.Post("/merge", s.Suppliers.MergeSupplier)
				})
			})

			r.Put("/aliases/{alias_id}/supplier", s.Suppliers.ReassignAlias)
			r.Post("/reconcile", s.Suppliers.RunReconcile)
		})
	})

	return r
}
