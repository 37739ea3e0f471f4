package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/Cardify/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Cardify/internal/api/middlewares"
	"github.com/markdave123-py/Cardify/internal/config"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
	"github.com/markdave123-py/Cardify/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, log *logger.Logger, users *services.UserService, docs *services.DocumentService) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           NewRouter(cfg, log, users, docs),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// NewRouter returns the API routes without binding a listener.
func NewRouter(cfg *config.Config, log *logger.Logger, users *services.UserService, docs *services.DocumentService) http.Handler {
	authHandler := handlers.NewAuthHandler(users, cfg.JWTSecret, log)
	docHandler := handlers.NewDocumentHandler(docs, cfg.MaxUploadBytes, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWT(cfg.JWTSecret))

			protected.Post("/documents/upload", docHandler.UploadDocument)
			protected.Post("/documents/text", docHandler.SubmitText)
			protected.Get("/documents/generation-limit", docHandler.GenerationLimit)
			protected.Get("/documents", docHandler.GetDocuments)

			protected.Route("/documents/{id}", func(doc chi.Router) {
				doc.Get("/", docHandler.GetDocument())
				doc.Delete("/", docHandler.DeleteDocument())
				doc.Post("/cancel", docHandler.CancelDocument())
				doc.Get("/flashcards", docHandler.GetFlashcards())
				doc.Get("/quiz", docHandler.GetQuiz())
				doc.Post("/generate-flashcards", docHandler.GenerateFlashcards())
				doc.Post("/generate-quiz", docHandler.GenerateQuiz())
				doc.Post("/add-flashcards", docHandler.AddFlashcards())
				doc.Post("/add-questions", docHandler.AddQuestions())
			})

			protected.Get("/flashcards/{id}/related", docHandler.RelatedFlashcards())
		})
	})

	return r
}

// Start runs the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
