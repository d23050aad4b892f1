// Package api assembles the HTTP surface: chi router, middleware, and the
// handler wiring for every endpoint.
package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sibylhq/sibyl/internal/api/handlers"
	apimiddleware "github.com/sibylhq/sibyl/internal/api/middleware"
	"github.com/sibylhq/sibyl/internal/domain/assistant"
	domainauth "github.com/sibylhq/sibyl/internal/domain/auth"
	"github.com/sibylhq/sibyl/internal/domain/billing"
	"github.com/sibylhq/sibyl/internal/domain/chat"
	"github.com/sibylhq/sibyl/internal/domain/document"
	"github.com/sibylhq/sibyl/internal/domain/retrieval"
	"github.com/sibylhq/sibyl/internal/domain/tool"
	"github.com/sibylhq/sibyl/internal/infra/config"
	"github.com/sibylhq/sibyl/internal/infra/eventbus"
	"github.com/sibylhq/sibyl/internal/infra/llm"
)

// NewRouter builds the chi router with public routes (/health, /auth/*) and
// JWT-protected routes (/api/v1/*). It also starts the background knowledge
// indexer, which stops when ctx is cancelled.
func NewRouter(ctx context.Context, db *sql.DB, cfg config.Config, logger *zap.Logger) (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	authHandler := handlers.NewAuthHandler(domainauth.NewService(db, logger, cfg.FreeQuota))
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	embedder, err := llm.NewEmbeddingClient(llm.Config{
		Provider: cfg.EmbeddingProvider,
		Model:    cfg.EmbeddingModel,
		APIKey:   cfg.EmbeddingAPIKey,
		APIURL:   cfg.EmbeddingAPIURL,
	})
	if err != nil {
		return nil, err
	}

	retrievalSvc := retrieval.NewService(retrieval.NewStore(db), embedder)
	documentStore := document.NewStore(db)
	chatStore := chat.NewStore(db)
	assistantStore := assistant.NewStore(db)

	bus := eventbus.New()
	go retrieval.NewIndexer(retrievalSvc, logger).Start(ctx, bus)

	registry := tool.NewRegistry()
	if err := tool.RegisterBuiltins(registry, tool.BuiltinServices{
		Retrieval: retrievalSvc,
		Documents: documentStore,
	}); err != nil {
		return nil, err
	}

	orchestrator := chat.NewOrchestrator(chatStore, registry, logger).
		WithLimits(cfg.MaxSteps, cfg.RunTimeout)

	chatHandler := handlers.NewChatHandler(orchestrator, chatStore, assistant.NewResolver(assistantStore), logger)
	assistantHandler := handlers.NewAssistantHandler(assistantStore, billing.NewQuotaService(db, cfg.FreeQuota))
	knowledgeHandler := handlers.NewKnowledgeHandler(retrievalSvc, bus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimiddleware.AuthMiddleware)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/", chatHandler.Stream)          // POST /api/v1/chat
			r.Get("/", chatHandler.List)             // GET /api/v1/chat
			r.Delete("/", chatHandler.Delete)        // DELETE /api/v1/chat?id=
			r.Get("/{id}/messages", chatHandler.Messages)
		})

		r.Route("/assistants", func(r chi.Router) {
			r.Post("/", assistantHandler.Create)       // POST /api/v1/assistants
			r.Get("/", assistantHandler.List)          // GET /api/v1/assistants
			r.Get("/{id}", assistantHandler.Get)       // GET /api/v1/assistants/{id}
			r.Put("/{id}", assistantHandler.Update)    // PUT /api/v1/assistants/{id}
			r.Delete("/{id}", assistantHandler.Delete) // DELETE /api/v1/assistants/{id}
		})

		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/ingest", knowledgeHandler.Ingest) // POST /api/v1/knowledge/ingest
			r.Post("/query", knowledgeHandler.Query)   // POST /api/v1/knowledge/query
		})
	})

	return r, nil
}
