package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"derm-kiosk-agent/internal/agent"
	"derm-kiosk-agent/internal/config"
	"derm-kiosk-agent/internal/consultation"
	"derm-kiosk-agent/internal/safety"
	"derm-kiosk-agent/internal/tools"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Clients
	provider := agent.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)

	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		slog.Error("failed to create weaviate client", "error", err)
		os.Exit(1)
	}
	embedder := tools.NewHTTPEmbedder(cfg.EmbedServiceURL, cfg.ToolTimeout)

	// Tools
	registry := tools.NewRegistry()
	registry.Register(tools.NewExtractTool(provider))
	registry.Register(tools.NewVisionTool(cfg.VisionServiceURL, cfg.ToolTimeout))
	registry.Register(tools.NewSimilarCasesTool(weaviateClient, embedder, cfg.WeaviateClass))
	registry.Register(tools.NewFinalizeTool(provider))

	gate := safety.NewGate()
	registry.Register(tools.NewSafetyTool(gate))

	// Services
	store := consultation.NewMemoryStore()
	policy := consultation.NewPolicy(cfg.SymptomThreshold)
	svc := consultation.NewService(store, provider, registry, gate, policy, consultation.Options{
		HistoryWindow: cfg.HistoryWindow,
		SimilarTopK:   cfg.SimilarTopK,
		SimilarMin:    cfg.SimilarMinScore,
		RetryBackoff:  cfg.RetryBackoff,
		ToolTimeout:   cfg.ToolTimeout,
	})
	handler := consultation.NewHandler(svc)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for the kiosk front end
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding")
			if r.Method == http.MethodOptions {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	handler.RegisterRoutes(r)

	slog.Info("server starting", "port", cfg.Port, "model", cfg.OpenAIModel)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	if os.Getenv("LOG_LEVEL") == "debug" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
