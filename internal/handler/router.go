package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/handler/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/handler/speech"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/handler/stream"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/health"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/metrics"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/middleware"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/ai"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/audio"
	chatservice "github.com/NicolasHurtado/Voice-gpt-agent/internal/service/chat"
	"github.com/NicolasHurtado/Voice-gpt-agent/internal/service/turn"
	"github.com/NicolasHurtado/Voice-gpt-agent/pkg/utils"
)

// Deps 构建路由所需的全部依赖
type Deps struct {
	Store       chatservice.Store
	Turns       *turn.Orchestrator
	AI          *ai.Service
	Speech      speech.SpeechService
	Validator   *audio.Validator
	Connections *speech.ConnectionRegistry
	Health      *health.Checker
	Metrics     *metrics.Collector
	MaxHistory  int
	RateLimit   config.RateLimitConfig
	Logger      *zap.Logger
}

// NewRouter wires HTTP routes to core services.
// ctx bounds background work owned by the middleware.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Connections == nil {
		deps.Connections = speech.NewConnectionRegistry()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	chatHandler := chat.New(deps.Store, deps.Turns, deps.AI, deps.Connections, logger)
	streamHandler := stream.New(deps.AI, deps.Turns, deps.Store, deps.MaxHistory, logger)
	speechHandler := speech.New(deps.Speech, deps.Validator, deps.Turns, logger)

	wsOpts := speech.WebSocketOptions{
		MessageRPS:   deps.RateLimit.WSMessageRPS,
		MessageBurst: deps.RateLimit.WSMessageBurst,
		Logger:       logger,
	}
	if deps.Metrics != nil {
		wsOpts.Observer = deps.Metrics
	}
	wsHandler := speech.NewWebSocketHandler(deps.Turns, deps.Connections, wsOpts)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.RateLimiter(ctx, deps.RateLimit.RPS, deps.RateLimit.Burst, logger))

		api.Get("/health", healthHandler(deps.Health))
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
		wsHandler.RegisterWebSocketRoutes(api)
	})

	return r
}

// healthHandler 依赖全部正常返回 200，否则 503
func healthHandler(checker *health.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			utils.RespondJSON(w, http.StatusOK, &health.Report{Status: health.StatusHealthy, Services: map[string]health.ServiceStatus{}})
			return
		}
		report := checker.Run(r.Context())
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Cache-Control", "no-store")
		utils.RespondJSON(w, status, struct {
			*health.Report
			Timestamp time.Time `json:"timestamp"`
		}{report, time.Now().UTC()})
	}
}
