package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/convoflow/agent/orchestrator"
	"github.com/BaSui01/convoflow/agent/protocol/mcp"
	"github.com/BaSui01/convoflow/api/handlers"
	"github.com/BaSui01/convoflow/config"
	"github.com/BaSui01/convoflow/internal/cache"
	"github.com/BaSui01/convoflow/internal/database"
	"github.com/BaSui01/convoflow/internal/metrics"
	"github.com/BaSui01/convoflow/internal/ratelimit"
	"github.com/BaSui01/convoflow/internal/server"
	"github.com/BaSui01/convoflow/internal/store"
	"github.com/BaSui01/convoflow/internal/telemetry"
	"github.com/BaSui01/convoflow/llm"
	"github.com/BaSui01/convoflow/llm/factory"
)

// retentionInterval is how often expired sessions are purged.
const retentionInterval = time.Hour

// publicPaths bypass authentication.
var publicPaths = []string{"/health", "/ready"}

// Server owns every long-lived component of the service.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers

	collector *metrics.Collector
	pool      *database.PoolManager
	store     *store.Store
	cache     *cache.Manager
	adapter   llm.Adapter
	tools     *mcp.Client
	conv      *orchestrator.Orchestrator
	limiter   *ratelimit.Limiter

	httpManager    *server.Manager
	metricsManager *server.Manager

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server; nothing is connected until Start.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		logger:    logger,
		telemetry: providers,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects the backing services and starts both listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("convoflow", s.logger)

	if err := s.initStore(); err != nil {
		return err
	}
	if err := s.initCache(); err != nil {
		return err
	}
	if err := s.initConversation(); err != nil {
		return err
	}

	s.limiter = ratelimit.New(ratelimit.Config{
		MessagesPerHour: s.cfg.RateLimit.MessagesPerHour,
		TokensPerDay:    s.cfg.RateLimit.TokensPerDay,
		MaxConcurrent:   s.cfg.RateLimit.MaxConcurrent,
	}, s.cache, s.logger, ratelimit.WithRejectHook(s.collector.RecordRateLimited))

	if err := s.startHTTPServer(); err != nil {
		return err
	}
	if err := s.startMetricsServer(); err != nil {
		return err
	}
	go s.retentionLoop()

	s.logger.Info("server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("provider", s.adapter.Name()),
		zap.Bool("tools", s.tools != nil),
		zap.Bool("redis", s.cache != nil),
	)
	return nil
}

func (s *Server) initStore() error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	driver := s.cfg.Database.Driver
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.logger,
		database.WithStatsObserver(func(open, idle int) {
			s.collector.RecordDBConnections(driver, open, idle)
		}),
	)
	if err != nil {
		return fmt.Errorf("database pool: %w", err)
	}
	s.pool = pool
	s.store = store.New(pool, s.logger)

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Server) initCache() error {
	rc := s.cfg.Redis
	if rc.Addr == "" {
		s.logger.Info("redis not configured, using in-process caches and limits")
		return nil
	}
	cfg := cache.DefaultConfig()
	cfg.Addr = rc.Addr
	cfg.Password = rc.Password
	cfg.DB = rc.DB
	if rc.KeyPrefix != "" {
		cfg.KeyPrefix = rc.KeyPrefix
	}
	if rc.PoolSize > 0 {
		cfg.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		cfg.MinIdleConns = rc.MinIdleConns
	}
	m, err := cache.NewManager(cfg, s.logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	s.cache = m
	return nil
}

func (s *Server) initConversation() error {
	lc := s.cfg.LLM
	active := lc.Active()
	adapter, err := factory.NewAdapter(lc.Provider, factory.ProviderConfig{
		APIKey:      active.APIKey,
		BaseURL:     active.BaseURL,
		Model:       active.Model,
		Timeout:     lc.Timeout,
		Temperature: lc.Temperature,
		TopP:        lc.TopP,
		MaxTokens:   lc.MaxTokens,
	}, s.logger)
	if err != nil {
		return err
	}
	if err := adapter.ValidateConfig(); err != nil {
		return err
	}
	s.adapter = adapter

	var tools orchestrator.ToolProvider
	if tc := s.cfg.Tools; tc.Endpoint != "" {
		opts := []mcp.Option{mcp.WithCacheObserver(s.collector.RecordCacheLookup)}
		if s.cache != nil {
			opts = append(opts, mcp.WithSharedCatalog(s.cache))
			if tc.ResultCacheTTL > 0 {
				opts = append(opts, mcp.WithResultCache(s.cache, tc.ResultCacheTTL))
			}
		}
		s.tools = mcp.NewClient(mcp.Config{
			Endpoint:      tc.Endpoint,
			Timeout:       tc.Timeout,
			ClientName:    tc.ClientName,
			ClientVersion: tc.ClientVersion,
			MaxRetries:    tc.MaxRetries,
			CatalogTTL:    tc.CatalogTTL,
		}, mcp.ContextToken{Fallback: mcp.StaticToken(tc.ServiceToken)}, s.logger, opts...)
		tools = s.tools

		ctx, cancel := context.WithTimeout(s.ctx, tc.Timeout+time.Second)
		if info, err := s.tools.Handshake(ctx); err != nil {
			s.logger.Warn("tool service handshake failed, will retry on first use", zap.Error(err))
		} else {
			s.logger.Info("tool service connected", zap.String("server", info.ServerInfo.Name), zap.String("version", info.ServerInfo.Version))
		}
		cancel()
	} else {
		s.logger.Info("tool service not configured, tools disabled")
	}

	cc := s.cfg.Conversation
	conv, err := orchestrator.New(adapter, tools, orchestrator.Config{
		SystemPrompt:     lc.SystemPrompt,
		Model:            active.Model,
		Temperature:      lc.Temperature,
		TopP:             lc.TopP,
		MaxTokens:        lc.MaxTokens,
		ContextWindow:    cc.ContextWindow,
		MaxContextTokens: cc.MaxContextTokens,
		ToolsEnabled:     cc.ToolsEnabled && tools != nil,
		MaxToolRounds:    cc.MaxToolRounds,
		MaxParallel:      cc.MaxParallel,
		ModelTimeout:     lc.Timeout,
		ToolTimeout:      cc.ToolTimeout,
		MaxRetries:       lc.MaxRetries,
	}, s.logger,
		orchestrator.WithRecorder(s.collector),
		orchestrator.WithStateHook(func(_ string, from, to orchestrator.State) {
			s.collector.RecordStateTransition(from.String(), to.String())
		}),
		orchestrator.WithResultFormatter(mcp.FormatResult),
		orchestrator.WithTracer(s.telemetry.Tracer("convoflow/orchestrator")),
	)
	if err != nil {
		return err
	}
	s.conv = conv
	return nil
}

func (s *Server) routes() http.Handler {
	provider, model := s.adapter.Name(), s.cfg.LLM.Active().Model

	health := handlers.NewHealthHandler(Version, s.logger)
	health.RegisterCheck(handlers.CheckFunc{CheckName: "database", Fn: s.store.Ping})
	health.RegisterCheck(handlers.CheckFunc{CheckName: "llm", Fn: s.adapter.Ping})
	if s.cache != nil {
		health.RegisterCheck(handlers.CheckFunc{CheckName: "redis", Fn: s.cache.Ping})
	}

	var catalog handlers.ToolCatalog
	if s.tools != nil {
		catalog = s.tools
	}

	sessions := handlers.NewSessionHandler(s.store, provider, model, s.logger)
	chat := handlers.NewChatHandler(s.store, s.conv, s.limiter, provider, model, s.logger,
		handlers.WithAllowedOrigins(s.cfg.Server.AllowedOrigins))
	feedback := handlers.NewFeedbackHandler(s.store, s.logger)
	tools := handlers.NewToolHandler(catalog, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)

	mux.HandleFunc("POST /api/v1/sessions", sessions.HandleGetOrCreate)
	mux.HandleFunc("POST /api/v1/sessions/new", sessions.HandleNew)
	mux.HandleFunc("POST /api/v1/sessions/{id}/close", sessions.HandleClose)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sessions.HandleListMessages)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/messages", sessions.HandleClearMessages)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", chat.HandleSend)
	mux.HandleFunc("POST /api/v1/sessions/{id}/stream", chat.HandleStream)
	mux.HandleFunc("GET /api/v1/sessions/{id}/ws", chat.HandleWebSocket)
	mux.HandleFunc("GET /api/v1/rate-limit", chat.HandleRateLimitStatus)

	mux.HandleFunc("POST /api/v1/feedback", feedback.HandleSubmit)
	mux.HandleFunc("GET /api/v1/feedback/stats", feedback.HandleStats)

	mux.HandleFunc("GET /api/v1/tools", tools.HandleList)
	mux.HandleFunc("POST /api/v1/tools/cache/clear", tools.HandleClearCache)

	return Chain(mux, s.middlewares()...)
}

func (s *Server) middlewares() []Middleware {
	sc, rl := s.cfg.Server, s.cfg.RateLimit
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(sc.AllowedOrigins),
	}
	if rl.HTTPRPS > 0 {
		chain = append(chain, RateLimiter(s.ctx, rl.HTTPRPS, rl.HTTPBurst, s.logger))
	}

	jwtOn, keysOn := s.cfg.JWT.Enabled(), len(sc.APIKeys) > 0
	switch {
	case jwtOn && keysOn:
		chain = append(chain,
			JWTAuth(s.cfg.JWT, publicPaths, true, s.logger),
			APIKeyAuth(sc.APIKeys, publicPaths, s.logger))
	case jwtOn:
		chain = append(chain, JWTAuth(s.cfg.JWT, publicPaths, false, s.logger))
	case keysOn:
		chain = append(chain, APIKeyAuth(sc.APIKeys, publicPaths, s.logger))
	default:
		s.logger.Warn("no authentication configured, trusting X-User-ID")
		chain = append(chain, DevIdentity())
	}
	return chain
}

func (s *Server) startHTTPServer() error {
	sc := s.cfg.Server
	s.httpManager = server.NewManager(s.routes(), server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
	}, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(mux, server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	return s.metricsManager.Start()
}

func (s *Server) retentionLoop() {
	retention := s.cfg.Conversation.Retention
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
			n, err := s.store.CleanupOlderThan(ctx, time.Now().Add(-retention))
			cancel()
			if err != nil {
				s.logger.Warn("retention cleanup failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}

// Errors reports a listener that stopped unexpectedly.
func (s *Server) Errors() <-chan error {
	errs := make(chan error, 2)
	forward := func(m *server.Manager) {
		if m == nil {
			return
		}
		go func() {
			if err, ok := <-m.Errors(); ok && err != nil {
				errs <- err
			}
		}()
	}
	forward(s.httpManager)
	forward(s.metricsManager)
	return errs
}

// Shutdown stops the listeners first so in-flight turns can persist, then
// closes the backing services.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	s.cancel()

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}
