// Package server wires the gateway's routes, middleware, and background
// loops into one runnable unit.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/speechgate/speechgate/pkg/gateway/backend"
	"github.com/speechgate/speechgate/pkg/gateway/config"
	"github.com/speechgate/speechgate/pkg/gateway/handlers"
	"github.com/speechgate/speechgate/pkg/gateway/live/protocol"
	"github.com/speechgate/speechgate/pkg/gateway/live/sessions"
	"github.com/speechgate/speechgate/pkg/gateway/metrics"
	"github.com/speechgate/speechgate/pkg/gateway/mw"
	"github.com/speechgate/speechgate/pkg/gateway/pipeline"
	"github.com/speechgate/speechgate/pkg/gateway/ratelimit"
	"github.com/speechgate/speechgate/pkg/gateway/registry"
	"github.com/speechgate/speechgate/pkg/gateway/store"
	"github.com/speechgate/speechgate/pkg/gateway/tools"
)

// Version is reported by the health endpoint. Overridable at link time.
var Version = "1.0.0"

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store    *store.Store
	reg      *registry.Registry
	tracker  *sessions.Tracker
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline

	httpClient *http.Client
}

func New(cfg config.Config, redisClient *redis.Client, logger *slog.Logger) (*Server, error) {
	if redisClient == nil {
		return nil, errors.New("server: redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}

	sessionStore := store.New(redisClient, store.WithTTL(cfg.SessionTTL))

	reg := registry.New(registry.Config{
		Endpoints: map[string]string{
			"stt": cfg.STTURL,
			"llm": cfg.LLMURL,
			"tts": cfg.TTSURL,
		},
		ProbeTimeout:      cfg.ProbeTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HTTPClient:        httpClient,
		Logger:            logger,
	})

	m := metrics.New("speechgate")

	pipe, err := pipeline.New(pipeline.Dependencies{
		Registry:           reg,
		Store:              sessionStore,
		STT:                backend.NewSTTClient(httpClient, cfg.STTTimeout),
		LLM:                backend.NewLLMClient(httpClient, cfg.LLMTimeout),
		TTS:                backend.NewTTSClient(httpClient, cfg.TTSTimeout),
		Tools:              tools.NewRegistry(tools.Builtins(sessionStore)...),
		Metrics:            m,
		Logger:             logger,
		ContextMaxMessages: cfg.ContextMaxMessages,
		MaxToolRounds:      cfg.MaxToolRounds,
		DefaultVoice:       cfg.DefaultVoice,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		store:   sessionStore,
		reg:     reg,
		tracker: sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			MaxRequests:   cfg.RateLimitMax,
			Window:        cfg.RateLimitWindow,
			MaxEntries:    cfg.RateLimitEntries,
			SweepInterval: cfg.RateLimitSweep,
		}),
		metrics:    m,
		pipeline:   pipe,
		httpClient: httpClient,
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthzHandler{})
	s.mux.Handle("GET /health", handlers.HealthHandler{
		Store:    s.store,
		Registry: s.reg,
		Version:  Version,
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	sess := handlers.SessionsHandler{Store: s.store, Logger: s.logger}
	s.mux.HandleFunc("POST /v1/sessions", sess.Create)
	s.mux.HandleFunc("GET /v1/sessions/{id}", sess.Get)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", sess.Delete)
	s.mux.HandleFunc("GET /v1/sessions/{id}/history", sess.History)
	s.mux.HandleFunc("POST /v1/sessions/{id}/clear", sess.Clear)
	s.mux.HandleFunc("PUT /v1/sessions/{id}/config", sess.UpdateConfig)
	s.mux.HandleFunc("POST /v1/sessions/{id}/export", sess.Export)

	chat := handlers.ChatHandler{
		Store:              s.store,
		Registry:           s.reg,
		LLM:                backend.NewLLMClient(s.httpClient, s.cfg.LLMTimeout),
		Logger:             s.logger,
		ContextMaxMessages: s.cfg.ContextMaxMessages,
	}
	s.mux.HandleFunc("POST /v1/chat", chat.Chat)
	s.mux.HandleFunc("POST /v1/chat/stream", chat.ChatStream)

	s.mux.Handle("POST /v1/tts", handlers.TTSHandler{
		Registry:     s.reg,
		TTS:          backend.NewTTSClient(s.httpClient, s.cfg.TTSTimeout),
		Logger:       s.logger,
		DefaultVoice: s.cfg.DefaultVoice,
	})

	s.mux.Handle("GET /v1/live", handlers.LiveHandler{
		Config:   s.cfg,
		Store:    s.store,
		Registry: s.reg,
		Runner:   s.pipeline,
		Tracker:  s.tracker,
		Metrics:  s.metrics,
		Logger:   s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// Handler returns the mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, s.metrics, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics, h)
	h = mw.RequestID(h)
	return h
}

// Run serves until ctx is canceled, then drains live sessions and shuts
// the listener down within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	s.reg.Discover(ctx)

	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.reg.HeartbeatLoop(gctx)
		return nil
	})
	g.Go(func() error {
		s.limiter.SweepLoop(gctx)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(httpServer)
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown(httpServer *http.Server) {
	grace := s.cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if notified := s.tracker.Broadcast(protocol.NewError("server shutting down")); notified > 0 {
		s.logger.Info("notified live sessions of shutdown", "count", notified)
	}
	canceled := s.tracker.CancelAll()
	if canceled > 0 {
		s.logger.Info("canceling live sessions", "count", canceled)
	}
	if !s.tracker.Wait(shutdownCtx) {
		s.logger.Warn("live sessions did not drain before deadline")
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
}

// Tracker exposes the live-session tracker, mainly for tests and
// operational broadcast hooks.
func (s *Server) Tracker() *sessions.Tracker { return s.tracker }
