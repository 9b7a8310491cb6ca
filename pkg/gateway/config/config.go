// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Redis connection string for the session store, go-redis URL form
	// (redis://host:port/db).
	RedisURL   string
	SessionTTL time.Duration

	// Speech service endpoints, one instance per logical name.
	STTURL string
	LLMURL string
	TTSURL string

	// Per-call deadlines for the backend clients.
	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	DefaultVoice string

	// Model context assembly.
	ContextMaxMessages int
	MaxToolRounds      int

	// Registry health probing.
	HeartbeatInterval time.Duration
	ProbeTimeout      time.Duration

	// Per-client sliding window on plain HTTP routes.
	RateLimitMax      int
	RateLimitWindow   time.Duration
	RateLimitSweep    time.Duration
	RateLimitEntries  int

	// Live WebSocket mode (/v1/live).
	WSMaxMessageBytes  int64
	WSHandshakeTimeout time.Duration
	WSWriteTimeout     time.Duration
	ChunkLogInterval   int

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("SG_ADDR", ":8080"),
		RedisURL:                      envOr("SG_REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:                    envDurationOr("SG_SESSION_TTL", time.Hour),
		STTURL:                        envOr("SG_STT_URL", "http://localhost:8001"),
		LLMURL:                        envOr("SG_LLM_URL", "http://localhost:8002"),
		TTSURL:                        envOr("SG_TTS_URL", "http://localhost:8003"),
		STTTimeout:                    envDurationOr("SG_STT_TIMEOUT", 60*time.Second),
		LLMTimeout:                    envDurationOr("SG_LLM_TIMEOUT", 60*time.Second),
		TTSTimeout:                    envDurationOr("SG_TTS_TIMEOUT", 30*time.Second),
		DefaultVoice:                  envOr("SG_DEFAULT_VOICE", "default"),
		ContextMaxMessages:            envIntOr("SG_CONTEXT_MAX_MESSAGES", 10),
		MaxToolRounds:                 envIntOr("SG_MAX_TOOL_ROUNDS", 3),
		HeartbeatInterval:             envDurationOr("SG_HEARTBEAT_INTERVAL", 30*time.Second),
		ProbeTimeout:                  envDurationOr("SG_PROBE_TIMEOUT", 5*time.Second),
		RateLimitMax:                  envIntOr("SG_RATE_LIMIT_MAX", 100),
		RateLimitWindow:               envDurationOr("SG_RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitSweep:                envDurationOr("SG_RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),
		RateLimitEntries:              envIntOr("SG_RATE_LIMIT_MAX_ENTRIES", 10_000),
		WSMaxMessageBytes:             envInt64Or("SG_WS_MAX_MESSAGE_BYTES", 1<<20), // 1 MiB
		WSHandshakeTimeout:            envDurationOr("SG_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		WSWriteTimeout:                envDurationOr("SG_WS_WRITE_TIMEOUT", 5*time.Second),
		ChunkLogInterval:              envIntOr("SG_CHUNK_LOG_INTERVAL", 10),
		CORSAllowedOrigins:            make(map[string]struct{}),
		ReadHeaderTimeout:             envDurationOr("SG_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:           envDurationOr("SG_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("SG_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("SG_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("SG_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.RedisURL) == "" {
		return Config{}, fmt.Errorf("SG_REDIS_URL must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("SG_SESSION_TTL must be > 0")
	}
	for _, ep := range []struct {
		key string
		val string
	}{
		{"SG_STT_URL", cfg.STTURL},
		{"SG_LLM_URL", cfg.LLMURL},
		{"SG_TTS_URL", cfg.TTSURL},
	} {
		if strings.TrimSpace(ep.val) == "" {
			return Config{}, fmt.Errorf("%s must not be empty", ep.key)
		}
		if !strings.HasPrefix(ep.val, "http://") && !strings.HasPrefix(ep.val, "https://") {
			return Config{}, fmt.Errorf("%s must be an http(s) URL", ep.key)
		}
	}
	if cfg.STTTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_STT_TIMEOUT must be > 0")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_LLM_TIMEOUT must be > 0")
	}
	if cfg.TTSTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_TTS_TIMEOUT must be > 0")
	}
	if cfg.ContextMaxMessages <= 0 {
		return Config{}, fmt.Errorf("SG_CONTEXT_MAX_MESSAGES must be > 0")
	}
	if cfg.MaxToolRounds <= 0 {
		return Config{}, fmt.Errorf("SG_MAX_TOOL_ROUNDS must be > 0")
	}
	if cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("SG_HEARTBEAT_INTERVAL must be > 0")
	}
	if cfg.ProbeTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_PROBE_TIMEOUT must be > 0")
	}
	if cfg.RateLimitMax <= 0 {
		return Config{}, fmt.Errorf("SG_RATE_LIMIT_MAX must be > 0")
	}
	if cfg.RateLimitWindow <= 0 {
		return Config{}, fmt.Errorf("SG_RATE_LIMIT_WINDOW must be > 0")
	}
	if cfg.RateLimitSweep <= 0 {
		return Config{}, fmt.Errorf("SG_RATE_LIMIT_SWEEP_INTERVAL must be > 0")
	}
	if cfg.RateLimitEntries <= 0 {
		return Config{}, fmt.Errorf("SG_RATE_LIMIT_MAX_ENTRIES must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("SG_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ChunkLogInterval <= 0 {
		return Config{}, fmt.Errorf("SG_CHUNK_LOG_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SG_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SG_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
