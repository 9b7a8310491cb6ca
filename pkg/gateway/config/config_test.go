package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"SG_ADDR",
	"SG_REDIS_URL",
	"SG_SESSION_TTL",
	"SG_STT_URL",
	"SG_LLM_URL",
	"SG_TTS_URL",
	"SG_STT_TIMEOUT",
	"SG_LLM_TIMEOUT",
	"SG_TTS_TIMEOUT",
	"SG_DEFAULT_VOICE",
	"SG_CONTEXT_MAX_MESSAGES",
	"SG_MAX_TOOL_ROUNDS",
	"SG_HEARTBEAT_INTERVAL",
	"SG_PROBE_TIMEOUT",
	"SG_RATE_LIMIT_MAX",
	"SG_RATE_LIMIT_WINDOW",
	"SG_RATE_LIMIT_SWEEP_INTERVAL",
	"SG_RATE_LIMIT_MAX_ENTRIES",
	"SG_WS_MAX_MESSAGE_BYTES",
	"SG_WS_HANDSHAKE_TIMEOUT",
	"SG_WS_WRITE_TIMEOUT",
	"SG_CHUNK_LOG_INTERVAL",
	"SG_CORS_ORIGINS",
	"SG_READ_HEADER_TIMEOUT",
	"SG_SHUTDOWN_GRACE_PERIOD",
	"SG_CONNECT_TIMEOUT",
	"SG_RESPONSE_HEADER_TIMEOUT",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("SessionTTL = %v, want 1h", cfg.SessionTTL)
	}
	if cfg.STTURL != "http://localhost:8001" {
		t.Fatalf("STTURL = %q", cfg.STTURL)
	}
	if cfg.LLMURL != "http://localhost:8002" {
		t.Fatalf("LLMURL = %q", cfg.LLMURL)
	}
	if cfg.TTSURL != "http://localhost:8003" {
		t.Fatalf("TTSURL = %q", cfg.TTSURL)
	}
	if cfg.STTTimeout != 60*time.Second {
		t.Fatalf("STTTimeout = %v, want 60s", cfg.STTTimeout)
	}
	if cfg.LLMTimeout != 60*time.Second {
		t.Fatalf("LLMTimeout = %v, want 60s", cfg.LLMTimeout)
	}
	if cfg.TTSTimeout != 30*time.Second {
		t.Fatalf("TTSTimeout = %v, want 30s", cfg.TTSTimeout)
	}
	if cfg.DefaultVoice != "default" {
		t.Fatalf("DefaultVoice = %q, want default", cfg.DefaultVoice)
	}
	if cfg.ContextMaxMessages != 10 {
		t.Fatalf("ContextMaxMessages = %d, want 10", cfg.ContextMaxMessages)
	}
	if cfg.MaxToolRounds != 3 {
		t.Fatalf("MaxToolRounds = %d, want 3", cfg.MaxToolRounds)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Fatalf("ProbeTimeout = %v, want 5s", cfg.ProbeTimeout)
	}
	if cfg.RateLimitMax != 100 {
		t.Fatalf("RateLimitMax = %d, want 100", cfg.RateLimitMax)
	}
	if cfg.RateLimitWindow != 60*time.Second {
		t.Fatalf("RateLimitWindow = %v, want 60s", cfg.RateLimitWindow)
	}
	if cfg.WSMaxMessageBytes != 1<<20 {
		t.Fatalf("WSMaxMessageBytes = %d, want %d", cfg.WSMaxMessageBytes, int64(1<<20))
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("WSWriteTimeout = %v, want 5s", cfg.WSWriteTimeout)
	}
	if cfg.ChunkLogInterval != 10 {
		t.Fatalf("ChunkLogInterval = %d, want 10", cfg.ChunkLogInterval)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("SG_ADDR", ":9090")
	t.Setenv("SG_REDIS_URL", "redis://redis.internal:6380/2")
	t.Setenv("SG_SESSION_TTL", "30m")
	t.Setenv("SG_STT_URL", "http://stt.internal:8001")
	t.Setenv("SG_RATE_LIMIT_MAX", "5")
	t.Setenv("SG_RATE_LIMIT_WINDOW", "10s")
	t.Setenv("SG_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.RedisURL != "redis://redis.internal:6380/2" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("SessionTTL = %v, want 30m", cfg.SessionTTL)
	}
	if cfg.STTURL != "http://stt.internal:8001" {
		t.Fatalf("STTURL = %q", cfg.STTURL)
	}
	if cfg.RateLimitMax != 5 {
		t.Fatalf("RateLimitMax = %d, want 5", cfg.RateLimitMax)
	}
	if cfg.RateLimitWindow != 10*time.Second {
		t.Fatalf("RateLimitWindow = %v, want 10s", cfg.RateLimitWindow)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://app.example.com"]; !ok {
		t.Fatal("missing trimmed CORS origin")
	}
}

func TestLoadFromEnv_InvalidValuesFallBackToDefaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("SG_SESSION_TTL", "not-a-duration")
	t.Setenv("SG_RATE_LIMIT_MAX", "abc")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.SessionTTL != time.Hour {
		t.Fatalf("SessionTTL = %v, want default 1h", cfg.SessionTTL)
	}
	if cfg.RateLimitMax != 100 {
		t.Fatalf("RateLimitMax = %d, want default 100", cfg.RateLimitMax)
	}
}

func TestLoadFromEnv_RejectsNonHTTPBackendURL(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("SG_LLM_URL", "ftp://llm.internal")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("LoadFromEnv() error = nil, want URL scheme error")
	}
	if !strings.Contains(err.Error(), "SG_LLM_URL") {
		t.Fatalf("error = %v, want mention of SG_LLM_URL", err)
	}
}

func TestLoadFromEnv_RejectsNonPositiveDurations(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("SG_HEARTBEAT_INTERVAL", "-5s")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("LoadFromEnv() error = nil, want validation error")
	}
	if !strings.Contains(err.Error(), "SG_HEARTBEAT_INTERVAL") {
		t.Fatalf("error = %v, want mention of SG_HEARTBEAT_INTERVAL", err)
	}
}
