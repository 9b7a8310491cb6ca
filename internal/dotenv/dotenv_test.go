package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := Load(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("Load missing file error: %v", err)
	}
}

func TestLoad_AppliesEntriesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# comment\n" +
		"SG_ADDR=:9090\n" +
		"SG_DEFAULT_VOICE=\"calm voice\"\n" +
		"export SG_REDIS_URL=redis://cache:6379/1\n" +
		"SG_SESSION_TTL=2h\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("SG_SESSION_TTL", "30m")

	if err := Load(envPath); err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if got := os.Getenv("SG_ADDR"); got != ":9090" {
		t.Fatalf("SG_ADDR=%q", got)
	}
	if got := os.Getenv("SG_DEFAULT_VOICE"); got != "calm voice" {
		t.Fatalf("SG_DEFAULT_VOICE=%q, want quotes stripped", got)
	}
	if got := os.Getenv("SG_REDIS_URL"); got != "redis://cache:6379/1" {
		t.Fatalf("SG_REDIS_URL=%q, want export prefix handled", got)
	}
	if got := os.Getenv("SG_SESSION_TTL"); got != "30m" {
		t.Fatalf("SG_SESSION_TTL=%q, want existing value preserved", got)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw string
		key string
		val string
		ok  bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  KEY = spaced  ", "KEY", "spaced", true},
		{"KEY='single'", "KEY", "single", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"=novalue", "", "", false},
		{"noequals", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.raw)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.raw, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
