package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bot.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "localhost:1982" {
		t.Fatalf("addr: got %q want localhost:1982", cfg.Addr())
	}
	if cfg.Agent.Name != "joe" || cfg.Agent.Farewell != "So long, suckers!" {
		t.Fatalf("agent defaults: %+v", cfg.Agent)
	}
	if cfg.Agent.LeftBelow != 0.3 || cfg.Agent.RightAbove != 0.7 {
		t.Fatalf("thresholds: %+v", cfg.Agent)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	p := writeConfig(t, `
server:
  host: " arena.local "
  port: 4000
  read_timeout: 1m30s
  dial_timeout: 0s
agent:
  name: clu
  left_below: 0.1
log:
  level: DEBUG
  format: json
record:
  dir: /tmp/rec
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "arena.local:4000" {
		t.Fatalf("addr: got %q", cfg.Addr())
	}
	if cfg.Server.ReadTimeout != 90*time.Second || cfg.Server.DialTimeout != 0 {
		t.Fatalf("timeouts: %+v", cfg.Server)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Agent.Name != "clu" || cfg.Agent.LeftBelow != 0.1 || cfg.Agent.RightAbove != 0.7 || cfg.Agent.Farewell != "So long, suckers!" {
		t.Fatalf("agent: %+v", cfg.Agent)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || cfg.Record.Dir != "/tmp/rec" {
		t.Fatalf("log/record: %+v %+v", cfg.Log, cfg.Record)
	}
}

func TestLoad_SchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "server:\n  hots: x\n",
		"port range":      "server:\n  port: 70000\n",
		"port type":       "server:\n  port: \"1982\"\n",
		"bad duration":    "server:\n  read_timeout: soon\n",
		"bare number":     "server:\n  read_timeout: 5\n",
		"threshold range": "agent:\n  right_above: 1.5\n",
		"log format":      "log:\n  format: xml\n",
		"top level":       "players: 4\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestLoad_EmptyFileIsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "# nothing here\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 1982 {
		t.Fatalf("port: got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.LeftBelow, cfg.Agent.RightAbove = 0.8, 0.2
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "left_below") {
		t.Fatalf("crossed thresholds: got %v", err)
	}

	cfg = Defaults()
	cfg.Agent.Farewell = "bye\nnow"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("multi-line farewell must be rejected")
	}

	cfg = Defaults()
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown log level must be rejected")
	}
}

func TestArchiveConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
record:
  dir: rec
archive:
  endpoint: " https://r2.example.com "
  bucket: matches
  prefix: /bots/joe/
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Archive.Enabled() || cfg.Archive.Endpoint != "https://r2.example.com" || cfg.Archive.Prefix != "bots/joe" {
		t.Fatalf("archive: %+v", cfg.Archive)
	}

	cfg.Record.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("archive without record.dir must be rejected")
	}
	cfg = Defaults()
	cfg.Record.Dir = "rec"
	cfg.Archive.Endpoint = "https://r2.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("archive without bucket must be rejected")
	}

	t.Setenv(EnvArchiveAccessKeyID, " key ")
	t.Setenv(EnvArchiveSecretAccessKey, "secret")
	if id, secret := cfg.Archive.Credentials(); id != "key" || secret != "secret" {
		t.Fatalf("credentials: %q %q", id, secret)
	}
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("hidden")
	l.WithField("component", "test").Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("output: %s", out)
	}
	if l.GetLevel() != logrus.WarnLevel {
		t.Fatalf("level: got %s", l.GetLevel())
	}
}
