package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"aicycles.ai/internal/agent"
	"aicycles.ai/internal/protocol"
	"aicycles.ai/internal/session"
)

//go:embed config.schema.json
var schemaJSON string

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Agent    AgentConfig    `yaml:"agent"`
	Record   RecordConfig   `yaml:"record"`
	History  HistoryConfig  `yaml:"history"`
	Observer ObserverConfig `yaml:"observer"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type AgentConfig struct {
	Name       string  `yaml:"name"`
	Farewell   string  `yaml:"farewell"`
	LeftBelow  float64 `yaml:"left_below"`
	RightAbove float64 `yaml:"right_above"`
}

// RecordConfig enables the wire recorder when Dir is set.
type RecordConfig struct {
	Dir string `yaml:"dir"`
}

// HistoryConfig enables the SQLite match history when DB is set.
type HistoryConfig struct {
	DB string `yaml:"db"`
}

// ObserverConfig enables the read-only HTTP/WebSocket feed when Listen is set.
type ObserverConfig struct {
	Listen string `yaml:"listen"`
}

// ArchiveConfig uploads finished recordings to an S3-compatible bucket
// when Endpoint is set. Credentials come from the environment, never from
// the file.
type ArchiveConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
}

// Environment variables holding the archive credentials.
const (
	EnvArchiveAccessKeyID     = "AICYCLES_ARCHIVE_ACCESS_KEY_ID"
	EnvArchiveSecretAccessKey = "AICYCLES_ARCHIVE_SECRET_ACCESS_KEY"
)

func (c ArchiveConfig) Enabled() bool { return c.Endpoint != "" }

// Credentials reads the archive access key pair from the environment.
func (c ArchiveConfig) Credentials() (accessKeyID, secretAccessKey string) {
	return strings.TrimSpace(os.Getenv(EnvArchiveAccessKeyID)), strings.TrimSpace(os.Getenv(EnvArchiveSecretAccessKey))
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file. An empty path yields the defaults. The
// document is checked against the embedded JSON schema before it is decoded.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := checkSchema(b); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:        "localhost",
			Port:        protocol.DefaultPort,
			DialTimeout: 10 * time.Second,
		},
		Agent: AgentConfig{
			Name:       session.DefaultName,
			Farewell:   session.DefaultFarewell,
			LeftBelow:  agent.DefaultLeftBelow,
			RightAbove: agent.DefaultRightAbove,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	c.Agent.Name = strings.TrimSpace(c.Agent.Name)
	c.Record.Dir = strings.TrimSpace(c.Record.Dir)
	c.History.DB = strings.TrimSpace(c.History.DB)
	c.Observer.Listen = strings.TrimSpace(c.Observer.Listen)
	c.Archive.Endpoint = strings.TrimSpace(c.Archive.Endpoint)
	c.Archive.Bucket = strings.TrimSpace(c.Archive.Bucket)
	c.Archive.Prefix = strings.Trim(strings.TrimSpace(c.Archive.Prefix), "/")
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.DialTimeout < 0 || c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}
	if c.Agent.Name == "" {
		return fmt.Errorf("agent.name must not be empty")
	}
	if strings.ContainsAny(c.Agent.Name, "\r\n") || strings.ContainsAny(c.Agent.Farewell, "\r\n") {
		return fmt.Errorf("agent.name and agent.farewell must be single lines")
	}
	if c.Agent.LeftBelow < 0 || c.Agent.LeftBelow > 1 || c.Agent.RightAbove < 0 || c.Agent.RightAbove > 1 {
		return fmt.Errorf("agent thresholds must be in [0, 1]")
	}
	if c.Agent.LeftBelow > c.Agent.RightAbove {
		return fmt.Errorf("agent.left_below (%g) must not exceed agent.right_above (%g)", c.Agent.LeftBelow, c.Agent.RightAbove)
	}
	if c.Archive.Enabled() {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required with archive.endpoint")
		}
		if c.Record.Dir == "" {
			return fmt.Errorf("archive needs record.dir: there is nothing to upload without a recording")
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// Addr is the server address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(out io.Writer) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("config.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// checkSchema validates a YAML document against the config schema. The
// document goes through JSON so the validator only sees JSON types.
func checkSchema(doc []byte) error {
	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	return s.Validate(v)
}
