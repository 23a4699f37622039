package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	LLM           LLMConfig           `yaml:"llm"`
	RAG           RAGConfig           `yaml:"rag"`
	Capture       CaptureConfig       `yaml:"capture"`
	Admin         AdminConfig         `yaml:"admin"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig controls the HTTP listener and websocket sessions.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	WSPath          string `yaml:"ws_path"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
	WriteTimeout    int    `yaml:"write_timeout"` // seconds
	PingInterval    int    `yaml:"ping_interval"` // seconds
}

const (
	ModeRaw    = "raw"
	ModeOpenAI = "openai"
)

// TranscriptionConfig points at the speech-to-text service.
type TranscriptionConfig struct {
	URL           string `yaml:"url"`
	Mode          string `yaml:"mode"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	Attempts      int    `yaml:"attempts"`
	RawSampleRate int    `yaml:"raw_sample_rate"`
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// LLMConfig selects and configures the chat model.
type LLMConfig struct {
	Provider      string  `yaml:"provider"`
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	FallbackModel string  `yaml:"fallback_model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	Timeout       int     `yaml:"timeout"` // seconds
}

type RAGConfig struct {
	DatabaseURL    string `yaml:"database_url"`
	TopK           int    `yaml:"top_k"`
	Group          string `yaml:"group"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// CaptureConfig enables on-disk capture of received clips.
type CaptureConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	Retention string `yaml:"retention"`
	MaxFiles  int    `yaml:"max_files"`
}

type AdminConfig struct {
	MCPEnabled bool   `yaml:"mcp_enabled"`
	MCPPath    string `yaml:"mcp_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			WSPath:          "/ws",
			MaxMessageBytes: 16 << 20,
			WriteTimeout:    10,
			PingInterval:    25,
		},
		Transcription: TranscriptionConfig{
			URL:      "http://localhost:9000/asr",
			Mode:     ModeRaw,
			Model:    "whisper-1",
			Language: "en",
			Timeout:  30,
			Attempts: 3,
		},
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   256,
			Temperature: 0.2,
			Timeout:     30,
		},
		RAG: RAGConfig{
			TopK:  3,
			Group: "B",
		},
		Capture: CaptureConfig{
			Dir:       "./captures",
			Retention: "24h",
			MaxFiles:  500,
		},
		Admin: AdminConfig{
			MCPPath: "/mcp/ws",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the optional YAML file at path over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("GATEWAY_ADDR", &c.Server.Addr)
	str("LOG_LEVEL", &c.Logging.Level)
	str("WHISPER_URL", &c.Transcription.URL)
	str("WHISPER_MODE", &c.Transcription.Mode)
	str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("OPENAI_API_KEY", &c.LLM.APIKey)
	str("OPENAI_MODEL", &c.LLM.Model)
	str("OPENAI_FALLBACK_MODEL", &c.LLM.FallbackModel)
	str("LLM_PROVIDER", &c.LLM.Provider)
	if c.LLM.Provider == ProviderGemini {
		str("GEMINI_API_KEY", &c.LLM.APIKey)
		str("GEMINI_MODEL", &c.LLM.Model)
	}
	str("RAG_DATABASE_URL", &c.RAG.DatabaseURL)
	integer("RAG_TOP_K", &c.RAG.TopK)
	str("RAG_GROUP", &c.RAG.Group)
	boolean("SAVE_AUDIO_ENABLED", &c.Capture.Enabled)
	str("SAVE_AUDIO_DIR", &c.Capture.Dir)
	boolean("MCP_ENABLED", &c.Admin.MCPEnabled)

	if c.Transcription.APIKey == "" && c.Transcription.Mode == ModeOpenAI {
		c.Transcription.APIKey = c.LLM.APIKey
	}
	return errors.Join(errs...)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.RAG.Validate(); err != nil {
		return fmt.Errorf("rag config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		return fmt.Errorf("ws_path must start with '/', got '%s'", s.WSPath)
	}
	if s.MaxMessageBytes < 1024 {
		return fmt.Errorf("max_message_bytes must be at least 1024, got %d", s.MaxMessageBytes)
	}
	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}
	if s.PingInterval < 0 {
		return fmt.Errorf("ping_interval cannot be negative, got %d", s.PingInterval)
	}
	return nil
}

func (t *TranscriptionConfig) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if t.Mode != ModeRaw && t.Mode != ModeOpenAI {
		return fmt.Errorf("mode must be 'raw' or 'openai', got '%s'", t.Mode)
	}
	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}
	if t.Attempts < 1 {
		return fmt.Errorf("attempts must be at least 1, got %d", t.Attempts)
	}
	if t.RawSampleRate < 0 {
		return fmt.Errorf("raw_sample_rate cannot be negative, got %d", t.RawSampleRate)
	}
	return nil
}

func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderOpenAI:
		if l.BaseURL == "" {
			return fmt.Errorf("base_url cannot be empty for provider openai")
		}
	case ProviderGemini:
	default:
		return fmt.Errorf("provider must be 'openai' or 'gemini', got '%s'", l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if l.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", l.MaxTokens)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", l.Temperature)
	}
	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}
	return nil
}

func (r *RAGConfig) Validate() error {
	if r.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", r.TopK)
	}
	if r.Group == "" {
		return fmt.Errorf("group cannot be empty")
	}
	return nil
}

func (c *CaptureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Dir == "" {
		return fmt.Errorf("dir cannot be empty when capture is enabled")
	}
	if _, err := c.RetentionDuration(); err != nil {
		return err
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("max_files cannot be negative, got %d", c.MaxFiles)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	return nil
}

// RetentionDuration parses Retention; empty means keep forever.
func (c *CaptureConfig) RetentionDuration() (time.Duration, error) {
	if c.Retention == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Retention)
	if err != nil {
		return 0, fmt.Errorf("retention must be a duration like '24h', got '%s'", c.Retention)
	}
	return d, nil
}

func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (s *ServerConfig) GetPingInterval() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

func (t *TranscriptionConfig) GetTimeout() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

func (l *LLMConfig) GetTimeout() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}
