package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	for _, k := range []string{"GATEWAY_ADDR", "WHISPER_MODE", "RAG_TOP_K", "RAG_GROUP", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	yml := `
server:
  addr: ":9100"
  ping_interval: 0
transcription:
  mode: openai
  url: https://stt.example.com/v1/audio/transcriptions
  raw_sample_rate: 16000
rag:
  top_k: 5
capture:
  enabled: true
  dir: /tmp/caps
  retention: 2h
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.WSPath)
	assert.Equal(t, time.Duration(0), cfg.Server.GetPingInterval())
	assert.Equal(t, ModeOpenAI, cfg.Transcription.Mode)
	assert.Equal(t, 16000, cfg.Transcription.RawSampleRate)
	assert.Equal(t, 3, cfg.Transcription.Attempts)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, "B", cfg.RAG.Group)
	d, err := cfg.Capture.RetentionDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envFrom(map[string]string{
		"GATEWAY_ADDR":       ":7000",
		"LOG_LEVEL":          "debug",
		"WHISPER_MODE":       "openai",
		"OPENAI_API_KEY":     "sk-test",
		"OPENAI_MODEL":       "gpt-x",
		"RAG_TOP_K":          "7",
		"RAG_GROUP":          "A",
		"SAVE_AUDIO_ENABLED": "true",
		"MCP_ENABLED":        "1",
		"RAG_DATABASE_URL":   "",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ModeOpenAI, cfg.Transcription.Mode)
	assert.Equal(t, "sk-test", cfg.Transcription.APIKey)
	assert.Equal(t, "gpt-x", cfg.LLM.Model)
	assert.Equal(t, 7, cfg.RAG.TopK)
	assert.Equal(t, "A", cfg.RAG.Group)
	assert.True(t, cfg.Capture.Enabled)
	assert.True(t, cfg.Admin.MCPEnabled)
	assert.Empty(t, cfg.RAG.DatabaseURL)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvGemini(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envFrom(map[string]string{
		"LLM_PROVIDER":   "gemini",
		"OPENAI_API_KEY": "sk-openai",
		"GEMINI_API_KEY": "g-key",
		"GEMINI_MODEL":   "gemini-2.5-flash",
	})))
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envFrom(map[string]string{
		"RAG_TOP_K":          "three",
		"SAVE_AUDIO_ENABLED": "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAG_TOP_K")
	assert.Contains(t, err.Error(), "SAVE_AUDIO_ENABLED")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "addr cannot be empty"},
		{"relative ws path", func(c *Config) { c.Server.WSPath = "ws" }, "ws_path must start with '/'"},
		{"tiny message limit", func(c *Config) { c.Server.MaxMessageBytes = 10 }, "max_message_bytes"},
		{"unknown whisper mode", func(c *Config) { c.Transcription.Mode = "grpc" }, "mode must be 'raw' or 'openai'"},
		{"zero attempts", func(c *Config) { c.Transcription.Attempts = 0 }, "attempts must be at least 1"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bard" }, "provider must be"},
		{"hot temperature", func(c *Config) { c.LLM.Temperature = 3 }, "temperature"},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }, "top_k"},
		{"bad retention", func(c *Config) {
			c.Capture.Enabled = true
			c.Capture.Retention = "forever"
		}, "retention must be a duration"},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }, "level must be one of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}
