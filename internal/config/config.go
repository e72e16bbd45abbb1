// Package config provides the configuration schema, loader, and provider
// registry for the Talkwire call server.
package config

import (
	"fmt"
	"time"

	"github.com/talkwire-ai/talkwire/internal/tools"
)

// LogLevel controls log verbosity for the Talkwire server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values like "30s" or "1m30s" parse.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the root configuration structure for Talkwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Call      CallConfig      `yaml:"call"`
	Billing   BillingConfig   `yaml:"billing"`
	Archive   ArchiveConfig   `yaml:"archive"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds network and logging settings for the Talkwire server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the failover chain for each pipeline stage.
// Entries are tried in priority order; each gets its own circuit breaker.
type ProvidersConfig struct {
	LLM        []ProviderEntry `yaml:"llm"`
	STT        []ProviderEntry `yaml:"stt"`
	TTS        []ProviderEntry `yaml:"tts"`
	Embeddings []ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai",
	// "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// "whisper-1").
	Model string `yaml:"model"`

	// Timeout bounds a single request against this provider. Zero means no
	// per-attempt limit beyond the call context.
	Timeout Duration `yaml:"timeout"`

	// Priority orders the failover chain; lower values are tried first.
	// Entries with equal priority keep their file order.
	Priority int `yaml:"priority"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig tunes the per-provider circuit breakers. Zero values fall
// back to the built-in defaults (5 failures, 30s cooldown, 3 probes).
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long an open breaker rejects traffic before probing.
	Cooldown Duration `yaml:"cooldown"`

	// SuccessThreshold is the number of consecutive probe successes that
	// close a half-open breaker.
	SuccessThreshold int `yaml:"success_threshold"`
}

// CallConfig holds the per-call conversation policy.
type CallConfig struct {
	// SystemPrompt is the agent's standing instruction.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting is spoken when a call connects. Empty skips the greeting.
	Greeting string `yaml:"greeting"`

	// Voice configures the TTS voice profile.
	Voice VoiceConfig `yaml:"voice"`

	// Language hints speech recognition (BCP 47, e.g. "en"). Empty lets the
	// provider detect.
	Language string `yaml:"language"`

	// WindowSize caps the rolling conversation window in messages.
	WindowSize int `yaml:"window_size"`

	// SilenceTimeout ends the call after this much listening silence.
	SilenceTimeout Duration `yaml:"silence_timeout"`

	// UtteranceHold is the pause that ends one caller utterance.
	UtteranceHold Duration `yaml:"utterance_hold"`

	// MinConfidence is the transcription confidence threshold in [0, 1].
	MinConfidence float64 `yaml:"min_confidence"`

	// MaxLowConfidenceRetries bounds repeat requests per call.
	MaxLowConfidenceRetries int `yaml:"max_low_confidence_retries"`

	// MaxConsecutiveDegradations bounds degraded turns before hanging up.
	MaxConsecutiveDegradations int `yaml:"max_consecutive_degradations"`

	// DegradedReply overrides the canned reply spoken when every language
	// model provider is unavailable.
	DegradedReply string `yaml:"degraded_reply"`

	// FallbackClip is a path to raw PCM (48 kHz, 16-bit LE, mono) played
	// when every speech synthesis provider is unavailable. Empty uses a
	// built-in chime so exhaustion is never dead air.
	FallbackClip string `yaml:"fallback_clip"`

	// Temperature and MaxTokens are forwarded to the language model.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// VoiceConfig specifies the TTS voice for the agent.
type VoiceConfig struct {
	// Provider is the TTS provider name (e.g., "elevenlabs", "openai").
	Provider string `yaml:"provider"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// BillingConfig holds the ledger store and call pricing.
type BillingConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the billing ledger.
	// Empty uses an in-memory store (testing only; balances do not survive
	// restarts).
	PostgresDSN string `yaml:"postgres_dsn"`

	// RatePerMinute is the charge per started minute in minor currency units.
	RatePerMinute int64 `yaml:"rate_per_minute"`

	// Currency is the ISO 4217 code reported alongside amounts.
	Currency string `yaml:"currency"`

	// MinBalance is the admission threshold in minor currency units.
	MinBalance int64 `yaml:"min_balance"`
}

// ArchiveConfig holds settings for the call archive and transcript search.
type ArchiveConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector
	// archive store. Empty disables archiving.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension for the transcript index.
	// Must match the model configured in Providers.Embeddings.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// MCPConfig holds the list of Model Context Protocol servers to import
// tools from.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique human-readable identifier for this server (used in logs).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport tools.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for streamable-http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "streamable-http"
	// (e.g., "https://mcp.example.com/mcp"). Ignored for stdio transport.
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the subprocess
	// when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}
