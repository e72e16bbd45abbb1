package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":        {"openai", "whisper-native"},
	"tts":        {"openai", "elevenlabs"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider chains
	errs = append(errs, validateChain("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateChain("stt", cfg.Providers.STT)...)
	errs = append(errs, validateChain("tts", cfg.Providers.TTS)...)
	errs = append(errs, validateChain("embeddings", cfg.Providers.Embeddings)...)

	if len(cfg.Providers.LLM) == 0 {
		errs = append(errs, errors.New("providers.llm must list at least one provider"))
	}
	if len(cfg.Providers.STT) == 0 {
		errs = append(errs, errors.New("providers.stt must list at least one provider"))
	}
	if len(cfg.Providers.TTS) == 0 {
		errs = append(errs, errors.New("providers.tts must list at least one provider"))
	}

	// Breaker
	if cfg.Breaker.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("breaker.failure_threshold %d must not be negative", cfg.Breaker.FailureThreshold))
	}
	if cfg.Breaker.SuccessThreshold < 0 {
		errs = append(errs, fmt.Errorf("breaker.success_threshold %d must not be negative", cfg.Breaker.SuccessThreshold))
	}

	// Call policy
	if cfg.Call.MinConfidence < 0 || cfg.Call.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("call.min_confidence %.2f is out of range [0, 1]", cfg.Call.MinConfidence))
	}
	if cfg.Call.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("call.window_size %d must not be negative", cfg.Call.WindowSize))
	}
	if cfg.Call.Voice.SpeedFactor != 0 {
		if cfg.Call.Voice.SpeedFactor < 0.5 || cfg.Call.Voice.SpeedFactor > 2.0 {
			errs = append(errs, fmt.Errorf("call.voice.speed_factor %.2f is out of range [0.5, 2.0]", cfg.Call.Voice.SpeedFactor))
		}
	}
	if cfg.Call.Voice.Provider != "" && len(cfg.Providers.TTS) > 0 {
		match := slices.ContainsFunc(cfg.Providers.TTS, func(e ProviderEntry) bool {
			return e.Name == cfg.Call.Voice.Provider
		})
		if !match {
			slog.Warn("voice provider is not in the TTS chain",
				"voice_provider", cfg.Call.Voice.Provider,
			)
		}
	}

	// Billing
	if cfg.Billing.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("billing.rate_per_minute %d must not be negative", cfg.Billing.RatePerMinute))
	}
	if cfg.Billing.MinBalance < 0 {
		errs = append(errs, fmt.Errorf("billing.min_balance %d must not be negative", cfg.Billing.MinBalance))
	}
	if cfg.Billing.PostgresDSN == "" {
		slog.Warn("billing.postgres_dsn is empty; using the in-memory ledger, balances will not survive restarts")
	}

	// Archive ↔ embeddings dimensions
	if cfg.Archive.PostgresDSN != "" && cfg.Archive.EmbeddingDimensions <= 0 {
		slog.Warn("archive.postgres_dsn is configured but archive.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Archive.PostgresDSN != "" && len(cfg.Providers.Embeddings) == 0 {
		slog.Warn("archive is configured without an embeddings provider; transcripts will be stored without a search index")
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == "stdio" && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == "streamable-http" && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateChain checks one provider chain for empty and duplicate names and
// warns about unrecognised ones.
func validateChain(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
