// Command talkwire is the main entry point for the Talkwire voice agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/talkwire-ai/talkwire/internal/archive"
	"github.com/talkwire-ai/talkwire/internal/billing"
	"github.com/talkwire-ai/talkwire/internal/call"
	"github.com/talkwire-ai/talkwire/internal/config"
	"github.com/talkwire-ai/talkwire/internal/health"
	"github.com/talkwire-ai/talkwire/internal/observe"
	"github.com/talkwire-ai/talkwire/internal/tools"
	"github.com/talkwire-ai/talkwire/pkg/bridge/wsbridge"
	"github.com/talkwire-ai/talkwire/pkg/provider/embeddings"
	ollamaembed "github.com/talkwire-ai/talkwire/pkg/provider/embeddings/ollama"
	oaembed "github.com/talkwire-ai/talkwire/pkg/provider/embeddings/openai"
	"github.com/talkwire-ai/talkwire/pkg/provider/llm"
	"github.com/talkwire-ai/talkwire/pkg/provider/llm/anyllm"
	oallm "github.com/talkwire-ai/talkwire/pkg/provider/llm/openai"
	"github.com/talkwire-ai/talkwire/pkg/provider/stt"
	oastt "github.com/talkwire-ai/talkwire/pkg/provider/stt/openai"
	"github.com/talkwire-ai/talkwire/pkg/provider/stt/whisper"
	"github.com/talkwire-ai/talkwire/pkg/provider/tts"
	"github.com/talkwire-ai/talkwire/pkg/provider/tts/elevenlabs"
	oatts "github.com/talkwire-ai/talkwire/pkg/provider/tts/openai"
	"github.com/talkwire-ai/talkwire/pkg/types"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("talkwire starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "talkwire",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sdCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate provider chains ───────────────────────────────────────────
	providers, err := config.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Billing ledger ────────────────────────────────────────────────────────
	var store billing.Store
	var pool *pgxpool.Pool
	if cfg.Billing.PostgresDSN != "" {
		pool, err = pgxpool.New(ctx, cfg.Billing.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to billing database", "err", err)
			return 1
		}
		defer pool.Close()

		pgStore := billing.NewPostgresStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			slog.Error("billing migration failed", "err", err)
			return 1
		}
		store = pgStore
	} else {
		slog.Warn("no billing database configured — using in-memory ledger; balances are lost on restart")
		store = billing.NewMemStore()
	}
	ledger := billing.NewLedger(store)

	// ── Tool registry ─────────────────────────────────────────────────────────
	toolReg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(toolReg); err != nil {
		slog.Error("failed to register builtin tools", "err", err)
		return 1
	}
	for _, srv := range cfg.MCP.Servers {
		sc := tools.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := toolReg.RegisterServer(ctx, sc); err != nil {
			slog.Warn("mcp server unavailable — its tools are skipped", "server", srv.Name, "err", err)
		} else {
			slog.Info("mcp server connected", "server", srv.Name, "transport", srv.Transport)
		}
	}
	defer func() {
		if err := toolReg.Close(); err != nil {
			slog.Warn("tool registry close error", "err", err)
		}
	}()

	// ── Call archive (optional) ───────────────────────────────────────────────
	var archiver *archive.Archiver
	if cfg.Archive.PostgresDSN != "" {
		if providers.Embeddings == nil {
			slog.Warn("archive database configured but no embeddings provider — transcript archiving disabled")
		} else {
			dims := cfg.Archive.EmbeddingDimensions
			if dims <= 0 {
				dims = providers.Embeddings.Dimensions()
			}
			archiveStore, err := archive.NewPostgresStore(ctx, cfg.Archive.PostgresDSN, dims)
			if err != nil {
				slog.Error("failed to connect to archive database", "err", err)
				return 1
			}
			defer archiveStore.Close()
			archiver = archive.NewArchiver(archiveStore, providers.Embeddings)
		}
	}

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orchestrator := call.New(
		providers.STT, providers.LLM, providers.TTS,
		ledger, toolReg, archiver, metrics,
		call.Config{
			SystemPrompt: cfg.Call.SystemPrompt,
			Greeting:     cfg.Call.Greeting,
			Voice: types.VoiceProfile{
				ID:          cfg.Call.Voice.VoiceID,
				Provider:    cfg.Call.Voice.Provider,
				SpeedFactor: cfg.Call.Voice.SpeedFactor,
			},
			WindowSize:                 cfg.Call.WindowSize,
			SilenceTimeout:             cfg.Call.SilenceTimeout.Duration,
			UtteranceHold:              cfg.Call.UtteranceHold.Duration,
			MaxLowConfidenceRetries:    cfg.Call.MaxLowConfidenceRetries,
			MaxConsecutiveDegradations: cfg.Call.MaxConsecutiveDegradations,
			MinBalance:                 cfg.Billing.MinBalance,
			Rate: billing.RateCard{
				PerMinute: cfg.Billing.RatePerMinute,
				Currency:  cfg.Billing.Currency,
			},
			Language:    cfg.Call.Language,
			Temperature: cfg.Call.Temperature,
			MaxTokens:   cfg.Call.MaxTokens,
		},
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /call", wsbridge.NewServer(orchestrator.HandleCall))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /webhooks/payment", billing.NewWebhookHandler(ledger))
	healthChecks := []health.Checker{}
	if pool != nil {
		healthChecks = append(healthChecks, health.Checker{
			Name:  "billing-db",
			Check: pool.Ping,
		})
	}
	health.New(providers, healthChecks...).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai gets the native SDK client with full tool-call streaming.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout.Duration > 0 {
			opts = append(opts, oallm.WithTimeout(entry.Timeout.Duration))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral and groq all share the same
	// pattern: optional APIKey + optional BaseURL through any-llm-go.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout.Duration > 0 {
			opts = append(opts, oastt.WithTimeout(entry.Timeout.Duration))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Talkwire — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printChain("LLM", cfg.Providers.LLM)
	printChain("STT", cfg.Providers.STT)
	printChain("TTS", cfg.Providers.TTS)
	printChain("Embeddings", cfg.Providers.Embeddings)
	if cfg.Billing.PostgresDSN != "" {
		fmt.Printf("║  Billing         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Billing         : %-19s ║\n", "in-memory")
	}
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive         : %-19s ║\n", "postgres+pgvector")
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printChain(kind string, entries []config.ProviderEntry) {
	value := "(not configured)"
	if len(entries) > 0 {
		value = entries[0].Name
		if entries[0].Model != "" {
			value += " / " + entries[0].Model
		}
		if len(entries) > 1 {
			value = fmt.Sprintf("%s +%d", value, len(entries)-1)
		}
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
