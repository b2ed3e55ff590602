package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/backend/llamacpp"
	"inferd/internal/backend/local"
	"inferd/internal/chattmpl"
	"inferd/internal/config"
	"inferd/internal/energy"
	"inferd/internal/httpapi"
	"inferd/internal/hubconfig"
	"inferd/internal/infer"
	"inferd/internal/validation"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Local LLM inference daemon with energy accounting",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")
			logLevel, _ := cmd.Flags().GetString("log-level")
			return run(cfgPath, addr, logLevel)
		},
	}
	root.Flags().String("config", envOr("INFERD_CONFIG", ""), "Config file (.yaml/.json/.toml)")
	root.Flags().String("addr", envOr("INFERD_ADDR", ""), "HTTP listen address, e.g. :3000 (overrides config)")
	root.Flags().String("log-level", envOr("INFERD_LOG_LEVEL", ""), "Log level: trace|debug|info|warn|error (overrides config)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(cfgPath, addrOverride, levelOverride string) error {
	var cfg config.Config
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if addrOverride != "" {
		cfg.Addr = addrOverride
	}
	if levelOverride != "" {
		cfg.LogLevel = levelOverride
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 128
	}

	logger := newLogger(cfg.LogLevel)

	meters, cleanup, err := buildEnergySource(cfg.Energy, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	backend, tokenizer, closeBackend, err := buildBackend(cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	tmpl, err := loadChatTemplate(cfg.Model, logger)
	if err != nil {
		return err
	}

	validator := validation.New(validation.Config{
		MaxInputTokens:      cfg.Validation.MaxInputTokens,
		MaxTotalTokens:      cfg.Validation.MaxTotalTokens,
		MaxBestOf:           cfg.Validation.MaxBestOf,
		MaxStopSequences:    cfg.Validation.MaxStopSequences,
		MaxTopNTokens:       cfg.Validation.MaxTopNTokens,
		DefaultMaxNewTokens: cfg.Validation.DefaultMaxNewTokens,
	}, tokenizer)

	core := infer.New(backend, validator, meters, infer.Config{
		MaxConcurrentRequests: cfg.MaxConcurrentRequests,
		ChatTemplate:          tmpl,
		Logger:                logger,
	})

	mux := httpapi.NewMux(core, httpapi.Options{
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Version:            version,
		ToolPrompt:         cfg.Model.ToolPrompt,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("backend", backend.Name()).
			Int("max_concurrent_requests", cfg.MaxConcurrentRequests).
			Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
		return err
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err == nil {
			lvl = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// buildEnergySource initializes NVML unless metering is disabled. Without the
// 'nvml' build tag initialization fails and requests would be rejected, so
// the failure is surfaced at startup instead.
func buildEnergySource(cfg config.Energy, logger zerolog.Logger) (energy.Source, func(), error) {
	if cfg.Disabled {
		logger.Warn().Msg("energy metering disabled; all readings will be zero")
		return energy.Disabled{}, func() {}, nil
	}
	nv, err := energy.InitNVML(cfg.GPUIndex)
	if err != nil {
		return nil, nil, fmt.Errorf("energy metering unavailable (set energy.disabled to run without it): %w", err)
	}
	logger.Info().Int("gpu_index", cfg.GPUIndex).Msg("nvml energy metering active")
	return nv, func() { nv.Shutdown() }, nil
}

// backendHandle is what main needs from either backend variant.
type backendHandle interface {
	infer.Backend
	Encode(ctx context.Context, text string, addSpecialTokens bool) (*infer.Encoding, error)
}

func buildBackend(cfg config.Backend, logger zerolog.Logger) (backendHandle, validation.Tokenizer, func(), error) {
	switch cfg.Mode {
	case "local":
		b, err := local.New(local.Config{
			ModelPath:   cfg.ModelPath,
			ContextSize: cfg.ContextSize,
			Threads:     cfg.Threads,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("local backend: %w", err)
		}
		return b, b, func() { b.Close() }, nil
	case "", "server":
		url := cfg.URL
		if url == "" {
			url = "http://127.0.0.1:8080"
		}
		b := llamacpp.New(llamacpp.Config{BaseURL: url, APIKey: cfg.APIKey, Logger: logger})
		return b, b, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown backend mode %q", cfg.Mode)
}

// loadChatTemplate reads the hub tokenizer/processor configs. A missing
// template is not an error; /chat_template then fails per request.
func loadChatTemplate(cfg config.Model, logger zerolog.Logger) (infer.ChatTemplateRenderer, error) {
	tok, err := hubconfig.LoadTokenizerConfig(cfg.TokenizerConfigPath)
	if err != nil {
		return nil, fmt.Errorf("tokenizer config: %w", err)
	}
	proc, err := hubconfig.LoadProcessorConfig(cfg.ProcessorConfigPath)
	if err != nil {
		return nil, fmt.Errorf("processor config: %w", err)
	}
	tmpl, err := chattmpl.FromConfigs(tok, proc)
	if err != nil {
		return nil, fmt.Errorf("chat template: %w", err)
	}
	if tmpl == nil {
		logger.Info().Msg("no chat template configured")
		// A typed nil would dodge the core's nil check.
		return nil, nil
	}
	return tmpl, nil
}
