package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dagbolade/mcp-readonly-gateway/internal/allowlist"
	"github.com/dagbolade/mcp-readonly-gateway/internal/audit"
	"github.com/dagbolade/mcp-readonly-gateway/internal/backend"
	"github.com/dagbolade/mcp-readonly-gateway/internal/config"
	"github.com/dagbolade/mcp-readonly-gateway/internal/dispatch"
	"github.com/dagbolade/mcp-readonly-gateway/internal/git"
	"github.com/dagbolade/mcp-readonly-gateway/internal/redaction"
	"github.com/dagbolade/mcp-readonly-gateway/internal/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type flags struct {
	host      string
	port      int
	logLevel  string
	logFormat string
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		setupLogger(getLevel(f.logLevel, "info"), f.logFormat)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if f.host != "" {
		cfg.Host = f.host
	}
	if f.port != 0 {
		cfg.Port = f.port
	}
	setupLogger(getLevel(f.logLevel, cfg.LogLevel), f.logFormat)

	log.Info().Str("mcp", cfg.Kind.String()).Msg("starting MCP read-only gateway")

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}

	log.Info().Msg("gateway stopped successfully")
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("mcp-gateway", pflag.ContinueOnError)
	fs.StringVar(&f.host, "host", "", "listen host (overrides MCP_HOST)")
	fs.IntVar(&f.port, "port", 0, "listen port (overrides MCP_PORT)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	fs.StringVar(&f.logFormat, "log-format", "console", "log format: console or json")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.port < 0 || f.port > 65535 {
		return f, fmt.Errorf("--port %d out of range", f.port)
	}
	if f.logFormat != "console" && f.logFormat != "json" {
		return f, fmt.Errorf("--log-format must be console or json, got %q", f.logFormat)
	}
	return f, nil
}

func run(ctx context.Context, cfg config.Config) error {
	allow, err := allowlist.Load(cfg.AllowlistPath)
	if err != nil {
		return err
	}
	actions, err := allowlist.ParseRoutes(cfg.RoutesJSON)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		log.Warn().Msg("routes document allows no actions, every request will be denied")
	}

	filter, err := redaction.LoadContract(cfg.ContractPath)
	if err != nil {
		return err
	}
	log.Info().Int("patterns", filter.Len()).Str("contract", cfg.ContractPath).Msg("redaction contract loaded")

	watcher := initWatcher(cfg)
	if watcher != nil {
		defer watcher.Close()
	}

	d, err := initDispatcher(cfg, allow, actions, filter)
	if err != nil {
		return err
	}

	recorder, err := initRecorder(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit recorder")
		}
	}()

	srv := server.New(server.Config{
		Addr:            cfg.Addr(),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Headers:         cfg.Headers,
	}, d, recorder)

	return runServer(ctx, srv)
}

func initDispatcher(cfg config.Config, allow *allowlist.Allowlist, actions allowlist.ActionSet, filter *redaction.Filter) (*dispatch.Dispatcher, error) {
	forwarder := backend.NewForwarder(cfg.UpstreamTimeout)

	opts := dispatch.Options{
		Kind:       cfg.Kind,
		Root:       cfg.RepoRoot,
		Allowlist:  allow,
		Actions:    actions,
		Filter:     filter,
		Fixtures:   backend.NewFixtures(cfg.FixturesDir),
		TestMode:   cfg.TestMode,
		ObsLive:    cfg.ObsLive,
		QdrantLive: cfg.QdrantLive,
	}

	switch cfg.Kind {
	case dispatch.KindRepo:
		// One extra byte lets the handler detect truncation.
		opts.Git = git.NewCLI(cfg.RepoRoot, cfg.GitTimeout, redaction.MaxContentBytes+1)
	case dispatch.KindObservability:
		if cfg.ObsLive && (allow.Prometheus.BaseURL == "" || allow.Loki.BaseURL == "") {
			log.Warn().Msg("live observability enabled without prometheus and loki base_url")
		}
		opts.Prometheus = backend.NewPrometheus(forwarder, allow.Prometheus.BaseURL)
		opts.Loki = backend.NewLoki(forwarder, allow.Loki.BaseURL)
	case dispatch.KindQdrant:
		if cfg.QdrantLive && allow.QdrantURL() == "" {
			log.Warn().Msg("live qdrant enabled without base_url")
		}
		opts.Qdrant = backend.NewQdrant(forwarder, allow.QdrantURL())
	}

	log.Info().
		Str("mcp", cfg.Kind.String()).
		Strs("actions", actions.Names()).
		Bool("test_mode", cfg.TestMode).
		Bool("obs_live", cfg.ObsLive).
		Bool("qdrant_live", cfg.QdrantLive).
		Msg("initializing dispatcher")

	return dispatch.New(opts)
}

func initRecorder(cfg config.Config) (*audit.Recorder, error) {
	digest, err := audit.NewDigestSealer(cfg.ManifestAlgo)
	if err != nil {
		return nil, err
	}
	sealer := audit.NewManifestSealer(cfg.ManifestScript, digest)

	var index audit.Index
	if cfg.AuditDB != "" {
		log.Info().Str("path", cfg.AuditDB).Msg("initializing audit index")
		store, err := audit.NewSQLiteIndex(cfg.AuditDB)
		if err != nil {
			return nil, err
		}
		index = store
	}

	log.Info().Str("dir", cfg.AuditDir).Str("algo", cfg.ManifestAlgo).Msg("audit recorder initialized")
	return audit.NewRecorder(cfg.AuditDir, sealer, index), nil
}

// initWatcher warns when configuration loaded at startup changes on disk.
// A watcher failure is not fatal.
func initWatcher(cfg config.Config) *allowlist.FileWatcher {
	w, err := allowlist.NewFileWatcher([]string{cfg.AllowlistPath, cfg.ContractPath}, func(path string) {
		log.Warn().Str("path", path).Msg("configuration changed on disk, restart required to apply")
	})
	if err != nil {
		log.Warn().Err(err).Msg("configuration watcher disabled")
		return nil
	}
	return w
}

func setupLogger(level zerolog.Level, format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(level)
}

func getLevel(flagValue, envValue string) zerolog.Level {
	value := envValue
	if flagValue != "" {
		value = flagValue
	}
	level, err := zerolog.ParseLevel(value)
	if err != nil || value == "" {
		return zerolog.InfoLevel
	}
	return level
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
