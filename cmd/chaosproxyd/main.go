// Command chaosproxyd is the chaos-engineering sidecar's process
// entrypoint: it wires the plan store, classifier, strategy registry, tape
// recorder/player, security and observability collaborators into a
// proxy.Pipeline and serves it over HTTP behind a thin "run"/"validate"
// cobra shell (the full CLI product -- templates, SLA reports -- is out of
// scope per spec.md §1).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentchaos/chaosproxy/internal/audit"
	"github.com/agentchaos/chaosproxy/internal/config"
	"github.com/agentchaos/chaosproxy/internal/dashboard"
	"github.com/agentchaos/chaosproxy/internal/logs"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/proxy"
	"github.com/agentchaos/chaosproxy/internal/security"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"github.com/agentchaos/chaosproxy/internal/tape"
	"github.com/fernet/fernet-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	planPath string
	logLevel string

	version = "v0.1.0" // injected by -ldflags during release builds
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "chaosproxyd",
		Short:   "Chaos-engineering MITM sidecar for AI agent traffic",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&planPath, "plan", "p", "", "Chaos plan file path (overrides CHAOS_PLAN_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the chaos proxy daemon",
		RunE:  runDaemon,
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [plan-file]",
		Short: "Validate a chaos plan file without starting the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
}

func runValidate(_ *cobra.Command, args []string) error {
	path := planPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		path = "plan.yaml"
	}
	p, err := plan.Load(path)
	if err != nil {
		return fmt.Errorf("plan invalid: %w", err)
	}
	fmt.Printf("plan OK: version=%s revision=%d targets=%d scenarios=%d\n",
		p.Version, p.Revision, len(p.Targets), len(p.Scenarios))
	return nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if planPath != "" {
		cfg.PlanPath = planPath
	}
	zapLogger, err := logs.SetupLogger(chooseLevel(logLevel), cfg.LogFile)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer zapLogger.Sync() //nolint:errcheck
	logger := zapLogger.Sugar()

	mode := proxy.Mode(cfg.Mode)
	switch mode {
	case proxy.ModeLive, proxy.ModeRecord, proxy.ModePlayback:
	default:
		return fmt.Errorf("invalid CHAOS_MODE %q: must be LIVE, RECORD, or PLAYBACK", cfg.Mode)
	}

	strict := plan.StrictFlags{
		ClassifierStrict: cfg.ClassifierStrict,
		ReplayStrict:     cfg.ReplayStrict,
		JWTStrict:        cfg.JWTStrict,
		TapeKeyRequired:  cfg.TapeKeyRequired,
	}

	store, err := plan.NewStore(cfg.PlanPath)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	stopWatch, err := store.Watch(logger)
	if err != nil {
		logger.Warnw("plan file watch unavailable, falling back to per-request hash check", "error", err)
	} else {
		defer stopWatch()
	}

	auth := security.NewAuth(logger, security.AuthConfig{
		AdminToken:  cfg.AdminToken,
		ReadKeys:    cfg.ReadKeys,
		AdminKeys:   cfg.AdminKeys,
		JWTSecret:   cfg.JWTSecret,
		JWTIssuer:   cfg.JWTIssuer,
		JWTAudience: cfg.JWTAudience,
		JWTStrict:   cfg.JWTStrict,
	})
	redactor := security.NewRedactor(logger, cfg.PIIRedactionEnabled)

	obs, err := observability.NewManager(logger, observability.Config{
		Health:  observability.HealthConfig{Enabled: true, Timeout: 5 * time.Second},
		Metrics: observability.MetricsConfig{Enabled: true},
		Tracing: observability.TracingConfig{
			Enabled:        cfg.OTLPEndpoint != "",
			ServiceName:    "chaosproxyd",
			ServiceVersion: version,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     clampSampleRate(cfg.OTELSampleRate),
		},
	})
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}
	defer obs.Close(context.Background()) //nolint:errcheck

	if cfg.LLMHealthURL != "" || cfg.LLMHealthSkip {
		checker := observability.NewLLMHealthChecker(cfg.LLMHealthURL, cfg.LLMHealthSkip)
		obs.RegisterHealthChecker(checker)
		obs.RegisterReadinessChecker(checker)
	}

	var auditLogger *audit.Logger
	if cfg.AuditLog != "" {
		auditLogger, err = audit.Open(logger, cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLogger.Close() //nolint:errcheck
	}

	var logWriter *proxy.LogWriter
	if cfg.LogFile != "" {
		logWriter, err = proxy.NewLogWriter(logger, cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open proxy log: %w", err)
		}
		defer logWriter.Close() //nolint:errcheck
	}

	recorder, player, err := setupTape(logger, store, redactor, mode, cfg)
	if err != nil {
		return err
	}
	if recorder != nil {
		defer func() {
			if err := recorder.Save(planTapePath(cfg)); err != nil {
				logger.Errorw("fatal: failed to save tape on shutdown", "error", err)
			}
		}()
	}

	registry := strategy.NewRegistry()

	var hub *dashboard.Hub
	var dashServer *dashboard.Server
	if cfg.DashboardAutostart {
		hub = dashboard.NewHub(logger)
		dashServer = dashboard.NewServer(logger, hub, cfg.RunsDir, []byte(dashboard.DefaultHTML))
		dashServer.DisableOutboundProxyEnv()
		defer dashServer.RestoreOutboundProxyEnv()

		obsMux := http.NewServeMux()
		obs.SetupHTTPHandlers(obsMux)
		dashServer.Mount("/healthz", obsMux)
		dashServer.Mount("/readyz", obsMux)
		dashServer.Mount("/metrics", obsMux)
	}

	pcfg := proxy.Config{
		Mode:        mode,
		Store:       store,
		Auth:        auth,
		Redactor:    redactor,
		Registry:    registry,
		StrictFlags: strict,
		Recorder:    recorder,
		Player:      player,
		LogWriter:   logWriter,
		Audit:       auditLogger,
		Logger:      logger,
		Obs:         obs,
	}
	if hub != nil {
		pcfg.Broadcaster = hub
	}

	pipeline := proxy.New(pcfg)
	defer pipeline.Close() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: pipeline}
	srvErr := make(chan error, 1)
	go func() {
		logger.Infow("chaos proxy listening", "addr", cfg.ListenAddr, "mode", mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var dashSrvErr chan error
	if dashServer != nil {
		dashSrvErr = make(chan error, 1)
		dashHTTP := &http.Server{Addr: cfg.DashboardAddr, Handler: dashServer}
		go func() {
			logger.Infow("dashboard listening", "addr", cfg.DashboardAddr)
			if err := dashHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				dashSrvErr <- err
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = dashHTTP.Shutdown(shutdownCtx)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErr:
		logger.Errorw("proxy server error", "error", err)
	case err := <-dashSrvErr:
		logger.Errorw("dashboard server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// setupTape constructs the recorder/player required by the process mode,
// enforcing TAPE_KEY_REQUIRED and tape-must-exist per spec §4.8/§7.
func setupTape(logger *zap.SugaredLogger, store *plan.Store, redactor *security.Redactor, mode proxy.Mode, cfg *config.Config) (*tape.Recorder, *tape.Player, error) {
	needsKey := mode == proxy.ModeRecord || mode == proxy.ModePlayback || cfg.TapeKeyRequired
	if needsKey && cfg.TapeKey == "" {
		return nil, nil, fmt.Errorf("%w: tape encryption key required for mode %s", plan.ErrTapeKeyRequired, mode)
	}

	var key *fernet.Key
	if cfg.TapeKey != "" {
		k, err := tape.LoadKey(cfg.TapeKey)
		if err != nil {
			return nil, nil, fmt.Errorf("load tape key: %w", err)
		}
		key = k
	}

	pl := store.Get()
	fp := tape.NewFingerprinter(pl.ReplayConfig.IgnoreParams, pl.ReplayConfig.IgnorePaths)
	experimentID, _ := pl.Metadata["experiment_id"].(string)

	switch mode {
	case proxy.ModeRecord:
		return tape.NewRecorder(logger, fp, redactor, key, experimentID), nil, nil
	case proxy.ModePlayback:
		player, err := tape.LoadPlayer(logger, fp, planTapePath(cfg), key)
		if err != nil {
			return nil, nil, fmt.Errorf("load tape for playback: %w", err)
		}
		return nil, player, nil
	default:
		if key != nil {
			return tape.NewRecorder(logger, fp, redactor, key, experimentID), nil, nil
		}
		return nil, nil, nil
	}
}

// planTapePath returns the tape file path: CHAOS_TAPE_PATH when set,
// otherwise "tape.chaos" in the working directory. A single-process
// LIVE/RECORD/PLAYBACK run reads/writes one tape per invocation.
func planTapePath(cfg *config.Config) string {
	if v := os.Getenv("CHAOS_TAPE_PATH"); v != "" {
		return v
	}
	return "tape.chaos"
}

func chooseLevel(flagLevel string) string {
	if flagLevel != "" {
		return flagLevel
	}
	if v := os.Getenv("CHAOS_LOG_LEVEL"); v != "" {
		return v
	}
	return logs.LevelInfo
}

func clampSampleRate(rate float64) float64 {
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}
