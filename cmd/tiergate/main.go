// tiergate runs the tier gateway: an Anthropic-messages-API front end that
// routes each request to a local llama-server or a remote escalation tier.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/tierleap/tier-gateway/internal/backend"
	"github.com/tierleap/tier-gateway/internal/config"
	"github.com/tierleap/tier-gateway/internal/gateway"
	"github.com/tierleap/tier-gateway/internal/monitoring"
	"github.com/tierleap/tier-gateway/internal/prompt"
	"github.com/tierleap/tier-gateway/internal/routing"
	"github.com/tierleap/tier-gateway/internal/store"
	"github.com/tierleap/tier-gateway/internal/utils"
)

func main() {
	var (
		configFlag string
		portFlag   string
		debugFlag  bool
	)

	args := os.Args[1:]
	i := 0
parseLoop:
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-v", "--version":
			fmt.Println("tiergate " + gateway.Version)
			return
		case "-c", "--config":
			if i+1 < len(args) {
				configFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --config requires a value")
				os.Exit(1)
			}
		case "-p", "--port":
			if i+1 < len(args) {
				portFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --port requires a value")
				os.Exit(1)
			}
		case "-d", "--debug":
			debugFlag = true
			i++
		case "--":
			break parseLoop
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
			os.Exit(1)
		}
	}

	// .env is optional; real env vars win over file entries.
	_ = godotenv.Load()

	cfg := config.Default()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config '%s': %v\n", configFlag, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	setupLogging(cfg.Monitoring, debugFlag)

	port := cfg.Server.Port
	if portFlag != "" {
		p, err := strconv.Atoi(portFlag)
		if err != nil || p <= 0 || p > 65535 {
			fmt.Fprintf(os.Stderr, "Error: invalid port '%s'\n", portFlag)
			os.Exit(1)
		}
		port = p
	} else if isPortInUse(port) {
		// Each terminal gets its own gateway; walk up from the base port.
		found, ok := findAvailablePort(config.DefaultBasePort, config.MaxPortAttempts)
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: no available ports in range %d-%d\n",
				config.DefaultBasePort, config.DefaultBasePort+config.MaxPortAttempts-1)
			os.Exit(1)
		}
		port = found
	}

	if err := run(cfg, port); err != nil {
		log.Error().Err(err).Msg("gateway exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, port int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	if cfg.Store.Path != "" {
		var err error
		st, err = store.Open(cfg.Store.Path, store.Options{
			SessionTTL:      cfg.Store.SessionTTL,
			ClassifyTTL:     cfg.Store.ClassifyTTL,
			CleanupInterval: config.DefaultCleanupInterval,
		})
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer st.Close()
	}

	local := backend.NewClient(cfg.Backend.BaseURL)

	var supervisor backend.Supervisor
	if cfg.Backend.Managed {
		sup := backend.NewLlamaSupervisor(cfg.Backend.BinPath, cfg.Backend.Port, cfg.Backend.ExtraArgs...)
		if _, err := sup.Start(ctx, cfg.Backend.Model); err != nil {
			return fmt.Errorf("start llama-server: %w", err)
		}
		defer func() { _ = sup.Stop() }()
		log.Info().Str("model", cfg.Backend.Model).Msg("waiting for local backend")
		if err := sup.WaitReady(ctx, backend.WaitOptions{Timeout: cfg.Backend.ReadyTimeout}); err != nil {
			return fmt.Errorf("local backend not ready: %w", err)
		}
		supervisor = sup
	}

	remote, err := buildRemote(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	log.Info().
		Str("base_url", cfg.Remote.BaseURL).
		Str("api_key", utils.MaskKey(cfg.Remote.APIKey)).
		Bool("bedrock", cfg.Remote.BedrockRegion != "").
		Msg("remote escalation target")

	policy := prompt.NewTrimPolicy()
	metrics := monitoring.NewMetricsCollector()
	engine := buildEngine(cfg, local, st, policy, metrics)

	telemetry := monitoring.TelemetryConfig{
		Enabled:     cfg.Monitoring.TelemetryPath != "",
		LogPath:     cfg.Monitoring.TelemetryPath,
		LogToStdout: false,
	}
	tracker, err := monitoring.NewTracker(telemetry)
	if err != nil {
		return fmt.Errorf("open telemetry log: %w", err)
	}
	defer tracker.Close()

	gw := gateway.New(gateway.Options{
		Config:     cfg,
		Engine:     engine,
		Local:      local,
		LocalModel: cfg.Backend.Model,
		Supervisor: supervisor,
		Remote:     remote,
		Policy:     policy,
		Metrics:    metrics,
		Tracker:    tracker,
		Estimator:  monitoring.NewTokenEstimator(cfg.Monitoring.TokenEncoding),
	})
	gw.RecordInit(port)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(port))
	server := &http.Server{
		Addr:         addr,
		Handler:      gw.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.DefaultServerWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("version", gateway.Version).Msg("gateway listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// buildEngine converts the YAML tier layout into routing terms and wires the
// classifier only when some intent actually escalates.
func buildEngine(cfg *config.Config, local *backend.Client, st *store.Store, policy prompt.Policy, metrics *monitoring.MetricsCollector) *routing.Engine {
	rc := routing.Config{
		Intents: make(map[routing.IntentCategory]int, len(cfg.Routing.Intents)),
		Targets: make(map[int]routing.Target, len(cfg.Tiers)),
	}
	allTierOne := true
	for intent, tier := range cfg.Routing.Intents {
		rc.Intents[routing.IntentCategory(intent)] = tier
		if tier != routing.MinTier {
			allTierOne = false
		}
	}
	for _, t := range cfg.SortedTiers() {
		rc.Targets[t.Tier] = routing.Target{
			Tier:        t.Tier,
			Remote:      t.Target == "remote",
			RemoteModel: t.Model,
		}
	}

	opts := []routing.Option{
		routing.WithBudget(policy.CharBudget),
	}
	if st != nil {
		opts = append(opts, routing.WithTierStore(st))
	}
	if !allTierOne {
		model := cfg.Routing.ClassifierModel
		if model == "" {
			model = cfg.Backend.Model
		}
		var classifier routing.Classifier = routing.NewLocalClassifier(local, model)
		if st != nil {
			caching := routing.NewCachingClassifier(classifier, st)
			caching.OnCacheHit(metrics.RecordClassifyCacheHit)
			classifier = caching
		}
		opts = append(opts, routing.WithClassifier(classifier))
	}
	return routing.NewEngine(rc, opts...)
}

func buildRemote(ctx context.Context, rc config.RemoteConfig) (*backend.Remote, error) {
	var opts []backend.RemoteOption
	if rc.BedrockRegion != "" {
		signer, err := backend.NewBedrockSigner(ctx, rc.BedrockRegion)
		if err != nil {
			return nil, fmt.Errorf("bedrock credentials: %w", err)
		}
		opts = append(opts, backend.WithBedrockSigner(signer))
	}
	return backend.NewRemote(rc.BaseURL, rc.APIKey, opts...), nil
}

// setupLogging configures zerolog. "auto" picks the console writer only when
// stdout is a terminal, so piped output stays machine-readable JSON.
func setupLogging(mc config.MonitoringConfig, debug bool) {
	level, err := zerolog.ParseLevel(mc.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	console := mc.LogFormat == "console"
	if mc.LogFormat == "auto" {
		console = term.IsTerminal(int(os.Stdout.Fd()))
	}
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// findAvailablePort returns the first free port in [basePort, basePort+maxPorts).
func findAvailablePort(basePort, maxPorts int) (int, bool) {
	for i := 0; i < maxPorts; i++ {
		port := basePort + i
		if !isPortInUse(port) {
			return port, true
		}
	}
	return 0, false
}

func isPortInUse(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	_ = listener.Close()
	return false
}

func printHelp() {
	fmt.Print(`tiergate - tiered LLM gateway

Usage:
  tiergate [options]

Options:
  -c, --config <file>   Load configuration from a YAML file
  -p, --port <port>     Listen on a specific port (default: auto-find from 18080)
  -d, --debug           Enable debug logging
  -v, --version         Print version and exit
  -h, --help            Show this help

Without a config file the gateway serves a single local tier and never
escalates. The ANTHROPIC_API_KEY environment variable (or a .env file)
supplies the remote key referenced from the config.
`)
}
