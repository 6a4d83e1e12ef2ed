package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rico/config"
	"rico/core"
	"rico/core/events"
	"rico/gateway/middleware"
	"rico/gateway/routes"
	"rico/observability"
	"rico/observability/logging"
	telemetry "rico/observability/otel"
	"rico/storage"
	"rico/storage/eventlog"
)

func main() {
	configFile := flag.String("config", "./rico.toml", "Path to the configuration file (.toml or .yaml)")
	scenarioFile := flag.String("scenario", "", "Path to the YAML scenario to replay")
	memory := flag.Bool("memory", false, "Keep state in memory instead of LevelDB under the data dir")
	listen := flag.String("listen", "", "Serve the query API on this address after the scenario (overrides API.Listen)")
	flag.Parse()

	if err := run(*configFile, *scenarioFile, *memory, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "rico-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, scenarioFile string, memory bool, listen string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions("rico-sim", cfg.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Writer:     os.Stderr,
	})

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if listen != "" {
		cfg.API.Listen = listen
	}

	var sc *Scenario
	if scenarioFile != "" {
		if sc, err = LoadScenario(scenarioFile); err != nil {
			return err
		}
	}

	var db storage.Database
	if memory {
		db = storage.NewMemDB()
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db = ldb
	}
	defer db.Close()

	opts := core.Options{
		GenesisBlock:    cfg.Sale.GenesisBlock,
		Logger:          logger,
		Emitter:         events.Multi{observability.EventCounter{}},
		RedactAddresses: cfg.Logging.RedactAddresses,
	}
	var store *eventlog.Store
	if cfg.EventLog.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.EventLog.DSN), 0o755); err != nil {
			return fmt.Errorf("create event log dir: %w", err)
		}
		store, err = eventlog.Open(cfg.EventLog.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Sink = store
	}

	proc, err := core.NewSaleProcessor(db, opts)
	if err != nil {
		return err
	}
	if _, err := proc.Sale(); errors.Is(err, core.ErrNotDeployed) {
		sale, err := proc.Deploy(ctx, cfg.Sale.Roles().Deployer, cfg.Sale.Roles(), cfg.Sale.ScheduleParams(), cfg.Sale.TokenSupply.Big())
		if err != nil {
			return fmt.Errorf("deploy sale: %w", err)
		}
		logger.Info("sale deployed",
			"block", proc.CurrentBlock(),
			slog.Int("stages", sale.Schedule.StageCount()),
			slog.Uint64("buyEnd", sale.Schedule.BuyPhaseEndBlock()))
	} else if err != nil {
		return err
	}

	name := ""
	var results []StepResult
	if sc != nil {
		name = sc.Name
		r := &runner{proc: proc, roles: cfg.Sale.Roles()}
		results = r.run(ctx, sc)
	}
	report, err := buildReport(proc, name, results)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d scenario steps did not behave as expected", report.Failed)
	}
	if cfg.API.Listen == "" {
		return nil
	}
	return serve(ctx, cfg, proc, store, logger)
}

func serve(ctx context.Context, cfg *config.Config, proc *core.SaleProcessor, store *eventlog.Store, logger *slog.Logger) error {
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"sale":         {RequestsPerMinute: cfg.API.RequestsPerMinute, Burst: cfg.API.Burst},
		"participants": {RequestsPerMinute: cfg.API.RequestsPerMinute, Burst: cfg.API.Burst},
		"events":       {RequestsPerMinute: cfg.API.RequestsPerMinute, Burst: cfg.API.Burst},
	}, logger)
	routeCfg := routes.Config{Sale: proc, RateLimiter: limiter, Logger: logger, ServiceName: cfg.Telemetry.ServiceName}
	if store != nil {
		routeCfg.Events = store
	}
	handler, err := routes.New(routeCfg)
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: cfg.API.Listen, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("query API listening", "addr", cfg.API.Listen)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
