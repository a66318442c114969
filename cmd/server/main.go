/*
main.go - Payout engine server entry point

PURPOSE:
  Runs the operator HTTP API and, when enabled, the daily auto-payout
  scheduler under one suture supervisor.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config file, PAYOUT_* environment)
  2. Initialize zerolog
  3. Build store, processor client and payout service (package app)
  4. Configure the HTTP router
  5. Start the supervisor: http-server [+ auto-payout-scheduler]

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: CONFIG_PATH or ./config.yaml)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the supervisor cancels every service:
  1. The HTTP server stops accepting connections and drains requests
  2. The scheduler stops ticking (a running pass finishes its venues)
  3. The store is closed

EXAMPLES:
  # Local run against the in-memory processor with demo scenarios
  PAYOUT_SERVER__ENABLE_SCENARIOS=true ./server

  # Sandbox with the scheduler
  PAYOUT_PROCESSOR__ENVIRONMENT=sandbox \
  PAYOUT_PROCESSOR__SECRET_KEY=sk_test_... \
  PAYOUT_SCHEDULER__ENABLED=true ./server

SEE ALSO:
  - api/server.go: Router configuration
  - app/app.go: Object graph
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/app"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "payout server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})
	log := logging.WithComponent("main")

	a, err := app.Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	handler := api.NewHandler(a.Service, a.AutoPayout, cfg.Processor.Currency)
	if cfg.Server.EnableScenarios {
		handler.Scenarios = api.NewScenarioLoader(a.Store, a.Client, cfg.Processor.Currency)
		log.Warn().Msg("demo scenarios enabled, loading one resets the store")
	}
	router := api.NewRouter(handler, api.RouterConfig{
		OperatorToken:   cfg.Server.OperatorToken,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})
	if cfg.Server.OperatorToken == "" {
		log.Warn().Msg("server.operator_token is empty, the API is unauthenticated")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	sup := suture.New("payout-engine", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Fields(e.Map()).Msg(e.String())
		},
		Timeout: cfg.Server.ShutdownTimeout,
	})
	sup.Add(api.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	if cfg.Scheduler.Enabled {
		sup.Add(api.NewAutoPayoutScheduler(a.AutoPayout, cfg.Scheduler.CheckInterval, cfg.Scheduler.RunAtHour))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Int("port", cfg.Server.Port).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("server starting")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
