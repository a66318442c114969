/*
Package app builds the payout engine object graph from a Config.

PURPOSE:
  Shared by cmd/server and cmd/autopayout so both binaries run the same
  store, processor client and payout service for a given configuration.

WIRING:
  database.driver      sqlite -> store/sqlite, memory -> store/memory
  processor.environment live/sandbox -> processor.StripeClient
                        memory       -> processor.Memory
  sandbox only          processor.SandboxFunder tops up the balance

SEE ALSO:
  - config/config.go: Settings
  - cmd/server/main.go: Supervisor tree
*/
package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/logging"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/processor"
	"github.com/warp/payout-engine/store/memory"
	"github.com/warp/payout-engine/store/sqlite"
)

// Store is what both store implementations provide.
type Store interface {
	payout.Store
	api.ScenarioStore
}

// App holds the long-lived components.
type App struct {
	Store      Store
	Client     processor.Client
	Service    *payout.Service
	AutoPayout *payout.AutoPayout

	closers []func() error
	log     zerolog.Logger
}

// Build opens the store and creates the processor client and services.
func Build(cfg *config.Config) (*App, error) {
	a := &App{log: logging.WithComponent("app")}

	store, err := a.openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.Store = store

	client, funder, err := newProcessor(cfg.Processor)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Client = client

	a.Service = payout.NewService(store, client, payout.Options{
		FeeBPS:                 cfg.Payout.FeeBPS,
		Currency:               cfg.Processor.Currency,
		Country:                cfg.Processor.Country,
		MaxConcurrentTransfers: cfg.Payout.MaxConcurrentTransfers,
		TopUpBuffer:            generic.Amount(cfg.Processor.TopUpBuffer),
		Funder:                 funder,
		Policy:                 policyOf(cfg.Payout.Policy),
	})
	a.AutoPayout = payout.NewAutoPayout(store, a.Service, payout.AutoPayoutOptions{
		MaxConcurrentVenues: cfg.Scheduler.MaxConcurrentVenues,
		VenueTimeout:        cfg.Scheduler.VenueTimeout,
	})

	a.log.Info().
		Str("database", cfg.Database.Driver).
		Str("processor", string(client.Environment())).
		Int64("fee_bps", cfg.Payout.FeeBPS).
		Str("policy", cfg.Payout.Policy).
		Bool("sandbox_funding", funder != nil).
		Msg("payout engine initialized")
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func (a *App) openStore(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		a.log.Warn().Msg("using in-memory store, data is lost on exit")
		return memory.New(), nil
	default:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	}
}

// newProcessor returns the client for the configured environment. The funder
// is nil outside the sandbox.
func newProcessor(cfg config.ProcessorConfig) (processor.Client, payout.Funder, error) {
	env := processor.Environment(cfg.Environment)
	if env == processor.EnvironmentMemory {
		return processor.NewMemory(env), nil, nil
	}

	client, err := processor.NewStripeClient(processor.StripeConfig{
		BaseURL:           cfg.BaseURL,
		SecretKey:         cfg.SecretKey,
		Environment:       env,
		Timeout:           cfg.CallTimeout,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		BreakerFailures:   cfg.BreakerFailures,
		BreakerTimeout:    cfg.BreakerTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create processor client: %w", err)
	}
	if env != processor.EnvironmentSandbox {
		return client, nil, nil
	}

	funder, err := processor.NewSandboxFunder(client, cfg.TopUpSettleDelay)
	if err != nil {
		return nil, nil, fmt.Errorf("create sandbox funder: %w", err)
	}
	return client, funder, nil
}

func policyOf(name string) payout.AggregationPolicy {
	if name == "all_or_nothing" {
		return payout.AllOrNothing
	}
	return payout.PartialAware
}
