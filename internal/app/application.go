package app

import (
	"context"
	"fmt"
	"time"

	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/events"
	"github.com/songforge/marketplace/internal/app/guard"
	"github.com/songforge/marketplace/internal/app/metrics"
	adminsvc "github.com/songforge/marketplace/internal/app/services/admin"
	catalogsvc "github.com/songforge/marketplace/internal/app/services/catalog"
	mintsvc "github.com/songforge/marketplace/internal/app/services/mint"
	statssvc "github.com/songforge/marketplace/internal/app/services/stats"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/internal/app/storage/memory"
	"github.com/songforge/marketplace/internal/app/system"
	"github.com/songforge/marketplace/pkg/logger"
)

// Options configure application construction. A nil Store defaults to the
// in-memory implementation.
type Options struct {
	Store         storage.Store
	Owner         string
	PlatformFee   uint64
	StatsInterval time.Duration
}

// Application ties the marketplace services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Store   storage.Store
	Bus     *events.Bus
	Catalog *catalogsvc.Service
	Mint    *mintsvc.Service
	Admin   *adminsvc.Service
}

// New builds a fully initialised application. The platform configuration is
// created here if the store does not already carry one; an existing config is
// left untouched so restarts preserve owner-made changes.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	store := opts.Store
	if store == nil {
		store = memory.New()
	}

	if err := ensureConfig(store, opts); err != nil {
		return nil, fmt.Errorf("initialise platform config: %w", err)
	}

	g := guard.New()
	bus := events.NewBus()

	catalog := catalogsvc.New(store, g, bus, log)
	mint := mintsvc.New(store, g, bus, log)
	admin := adminsvc.New(store, g, bus, log)

	manager := system.NewManager()
	for _, name := range []string{"catalog", "mint", "admin"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(statssvc.NewReporter(store, opts.StatsInterval, log)); err != nil {
		return nil, fmt.Errorf("register stats reporter: %w", err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Store:   store,
		Bus:     bus,
		Catalog: catalog,
		Mint:    mint,
		Admin:   admin,
	}, nil
}

func ensureConfig(store storage.Store, opts Options) error {
	return store.Update(context.Background(), func(v storage.View) error {
		cfg, err := v.Config(context.Background())
		if err != nil {
			return err
		}
		if cfg.Owner != "" {
			metrics.SetPlatformFee(cfg.PlatformFee)
			metrics.SetPaused(cfg.Paused)
			return nil
		}
		if opts.Owner == "" {
			return fmt.Errorf("%w: platform owner account is required", market.ErrInvalidArgument)
		}
		if opts.PlatformFee > market.MaxPlatformFee {
			return fmt.Errorf("%w: fee %d exceeds ceiling %d",
				market.ErrInvalidArgument, opts.PlatformFee, market.MaxPlatformFee)
		}
		metrics.SetPlatformFee(opts.PlatformFee)
		metrics.SetPaused(false)
		return v.SetConfig(context.Background(), market.Config{
			Owner:       opts.Owner,
			PlatformFee: opts.PlatformFee,
		})
	})
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
