// Package admin holds the owner-gated platform operations: fee configuration,
// the pause circuit breaker and fee withdrawal. None of them are blocked by
// the paused state, so the owner keeps control while the marketplace is
// halted.
package admin

import (
	"context"
	"fmt"

	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/events"
	"github.com/songforge/marketplace/internal/app/guard"
	"github.com/songforge/marketplace/internal/app/metrics"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/pkg/logger"
)

// Service exposes the administration operations.
type Service struct {
	store storage.Store
	guard *guard.Guard
	bus   *events.Bus
	log   *logger.Logger
}

// New constructs an administration service.
func New(store storage.Store, g *guard.Guard, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{store: store, guard: g, bus: bus, log: log}
}

// Config returns the current platform configuration.
func (s *Service) Config(ctx context.Context) (market.Config, error) {
	var cfg market.Config
	err := s.store.ReadView(ctx, func(v storage.View) error {
		var err error
		cfg, err = v.Config(ctx)
		return err
	})
	return cfg, err
}

// TreasuryBalance reports the fees currently held by the platform.
func (s *Service) TreasuryBalance(ctx context.Context) (uint64, error) {
	var balance uint64
	err := s.store.ReadView(ctx, func(v storage.View) error {
		var err error
		balance, err = v.Bank().Balance(ctx, market.Treasury)
		return err
	})
	return balance, err
}

// SetPlatformFee changes the flat per-mint surcharge. Owner only; the fee is
// capped at market.MaxPlatformFee.
func (s *Service) SetPlatformFee(ctx context.Context, newFee uint64, caller string) (market.Config, error) {
	caller = guard.NormalizeAccount(caller)
	if newFee > market.MaxPlatformFee {
		return market.Config{}, fmt.Errorf("%w: fee %d exceeds ceiling %d",
			market.ErrInvalidArgument, newFee, market.MaxPlatformFee)
	}

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return market.Config{}, err
	}
	defer release()

	var updated market.Config
	var oldFee uint64
	err = s.store.Update(ctx, func(v storage.View) error {
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		if !guard.IsOwner(cfg, caller) {
			return fmt.Errorf("%w: %s is not the platform owner", market.ErrUnauthorized, caller)
		}

		oldFee = cfg.PlatformFee
		cfg.PlatformFee = newFee
		if err := v.SetConfig(ctx, cfg); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return market.Config{}, err
	}

	s.bus.Publish(events.TypePlatformFeeUpdated, events.PlatformFeeUpdated{
		OldFee: oldFee,
		NewFee: newFee,
	})
	metrics.SetPlatformFee(newFee)
	s.log.WithField("old_fee", oldFee).
		WithField("new_fee", newFee).
		Info("platform fee updated")
	return updated, nil
}

// Pause halts mint and registration. Owner only; idempotent.
func (s *Service) Pause(ctx context.Context, caller string) (market.Config, error) {
	return s.setPaused(ctx, caller, true)
}

// Unpause resumes mint and registration. Owner only; idempotent.
func (s *Service) Unpause(ctx context.Context, caller string) (market.Config, error) {
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller string, paused bool) (market.Config, error) {
	caller = guard.NormalizeAccount(caller)

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return market.Config{}, err
	}
	defer release()

	var updated market.Config
	err = s.store.Update(ctx, func(v storage.View) error {
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		if !guard.IsOwner(cfg, caller) {
			return fmt.Errorf("%w: %s is not the platform owner", market.ErrUnauthorized, caller)
		}

		cfg.Paused = paused
		if err := v.SetConfig(ctx, cfg); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return market.Config{}, err
	}

	metrics.SetPaused(paused)
	s.log.WithField("paused", paused).Info("guard state changed")
	return updated, nil
}

// WithdrawFees drains the treasury to the owner. Owner only; fails if the
// treasury holds nothing.
func (s *Service) WithdrawFees(ctx context.Context, caller string) (uint64, error) {
	caller = guard.NormalizeAccount(caller)

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var amount uint64
	err = s.store.Update(ctx, func(v storage.View) error {
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		if !guard.IsOwner(cfg, caller) {
			return fmt.Errorf("%w: %s is not the platform owner", market.ErrUnauthorized, caller)
		}

		amount, err = v.Bank().Balance(ctx, market.Treasury)
		if err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("%w: treasury balance is zero", market.ErrInvalidArgument)
		}
		return v.Bank().Transfer(ctx, market.Treasury, cfg.Owner, amount)
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordFeeWithdrawal(amount)
	s.log.WithField("amount", amount).Info("fees withdrawn")
	return amount, nil
}

// Deposit credits funds to an account. Owner only; a development convenience
// for deployments without an external payment rail.
func (s *Service) Deposit(ctx context.Context, account string, amount uint64, caller string) error {
	caller = guard.NormalizeAccount(caller)
	account = guard.NormalizeAccount(account)
	if account == "" {
		return fmt.Errorf("%w: account is required", market.ErrInvalidArgument)
	}
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", market.ErrInvalidArgument)
	}

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.store.Update(ctx, func(v storage.View) error {
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		if !guard.IsOwner(cfg, caller) {
			return fmt.Errorf("%w: %s is not the platform owner", market.ErrUnauthorized, caller)
		}
		return v.Bank().Deposit(ctx, account, amount)
	})
}
