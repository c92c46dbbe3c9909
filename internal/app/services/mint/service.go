// Package mint executes purchase requests: it validates quantity and payment,
// enforces per-song capacity, mints units on the asset ledger and splits the
// funds between the creator and the platform.
//
// Every mint follows a strict phase order inside one unit of work: checks,
// then effects (issued counters and ledger credits), then interactions
// (outbound fund transfers). Recipient-controlled code therefore never
// observes partially updated capacity state, and any transfer failure rolls
// the whole operation back.
package mint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songforge/marketplace/internal/app/domain/bank"
	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/events"
	"github.com/songforge/marketplace/internal/app/guard"
	"github.com/songforge/marketplace/internal/app/metrics"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/pkg/logger"
)

// Receipt summarizes one settled song/quantity pair.
type Receipt struct {
	SongID       uint64
	Buyer        string
	Creator      string
	Quantity     uint64
	UnitPrice    uint64
	CreatorShare uint64
}

// Result is the outcome of a successful mint call.
type Result struct {
	Receipts  []Receipt
	TotalCost uint64
	Fee       uint64
	Refund    uint64
	MintedAt  time.Time
}

// Service is the mint engine.
type Service struct {
	store storage.Store
	guard *guard.Guard
	bus   *events.Bus
	log   *logger.Logger
}

// New constructs a mint engine.
func New(store storage.Store, g *guard.Guard, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("mint")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{store: store, guard: g, bus: bus, log: log}
}

// Mint purchases quantity units of one song. payment must cover
// unitPrice*quantity plus the platform fee; any excess is refunded.
func (s *Service) Mint(ctx context.Context, songID uint64, quantity, payment uint64, caller string) (Result, error) {
	res, err := s.MintBatch(ctx, []uint64{songID}, []uint64{quantity}, payment, caller)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// MintBatch purchases several song/quantity pairs atomically. If any pair
// fails its checks the whole batch fails with no state change.
func (s *Service) MintBatch(ctx context.Context, songIDs []uint64, quantities []uint64, payment uint64, caller string) (Result, error) {
	caller = guard.NormalizeAccount(caller)

	if caller == "" {
		return Result{}, fmt.Errorf("%w: caller account is required", market.ErrInvalidArgument)
	}
	if len(songIDs) != len(quantities) {
		return Result{}, fmt.Errorf("%w: %d song ids but %d quantities",
			market.ErrInvalidArgument, len(songIDs), len(quantities))
	}
	if len(songIDs) == 0 {
		return Result{}, fmt.Errorf("%w: empty batch", market.ErrInvalidArgument)
	}
	if len(songIDs) > market.MaxBatchSize {
		return Result{}, fmt.Errorf("%w: batch of %d exceeds limit %d",
			market.ErrInvalidArgument, len(songIDs), market.MaxBatchSize)
	}
	for i, qty := range quantities {
		if qty == 0 || qty > market.MaxMintQuantity {
			return Result{}, fmt.Errorf("%w: quantity %d for song %d out of range [1, %d]",
				market.ErrInvalidArgument, qty, songIDs[i], market.MaxMintQuantity)
		}
	}

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		metrics.RecordMintFailure(market.ErrorKind(err))
		return Result{}, err
	}
	defer release()

	var result Result
	err = s.store.Update(ctx, func(v storage.View) error {
		var err error
		result, err = s.execute(ctx, v, songIDs, quantities, payment, caller)
		return err
	})
	if err != nil {
		metrics.RecordMintFailure(market.ErrorKind(err))
		return Result{}, err
	}

	for _, r := range result.Receipts {
		// A single-pair mint reports the full cost including the platform
		// fee; batch pairs report their own share.
		cost := r.CreatorShare
		if len(result.Receipts) == 1 {
			cost = result.TotalCost
		}
		s.bus.Publish(events.TypeSongsMinted, events.SongsMinted{
			SongID:    r.SongID,
			Buyer:     r.Buyer,
			Creator:   r.Creator,
			Quantity:  r.Quantity,
			TotalCost: cost,
		})
	}
	metrics.RecordMint(mintedUnits(result.Receipts), result.Fee)
	s.log.WithField("buyer", caller).
		WithField("pairs", len(result.Receipts)).
		WithField("total_cost", result.TotalCost).
		WithField("refund", result.Refund).
		Info("mint settled")
	return result, nil
}

// execute runs the three mint phases against a transactional view.
func (s *Service) execute(ctx context.Context, v storage.View, songIDs, quantities []uint64, payment uint64, caller string) (Result, error) {
	cfg, err := v.Config(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := guard.EnsureActive(cfg); err != nil {
		return Result{}, err
	}

	// Checks: validate capacity per pair, accumulating quantities so a batch
	// repeating one song id cannot slip past its capacity, and total up the
	// cost with overflow failing closed.
	pending := make(map[uint64]uint64, len(songIDs))
	shares := make([]uint64, len(songIDs))
	totalCost := cfg.PlatformFee
	for i, id := range songIDs {
		rec, err := v.GetSong(ctx, id)
		if err != nil {
			return Result{}, err
		}

		qty := quantities[i]
		already := pending[id]
		if remaining := rec.Capacity - rec.Issued; qty > remaining-already {
			return Result{}, fmt.Errorf("%w: song %d has %d of %d issued, cannot mint %d more",
				market.ErrCapacityExceeded, id, rec.Issued+already, rec.Capacity, qty)
		}
		pending[id] = already + qty

		share, err := market.MulChecked(rec.UnitPrice, qty)
		if err != nil {
			return Result{}, err
		}
		shares[i] = share
		totalCost, err = market.AddChecked(totalCost, share)
		if err != nil {
			return Result{}, err
		}
	}
	if payment < totalCost {
		return Result{}, fmt.Errorf("%w: required %d, supplied %d",
			market.ErrInsufficientPayment, totalCost, payment)
	}

	// Collect the payment into the treasury before touching any state the
	// payout phase depends on.
	if err := v.Bank().Transfer(ctx, caller, market.Treasury, payment); err != nil {
		if errors.Is(err, bank.ErrInsufficientFunds) {
			return Result{}, fmt.Errorf("%w: %v", market.ErrInsufficientPayment, err)
		}
		return Result{}, err
	}

	// Effects: issued counters and ledger credits, in input order, all
	// before any outbound transfer.
	receipts := make([]Receipt, 0, len(songIDs))
	for i, id := range songIDs {
		rec, err := v.GetSong(ctx, id)
		if err != nil {
			return Result{}, err
		}
		qty := quantities[i]
		rec.Issued += qty
		if err := v.UpdateSong(ctx, rec); err != nil {
			return Result{}, err
		}
		if err := v.Ledger().Mint(ctx, caller, id, qty); err != nil {
			return Result{}, err
		}
		receipts = append(receipts, Receipt{
			SongID:       id,
			Buyer:        caller,
			Creator:      rec.Creator,
			Quantity:     qty,
			UnitPrice:    rec.UnitPrice,
			CreatorShare: shares[i],
		})
	}

	// Interactions: pay each creator's share in input order, then refund any
	// excess to the buyer once, last. The platform fee stays in the treasury.
	for _, r := range receipts {
		if r.CreatorShare == 0 {
			continue
		}
		if err := v.Bank().Transfer(ctx, market.Treasury, r.Creator, r.CreatorShare); err != nil {
			return Result{}, err
		}
	}
	refund := payment - totalCost
	if refund > 0 {
		if err := v.Bank().Transfer(ctx, market.Treasury, caller, refund); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Receipts:  receipts,
		TotalCost: totalCost,
		Fee:       cfg.PlatformFee,
		Refund:    refund,
		MintedAt:  time.Now().UTC(),
	}, nil
}

func mintedUnits(receipts []Receipt) uint64 {
	var total uint64
	for _, r := range receipts {
		total += r.Quantity
	}
	return total
}
