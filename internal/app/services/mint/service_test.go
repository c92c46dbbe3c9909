package mint

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/domain/song"
	"github.com/songforge/marketplace/internal/app/events"
	"github.com/songforge/marketplace/internal/app/guard"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/internal/app/storage/memory"
)

const (
	owner   = "owner-account"
	artist  = "artist-account"
	buyer   = "buyer-account"
	testFee = 10
)

func newTestService(t *testing.T) (*Service, *memory.Store, *events.Bus) {
	t.Helper()

	store := memory.New()
	bus := events.NewBus()
	svc := New(store, guard.New(), bus, nil)

	err := store.Update(context.Background(), func(v storage.View) error {
		return v.SetConfig(context.Background(), market.Config{Owner: owner, PlatformFee: testFee})
	})
	if err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return svc, store, bus
}

func registerSong(t *testing.T, store *memory.Store, unitPrice, capacity uint64) uint64 {
	t.Helper()

	var id uint64
	err := store.Update(context.Background(), func(v storage.View) error {
		rec, err := v.CreateSong(context.Background(), song.Song{
			Title:     "Test Track",
			Creator:   artist,
			UnitPrice: unitPrice,
			Capacity:  capacity,
			URI:       "ipfs://test-track",
		})
		id = rec.ID
		return err
	})
	if err != nil {
		t.Fatalf("register song: %v", err)
	}
	return id
}

func balance(t *testing.T, store *memory.Store, account string) uint64 {
	t.Helper()

	var out uint64
	err := store.ReadView(context.Background(), func(v storage.View) error {
		var err error
		out, err = v.Bank().Balance(context.Background(), account)
		return err
	})
	if err != nil {
		t.Fatalf("balance %s: %v", account, err)
	}
	return out
}

func unitsOf(t *testing.T, store *memory.Store, account string, songID uint64) uint64 {
	t.Helper()

	var out uint64
	err := store.ReadView(context.Background(), func(v storage.View) error {
		var err error
		out, err = v.Ledger().BalanceOf(context.Background(), account, songID)
		return err
	})
	if err != nil {
		t.Fatalf("units of %s: %v", account, err)
	}
	return out
}

func issuedOf(t *testing.T, store *memory.Store, songID uint64) uint64 {
	t.Helper()

	var out uint64
	err := store.ReadView(context.Background(), func(v storage.View) error {
		rec, err := v.GetSong(context.Background(), songID)
		out = rec.Issued
		return err
	})
	if err != nil {
		t.Fatalf("issued of %d: %v", songID, err)
	}
	return out
}

func TestMintSplitsPaymentExactly(t *testing.T) {
	svc, store, bus := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 1000)

	var got []events.Event
	bus.Subscribe(func(evt events.Event) { got = append(got, evt) })

	// price 200 * qty 3 + fee 10 = 610; overpay by 90
	result, err := svc.Mint(context.Background(), id, 3, 700, buyer)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if result.TotalCost != 610 || result.Fee != testFee || result.Refund != 90 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Receipts) != 1 || result.Receipts[0].CreatorShare != 600 {
		t.Fatalf("unexpected receipts: %+v", result.Receipts)
	}

	if b := balance(t, store, artist); b != 600 {
		t.Fatalf("creator share: got %d, want 600", b)
	}
	if b := balance(t, store, market.Treasury); b != testFee {
		t.Fatalf("treasury: got %d, want %d", b, testFee)
	}
	if b := balance(t, store, buyer); b != 390 {
		t.Fatalf("buyer after refund: got %d, want 390", b)
	}
	if u := unitsOf(t, store, buyer, id); u != 3 {
		t.Fatalf("buyer units: got %d, want 3", u)
	}
	if issued := issuedOf(t, store, id); issued != 3 {
		t.Fatalf("issued: got %d, want 3", issued)
	}

	if len(got) != 1 || got[0].Type != events.TypeSongsMinted {
		t.Fatalf("unexpected events: %+v", got)
	}
	payload := got[0].Payload.(events.SongsMinted)
	if payload.TotalCost != 610 || payload.Quantity != 3 {
		t.Fatalf("unexpected event payload: %+v", payload)
	}
}

func TestMintExactPaymentNoRefund(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 610)

	result, err := svc.Mint(context.Background(), id, 3, 610, buyer)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if result.Refund != 0 {
		t.Fatalf("expected no refund, got %d", result.Refund)
	}
	if b := balance(t, store, buyer); b != 0 {
		t.Fatalf("buyer should be drained, holds %d", b)
	}
}

func TestMintCapacityExceededLeavesStateUntouched(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 100_000)

	if _, err := svc.Mint(context.Background(), id, 7, 10_000, buyer); err != nil {
		t.Fatalf("first mint: %v", err)
	}

	_, err := svc.Mint(context.Background(), id, 8, 10_000, buyer)
	if !errors.Is(err, market.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if issued := issuedOf(t, store, id); issued != 7 {
		t.Fatalf("issued changed on failed mint: %d", issued)
	}

	// The last 3 units still mint.
	if _, err := svc.Mint(context.Background(), id, 3, 10_000, buyer); err != nil {
		t.Fatalf("final mint: %v", err)
	}
	if issued := issuedOf(t, store, id); issued != 10 {
		t.Fatalf("issued: got %d, want 10", issued)
	}
}

func TestMintInsufficientPaymentIsAtomic(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 1000)

	// One short of price*qty+fee.
	_, err := svc.Mint(context.Background(), id, 3, 609, buyer)
	if !errors.Is(err, market.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}

	if b := balance(t, store, buyer); b != 1000 {
		t.Fatalf("buyer funds moved on failed mint: %d", b)
	}
	if issued := issuedOf(t, store, id); issued != 0 {
		t.Fatalf("issued moved on failed mint: %d", issued)
	}
	if u := unitsOf(t, store, buyer, id); u != 0 {
		t.Fatalf("units credited on failed mint: %d", u)
	}
}

func TestMintCallerCannotCoverDeclaredPayment(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 100) // declared payment 610 exceeds the account balance

	_, err := svc.Mint(context.Background(), id, 3, 610, buyer)
	if !errors.Is(err, market.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if b := balance(t, store, buyer); b != 100 {
		t.Fatalf("buyer funds moved: %d", b)
	}
}

func TestMintQuantityBounds(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 1, market.MaxMintQuantity+10)

	if _, err := svc.Mint(context.Background(), id, 0, 100, buyer); !errors.Is(err, market.ErrInvalidArgument) {
		t.Fatalf("zero quantity: %v", err)
	}
	if _, err := svc.Mint(context.Background(), id, market.MaxMintQuantity+1, 100, buyer); !errors.Is(err, market.ErrInvalidArgument) {
		t.Fatalf("oversized quantity: %v", err)
	}
	if _, err := svc.Mint(context.Background(), id, 1, 100, ""); !errors.Is(err, market.ErrInvalidArgument) {
		t.Fatalf("null caller: %v", err)
	}
}

func TestMintUnknownSong(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.Fund(buyer, 1000)

	_, err := svc.Mint(context.Background(), 42, 1, 1000, buyer)
	if !errors.Is(err, market.ErrSongNotFound) {
		t.Fatalf("expected ErrSongNotFound, got %v", err)
	}
}

func TestMintCostOverflowFailsClosed(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, math.MaxUint64/2, 100_000)
	store.Fund(buyer, 1000)

	_, err := svc.Mint(context.Background(), id, 3, 1000, buyer)
	if !errors.Is(err, market.ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow, got %v", err)
	}
	if issued := issuedOf(t, store, id); issued != 0 {
		t.Fatalf("issued moved on overflow: %d", issued)
	}
}

func TestMintPausedMarket(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 1000)

	err := store.Update(context.Background(), func(v storage.View) error {
		return v.SetConfig(context.Background(), market.Config{Owner: owner, PlatformFee: testFee, Paused: true})
	})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := svc.Mint(context.Background(), id, 1, 1000, buyer); !errors.Is(err, market.ErrMarketPaused) {
		t.Fatalf("expected ErrMarketPaused, got %v", err)
	}
}

func TestMintBatchChargesFeeOnce(t *testing.T) {
	svc, store, bus := newTestService(t)
	first := registerSong(t, store, 100, 10)
	second := registerSong(t, store, 250, 10)
	store.Fund(buyer, 10_000)

	var got []events.Event
	bus.Subscribe(func(evt events.Event) { got = append(got, evt) })

	// 2*100 + 4*250 + fee 10 = 1210
	result, err := svc.MintBatch(context.Background(), []uint64{first, second}, []uint64{2, 4}, 1210, buyer)
	if err != nil {
		t.Fatalf("batch mint: %v", err)
	}
	if result.TotalCost != 1210 || result.Fee != testFee {
		t.Fatalf("unexpected result: %+v", result)
	}

	if b := balance(t, store, artist); b != 1200 {
		t.Fatalf("creator: got %d, want 1200", b)
	}
	if b := balance(t, store, market.Treasury); b != testFee {
		t.Fatalf("treasury: got %d, want %d", b, testFee)
	}

	if len(got) != 2 {
		t.Fatalf("expected one event per pair, got %d", len(got))
	}
	for _, evt := range got {
		payload := evt.Payload.(events.SongsMinted)
		if payload.SongID == first && payload.TotalCost != 200 {
			t.Fatalf("pair event carries %d, want creator share 200", payload.TotalCost)
		}
	}
}

func TestMintBatchAllOrNothing(t *testing.T) {
	svc, store, _ := newTestService(t)
	healthy := registerSong(t, store, 100, 10)
	tiny := registerSong(t, store, 100, 2)
	store.Fund(buyer, 10_000)

	_, err := svc.MintBatch(context.Background(), []uint64{healthy, tiny}, []uint64{5, 3}, 10_000, buyer)
	if !errors.Is(err, market.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	if issued := issuedOf(t, store, healthy); issued != 0 {
		t.Fatalf("first pair settled despite batch failure: %d", issued)
	}
	if b := balance(t, store, buyer); b != 10_000 {
		t.Fatalf("buyer funds moved: %d", b)
	}
}

func TestMintBatchDuplicateIDsShareCapacity(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 10, 10)
	store.Fund(buyer, 10_000)

	// 6 + 6 exceeds the capacity of 10 even though each pair alone fits.
	_, err := svc.MintBatch(context.Background(), []uint64{id, id}, []uint64{6, 6}, 10_000, buyer)
	if !errors.Is(err, market.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// 6 + 4 exactly fills it.
	result, err := svc.MintBatch(context.Background(), []uint64{id, id}, []uint64{6, 4}, 10_000, buyer)
	if err != nil {
		t.Fatalf("batch mint: %v", err)
	}
	if result.TotalCost != 6*10+4*10+testFee {
		t.Fatalf("unexpected cost: %d", result.TotalCost)
	}
	if issued := issuedOf(t, store, id); issued != 10 {
		t.Fatalf("issued: got %d, want 10", issued)
	}
	if u := unitsOf(t, store, buyer, id); u != 10 {
		t.Fatalf("units: got %d, want 10", u)
	}
}

func TestMintBatchShapeValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.MintBatch(ctx, []uint64{1, 2}, []uint64{1}, 100, buyer); !errors.Is(err, market.ErrInvalidArgument) {
		t.Fatalf("length mismatch: %v", err)
	}
	if _, err := svc.MintBatch(ctx, nil, nil, 100, buyer); !errors.Is(err, market.ErrInvalidArgument) {
		t.Fatalf("empty batch: %v", err)
	}

	ids := make([]uint64, market.MaxBatchSize+1)
	qtys := make([]uint64, market.MaxBatchSize+1)
	for i := range qtys {
		qtys[i] = 1
	}
	if _, err := svc.MintBatch(ctx, ids, qtys, 100, buyer); !errors.Is(err, market.ErrInvalidArgument) {
		t.Fatalf("oversized batch: %v", err)
	}
}

func TestMintRejectsReentrantRecipient(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 1000)

	// The creator's payout hook tries to mint again inside the in-flight
	// operation. The nested call must be rejected and the whole outer mint
	// rolled back.
	var nestedErr error
	store.SetTransferHook(artist, func(ctx context.Context) error {
		_, nestedErr = svc.Mint(ctx, id, 1, 500, buyer)
		return nestedErr
	})

	_, err := svc.Mint(context.Background(), id, 1, 500, buyer)
	if !errors.Is(err, market.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if !errors.Is(nestedErr, market.ErrReentrantCall) {
		t.Fatalf("nested call: expected ErrReentrantCall, got %v", nestedErr)
	}

	if issued := issuedOf(t, store, id); issued != 0 {
		t.Fatalf("issued survived rolled-back mint: %d", issued)
	}
	if b := balance(t, store, buyer); b != 1000 {
		t.Fatalf("buyer funds moved: %d", b)
	}
	if b := balance(t, store, artist); b != 0 {
		t.Fatalf("creator paid despite rollback: %d", b)
	}
}

func TestMintHostileRefundRecipientRollsBack(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 200, 10)
	store.Fund(buyer, 1000)

	calls := 0
	store.SetTransferHook(buyer, func(context.Context) error {
		calls++
		return errors.New("refund bounced")
	})

	// Overpayment forces a refund leg, which the hostile buyer rejects.
	_, err := svc.Mint(context.Background(), id, 1, 500, buyer)
	if !errors.Is(err, market.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if calls == 0 {
		t.Fatal("refund hook never ran")
	}
	if b := balance(t, store, buyer); b != 1000 {
		t.Fatalf("buyer funds moved: %d", b)
	}
	if issued := issuedOf(t, store, id); issued != 0 {
		t.Fatalf("issued survived rollback: %d", issued)
	}
}

func TestMintFreeSongChargesOnlyFee(t *testing.T) {
	svc, store, _ := newTestService(t)
	id := registerSong(t, store, 0, 10)
	store.Fund(buyer, 100)

	result, err := svc.Mint(context.Background(), id, 5, testFee, buyer)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if result.TotalCost != testFee {
		t.Fatalf("cost: got %d, want %d", result.TotalCost, testFee)
	}
	if b := balance(t, store, artist); b != 0 {
		t.Fatalf("creator paid for free song: %d", b)
	}
	if u := unitsOf(t, store, buyer, id); u != 5 {
		t.Fatalf("units: got %d, want 5", u)
	}
}
