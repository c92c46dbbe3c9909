package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/songforge/marketplace/internal/app/domain/bank"
	"github.com/songforge/marketplace/internal/app/domain/ledger"
	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/domain/song"
	"github.com/songforge/marketplace/internal/app/storage"
)

// Store is an in-memory implementation of storage.Store. It is safe for
// concurrent use and is primarily intended for tests and local development.
// Every Update stages its mutations on a deep copy of the state and swaps the
// copy in only when the unit of work succeeds, so failed operations leave no
// trace.
type Store struct {
	mu    sync.RWMutex
	state marketState

	hookMu sync.RWMutex
	hooks  map[string]bank.TransferHook
}

var _ storage.Store = (*Store)(nil)

type marketState struct {
	nextSongID   uint64
	songs        map[uint64]song.Song
	creatorIndex map[string][]uint64
	config       market.Config
	units        map[uint64]map[string]uint64 // songID -> owner -> held units
	funds        map[string]uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		state: marketState{
			songs:        make(map[uint64]song.Song),
			creatorIndex: make(map[string][]uint64),
			units:        make(map[uint64]map[string]uint64),
			funds:        make(map[string]uint64),
		},
		hooks: make(map[string]bank.TransferHook),
	}
}

// SetTransferHook registers recipient-controlled code invoked whenever funds
// arrive at the account. Passing nil removes the hook. Intended for tests
// modeling hostile recipients.
func (s *Store) SetTransferHook(account string, hook bank.TransferHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	if hook == nil {
		delete(s.hooks, account)
		return
	}
	s.hooks[account] = hook
}

// Fund credits an account outside any unit of work. Test helper.
func (s *Store) Fund(account string, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.funds[account] += amount
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, fn func(storage.View) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := cloneState(s.state)
	view := &view{store: s, state: &staged}
	if err := fn(view); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// ReadView implements storage.Store. Mutations staged by fn are discarded.
func (s *Store) ReadView(ctx context.Context, fn func(storage.View) error) error {
	s.mu.RLock()
	staged := cloneState(s.state)
	s.mu.RUnlock()

	return fn(&view{store: s, state: &staged})
}

type view struct {
	store *Store
	state *marketState
}

var _ storage.View = (*view)(nil)

func (v *view) CreateSong(_ context.Context, rec song.Song) (song.Song, error) {
	rec.ID = v.state.nextSongID
	v.state.nextSongID++

	now := time.Now().UTC()
	rec.Issued = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now

	v.state.songs[rec.ID] = rec
	v.state.creatorIndex[rec.Creator] = append(v.state.creatorIndex[rec.Creator], rec.ID)
	return rec, nil
}

func (v *view) GetSong(_ context.Context, id uint64) (song.Song, error) {
	rec, ok := v.state.songs[id]
	if !ok {
		return song.Song{}, fmt.Errorf("%w: id %d", market.ErrSongNotFound, id)
	}
	return rec, nil
}

func (v *view) UpdateSong(_ context.Context, rec song.Song) error {
	original, ok := v.state.songs[rec.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", market.ErrSongNotFound, rec.ID)
	}
	if original.Creator != rec.Creator {
		return fmt.Errorf("%w: creator must be changed via MoveSongCreator", market.ErrInvalidArgument)
	}

	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	v.state.songs[rec.ID] = rec
	return nil
}

func (v *view) SongsByCreator(_ context.Context, creator string) ([]uint64, error) {
	ids := v.state.creatorIndex[creator]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

func (v *view) ListSongs(_ context.Context, offset, limit int) ([]song.Song, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}

	var out []song.Song
	// IDs are dense, so a sequential scan yields id order.
	for id := uint64(offset); id < v.state.nextSongID && len(out) < limit; id++ {
		if rec, ok := v.state.songs[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MoveSongCreator removes the id from the old creator's collection with a
// swap-with-last and appends it to the new creator's. Enumeration order is
// not preserved; none is promised.
func (v *view) MoveSongCreator(_ context.Context, id uint64, newCreator string) error {
	rec, ok := v.state.songs[id]
	if !ok {
		return fmt.Errorf("%w: id %d", market.ErrSongNotFound, id)
	}
	if rec.Creator == newCreator {
		return nil
	}

	old := v.state.creatorIndex[rec.Creator]
	for i, sid := range old {
		if sid == id {
			old[i] = old[len(old)-1]
			old = old[:len(old)-1]
			break
		}
	}
	if len(old) == 0 {
		delete(v.state.creatorIndex, rec.Creator)
	} else {
		v.state.creatorIndex[rec.Creator] = old
	}
	v.state.creatorIndex[newCreator] = append(v.state.creatorIndex[newCreator], id)

	rec.Creator = newCreator
	rec.UpdatedAt = time.Now().UTC()
	v.state.songs[id] = rec
	return nil
}

func (v *view) Config(_ context.Context) (market.Config, error) {
	return v.state.config, nil
}

func (v *view) SetConfig(_ context.Context, cfg market.Config) error {
	cfg.UpdatedAt = time.Now().UTC()
	v.state.config = cfg
	return nil
}

func (v *view) Ledger() ledger.Ledger { return (*viewLedger)(v) }
func (v *view) Bank() bank.Bank       { return (*viewBank)(v) }

// viewLedger tracks song-unit balances inside the staged state.
type viewLedger view

var _ ledger.Ledger = (*viewLedger)(nil)

func (l *viewLedger) Mint(_ context.Context, owner string, songID uint64, qty uint64) error {
	holders := l.state.units[songID]
	if holders == nil {
		holders = make(map[string]uint64)
		l.state.units[songID] = holders
	}
	holders[owner] += qty
	return nil
}

func (l *viewLedger) BalanceOf(_ context.Context, owner string, songID uint64) (uint64, error) {
	return l.state.units[songID][owner], nil
}

func (l *viewLedger) Transfer(_ context.Context, from, to string, songID uint64, qty uint64) error {
	holders := l.state.units[songID]
	if holders[from] < qty {
		return fmt.Errorf("%w: %s holds %d units of song %d, need %d",
			market.ErrInvalidArgument, from, holders[from], songID, qty)
	}
	holders[from] -= qty
	holders[to] += qty
	return nil
}

// viewBank tracks currency balances inside the staged state. Inbound
// transfers run the recipient's registered hook, if any; a hook error rejects
// the transfer.
type viewBank view

var _ bank.Bank = (*viewBank)(nil)

func (b *viewBank) Balance(_ context.Context, account string) (uint64, error) {
	return b.state.funds[account], nil
}

func (b *viewBank) Deposit(_ context.Context, account string, amount uint64) error {
	b.state.funds[account] += amount
	return nil
}

func (b *viewBank) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if b.state.funds[from] < amount {
		return fmt.Errorf("%w: account %s holds %d, need %d",
			bank.ErrInsufficientFunds, from, b.state.funds[from], amount)
	}

	b.state.funds[from] -= amount
	b.state.funds[to] += amount

	b.store.hookMu.RLock()
	hook := b.store.hooks[to]
	b.store.hookMu.RUnlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return fmt.Errorf("%w: recipient %s rejected %d: %v", market.ErrTransferFailed, to, amount, err)
		}
	}
	return nil
}

func cloneState(in marketState) marketState {
	out := marketState{
		nextSongID:   in.nextSongID,
		config:       in.config,
		songs:        make(map[uint64]song.Song, len(in.songs)),
		creatorIndex: make(map[string][]uint64, len(in.creatorIndex)),
		units:        make(map[uint64]map[string]uint64, len(in.units)),
		funds:        make(map[string]uint64, len(in.funds)),
	}
	for id, rec := range in.songs {
		out.songs[id] = rec
	}
	for creator, ids := range in.creatorIndex {
		cp := make([]uint64, len(ids))
		copy(cp, ids)
		out.creatorIndex[creator] = cp
	}
	for songID, holders := range in.units {
		cp := make(map[string]uint64, len(holders))
		for owner, qty := range holders {
			cp[owner] = qty
		}
		out.units[songID] = cp
	}
	for account, balance := range in.funds {
		out.funds[account] = balance
	}
	return out
}
