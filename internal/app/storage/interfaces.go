package storage

import (
	"context"

	"github.com/songforge/marketplace/internal/app/domain/bank"
	"github.com/songforge/marketplace/internal/app/domain/ledger"
	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/domain/song"
)

// View is a consistent view of the whole marketplace state: the song catalog,
// the creator index, the platform config and the ledger/bank balances.
// Mutations staged through a View become visible to other callers only when
// the enclosing Update commits.
type View interface {
	// CreateSong assigns the next dense id (starting at zero), stores the
	// song with Issued=0 and appends the id to the creator's index entry.
	CreateSong(ctx context.Context, s song.Song) (song.Song, error)

	// GetSong returns the song registered at id, or market.ErrSongNotFound.
	GetSong(ctx context.Context, id uint64) (song.Song, error)

	// UpdateSong replaces the stored record for s.ID. The creator field must
	// be changed through MoveSongCreator so the index stays consistent.
	UpdateSong(ctx context.Context, s song.Song) error

	// SongsByCreator returns the ids currently credited to the creator. No
	// enumeration order is guaranteed.
	SongsByCreator(ctx context.Context, creator string) ([]uint64, error)

	// ListSongs returns up to limit songs starting at offset, in id order.
	ListSongs(ctx context.Context, offset, limit int) ([]song.Song, error)

	// MoveSongCreator rewrites the song's creator and repairs both index
	// entries as one step.
	MoveSongCreator(ctx context.Context, id uint64, newCreator string) error

	// Config returns the platform singleton.
	Config(ctx context.Context) (market.Config, error)

	// SetConfig replaces the platform singleton.
	SetConfig(ctx context.Context, cfg market.Config) error

	// Ledger exposes song-unit balances scoped to this view.
	Ledger() ledger.Ledger

	// Bank exposes currency balances scoped to this view.
	Bank() bank.Bank
}

// Store persists marketplace state and brackets every mutation in an
// all-or-nothing unit of work.
type Store interface {
	// Update runs fn against a serializable transactional view. If fn
	// returns an error, every mutation staged by fn is discarded.
	Update(ctx context.Context, fn func(View) error) error

	// ReadView runs fn against a consistent read-only view.
	ReadView(ctx context.Context, fn func(View) error) error
}
