// Package catalog manages song registration, per-song mutation and the
// creator index.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/domain/song"
	"github.com/songforge/marketplace/internal/app/events"
	"github.com/songforge/marketplace/internal/app/guard"
	"github.com/songforge/marketplace/internal/app/metrics"
	"github.com/songforge/marketplace/internal/app/storage"
	"github.com/songforge/marketplace/pkg/logger"
)

// Service exposes the catalog operations.
type Service struct {
	store storage.Store
	guard *guard.Guard
	bus   *events.Bus
	log   *logger.Logger
}

// New constructs a catalog service.
func New(store storage.Store, g *guard.Guard, bus *events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Service{store: store, guard: g, bus: bus, log: log}
}

// Register creates a new song for the creator, assigning the next dense id.
// Requires the marketplace to be active.
func (s *Service) Register(ctx context.Context, title string, unitPrice, capacity uint64, uri, creator string) (song.Song, error) {
	title = strings.TrimSpace(title)
	uri = strings.TrimSpace(uri)
	creator = guard.NormalizeAccount(creator)

	if title == "" {
		return song.Song{}, fmt.Errorf("%w: title is required", market.ErrInvalidArgument)
	}
	if uri == "" {
		return song.Song{}, fmt.Errorf("%w: uri is required", market.ErrInvalidArgument)
	}
	if capacity == 0 {
		return song.Song{}, fmt.Errorf("%w: capacity must be positive", market.ErrInvalidArgument)
	}
	if creator == "" {
		return song.Song{}, fmt.Errorf("%w: creator account is required", market.ErrInvalidArgument)
	}

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return song.Song{}, err
	}
	defer release()

	var created song.Song
	err = s.store.Update(ctx, func(v storage.View) error {
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		if err := guard.EnsureActive(cfg); err != nil {
			return err
		}

		created, err = v.CreateSong(ctx, song.Song{
			Title:     title,
			Creator:   creator,
			UnitPrice: unitPrice,
			Capacity:  capacity,
			URI:       uri,
		})
		return err
	})
	if err != nil {
		return song.Song{}, err
	}

	s.bus.Publish(events.TypeSongCreated, events.SongCreated{
		SongID:    created.ID,
		Title:     created.Title,
		Creator:   created.Creator,
		UnitPrice: created.UnitPrice,
		Capacity:  created.Capacity,
	})
	metrics.RecordSongRegistered()
	s.log.WithField("song_id", created.ID).
		WithField("creator", created.Creator).
		WithField("capacity", created.Capacity).
		Info("song registered")
	return created, nil
}

// Get returns the song registered at id.
func (s *Service) Get(ctx context.Context, id uint64) (song.Song, error) {
	var rec song.Song
	err := s.store.ReadView(ctx, func(v storage.View) error {
		var err error
		rec, err = v.GetSong(ctx, id)
		return err
	})
	return rec, err
}

// URIOf returns the immutable metadata URI of a song.
func (s *Service) URIOf(ctx context.Context, id uint64) (string, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.URI, nil
}

// List returns a page of the catalog in id order.
func (s *Service) List(ctx context.Context, offset, limit int) ([]song.Song, error) {
	var recs []song.Song
	err := s.store.ReadView(ctx, func(v storage.View) error {
		var err error
		recs, err = v.ListSongs(ctx, offset, limit)
		return err
	})
	return recs, err
}

// CreatorsSongs returns the ids currently credited to the creator. The
// collection may be empty and carries no ordering guarantee.
func (s *Service) CreatorsSongs(ctx context.Context, creator string) ([]uint64, error) {
	creator = guard.NormalizeAccount(creator)
	var ids []uint64
	err := s.store.ReadView(ctx, func(v storage.View) error {
		var err error
		ids, err = v.SongsByCreator(ctx, creator)
		return err
	})
	return ids, err
}

// SetPrice changes a song's unit price. Only the song's creator or the
// platform owner may call it.
func (s *Service) SetPrice(ctx context.Context, id uint64, newPrice uint64, caller string) (song.Song, error) {
	caller = guard.NormalizeAccount(caller)

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return song.Song{}, err
	}
	defer release()

	var updated song.Song
	var oldPrice uint64
	err = s.store.Update(ctx, func(v storage.View) error {
		rec, err := v.GetSong(ctx, id)
		if err != nil {
			return err
		}
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		if !guard.CanManageSong(rec, cfg, caller) {
			return fmt.Errorf("%w: %s is neither creator nor owner of song %d", market.ErrUnauthorized, caller, id)
		}

		oldPrice = rec.UnitPrice
		rec.UnitPrice = newPrice
		if err := v.UpdateSong(ctx, rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return song.Song{}, err
	}

	s.bus.Publish(events.TypePriceUpdated, events.PriceUpdated{
		SongID:   id,
		OldPrice: oldPrice,
		NewPrice: newPrice,
	})
	s.log.WithField("song_id", id).
		WithField("old_price", oldPrice).
		WithField("new_price", newPrice).
		Info("song price updated")
	return updated, nil
}

// ReassignCreator moves creatorship of a song to another account, repairing
// both creator-index entries in the same unit of work. Only the current
// creator or the platform owner may call it.
func (s *Service) ReassignCreator(ctx context.Context, id uint64, newCreator, caller string) (song.Song, error) {
	newCreator = guard.NormalizeAccount(newCreator)
	caller = guard.NormalizeAccount(caller)

	if newCreator == "" {
		return song.Song{}, fmt.Errorf("%w: new creator cannot be the null account", market.ErrInvalidArgument)
	}

	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return song.Song{}, err
	}
	defer release()

	var updated song.Song
	var oldCreator string
	err = s.store.Update(ctx, func(v storage.View) error {
		rec, err := v.GetSong(ctx, id)
		if err != nil {
			return err
		}
		cfg, err := v.Config(ctx)
		if err != nil {
			return err
		}
		if !guard.CanManageSong(rec, cfg, caller) {
			return fmt.Errorf("%w: %s is neither creator nor owner of song %d", market.ErrUnauthorized, caller, id)
		}

		oldCreator = rec.Creator
		if err := v.MoveSongCreator(ctx, id, newCreator); err != nil {
			return err
		}
		updated, err = v.GetSong(ctx, id)
		return err
	})
	if err != nil {
		return song.Song{}, err
	}

	s.bus.Publish(events.TypeCreatorChanged, events.CreatorChanged{
		SongID:     id,
		OldCreator: oldCreator,
		NewCreator: newCreator,
	})
	s.log.WithField("song_id", id).
		WithField("old_creator", oldCreator).
		WithField("new_creator", newCreator).
		Info("song creator reassigned")
	return updated, nil
}
