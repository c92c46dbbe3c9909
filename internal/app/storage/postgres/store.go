// Package postgres implements the marketplace store on PostgreSQL. Every
// Update runs inside one serializable transaction, so the all-or-nothing
// contract of storage.Store holds across the catalog, the config and the
// ledger/bank tables.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/songforge/marketplace/internal/app/domain/bank"
	"github.com/songforge/marketplace/internal/app/domain/ledger"
	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/domain/song"
	"github.com/songforge/marketplace/internal/app/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS songs (
		id         BIGINT PRIMARY KEY,
		title      TEXT NOT NULL,
		creator    TEXT NOT NULL,
		unit_price NUMERIC(20,0) NOT NULL,
		capacity   NUMERIC(20,0) NOT NULL CHECK (capacity > 0),
		issued     NUMERIC(20,0) NOT NULL DEFAULT 0 CHECK (issued >= 0 AND issued <= capacity),
		uri        TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS songs_creator_idx ON songs (creator)`,
	`CREATE TABLE IF NOT EXISTS ledger_balances (
		owner   TEXT NOT NULL,
		song_id BIGINT NOT NULL REFERENCES songs (id),
		units   NUMERIC(20,0) NOT NULL CHECK (units >= 0),
		PRIMARY KEY (owner, song_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bank_accounts (
		account TEXT PRIMARY KEY,
		balance NUMERIC(20,0) NOT NULL CHECK (balance >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS platform_config (
		id           SMALLINT PRIMARY KEY CHECK (id = 1),
		owner        TEXT NOT NULL,
		platform_fee NUMERIC(20,0) NOT NULL,
		paused       BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the marketplace tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, fn func(storage.View) error) error {
	return s.runTx(ctx, false, fn)
}

// ReadView implements storage.Store.
func (s *Store) ReadView(ctx context.Context, fn func(storage.View) error) error {
	return s.runTx(ctx, true, fn)
}

func (s *Store) runTx(ctx context.Context, readOnly bool, fn func(storage.View) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
		ReadOnly:  readOnly,
	})
	if err != nil {
		return err
	}

	if err := fn(&view{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type view struct {
	tx *sql.Tx
}

var _ storage.View = (*view)(nil)

func (v *view) CreateSong(ctx context.Context, rec song.Song) (song.Song, error) {
	// IDs are dense and zero-based; MAX+1 inside a serializable transaction
	// keeps assignment monotonic.
	row := v.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM songs`)
	if err := row.Scan(&rec.ID); err != nil {
		return song.Song{}, err
	}

	now := time.Now().UTC()
	rec.Issued = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := v.tx.ExecContext(ctx, `
		INSERT INTO songs (id, title, creator, unit_price, capacity, issued, uri, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
	`, rec.ID, rec.Title, rec.Creator, rec.UnitPrice, rec.Capacity, rec.URI, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return song.Song{}, err
	}
	return rec, nil
}

func (v *view) GetSong(ctx context.Context, id uint64) (song.Song, error) {
	row := v.tx.QueryRowContext(ctx, `
		SELECT id, title, creator, unit_price, capacity, issued, uri, created_at, updated_at
		FROM songs
		WHERE id = $1
	`, id)

	var rec song.Song
	err := row.Scan(&rec.ID, &rec.Title, &rec.Creator, &rec.UnitPrice, &rec.Capacity,
		&rec.Issued, &rec.URI, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return song.Song{}, fmt.Errorf("%w: id %d", market.ErrSongNotFound, id)
	}
	if err != nil {
		return song.Song{}, err
	}
	return rec, nil
}

func (v *view) UpdateSong(ctx context.Context, rec song.Song) error {
	existing, err := v.GetSong(ctx, rec.ID)
	if err != nil {
		return err
	}
	if existing.Creator != rec.Creator {
		return fmt.Errorf("%w: creator must be changed via MoveSongCreator", market.ErrInvalidArgument)
	}

	_, err = v.tx.ExecContext(ctx, `
		UPDATE songs
		SET title = $2, unit_price = $3, issued = $4, updated_at = $5
		WHERE id = $1
	`, rec.ID, rec.Title, rec.UnitPrice, rec.Issued, time.Now().UTC())
	return err
}

func (v *view) SongsByCreator(ctx context.Context, creator string) ([]uint64, error) {
	rows, err := v.tx.QueryContext(ctx, `SELECT id FROM songs WHERE creator = $1`, creator)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (v *view) ListSongs(ctx context.Context, offset, limit int) ([]song.Song, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := v.tx.QueryContext(ctx, `
		SELECT id, title, creator, unit_price, capacity, issued, uri, created_at, updated_at
		FROM songs
		ORDER BY id
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []song.Song
	for rows.Next() {
		var rec song.Song
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Creator, &rec.UnitPrice, &rec.Capacity,
			&rec.Issued, &rec.URI, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (v *view) MoveSongCreator(ctx context.Context, id uint64, newCreator string) error {
	result, err := v.tx.ExecContext(ctx, `
		UPDATE songs SET creator = $2, updated_at = $3 WHERE id = $1
	`, id, newCreator, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: id %d", market.ErrSongNotFound, id)
	}
	return nil
}

func (v *view) Config(ctx context.Context) (market.Config, error) {
	row := v.tx.QueryRowContext(ctx, `
		SELECT owner, platform_fee, paused, updated_at FROM platform_config WHERE id = 1
	`)

	var cfg market.Config
	err := row.Scan(&cfg.Owner, &cfg.PlatformFee, &cfg.Paused, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Config{}, nil
	}
	if err != nil {
		return market.Config{}, err
	}
	return cfg, nil
}

func (v *view) SetConfig(ctx context.Context, cfg market.Config) error {
	_, err := v.tx.ExecContext(ctx, `
		INSERT INTO platform_config (id, owner, platform_fee, paused, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET owner = EXCLUDED.owner, platform_fee = EXCLUDED.platform_fee,
		    paused = EXCLUDED.paused, updated_at = EXCLUDED.updated_at
	`, cfg.Owner, cfg.PlatformFee, cfg.Paused, time.Now().UTC())
	return err
}

func (v *view) Ledger() ledger.Ledger { return (*viewLedger)(v) }
func (v *view) Bank() bank.Bank       { return (*viewBank)(v) }

type viewLedger view

var _ ledger.Ledger = (*viewLedger)(nil)

func (l *viewLedger) Mint(ctx context.Context, owner string, songID uint64, qty uint64) error {
	_, err := l.tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (owner, song_id, units)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner, song_id) DO UPDATE SET units = ledger_balances.units + EXCLUDED.units
	`, owner, songID, qty)
	return err
}

func (l *viewLedger) BalanceOf(ctx context.Context, owner string, songID uint64) (uint64, error) {
	row := l.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(units), 0) FROM ledger_balances WHERE owner = $1 AND song_id = $2
	`, owner, songID)

	var units uint64
	if err := row.Scan(&units); err != nil {
		return 0, err
	}
	return units, nil
}

func (l *viewLedger) Transfer(ctx context.Context, from, to string, songID uint64, qty uint64) error {
	result, err := l.tx.ExecContext(ctx, `
		UPDATE ledger_balances SET units = units - $3
		WHERE owner = $1 AND song_id = $2 AND units >= $3
	`, from, songID, qty)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s lacks %d units of song %d", market.ErrInvalidArgument, from, qty, songID)
	}
	return l.Mint(ctx, to, songID, qty)
}

type viewBank view

var _ bank.Bank = (*viewBank)(nil)

func (b *viewBank) Balance(ctx context.Context, account string) (uint64, error) {
	row := b.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(balance), 0) FROM bank_accounts WHERE account = $1
	`, account)

	var balance uint64
	if err := row.Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (b *viewBank) Deposit(ctx context.Context, account string, amount uint64) error {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO bank_accounts (account, balance)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET balance = bank_accounts.balance + EXCLUDED.balance
	`, account, amount)
	return err
}

func (b *viewBank) Transfer(ctx context.Context, from, to string, amount uint64) error {
	result, err := b.tx.ExecContext(ctx, `
		UPDATE bank_accounts SET balance = balance - $2
		WHERE account = $1 AND balance >= $2
	`, from, amount)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: account %s cannot cover %d", bank.ErrInsufficientFunds, from, amount)
	}
	return b.Deposit(ctx, to, amount)
}
