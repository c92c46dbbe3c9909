package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/domain/song"
	"github.com/songforge/marketplace/internal/app/storage"
)

func TestEnsureSchemaExecutesAllStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	for range schemaStatements {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	store := New(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureSchemaStopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(".*").WillReturnError(errors.New("boom"))

	store := New(db)
	if err := store.EnsureSchema(context.Background()); err == nil {
		t.Fatal("expected error from EnsureSchema")
	}
}

func TestUpdateRollsBackOnCallbackError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	store := New(db)
	callbackErr := errors.New("no thanks")
	err = store.Update(context.Background(), func(storage.View) error {
		return callbackErr
	})
	if !errors.Is(err, callbackErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// openTestStore connects to the database named by TEST_POSTGRES_DSN. Tests
// that need a real database skip when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	tables := []string{"ledger_balances", "bank_accounts", "songs", "platform_config"}
	for _, table := range tables {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return store
}

func TestSongLifecycleIntegration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var created song.Song
	err := store.Update(ctx, func(v storage.View) error {
		var err error
		created, err = v.CreateSong(ctx, song.Song{
			Title:     "First Light",
			Creator:   "artist-1",
			UnitPrice: 200,
			Capacity:  10,
			URI:       "ipfs://first-light",
		})
		return err
	})
	if err != nil {
		t.Fatalf("create song: %v", err)
	}
	if created.ID != 0 {
		t.Fatalf("expected first song id 0, got %d", created.ID)
	}

	err = store.ReadView(ctx, func(v storage.View) error {
		got, err := v.GetSong(ctx, created.ID)
		if err != nil {
			return err
		}
		if got.Title != "First Light" || got.Issued != 0 {
			t.Fatalf("unexpected song: %+v", got)
		}

		ids, err := v.SongsByCreator(ctx, "artist-1")
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != created.ID {
			t.Fatalf("unexpected creator index: %v", ids)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	err = store.ReadView(ctx, func(v storage.View) error {
		_, err := v.GetSong(ctx, 999)
		return err
	})
	if !errors.Is(err, market.ErrSongNotFound) {
		t.Fatalf("expected ErrSongNotFound, got %v", err)
	}
}

func TestUpdateAtomicityIntegration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	forced := errors.New("forced")
	err := store.Update(ctx, func(v storage.View) error {
		if _, err := v.CreateSong(ctx, song.Song{
			Title: "Doomed", Creator: "artist-2", UnitPrice: 1, Capacity: 5, URI: "ipfs://doomed",
		}); err != nil {
			return err
		}
		if err := v.Bank().Deposit(ctx, "buyer", 500); err != nil {
			return err
		}
		return forced
	})
	if !errors.Is(err, forced) {
		t.Fatalf("expected forced error, got %v", err)
	}

	err = store.ReadView(ctx, func(v storage.View) error {
		if _, err := v.GetSong(ctx, 0); !errors.Is(err, market.ErrSongNotFound) {
			t.Fatalf("song survived rollback: %v", err)
		}
		balance, err := v.Bank().Balance(ctx, "buyer")
		if err != nil {
			return err
		}
		if balance != 0 {
			t.Fatalf("deposit survived rollback: %d", balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify rollback: %v", err)
	}
}

func TestLedgerAndBankIntegration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.Update(ctx, func(v storage.View) error {
		rec, err := v.CreateSong(ctx, song.Song{
			Title: "Units", Creator: "artist-3", UnitPrice: 10, Capacity: 100, URI: "ipfs://units",
		})
		if err != nil {
			return err
		}
		if err := v.Ledger().Mint(ctx, "buyer", rec.ID, 7); err != nil {
			return err
		}
		if err := v.Bank().Deposit(ctx, "buyer", 70); err != nil {
			return err
		}
		return v.Bank().Transfer(ctx, "buyer", market.Treasury, 70)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.ReadView(ctx, func(v storage.View) error {
		units, err := v.Ledger().BalanceOf(ctx, "buyer", 0)
		if err != nil {
			return err
		}
		if units != 7 {
			t.Fatalf("expected 7 units, got %d", units)
		}

		treasury, err := v.Bank().Balance(ctx, market.Treasury)
		if err != nil {
			return err
		}
		if treasury != 70 {
			t.Fatalf("expected treasury 70, got %d", treasury)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	err = store.Update(ctx, func(v storage.View) error {
		return v.Bank().Transfer(ctx, "buyer", market.Treasury, 1)
	})
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}
}
