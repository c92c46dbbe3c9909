// Package guard carries the cross-cutting protections every mutating
// marketplace operation passes through: single-writer serialization, rejection
// of reentrant calls, the pause circuit breaker and the authorization
// predicates.
package guard

import (
	"context"
	"strings"

	"github.com/songforge/marketplace/internal/app/domain/market"
	"github.com/songforge/marketplace/internal/app/domain/song"
)

type ctxKey struct{}

// Guard serializes mutating operations and rejects nested re-entry. Concurrent
// callers from different goroutines block until the in-flight operation
// finishes; a call made from within an in-flight operation (for example by a
// recipient transfer hook) fails immediately with market.ErrReentrantCall.
type Guard struct {
	sem chan struct{}
}

// New creates a guard admitting one mutating operation at a time.
func New() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Enter begins a mutating operation. The returned context marks the logical
// transaction and must be passed to everything the operation invokes; the
// returned release function must be called on every exit path.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(ctxKey{}) != nil {
		return nil, nil, market.ErrReentrantCall
	}

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	release := func() { <-g.sem }
	return context.WithValue(ctx, ctxKey{}, struct{}{}), release, nil
}

// EnsureActive rejects operations gated on the Active state.
func EnsureActive(cfg market.Config) error {
	if cfg.Paused {
		return market.ErrMarketPaused
	}
	return nil
}

// IsOwner reports whether the caller holds the platform owner capability.
func IsOwner(cfg market.Config, caller string) bool {
	return cfg.Owner != "" && caller == cfg.Owner
}

// CanManageSong reports whether the caller may mutate the song: its current
// creator or the platform owner.
func CanManageSong(rec song.Song, cfg market.Config, caller string) bool {
	return caller == rec.Creator || IsOwner(cfg, caller)
}

// NormalizeAccount trims an account identifier; an empty result is the null
// account, which never holds any capability.
func NormalizeAccount(account string) string {
	return strings.TrimSpace(account)
}
