// Package ledger defines the asset-ledger capability the marketplace core
// consumes. The ledger tracks how many units of each song an account holds;
// the core only ever mints to buyers and reads balances — transfer/approval
// bookkeeping belongs to the ledger implementation, not to this module.
package ledger

import "context"

// Ledger is the external balance-tracking collaborator for minted song units.
type Ledger interface {
	// Mint credits qty units of songID to owner.
	Mint(ctx context.Context, owner string, songID uint64, qty uint64) error

	// BalanceOf reports how many units of songID the owner holds.
	BalanceOf(ctx context.Context, owner string, songID uint64) (uint64, error)

	// Transfer moves qty units of songID between holders.
	Transfer(ctx context.Context, from, to string, songID uint64, qty uint64) error
}
