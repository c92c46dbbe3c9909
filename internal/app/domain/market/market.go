// Package market holds the platform-wide configuration, the shared error
// taxonomy and the numeric limits every marketplace operation observes.
package market

import "time"

const (
	// MaxMintQuantity bounds the units a single mint request may ask for.
	MaxMintQuantity uint64 = 100_000

	// MaxBatchSize bounds the number of song/quantity pairs in a batch mint.
	MaxBatchSize = 50

	// MaxPlatformFee caps the flat per-mint surcharge at one whole currency
	// unit expressed in smallest units.
	MaxPlatformFee uint64 = 1_000_000_000_000_000_000

	// Treasury is the bank account that accumulates platform fees until the
	// owner withdraws them.
	Treasury = "marketplace:treasury"
)

// Config is the platform singleton: the owner capability, the flat mint fee
// and the circuit-breaker flag. It is created once at initialization and
// mutated only through owner-gated administration operations.
type Config struct {
	Owner       string
	PlatformFee uint64
	Paused      bool
	UpdatedAt   time.Time
}

// Active reports whether mint and registration operations are admitted.
func (c Config) Active() bool { return !c.Paused }
