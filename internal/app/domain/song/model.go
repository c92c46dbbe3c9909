package song

import "time"

// Song is a catalog entry: a creator's offering minted as fungible-per-id
// units. IDs are dense and assigned sequentially from zero by the catalog;
// Capacity and URI are immutable after registration and Issued only grows.
type Song struct {
	ID        uint64
	Title     string
	Creator   string
	UnitPrice uint64
	Capacity  uint64
	Issued    uint64
	URI       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining reports how many units can still be minted.
func (s Song) Remaining() uint64 {
	if s.Issued >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Issued
}
