// Package app wires the marketplace core: the song catalog, the mint engine,
// the owner administration and the cross-cutting guard, all sharing one
// transactional store so every public operation is all-or-nothing.
package app
