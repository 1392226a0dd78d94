package storage

import "btclc/core/header"

// ChainReader is the read-only header view the validation rules need.
// Implementations describe a single branch ending at Height().
type ChainReader interface {
	// HeaderByHeight returns the header at height on the branch, or nil when
	// the height is below the base header or above the branch tip.
	HeaderByHeight(height uint64) *header.Header

	// Height returns the height of the branch tip.
	Height() uint64
}
