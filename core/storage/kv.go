// Package storage provides the ordered, transactional key-value backends the
// light client state lives in.
package storage

import "errors"

var ErrNotFound = errors.New("not found")

// Reader reads committed (or, inside Update, staged) state.
type Reader interface {
	// Get returns a copy of the value, or ErrNotFound.
	Get(key []byte) ([]byte, error)

	// Iterate visits keys with the given prefix in ascending order, or
	// descending when reverse is set. A non-nil startAfter skips every key up
	// to and including it. fn returns false to stop early. fn must not write
	// to the transaction.
	Iterate(prefix, startAfter []byte, reverse bool, fn func(key, value []byte) (bool, error)) error
}

// ReadWriter is a transaction that can stage writes.
type ReadWriter interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

// DB is a backend. Update stages every write made by fn and commits them
// together only when fn returns nil; View sees committed state only.
type DB interface {
	View(fn func(Reader) error) error
	Update(fn func(ReadWriter) error) error
	Close() error
}

// reverseSeek returns a key ordered after every key carrying prefix.
func reverseSeek(prefix []byte) []byte {
	k := make([]byte, len(prefix), len(prefix)+maxSuffix)
	copy(k, prefix)
	for i := 0; i < maxSuffix; i++ {
		k = append(k, 0xff)
	}
	return k
}

// maxSuffix bounds the key bytes following a prefix.
const maxSuffix = 64
