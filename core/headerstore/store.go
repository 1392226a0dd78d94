// Package headerstore indexes stored headers by hash and canonical height and
// keeps the records of non-canonical branches.
package headerstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/storage"
)

// ErrNotFound is returned, wrapped with the missing key, for lookup misses.
var ErrNotFound = storage.ErrNotFound

// Reader answers header lookups against a storage snapshot.
type Reader struct {
	kv storage.Reader
}

func NewReader(kv storage.Reader) *Reader {
	return &Reader{kv: kv}
}

// GetByHash returns any stored header, canonical or not.
func (r *Reader) GetByHash(hash chainhash.Hash) (*header.Header, error) {
	raw, err := r.kv.Get(headerKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("header %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var h header.Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode header %s: %w", hash, err)
	}
	return &h, nil
}

// GetByHashHex looks a header up by its byte-reversed hex hash.
func (r *Reader) GetByHashHex(s string) (*header.Header, error) {
	hash, err := header.ParseHash(s)
	if err != nil {
		return nil, err
	}
	return r.GetByHash(hash)
}

// CanonicalHash returns the hash of the canonical header at height.
func (r *Reader) CanonicalHash(height uint64) (chainhash.Hash, error) {
	raw, err := r.kv.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return chainhash.Hash{}, fmt.Errorf("header at height %d: %w", height, ErrNotFound)
	}
	if err != nil {
		return chainhash.Hash{}, err
	}
	var hash chainhash.Hash
	copy(hash[:], raw)
	return hash, nil
}

// GetByHeight returns the canonical header at height.
func (r *Reader) GetByHeight(height uint64) (*header.Header, error) {
	hash, err := r.CanonicalHash(height)
	if err != nil {
		return nil, err
	}
	return r.GetByHash(hash)
}

func (r *Reader) BaseHeight() (uint64, error) {
	return r.getUint64(baseKey, "base header")
}

func (r *Reader) TipHeight() (uint64, error) {
	return r.getUint64(tipKey, "tip header")
}

func (r *Reader) getUint64(key []byte, what string) (uint64, error) {
	raw, err := r.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return decodeUint64(raw), nil
}

// Base returns the header the chain was initialized with.
func (r *Reader) Base() (*header.Header, error) {
	height, err := r.BaseHeight()
	if err != nil {
		return nil, err
	}
	return r.GetByHeight(height)
}

// Tip returns the canonical tip.
func (r *Reader) Tip() (*header.Header, error) {
	height, err := r.TipHeight()
	if err != nil {
		return nil, err
	}
	return r.GetByHeight(height)
}

// IsCanonical reports whether h is the canonical header at its height.
func (r *Reader) IsCanonical(h *header.Header) (bool, error) {
	hash, err := r.CanonicalHash(h.Height)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return hash == h.Hash(), nil
}

// Range pages through the canonical chain. startAfter is exclusive; without
// it, ascending ranges start at the base and descending ranges at the tip.
// A nil or zero limit means config.DefaultRangeLimit and limits above
// config.MaxRangeLimit are clamped.
func (r *Reader) Range(startAfter *uint64, limit *uint32, reverse bool) ([]*header.Header, error) {
	n := ClampLimit(limit)
	var after []byte
	if startAfter != nil {
		after = heightKey(*startAfter)
	}

	hashes := make([]chainhash.Hash, 0, n)
	err := r.kv.Iterate(heightPrefix, after, reverse, func(_, v []byte) (bool, error) {
		var hash chainhash.Hash
		copy(hash[:], v)
		hashes = append(hashes, hash)
		return len(hashes) < n, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*header.Header, 0, len(hashes))
	for _, hash := range hashes {
		h, err := r.GetByHash(hash)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// ClampLimit applies the range limit policy.
func ClampLimit(limit *uint32) int {
	switch {
	case limit == nil || *limit == 0:
		return config.DefaultRangeLimit
	case *limit > config.MaxRangeLimit:
		return config.MaxRangeLimit
	default:
		return int(*limit)
	}
}

// Branches returns every stored branch ordered by tip hash bytes.
func (r *Reader) Branches() ([]Branch, error) {
	var out []Branch
	err := r.kv.Iterate(branchPrefix, nil, false, func(_, v []byte) (bool, error) {
		var b Branch
		if err := json.Unmarshal(v, &b); err != nil {
			return false, fmt.Errorf("decode branch: %w", err)
		}
		out = append(out, b)
		return true, nil
	})
	return out, err
}

// Store adds the write operations. It only exists inside a storage
// transaction, so every write commits or rolls back with the invocation.
type Store struct {
	*Reader
	kv storage.ReadWriter
}

func New(kv storage.ReadWriter) *Store {
	return &Store{Reader: NewReader(kv), kv: kv}
}

// Init stores the base header as both base and tip.
func (s *Store) Init(base *header.Header) error {
	if err := s.PutHeader(base); err != nil {
		return err
	}
	if err := s.SetCanonical(base.Height, base.Hash()); err != nil {
		return err
	}
	if err := s.kv.Set(baseKey, encodeUint64(base.Height)); err != nil {
		return err
	}
	return s.SetTip(base.Height)
}

// PutHeader stores h by hash. Height and TotalWork must already be set.
func (s *Store) PutHeader(h *header.Header) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return s.kv.Set(headerKey(h.Hash()), raw)
}

func (s *Store) DeleteHeader(hash chainhash.Hash) error {
	return s.kv.Delete(headerKey(hash))
}

func (s *Store) SetCanonical(height uint64, hash chainhash.Hash) error {
	return s.kv.Set(heightKey(height), hash[:])
}

func (s *Store) DeleteCanonical(height uint64) error {
	return s.kv.Delete(heightKey(height))
}

func (s *Store) SetTip(height uint64) error {
	return s.kv.Set(tipKey, encodeUint64(height))
}

// PutBranch stores b keyed by its tip hash.
func (s *Store) PutBranch(b Branch) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.kv.Set(branchKey(b.Tip()), raw)
}

func (s *Store) DeleteBranch(tip chainhash.Hash) error {
	return s.kv.Delete(branchKey(tip))
}
