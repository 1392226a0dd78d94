package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type kvItem struct {
	key, value []byte
}

func lessItem(a, b kvItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemDB keeps state in a copy-on-write btree. Update works on a lazy clone
// and swaps it in on success, so readers never observe a partial update.
type MemDB struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	tree    *btree.BTreeG[kvItem]
}

func NewMemDB() *MemDB {
	return &MemDB{tree: btree.NewG(32, lessItem)}
}

func (db *MemDB) View(fn func(Reader) error) error {
	db.mu.RLock()
	tree := db.tree
	db.mu.RUnlock()
	return fn(&memTxn{tree: tree})
}

func (db *MemDB) Update(fn func(ReadWriter) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.mu.Lock()
	staged := db.tree.Clone()
	db.mu.Unlock()

	if err := fn(&memTxn{tree: staged}); err != nil {
		return err
	}

	db.mu.Lock()
	db.tree = staged
	db.mu.Unlock()
	return nil
}

func (db *MemDB) Close() error { return nil }

type memTxn struct {
	tree *btree.BTreeG[kvItem]
}

func (t *memTxn) Get(key []byte) ([]byte, error) {
	item, ok := t.tree.Get(kvItem{key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(item.value), nil
}

func (t *memTxn) Set(key, value []byte) error {
	t.tree.ReplaceOrInsert(kvItem{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (t *memTxn) Delete(key []byte) error {
	t.tree.Delete(kvItem{key: key})
	return nil
}

func (t *memTxn) Iterate(prefix, startAfter []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	var iterErr error
	visit := func(item kvItem) bool {
		if !bytes.HasPrefix(item.key, prefix) {
			return false
		}
		if startAfter != nil && bytes.Equal(item.key, startAfter) {
			return true
		}
		cont, err := fn(bytes.Clone(item.key), bytes.Clone(item.value))
		if err != nil {
			iterErr = err
			return false
		}
		return cont
	}

	switch {
	case !reverse && startAfter == nil:
		t.tree.AscendGreaterOrEqual(kvItem{key: prefix}, visit)
	case !reverse:
		t.tree.AscendGreaterOrEqual(kvItem{key: startAfter}, visit)
	case startAfter == nil:
		t.tree.DescendLessOrEqual(kvItem{key: reverseSeek(prefix)}, visit)
	default:
		t.tree.DescendLessOrEqual(kvItem{key: startAfter}, visit)
	}
	return iterErr
}
