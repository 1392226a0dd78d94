package storage

import (
	"bytes"
	"errors"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB persists state in badger. Each Update is one badger transaction.
type BadgerDB struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store under dataDir/badger.
func OpenBadger(dataDir string) (*BadgerDB, error) {
	dbPath := filepath.Join(dataDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &BadgerDB{db: db}, nil
}

// OpenBadgerInMemory opens a badger instance that never touches disk.
func OpenBadgerInMemory() (*BadgerDB, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &BadgerDB{db: db}, nil
}

func (s *BadgerDB) View(fn func(Reader) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

func (s *BadgerDB) Update(fn func(ReadWriter) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

func (s *BadgerDB) Close() error {
	return s.db.Close()
}

type badgerTxn struct {
	txn *badger.Txn
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key, value []byte) error {
	return t.txn.Set(key, value)
}

func (t *badgerTxn) Delete(key []byte) error {
	return t.txn.Delete(key)
}

// Iterate opens a single iterator; badger allows only one per read-write
// transaction, so callers never nest Iterate calls.
func (t *badgerTxn) Iterate(prefix, startAfter []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seek := startAfter
	if seek == nil {
		seek = prefix
		if reverse {
			seek = reverseSeek(prefix)
		}
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if startAfter != nil && bytes.Equal(key, startAfter) {
			continue
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		cont, err := fn(key, val)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
