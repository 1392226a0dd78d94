package headerstore

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	headerPrefix = []byte("header:")
	heightPrefix = []byte("height:")
	branchPrefix = []byte("branch:")
	tipKey       = []byte("chain:tip")
	baseKey      = []byte("chain:base")
)

func headerKey(hash chainhash.Hash) []byte {
	return append(append([]byte{}, headerPrefix...), hash[:]...)
}

// heightKey is big-endian so the height index iterates in numeric order.
func heightKey(height uint64) []byte {
	k := make([]byte, len(heightPrefix)+8)
	copy(k, heightPrefix)
	binary.BigEndian.PutUint64(k[len(heightPrefix):], height)
	return k
}

func branchKey(tip chainhash.Hash) []byte {
	return append(append([]byte{}, branchPrefix...), tip[:]...)
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
