// Package commit computes the state transition digest attached to every
// execution result.
package commit

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/sha3"
)

// Digest binds an execution result to the tip it was applied on and the
// host height it was applied at:
//
//	sha3-256(prevTip || le64(hostHeight) || le64(len(payload)) || payload)
func Digest(prevTip chainhash.Hash, hostHeight uint64, payload []byte) [32]byte {
	var buf [48]byte
	copy(buf[:32], prevTip[:])
	binary.LittleEndian.PutUint64(buf[32:40], hostHeight)
	binary.LittleEndian.PutUint64(buf[40:], uint64(len(payload)))

	h := sha3.New256()
	h.Write(buf[:])
	h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
