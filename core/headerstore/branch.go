package headerstore

import (
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"btclc/core/header"
)

// Branch is a stored non-canonical header path. Hashes[0] extends the
// canonical header at ForkHeight; the last hash is the branch tip.
type Branch struct {
	ForkHeight uint64
	Hashes     []chainhash.Hash
}

// Tip returns the hash of the last header on the branch.
func (b Branch) Tip() chainhash.Hash {
	if len(b.Hashes) == 0 {
		return chainhash.Hash{}
	}
	return b.Hashes[len(b.Hashes)-1]
}

// TipHeight is the height of the last header on the branch.
func (b Branch) TipHeight() uint64 {
	return b.ForkHeight + uint64(len(b.Hashes))
}

type branchJSON struct {
	ForkHeight uint64   `json:"fork_height"`
	Hashes     []string `json:"hashes"`
}

func (b Branch) MarshalJSON() ([]byte, error) {
	out := branchJSON{ForkHeight: b.ForkHeight, Hashes: make([]string, len(b.Hashes))}
	for i, h := range b.Hashes {
		out.Hashes[i] = h.String()
	}
	return json.Marshal(out)
}

func (b *Branch) UnmarshalJSON(data []byte) error {
	var tmp branchJSON
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	hashes := make([]chainhash.Hash, len(tmp.Hashes))
	for i, s := range tmp.Hashes {
		h, err := header.ParseHash(s)
		if err != nil {
			return err
		}
		hashes[i] = h
	}
	*b = Branch{ForkHeight: tmp.ForkHeight, Hashes: hashes}
	return nil
}
