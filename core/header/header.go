// Package header defines the Bitcoin block header tracked by the light client.
package header

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Size is the length of a serialized header.
const Size = wire.MaxBlockHeaderPayload

var (
	ErrMalformedHeader = errors.New("malformed header")
	ErrInvalidHash     = errors.New("invalid header hash")
)

// Header is the 80-byte wire header plus the metadata assigned on insertion.
type Header struct {
	Version    int32
	PrevHash   chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32

	// Height and TotalWork are set when the header is stored. TotalWork is
	// the cumulative work from the base header through this one.
	Height    uint64
	TotalWork *big.Int
}

// Decode parses a raw 80-byte header.
func Decode(raw []byte) (*Header, error) {
	if len(raw) != Size {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedHeader, len(raw), Size)
	}
	var wh wire.BlockHeader
	if err := wh.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return FromWire(&wh), nil
}

// DecodeHex parses a hex-encoded raw header.
func DecodeHex(s string) (*Header, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return Decode(raw)
}

// FromWire copies a btcd wire header.
func FromWire(wh *wire.BlockHeader) *Header {
	return &Header{
		Version:    wh.Version,
		PrevHash:   wh.PrevBlock,
		MerkleRoot: wh.MerkleRoot,
		Timestamp:  uint32(wh.Timestamp.Unix()),
		Bits:       wh.Bits,
		Nonce:      wh.Nonce,
	}
}

// Wire converts the header back into its btcd form.
func (h *Header) Wire() *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:    h.Version,
		PrevBlock:  h.PrevHash,
		MerkleRoot: h.MerkleRoot,
		Timestamp:  time.Unix(int64(h.Timestamp), 0),
		Bits:       h.Bits,
		Nonce:      h.Nonce,
	}
}

// Encode returns the 80-byte serialization.
func (h *Header) Encode() []byte {
	var buf bytes.Buffer
	buf.Grow(Size)
	// bytes.Buffer writes never fail.
	_ = h.Wire().Serialize(&buf)
	return buf.Bytes()
}

// Hash returns the double SHA-256 of the serialized header.
func (h *Header) Hash() chainhash.Hash {
	if h == nil {
		return chainhash.Hash{}
	}
	return chainhash.DoubleHashH(h.Encode())
}

// Time returns the header timestamp.
func (h *Header) Time() time.Time {
	return time.Unix(int64(h.Timestamp), 0)
}

// Target expands the compact difficulty bits.
func (h *Header) Target() *big.Int {
	return blockchain.CompactToBig(h.Bits)
}

// MeetsTarget reports whether the header hash, read as a number, is at most
// the target encoded in its bits.
func (h *Header) MeetsTarget() bool {
	target := h.Target()
	if target.Sign() <= 0 {
		return false
	}
	hash := h.Hash()
	return blockchain.HashToBig(&hash).Cmp(target) <= 0
}

// Work is the expected number of hashes needed to find this header.
func (h *Header) Work() *big.Int {
	return blockchain.CalcWork(h.Bits)
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := *h
	if h.TotalWork != nil {
		c.TotalWork = new(big.Int).Set(h.TotalWork)
	}
	return &c
}

// ParseHash parses a byte-reversed hex hash as displayed by block explorers.
func ParseHash(s string) (chainhash.Hash, error) {
	if len(s) != 2*chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("%w: %q has %d characters", ErrInvalidHash, s, len(s))
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return *h, nil
}

type headerJSON struct {
	Hash       string `json:"hash"`
	Height     uint64 `json:"height"`
	Version    int32  `json:"version"`
	PrevHash   string `json:"prev_hash"`
	MerkleRoot string `json:"merkle_root"`
	Timestamp  uint32 `json:"timestamp"`
	Bits       uint32 `json:"bits"`
	Nonce      uint32 `json:"nonce"`
	TotalWork  string `json:"total_work"`
}

// MarshalJSON encodes hashes byte-reversed and TotalWork as a decimal string.
func (h *Header) MarshalJSON() ([]byte, error) {
	work := "0"
	if h.TotalWork != nil {
		work = h.TotalWork.String()
	}
	return json.Marshal(&headerJSON{
		Hash:       h.Hash().String(),
		Height:     h.Height,
		Version:    h.Version,
		PrevHash:   h.PrevHash.String(),
		MerkleRoot: h.MerkleRoot.String(),
		Timestamp:  h.Timestamp,
		Bits:       h.Bits,
		Nonce:      h.Nonce,
		TotalWork:  work,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON. The hash field is derived and
// therefore ignored.
func (h *Header) UnmarshalJSON(data []byte) error {
	var tmp headerJSON
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	prev, err := ParseHash(tmp.PrevHash)
	if err != nil {
		return err
	}
	root, err := ParseHash(tmp.MerkleRoot)
	if err != nil {
		return err
	}
	work := big.NewInt(0)
	if tmp.TotalWork != "" {
		if _, ok := work.SetString(tmp.TotalWork, 10); !ok {
			return fmt.Errorf("invalid total_work %q", tmp.TotalWork)
		}
	}
	*h = Header{
		Version:    tmp.Version,
		PrevHash:   prev,
		MerkleRoot: root,
		Timestamp:  tmp.Timestamp,
		Bits:       tmp.Bits,
		Nonce:      tmp.Nonce,
		Height:     tmp.Height,
		TotalWork:  work,
	}
	return nil
}
