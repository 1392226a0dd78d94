package core

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Event describes one state change of an execution. The set of events is
// closed.
type Event interface {
	isEvent()
}

// TipAdvanced is emitted when the canonical tip moves without rolling back
// any canonical header.
type TipAdvanced struct {
	FromHeight uint64         `json:"from_height"`
	ToHeight   uint64         `json:"to_height"`
	Hash       chainhash.Hash `json:"-"`
}

// Reorg is emitted when a heavier branch replaces part of the canonical
// chain. RolledBackHashes lists the replaced headers by ascending height.
type Reorg struct {
	FromHeight       uint64           `json:"from_height"`
	ToHeight         uint64           `json:"to_height"`
	ForkHeight       uint64           `json:"fork_height"`
	RolledBackHashes []chainhash.Hash `json:"-"`
}

// ForkStored is emitted when a batch lands on a non-canonical branch.
type ForkStored struct {
	ForkHeight uint64         `json:"fork_height"`
	TipHeight  uint64         `json:"tip_height"`
	TipHash    chainhash.Hash `json:"-"`
}

// ForkEvicted is emitted when a branch falls out of the reorg window.
type ForkEvicted struct {
	ForkHeight     uint64         `json:"fork_height"`
	TipHash        chainhash.Hash `json:"-"`
	DeletedHeaders int            `json:"deleted_headers"`
}

type EpochStatusChanged struct {
	Epoch     uint64      `json:"epoch"`
	From      EpochStatus `json:"from"`
	To        EpochStatus `json:"to"`
	TipHeight uint64      `json:"tip_height"`
}

type AckRecorded struct {
	Epoch uint64 `json:"epoch"`
}

// AckTimedOut is emitted when a confirmed epoch stops waiting for its
// acknowledgment.
type AckTimedOut struct {
	Epoch uint64 `json:"epoch"`
}

func (TipAdvanced) isEvent()        {}
func (Reorg) isEvent()              {}
func (ForkStored) isEvent()         {}
func (ForkEvicted) isEvent()        {}
func (EpochStatusChanged) isEvent() {}
func (AckRecorded) isEvent()        {}
func (AckTimedOut) isEvent()        {}

// EventType names the variant of e.
func EventType(e Event) string {
	switch e.(type) {
	case TipAdvanced:
		return "tip_advanced"
	case Reorg:
		return "reorg"
	case ForkStored:
		return "fork_stored"
	case ForkEvicted:
		return "fork_evicted"
	case EpochStatusChanged:
		return "epoch_status_changed"
	case AckRecorded:
		return "ack_recorded"
	case AckTimedOut:
		return "ack_timed_out"
	default:
		panic(fmt.Sprintf("unknown event %T", e))
	}
}

// MarshalEvent encodes e as {"type": ..., "data": ...} with hashes in their
// byte-reversed hex form.
func MarshalEvent(e Event) ([]byte, error) {
	var data any = e
	switch v := e.(type) {
	case TipAdvanced:
		data = struct {
			TipAdvanced
			Hash string `json:"hash"`
		}{v, v.Hash.String()}
	case Reorg:
		data = struct {
			Reorg
			RolledBackHashes []string `json:"rolled_back_hashes"`
		}{v, hashStrings(v.RolledBackHashes)}
	case ForkStored:
		data = struct {
			ForkStored
			TipHash string `json:"tip_hash"`
		}{v, v.TipHash.String()}
	case ForkEvicted:
		data = struct {
			ForkEvicted
			TipHash string `json:"tip_hash"`
		}{v, v.TipHash.String()}
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{EventType(e), data})
}

func marshalEvents(events []Event) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(events))
	for i, e := range events {
		raw, err := MarshalEvent(e)
		if err != nil {
			return nil, err
		}
		out[i] = raw
	}
	return out, nil
}

func hashStrings(hashes []chainhash.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.String()
	}
	return out
}
