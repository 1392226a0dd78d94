package core

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"btclc/core/tag"
)

// Env is the host context of one invocation. Time is the host's block time
// and bounds how far ahead header timestamps may run; the core never reads
// a wall clock. Execute rejects a zero Time with ErrInvalidEnv.
type Env struct {
	Height uint64
	Time   time.Time
}

// Msg is a state-mutating request. The set of messages is closed.
type Msg interface {
	isMsg()
}

// MsgBtcHeaders submits raw 80-byte headers in chain order.
type MsgBtcHeaders struct {
	Headers [][]byte
}

// MsgSubmitCheckpoint reports that epoch was anchored in the given headers
// by transactions carrying tag.
type MsgSubmitCheckpoint struct {
	Epoch        uint64
	Tag          tag.Tag
	AnchorHashes []chainhash.Hash
}

// MsgAcknowledge records the companion chain's acknowledgment of epoch.
type MsgAcknowledge struct {
	Epoch uint64
}

func (MsgBtcHeaders) isMsg()       {}
func (MsgSubmitCheckpoint) isMsg() {}
func (MsgAcknowledge) isMsg()      {}

// Result is the outcome of a successful Execute.
type Result struct {
	// AcceptedHeights lists the heights of the newly stored headers.
	AcceptedHeights []uint64
	Reorg           *Reorg
	Events          []Event
	// Digest commits to the events and the tip the message was applied on.
	Digest [32]byte
}

func (r *Result) MarshalJSON() ([]byte, error) {
	events, err := marshalEvents(r.Events)
	if err != nil {
		return nil, err
	}
	var reorg json.RawMessage
	if r.Reorg != nil {
		if reorg, err = MarshalEvent(*r.Reorg); err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		AcceptedHeights []uint64          `json:"accepted_heights"`
		Reorg           json.RawMessage   `json:"reorg,omitempty"`
		Events          []json.RawMessage `json:"events"`
		Digest          string            `json:"digest"`
	}{r.AcceptedHeights, reorg, events, hex.EncodeToString(r.Digest[:])})
}
