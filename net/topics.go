package net

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"btclc/core"
	"btclc/core/header"
	"btclc/core/tag"
)

const (
	TopicHeaders     = "btclc/headers/1"
	TopicCheckpoints = "btclc/checkpoints/1"
	TopicAcks        = "btclc/acks/1"
	TopicEvents      = "btclc/events/1"
	TopicNewTip      = "btclc/newtip/1"
	TopicHeaderReq   = "btclc/headerreq/1"
)

// maxWireMsg bounds every gossip payload. A full response of
// maxHeadersPerMsg hex headers fits comfortably.
const maxWireMsg = 256 * 1024

// maxHeadersPerMsg caps both inbound batches and served ranges.
const maxHeadersPerMsg = 1000

// HeadersMsg carries hex-encoded raw headers in chain order.
type HeadersMsg struct {
	Headers []string `json:"headers"`
}

type CheckpointMsg struct {
	Epoch   uint64   `json:"epoch"`
	Tag     string   `json:"tag"`
	Anchors []string `json:"anchors"`
}

type AckMsg struct {
	Epoch uint64 `json:"epoch"`
}

// NewTipMsg announces a node's canonical tip so lagging peers can ask for
// the headers above their own.
type NewTipMsg struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// HeaderRequest asks peers for canonical headers above After, at most Limit.
type HeaderRequest struct {
	After uint64 `json:"after"`
	Limit uint32 `json:"limit"`
}

func NewHeadersMsg(headers []*header.Header) HeadersMsg {
	out := HeadersMsg{Headers: make([]string, len(headers))}
	for i, h := range headers {
		out.Headers[i] = hex.EncodeToString(h.Encode())
	}
	return out
}

func (m HeadersMsg) ToMsg() (core.MsgBtcHeaders, error) {
	if len(m.Headers) > maxHeadersPerMsg {
		return core.MsgBtcHeaders{}, fmt.Errorf("%w: %d headers, max %d", ErrBadMessage, len(m.Headers), maxHeadersPerMsg)
	}
	raw := make([][]byte, len(m.Headers))
	for i, s := range m.Headers {
		b, err := hex.DecodeString(s)
		if err != nil {
			return core.MsgBtcHeaders{}, fmt.Errorf("%w: header %d: %v", ErrBadMessage, i, err)
		}
		raw[i] = b
	}
	return core.MsgBtcHeaders{Headers: raw}, nil
}

func (m CheckpointMsg) ToMsg() (core.MsgSubmitCheckpoint, error) {
	t, err := tag.Decode(m.Tag)
	if err != nil {
		return core.MsgSubmitCheckpoint{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	anchors := make([]chainhash.Hash, len(m.Anchors))
	for i, s := range m.Anchors {
		h, err := header.ParseHash(s)
		if err != nil {
			return core.MsgSubmitCheckpoint{}, fmt.Errorf("%w: anchor %d: %w", ErrBadMessage, i, err)
		}
		anchors[i] = h
	}
	return core.MsgSubmitCheckpoint{Epoch: m.Epoch, Tag: t, AnchorHashes: anchors}, nil
}

func (m AckMsg) ToMsg() core.MsgAcknowledge {
	return core.MsgAcknowledge{Epoch: m.Epoch}
}
