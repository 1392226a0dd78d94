package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/headerstore"
	"btclc/core/storage"
	"btclc/core/tag"
)

// EpochStatus is the finality state of a checkpoint epoch.
type EpochStatus uint8

const (
	StatusNone EpochStatus = iota
	StatusSubmitted
	StatusConfirmed
	StatusFinalized
	StatusOrphaned
)

func (s EpochStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFinalized:
		return "finalized"
	case StatusOrphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("EpochStatus(%d)", uint8(s))
	}
}

func (s EpochStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *EpochStatus) UnmarshalText(b []byte) error {
	for c := StatusNone; c <= StatusOrphaned; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown epoch status %q", b)
}

// Anchor is a header that carries part of an epoch's checkpoint. The height
// is recorded by value when the checkpoint is submitted.
type Anchor struct {
	Hash   chainhash.Hash
	Height uint64
}

type anchorJSON struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
}

func (a Anchor) MarshalJSON() ([]byte, error) {
	return json.Marshal(anchorJSON{Hash: a.Hash.String(), Height: a.Height})
}

func (a *Anchor) UnmarshalJSON(data []byte) error {
	var tmp anchorJSON
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	hash, err := header.ParseHash(tmp.Hash)
	if err != nil {
		return err
	}
	*a = Anchor{Hash: hash, Height: tmp.Height}
	return nil
}

// Epoch is the finality record of one checkpoint epoch. The *At fields hold
// the canonical tip height at which the transition happened; zero means it
// has not happened.
type Epoch struct {
	Number       uint64      `json:"number"`
	Tag          tag.Tag     `json:"tag"`
	Anchors      []Anchor    `json:"anchors"`
	Status       EpochStatus `json:"status"`
	Acknowledged bool        `json:"acknowledged"`
	AckTimedOut  bool        `json:"ack_timed_out"`
	SubmittedAt  uint64      `json:"submitted_at"`
	ConfirmedAt  uint64      `json:"confirmed_at,omitempty"`
	FinalizedAt  uint64      `json:"finalized_at,omitempty"`
	OrphanedAt   uint64      `json:"orphaned_at,omitempty"`
}

// MaxAnchorHeight is the height that must be buried for the epoch to confirm.
func (e *Epoch) MaxAnchorHeight() uint64 {
	var highest uint64
	for _, a := range e.Anchors {
		if a.Height > highest {
			highest = a.Height
		}
	}
	return highest
}

// Checkpoint is the anchoring view of an epoch.
type Checkpoint struct {
	Epoch   uint64   `json:"epoch"`
	Tag     tag.Tag  `json:"tag"`
	Anchors []Anchor `json:"anchors"`
}

func (e *Epoch) Checkpoint() *Checkpoint {
	return &Checkpoint{Epoch: e.Number, Tag: e.Tag, Anchors: e.Anchors}
}

var (
	epochPrefix      = []byte("epoch:")
	pendingPrefix    = []byte("pending:")
	baseEpochKey     = []byte("finality:base")
	lastFinalizedKey = []byte("finality:finalized")
	lastConfirmedKey = []byte("finality:confirmed")
)

func epochKey(prefix []byte, n uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], n)
	return k
}

// EpochReader answers epoch lookups against a storage snapshot.
type EpochReader struct {
	kv storage.Reader
}

func NewEpochReader(kv storage.Reader) *EpochReader {
	return &EpochReader{kv: kv}
}

func (r *EpochReader) Epoch(n uint64) (*Epoch, error) {
	raw, err := r.kv.Get(epochKey(epochPrefix, n))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("epoch %d: %w", n, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var e Epoch
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode epoch %d: %w", n, err)
	}
	return &e, nil
}

// BaseEpoch returns the first epoch ever submitted.
func (r *EpochReader) BaseEpoch() (*Epoch, error) {
	return r.epochAt(baseEpochKey, "base epoch")
}

// LastFinalizedEpoch returns the highest finalized epoch.
func (r *EpochReader) LastFinalizedEpoch() (*Epoch, error) {
	return r.epochAt(lastFinalizedKey, "last finalized epoch")
}

func (r *EpochReader) epochAt(key []byte, what string) (*Epoch, error) {
	n, ok, err := r.marker(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return r.Epoch(n)
}

func (r *EpochReader) marker(key []byte) (uint64, bool, error) {
	raw, err := r.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// FinalityTracker moves epochs through their lifecycle as checkpoints are
// submitted, the canonical chain grows and acknowledgments arrive.
type FinalityTracker struct {
	*EpochReader
	kv      storage.ReadWriter
	headers *headerstore.Reader
	cfg     config.Config
}

func NewFinalityTracker(kv storage.ReadWriter, headers *headerstore.Reader, cfg config.Config) *FinalityTracker {
	return &FinalityTracker{EpochReader: NewEpochReader(kv), kv: kv, headers: headers, cfg: cfg}
}

// Submit records the anchors of an epoch as Submitted. Confirmed and
// finalized epochs cannot be re-anchored; submitted and orphaned ones can.
func (f *FinalityTracker) Submit(msg MsgSubmitCheckpoint, tipHeight uint64) ([]Event, error) {
	if msg.Tag != f.cfg.BabylonTag {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrTagMismatch, msg.Tag, f.cfg.BabylonTag)
	}
	if len(msg.AnchorHashes) == 0 {
		return nil, fmt.Errorf("%w: no anchor headers", ErrAnchorNotCanonical)
	}
	anchors := make([]Anchor, 0, len(msg.AnchorHashes))
	for _, hash := range msg.AnchorHashes {
		h, err := f.headers.GetByHash(hash)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAnchorNotCanonical, err)
		}
		canonical, err := f.headers.IsCanonical(h)
		if err != nil {
			return nil, err
		}
		if !canonical {
			return nil, fmt.Errorf("%w: %s at height %d", ErrAnchorNotCanonical, hash, h.Height)
		}
		anchors = append(anchors, Anchor{Hash: hash, Height: h.Height})
	}

	from := StatusNone
	var acked bool
	existing, err := f.Epoch(msg.Epoch)
	switch {
	case err == nil:
		if existing.Status == StatusConfirmed || existing.Status == StatusFinalized {
			return nil, fmt.Errorf("%w: epoch %d is %s", ErrEpochImmutable, msg.Epoch, existing.Status)
		}
		from, acked = existing.Status, existing.Acknowledged
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	e := &Epoch{
		Number:       msg.Epoch,
		Tag:          msg.Tag,
		Anchors:      anchors,
		Status:       StatusSubmitted,
		Acknowledged: acked,
		SubmittedAt:  tipHeight,
	}
	if err := f.save(e); err != nil {
		return nil, err
	}
	if err := f.kv.Set(epochKey(pendingPrefix, e.Number), nil); err != nil {
		return nil, err
	}
	if _, ok, err := f.marker(baseEpochKey); err != nil {
		return nil, err
	} else if !ok {
		if err := f.setMarker(baseEpochKey, e.Number); err != nil {
			return nil, err
		}
	}
	return []Event{EpochStatusChanged{Epoch: e.Number, From: from, To: StatusSubmitted, TipHeight: tipHeight}}, nil
}

// Acknowledge records the companion chain's acknowledgment of epoch n. It
// is a no-op for epochs that are already finalized or acknowledged.
func (f *FinalityTracker) Acknowledge(n uint64) ([]Event, error) {
	e, err := f.Epoch(n)
	if err != nil {
		return nil, err
	}
	switch {
	case e.Status == StatusOrphaned:
		return nil, fmt.Errorf("%w: epoch %d", ErrEpochOrphaned, n)
	case e.AckTimedOut:
		return nil, fmt.Errorf("%w: epoch %d", ErrAckTimedOut, n)
	case e.Status == StatusFinalized || e.Acknowledged:
		return nil, nil
	}
	e.Acknowledged = true
	if err := f.save(e); err != nil {
		return nil, err
	}
	return []Event{AckRecorded{Epoch: n}}, nil
}

// Evaluate advances every pending epoch against the canonical chain ending
// at tipHeight, in ascending epoch order, and then applies acknowledgment
// timeouts.
func (f *FinalityTracker) Evaluate(tipHeight uint64) ([]Event, error) {
	pending, err := f.pending()
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, n := range pending {
		e, err := f.Epoch(n)
		if err != nil {
			return nil, err
		}
		before := len(events)

		if e.Status == StatusSubmitted {
			orphaned, err := f.orphaned(e)
			if err != nil {
				return nil, err
			}
			switch {
			case orphaned:
				events = append(events, f.transition(e, StatusOrphaned, tipHeight))
			case tipHeight >= f.cfg.BtcConfirmationDepth && e.MaxAnchorHeight() <= tipHeight-f.cfg.BtcConfirmationDepth:
				events = append(events, f.transition(e, StatusConfirmed, tipHeight))
				if err := f.raiseMarker(lastConfirmedKey, e.Number); err != nil {
					return nil, err
				}
			}
		}
		if e.Status == StatusConfirmed && (!f.cfg.NotifyCosmosZone || e.Acknowledged) {
			events = append(events, f.transition(e, StatusFinalized, tipHeight))
			if err := f.raiseMarker(lastFinalizedKey, e.Number); err != nil {
				return nil, err
			}
		}

		if len(events) == before {
			continue
		}
		if err := f.save(e); err != nil {
			return nil, err
		}
		if e.Status == StatusOrphaned || e.Status == StatusFinalized {
			if err := f.kv.Delete(epochKey(pendingPrefix, e.Number)); err != nil {
				return nil, err
			}
		}
	}

	timedOut, err := f.expireAcks()
	if err != nil {
		return nil, err
	}
	return append(events, timedOut...), nil
}

// expireAcks stops waiting for the acknowledgment of a confirmed epoch e
// once an epoch at or beyond e + timeout has confirmed.
func (f *FinalityTracker) expireAcks() ([]Event, error) {
	timeout := f.cfg.CheckpointFinalizationTimeout
	if !f.cfg.NotifyCosmosZone || timeout == 0 {
		return nil, nil
	}
	last, ok, err := f.marker(lastConfirmedKey)
	if err != nil || !ok || last < timeout {
		return nil, err
	}
	pending, err := f.pending()
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, n := range pending {
		if n > last-timeout {
			break
		}
		e, err := f.Epoch(n)
		if err != nil {
			return nil, err
		}
		if e.Status != StatusConfirmed || e.Acknowledged {
			continue
		}
		e.AckTimedOut = true
		if err := f.save(e); err != nil {
			return nil, err
		}
		if err := f.kv.Delete(epochKey(pendingPrefix, n)); err != nil {
			return nil, err
		}
		events = append(events, AckTimedOut{Epoch: n})
	}
	return events, nil
}

func (f *FinalityTracker) transition(e *Epoch, to EpochStatus, tipHeight uint64) Event {
	ev := EpochStatusChanged{Epoch: e.Number, From: e.Status, To: to, TipHeight: tipHeight}
	e.Status = to
	switch to {
	case StatusConfirmed:
		e.ConfirmedAt = tipHeight
	case StatusFinalized:
		e.FinalizedAt = tipHeight
	case StatusOrphaned:
		e.OrphanedAt = tipHeight
	}
	return ev
}

// orphaned reports whether any anchor of e left the canonical chain.
func (f *FinalityTracker) orphaned(e *Epoch) (bool, error) {
	for _, a := range e.Anchors {
		hash, err := f.headers.CanonicalHash(a.Height)
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if hash != a.Hash {
			return true, nil
		}
	}
	return false, nil
}

// pending lists the epochs still awaiting confirmation or acknowledgment,
// ascending.
func (f *FinalityTracker) pending() ([]uint64, error) {
	var out []uint64
	err := f.kv.Iterate(pendingPrefix, nil, false, func(k, _ []byte) (bool, error) {
		out = append(out, binary.BigEndian.Uint64(k[len(pendingPrefix):]))
		return true, nil
	})
	return out, err
}

func (f *FinalityTracker) save(e *Epoch) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return f.kv.Set(epochKey(epochPrefix, e.Number), raw)
}

func (f *FinalityTracker) setMarker(key []byte, n uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return f.kv.Set(key, b[:])
}

// raiseMarker sets key to n unless it already holds a higher epoch.
func (f *FinalityTracker) raiseMarker(key []byte, n uint64) error {
	cur, ok, err := f.marker(key)
	if err != nil {
		return err
	}
	if ok && cur >= n {
		return nil
	}
	return f.setMarker(key, n)
}
