package core

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/headerstore"
	"btclc/validator"
)

// ChainTracker validates header batches and applies them to the store: it
// extends the tip, keeps side branches and reorganizes onto heavier ones.
// It works inside a single storage transaction and never commits on its own.
type ChainTracker struct {
	store  *headerstore.Store
	params *chaincfg.Params
	depth  uint64
	now    time.Time
}

func NewChainTracker(store *headerstore.Store, cfg config.Config, env Env) *ChainTracker {
	return &ChainTracker{
		store:  store,
		params: cfg.MustParams(),
		depth:  cfg.BtcConfirmationDepth,
		now:    env.Time,
	}
}

// ApplyOutcome is what a successful ApplyHeaders changed.
type ApplyOutcome struct {
	AcceptedHeights []uint64
	Reorg           *Reorg
	Events          []Event
}

// ApplyHeaders validates every header of raw against the branch it extends
// and then applies the batch. A leading run of headers that are already
// stored is skipped; every header must still extend the one before it.
// Per-header failures are returned as *BatchError.
func (c *ChainTracker) ApplyHeaders(raw [][]byte) (*ApplyOutcome, error) {
	headers := make([]*header.Header, len(raw))
	for i, r := range raw {
		h, err := header.Decode(r)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		headers[i] = h
	}

	start := 0
	for ; start < len(headers); start++ {
		if start > 0 && headers[start].PrevHash != headers[start-1].Hash() {
			return nil, &BatchError{Index: start, Err: fmt.Errorf("%w: %s does not extend %s",
				ErrUnknownParent, headers[start].Hash(), headers[start-1].Hash())}
		}
		_, err := c.store.GetByHash(headers[start].Hash())
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if start == len(headers) {
		return nil, ErrEmptyBatch
	}

	parent, err := c.store.GetByHash(headers[start].PrevHash)
	if errors.Is(err, ErrNotFound) {
		return nil, &BatchError{Index: start, Err: fmt.Errorf("%w: %s", ErrUnknownParent, headers[start].PrevHash)}
	}
	if err != nil {
		return nil, err
	}
	view, err := c.viewFrom(parent)
	if err != nil {
		return nil, err
	}

	fresh := headers[start:]
	for i, h := range fresh {
		prev := view.top()
		if h.PrevHash != prev.Hash() {
			return nil, &BatchError{Index: start + i, Err: fmt.Errorf("%w: %s does not extend %s", ErrUnknownParent, h.Hash(), prev.Hash())}
		}
		if err := validator.VerifyHeader(c.params, view, h, c.now); err != nil {
			return nil, &BatchError{Index: start + i, Err: err}
		}
		h.Height = prev.Height + 1
		h.TotalWork = new(big.Int).Add(prev.TotalWork, h.Work())
		view.push(h)
	}

	tip, err := c.store.Tip()
	if err != nil {
		return nil, err
	}
	if tip.Height-view.fork > c.depth {
		return nil, fmt.Errorf("%w: fork at height %d is %d blocks below tip %d, confirmation depth %d",
			ErrReorgTooDeep, view.fork, tip.Height-view.fork, tip.Height, c.depth)
	}

	out := &ApplyOutcome{AcceptedHeights: make([]uint64, 0, len(fresh))}
	for _, h := range fresh {
		if err := c.store.PutHeader(h); err != nil {
			return nil, err
		}
		out.AcceptedHeights = append(out.AcceptedHeights, h.Height)
	}

	newTip := view.top()
	if newTip.TotalWork.Cmp(tip.TotalWork) > 0 {
		if err := c.switchTo(view, tip, out); err != nil {
			return nil, err
		}
	} else {
		if err := c.storeBranch(view, parent, out); err != nil {
			return nil, err
		}
	}

	tipHeight, err := c.store.TipHeight()
	if err != nil {
		return nil, err
	}
	evicted, err := c.reconcile(tipHeight)
	if err != nil {
		return nil, err
	}
	out.Events = append(out.Events, evicted...)
	return out, nil
}

// switchTo makes the branch of view canonical. The canonical headers above
// the fork point become a branch record of their own.
func (c *ChainTracker) switchTo(view *branchView, oldTip *header.Header, out *ApplyOutcome) error {
	var rolled []chainhash.Hash
	for h := view.fork + 1; h <= oldTip.Height; h++ {
		hash, err := c.store.CanonicalHash(h)
		if err != nil {
			return err
		}
		rolled = append(rolled, hash)
	}

	for _, h := range view.path {
		if err := c.store.SetCanonical(h.Height, h.Hash()); err != nil {
			return err
		}
	}
	newHeight := view.Height()
	for h := newHeight + 1; h <= oldTip.Height; h++ {
		if err := c.store.DeleteCanonical(h); err != nil {
			return err
		}
	}
	if err := c.store.SetTip(newHeight); err != nil {
		return err
	}

	if len(rolled) == 0 {
		out.Events = append(out.Events, TipAdvanced{FromHeight: oldTip.Height, ToHeight: newHeight, Hash: view.top().Hash()})
		return nil
	}
	if err := c.store.PutBranch(headerstore.Branch{ForkHeight: view.fork, Hashes: rolled}); err != nil {
		return err
	}
	reorg := Reorg{
		FromHeight:       oldTip.Height,
		ToHeight:         newHeight,
		ForkHeight:       view.fork,
		RolledBackHashes: rolled,
	}
	out.Reorg = &reorg
	out.Events = append(out.Events, reorg)
	return nil
}

// storeBranch records a batch that did not outweigh the canonical chain.
// A branch extended at its tip is re-keyed under the new tip.
func (c *ChainTracker) storeBranch(view *branchView, parent *header.Header, out *ApplyOutcome) error {
	if err := c.store.DeleteBranch(parent.Hash()); err != nil {
		return err
	}
	hashes := make([]chainhash.Hash, len(view.path))
	for i, h := range view.path {
		hashes[i] = h.Hash()
	}
	b := headerstore.Branch{ForkHeight: view.fork, Hashes: hashes}
	if err := c.store.PutBranch(b); err != nil {
		return err
	}
	out.Events = append(out.Events, ForkStored{ForkHeight: b.ForkHeight, TipHeight: b.TipHeight(), TipHash: b.Tip()})
	return nil
}

// reconcile brings every branch record in line with the canonical chain:
// records are re-rooted on their nearest canonical ancestor, stripped of
// headers that became canonical, and evicted once their fork point is more
// than the confirmation depth below tipHeight. Evicted headers are deleted
// unless a surviving record still references them.
func (c *ChainTracker) reconcile(tipHeight uint64) ([]Event, error) {
	branches, err := c.store.Branches()
	if err != nil {
		return nil, err
	}

	var keep, evict []headerstore.Branch
	for _, b := range branches {
		key := b.Tip()
		rooted, err := c.reroot(b)
		if err != nil {
			return nil, err
		}
		stripped, err := c.strip(rooted)
		if err != nil {
			return nil, err
		}

		switch {
		case len(stripped.Hashes) == 0:
			if err := c.store.DeleteBranch(key); err != nil {
				return nil, err
			}
		case tipHeight-stripped.ForkHeight > c.depth:
			evict = append(evict, stripped)
		default:
			if err := c.store.PutBranch(stripped); err != nil {
				return nil, err
			}
			keep = append(keep, stripped)
		}
	}

	referenced := make(map[chainhash.Hash]bool)
	for _, b := range keep {
		for _, h := range b.Hashes {
			referenced[h] = true
		}
	}

	var events []Event
	for _, b := range evict {
		if err := c.store.DeleteBranch(b.Tip()); err != nil {
			return nil, err
		}
		deleted := 0
		for _, h := range b.Hashes {
			if referenced[h] {
				continue
			}
			if err := c.store.DeleteHeader(h); err != nil {
				return nil, err
			}
			referenced[h] = true
			deleted++
		}
		events = append(events, ForkEvicted{ForkHeight: b.ForkHeight, TipHash: b.Tip(), DeletedHeaders: deleted})
	}
	return events, nil
}

// reroot extends b downwards until its fork header is canonical. This is
// needed after a reorg demotes the header a branch used to hang off.
func (c *ChainTracker) reroot(b headerstore.Branch) (headerstore.Branch, error) {
	if len(b.Hashes) == 0 {
		return b, nil
	}
	first, err := c.store.GetByHash(b.Hashes[0])
	if err != nil {
		return b, err
	}
	var prefix []chainhash.Hash
	for {
		parent, err := c.store.GetByHash(first.PrevHash)
		if err != nil {
			return b, err
		}
		canonical, err := c.store.IsCanonical(parent)
		if err != nil {
			return b, err
		}
		if canonical {
			if len(prefix) == 0 {
				return b, nil
			}
			for i, j := 0, len(prefix)-1; i < j; i, j = i+1, j-1 {
				prefix[i], prefix[j] = prefix[j], prefix[i]
			}
			return headerstore.Branch{
				ForkHeight: parent.Height,
				Hashes:     append(prefix, b.Hashes...),
			}, nil
		}
		prefix = append(prefix, parent.Hash())
		first = parent
	}
}

// strip drops the leading hashes of b that are now canonical.
func (c *ChainTracker) strip(b headerstore.Branch) (headerstore.Branch, error) {
	for len(b.Hashes) > 0 {
		hash, err := c.store.CanonicalHash(b.ForkHeight + 1)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return b, err
		}
		if hash != b.Hashes[0] {
			break
		}
		b.ForkHeight++
		b.Hashes = b.Hashes[1:]
	}
	return b, nil
}

// viewFrom builds the candidate branch ending at parent: canonical headers up
// to the nearest canonical ancestor and stored side headers above it.
func (c *ChainTracker) viewFrom(parent *header.Header) (*branchView, error) {
	base, err := c.store.BaseHeight()
	if err != nil {
		return nil, err
	}
	var path []*header.Header
	node := parent
	for {
		canonical, err := c.store.IsCanonical(node)
		if err != nil {
			return nil, err
		}
		if canonical {
			break
		}
		path = append(path, node)
		if node, err = c.store.GetByHash(node.PrevHash); err != nil {
			return nil, err
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return &branchView{store: c.store.Reader, base: base, fork: node.Height, forkHeader: node, path: path}, nil
}

// branchView implements storage.ChainReader over the canonical chain up to
// fork and path above it. It lives for one batch and memoizes the
// min-difficulty walk via validator.BitsMemo.
type branchView struct {
	store      *headerstore.Reader
	base       uint64
	fork       uint64
	forkHeader *header.Header
	path       []*header.Header
	nonMin     map[uint64]uint32
}

func (v *branchView) Height() uint64 {
	return v.fork + uint64(len(v.path))
}

func (v *branchView) HeaderByHeight(height uint64) *header.Header {
	switch {
	case height < v.base || height > v.Height():
		return nil
	case height == v.fork:
		return v.forkHeader
	case height > v.fork:
		return v.path[height-v.fork-1]
	}
	h, err := v.store.GetByHeight(height)
	if err != nil {
		return nil
	}
	return h
}

func (v *branchView) NonMinBits(height uint64) (uint32, bool) {
	bits, ok := v.nonMin[height]
	return bits, ok
}

func (v *branchView) SetNonMinBits(height uint64, bits uint32) {
	if v.nonMin == nil {
		v.nonMin = make(map[uint64]uint32)
	}
	v.nonMin[height] = bits
}

func (v *branchView) top() *header.Header {
	if len(v.path) == 0 {
		return v.forkHeader
	}
	return v.path[len(v.path)-1]
}

func (v *branchView) push(h *header.Header) {
	v.path = append(v.path, h)
}
