package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/storage"
	"btclc/metrics"
)

// LightClient hosts the state machine on a storage backend. Each Execute
// runs in its own transaction and mutations are serialized; queries read
// committed snapshots and never wait for a mutation.
type LightClient struct {
	mu  sync.Mutex
	db  storage.DB
	log *zap.Logger

	network string
}

func NewLightClient(db storage.DB, log *zap.Logger) *LightClient {
	lc := &LightClient{db: db, log: log.With(zap.String("component", "lightclient"))}
	if cfg, err := lc.Config(); err == nil {
		lc.network = string(cfg.Network)
	}
	return lc
}

// Instantiate stores the configuration and base header.
func (lc *LightClient) Instantiate(msg config.InitMsg) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	err := lc.db.Update(func(rw storage.ReadWriter) error {
		return Instantiate(rw, msg)
	})
	if err != nil {
		return err
	}
	lc.network = msg.Network
	lc.log.Info("instantiated",
		zap.String("network", msg.Network),
		zap.String("babylon_tag", msg.BabylonTag),
		zap.Uint64("base_height", msg.BaseHeight),
		zap.Uint64("confirmation_depth", msg.BtcConfirmationDepth))
	return nil
}

// Execute applies msg atomically. Nothing is committed when it fails.
func (lc *LightClient) Execute(env Env, msg Msg) (*Result, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	start := time.Now()
	var res *Result
	err := lc.db.Update(func(rw storage.ReadWriter) error {
		var err error
		res, err = Execute(rw, env, msg)
		return err
	})
	metrics.ExecuteLatency.WithLabelValues(lc.network, msgName(msg)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BatchesRejected.WithLabelValues(lc.network, rejectReason(err)).Inc()
		lc.log.Warn("execute rejected", zap.String("msg", msgName(msg)), zap.Error(err))
		return nil, err
	}
	lc.observe(res)
	return res, nil
}

func (lc *LightClient) observe(res *Result) {
	if n := len(res.AcceptedHeights); n > 0 {
		metrics.HeadersAccepted.WithLabelValues(lc.network).Add(float64(n))
		lc.log.Info("headers accepted",
			zap.Uint64("first", res.AcceptedHeights[0]),
			zap.Uint64("last", res.AcceptedHeights[n-1]))
	}
	for _, e := range res.Events {
		switch e := e.(type) {
		case TipAdvanced:
			metrics.TipHeight.WithLabelValues(lc.network).Set(float64(e.ToHeight))
		case Reorg:
			metrics.TipHeight.WithLabelValues(lc.network).Set(float64(e.ToHeight))
			metrics.Reorgs.WithLabelValues(lc.network).Inc()
			metrics.ReorgDepth.WithLabelValues(lc.network).Observe(float64(len(e.RolledBackHashes)))
			lc.log.Warn("reorg",
				zap.Uint64("from", e.FromHeight),
				zap.Uint64("to", e.ToHeight),
				zap.Uint64("fork", e.ForkHeight),
				zap.Int("rolled_back", len(e.RolledBackHashes)))
		case ForkStored:
			lc.log.Info("fork stored", zap.Uint64("fork", e.ForkHeight), zap.Uint64("tip", e.TipHeight), zap.Stringer("hash", e.TipHash))
		case ForkEvicted:
			metrics.ForksEvicted.WithLabelValues(lc.network).Inc()
			lc.log.Info("fork evicted", zap.Uint64("fork", e.ForkHeight), zap.Int("deleted", e.DeletedHeaders))
		case EpochStatusChanged:
			metrics.EpochTransitions.WithLabelValues(lc.network, e.To.String()).Inc()
			if e.To == StatusFinalized {
				metrics.LastFinalizedEpoch.WithLabelValues(lc.network).Set(float64(e.Epoch))
			}
			lc.log.Info("epoch status changed",
				zap.Uint64("epoch", e.Epoch),
				zap.Stringer("from", e.From),
				zap.Stringer("to", e.To),
				zap.Uint64("tip", e.TipHeight))
		case AckRecorded:
			lc.log.Info("ack recorded", zap.Uint64("epoch", e.Epoch))
		case AckTimedOut:
			metrics.AckTimeouts.WithLabelValues(lc.network).Inc()
			lc.log.Warn("ack timed out", zap.Uint64("epoch", e.Epoch))
		}
	}
}

// Query answers q from the last committed state.
func (lc *LightClient) Query(q Query) (any, error) {
	var out any
	err := lc.db.View(func(r storage.Reader) error {
		var err error
		out, err = Run(r, q)
		return err
	})
	return out, err
}

func (lc *LightClient) Config() (config.Config, error) {
	v, err := lc.Query(QueryConfig{})
	if err != nil {
		return config.Config{}, err
	}
	return v.(config.Config), nil
}

// TipHeader returns the canonical tip.
func (lc *LightClient) TipHeader() (*header.Header, error) {
	v, err := lc.Query(QueryTipHeader{})
	if err != nil {
		return nil, err
	}
	return v.(*header.Header), nil
}

func msgName(msg Msg) string {
	switch msg.(type) {
	case MsgBtcHeaders:
		return "btc_headers"
	case MsgSubmitCheckpoint:
		return "submit_checkpoint"
	case MsgAcknowledge:
		return "acknowledge"
	default:
		return fmt.Sprintf("%T", msg)
	}
}

var reasons = []struct {
	err  error
	name string
}{
	{ErrMalformedHeader, "malformed_header"},
	{ErrUnknownParent, "unknown_parent"},
	{ErrInsufficientWork, "insufficient_work"},
	{ErrBadDifficulty, "bad_difficulty"},
	{ErrBadTimestamp, "bad_timestamp"},
	{ErrReorgTooDeep, "reorg_too_deep"},
	{ErrEmptyBatch, "empty_batch"},
	{ErrTagMismatch, "tag_mismatch"},
	{ErrAnchorNotCanonical, "anchor_not_canonical"},
	{ErrEpochImmutable, "epoch_immutable"},
	{ErrEpochOrphaned, "epoch_orphaned"},
	{ErrAckTimedOut, "ack_timed_out"},
	{ErrNotFound, "not_found"},
	{ErrNotInitialized, "not_initialized"},
	{ErrInvalidEnv, "invalid_env"},
}

func rejectReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "other"
}
