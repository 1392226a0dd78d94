package core

import (
	"fmt"

	"btclc/core/headerstore"
	"btclc/core/storage"
)

// Query is a read-only request. The set of queries is closed.
type Query interface {
	isQuery()
}

type (
	// QueryConfig returns config.Config.
	QueryConfig struct{}
	// QueryBaseHeader returns the *header.Header the chain is anchored to.
	QueryBaseHeader struct{}
	// QueryTipHeader returns the canonical tip.
	QueryTipHeader struct{}
	// QueryHeader returns the canonical header at Height.
	QueryHeader struct{ Height uint64 }
	// QueryHeaderByHash returns any stored header by byte-reversed hex hash.
	QueryHeaderByHash struct{ Hash string }
	// QueryHeaders pages through the canonical chain; see
	// headerstore.Reader.Range for the defaults.
	QueryHeaders struct {
		StartAfter *uint64
		Limit      *uint32
		Reverse    bool
	}
	// QueryBaseEpoch returns the first submitted *Epoch.
	QueryBaseEpoch struct{}
	// QueryLastEpoch returns the last finalized *Epoch.
	QueryLastEpoch struct{}
	QueryEpoch     struct{ Number uint64 }
	// QueryCheckpoint returns the *Checkpoint of an epoch.
	QueryCheckpoint struct{ Number uint64 }
)

func (QueryConfig) isQuery()       {}
func (QueryBaseHeader) isQuery()   {}
func (QueryTipHeader) isQuery()    {}
func (QueryHeader) isQuery()       {}
func (QueryHeaderByHash) isQuery() {}
func (QueryHeaders) isQuery()      {}
func (QueryBaseEpoch) isQuery()    {}
func (QueryLastEpoch) isQuery()    {}
func (QueryEpoch) isQuery()        {}
func (QueryCheckpoint) isQuery()   {}

// Run answers q from committed state. Misses are reported as ErrNotFound,
// never as zero values.
func Run(r storage.Reader, q Query) (any, error) {
	cfg, err := LoadConfig(r)
	if err != nil {
		return nil, err
	}
	headers := headerstore.NewReader(r)
	epochs := NewEpochReader(r)

	switch q := q.(type) {
	case QueryConfig:
		return cfg, nil
	case QueryBaseHeader:
		return headers.Base()
	case QueryTipHeader:
		return headers.Tip()
	case QueryHeader:
		return headers.GetByHeight(q.Height)
	case QueryHeaderByHash:
		return headers.GetByHashHex(q.Hash)
	case QueryHeaders:
		return headers.Range(q.StartAfter, q.Limit, q.Reverse)
	case QueryBaseEpoch:
		return epochs.BaseEpoch()
	case QueryLastEpoch:
		return epochs.LastFinalizedEpoch()
	case QueryEpoch:
		return epochs.Epoch(q.Number)
	case QueryCheckpoint:
		e, err := epochs.Epoch(q.Number)
		if err != nil {
			return nil, err
		}
		return e.Checkpoint(), nil
	default:
		return nil, fmt.Errorf("unknown query %T", q)
	}
}
