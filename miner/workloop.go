// Package miner grinds header nonces. It builds valid header chains for the
// low-difficulty test networks, for fixtures and for the dev mine command.
package miner

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"btclc/core/header"
)

// DefaultSpacing is the timestamp step between mined headers.
const DefaultSpacing = 10 * time.Minute

var ErrNoSolution = errors.New("nonce space exhausted")

// Template describes the next header to mine.
type Template struct {
	Parent    *header.Header
	Bits      uint32
	Timestamp uint32
	// Salt goes into the merkle root so that sibling headers differ.
	Salt uint32
}

// Solve grinds the nonce of h until it meets its own target. The timestamp
// is bumped whenever the nonce space wraps.
func Solve(ctx context.Context, h *header.Header) error {
	if h.Target().Sign() <= 0 {
		return ErrNoSolution
	}
	for bumps := 0; bumps < 16; bumps++ {
		for nonce := uint64(0); nonce <= math.MaxUint32; nonce++ {
			if nonce&0xffff == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			h.Nonce = uint32(nonce)
			if h.MeetsTarget() {
				return nil
			}
		}
		h.Timestamp++
	}
	return ErrNoSolution
}

// Mine builds and solves the header described by t. Height and TotalWork
// are filled in from the parent.
func Mine(ctx context.Context, t Template) (*header.Header, error) {
	h := &header.Header{
		Version:    4,
		PrevHash:   t.Parent.Hash(),
		MerkleRoot: merkleRoot(t.Parent.Height+1, t.Salt),
		Timestamp:  t.Timestamp,
		Bits:       t.Bits,
		Height:     t.Parent.Height + 1,
	}
	if err := Solve(ctx, h); err != nil {
		return nil, err
	}
	work := new(big.Int).Set(h.Work())
	if t.Parent.TotalWork != nil {
		work.Add(work, t.Parent.TotalWork)
	}
	h.TotalWork = work
	return h, nil
}

// Chain mines n headers on top of parent at the network's minimum
// difficulty, spaced DefaultSpacing apart.
func Chain(ctx context.Context, params *chaincfg.Params, parent *header.Header, n int, salt uint32) ([]*header.Header, error) {
	return ChainSpaced(ctx, params, parent, n, salt, DefaultSpacing)
}

// ChainSpaced is Chain with an explicit timestamp step.
func ChainSpaced(ctx context.Context, params *chaincfg.Params, parent *header.Header, n int, salt uint32, spacing time.Duration) ([]*header.Header, error) {
	out := make([]*header.Header, 0, n)
	for i := 0; i < n; i++ {
		h, err := Mine(ctx, Template{
			Parent:    parent,
			Bits:      params.PowLimitBits,
			Timestamp: parent.Timestamp + uint32(spacing/time.Second),
			Salt:      salt,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, h)
		parent = h
	}
	return out, nil
}

// Raw serializes headers for submission.
func Raw(headers []*header.Header) [][]byte {
	out := make([][]byte, len(headers))
	for i, h := range headers {
		out[i] = h.Encode()
	}
	return out
}

func merkleRoot(height uint64, salt uint32) chainhash.Hash {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], height)
	binary.LittleEndian.PutUint32(buf[8:], salt)
	return chainhash.DoubleHashH(buf[:])
}

// TipSource reports the current canonical tip.
type TipSource interface {
	TipHeader() (*header.Header, error)
}

// SubmitFunc delivers a batch of raw headers.
type SubmitFunc func(ctx context.Context, raw [][]byte) error

// WorkLoop mines batch headers on top of the current tip every interval and
// submits them until ctx is done.
func WorkLoop(ctx context.Context, log *zap.Logger, params *chaincfg.Params, tips TipSource, submit SubmitFunc, batch int, interval time.Duration) error {
	log = log.With(zap.String("component", "miner"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var salt uint32
	for {
		parent, err := tips.TipHeader()
		if err != nil {
			return err
		}
		log.Info("mining", zap.Uint64("height", parent.Height+1), zap.Int("batch", batch))

		headers, err := Chain(ctx, params, parent, batch, salt)
		if err != nil {
			return err
		}
		salt++
		if err := submit(ctx, Raw(headers)); err != nil {
			log.Warn("submit failed", zap.Error(err))
		} else {
			last := headers[len(headers)-1]
			log.Info("submitted headers", zap.Uint64("tip", last.Height), zap.Stringer("hash", last.Hash()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
