// Package validator implements the contextual header rules: proof of work,
// the retarget policy and the timestamp bounds.
package validator

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/storage"
)

var (
	ErrInsufficientWork = errors.New("insufficient proof of work")
	ErrBadDifficulty    = errors.New("bad difficulty bits")
	ErrBadTimestamp     = errors.New("bad timestamp")
)

// VerifyHeader checks h as the next header on chain. now is the host time
// used for the future-time bound.
func VerifyHeader(params *chaincfg.Params, chain storage.ChainReader, h *header.Header, now time.Time) error {
	if err := CheckProofOfWork(params, h); err != nil {
		return err
	}
	if err := CheckDifficulty(params, chain, h); err != nil {
		return err
	}
	return CheckTimestamp(chain, h, now)
}

// CheckProofOfWork requires a target no easier than the pow limit and a hash
// that meets it.
func CheckProofOfWork(params *chaincfg.Params, h *header.Header) error {
	target := h.Target()
	if target.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive target from bits %08x", ErrInsufficientWork, h.Bits)
	}
	if target.Cmp(params.PowLimit) > 0 {
		return fmt.Errorf("%w: target from bits %08x above pow limit", ErrInsufficientWork, h.Bits)
	}
	if !h.MeetsTarget() {
		return fmt.Errorf("%w: hash %s above target", ErrInsufficientWork, h.Hash())
	}
	return nil
}

// MedianTimePast returns the median timestamp of the last
// config.MedianTimeBlocks headers of chain, or of as many as exist above its
// base.
func MedianTimePast(chain storage.ChainReader) uint32 {
	stamps := make([]uint32, 0, config.MedianTimeBlocks)
	height := chain.Height()
	for i := 0; i < config.MedianTimeBlocks; i++ {
		h := chain.HeaderByHeight(height)
		if h == nil {
			break
		}
		stamps = append(stamps, h.Timestamp)
		if height == 0 {
			break
		}
		height--
	}
	if len(stamps) == 0 {
		return 0
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
	return stamps[len(stamps)/2]
}

// CheckTimestamp requires h to be newer than the median time past and no
// more than config.MaxTimeOffset ahead of now.
func CheckTimestamp(chain storage.ChainReader, h *header.Header, now time.Time) error {
	if mtp := MedianTimePast(chain); h.Timestamp <= mtp {
		return fmt.Errorf("%w: %d not after median time past %d", ErrBadTimestamp, h.Timestamp, mtp)
	}
	if limit := now.Add(config.MaxTimeOffset); h.Time().After(limit) {
		return fmt.Errorf("%w: %d more than %s ahead of host time %d", ErrBadTimestamp, h.Timestamp, config.MaxTimeOffset, now.Unix())
	}
	return nil
}
