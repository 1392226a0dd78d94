package validator

import (
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"

	"btclc/core/header"
	"btclc/core/storage"
)

// BlocksPerRetarget is the retarget interval of the network.
func BlocksPerRetarget(params *chaincfg.Params) uint64 {
	return uint64(params.TargetTimespan / params.TargetTimePerBlock)
}

// Adjust scales lastBits by the observed timespan of the previous interval,
// clamped to the network's adjustment factor and capped at the pow limit.
func Adjust(params *chaincfg.Params, lastBits uint32, actualTimespan int64) uint32 {
	expected := int64(params.TargetTimespan / time.Second)
	minSpan := expected / params.RetargetAdjustmentFactor
	maxSpan := expected * params.RetargetAdjustmentFactor
	if actualTimespan < minSpan {
		actualTimespan = minSpan
	} else if actualTimespan > maxSpan {
		actualTimespan = maxSpan
	}

	newT := new(big.Int).Mul(blockchain.CompactToBig(lastBits), big.NewInt(actualTimespan))
	newT.Div(newT, big.NewInt(expected))
	if newT.Cmp(params.PowLimit) > 0 {
		newT.Set(params.PowLimit)
	}
	return blockchain.BigToCompact(newT)
}

// RequiredBits returns the bits a header with the given timestamp must carry
// to extend chain. known is false when the answer depends on headers below
// the base of chain; CheckDifficulty then falls back to a bounded check.
func RequiredBits(params *chaincfg.Params, chain storage.ChainReader, timestamp uint32) (bits uint32, known bool) {
	parent := chain.HeaderByHeight(chain.Height())
	if parent == nil {
		return 0, false
	}
	interval := BlocksPerRetarget(params)
	height := parent.Height + 1

	if height%interval != 0 {
		if !params.ReduceMinDifficulty {
			return parent.Bits, true
		}
		reduction := uint32(params.MinDiffReductionTime / time.Second)
		if timestamp > parent.Timestamp+reduction {
			return params.PowLimitBits, true
		}
		return lastNonMinBits(params, chain, parent)
	}

	if params.PoWNoRetargeting {
		return parent.Bits, true
	}
	first := chain.HeaderByHeight(height - interval)
	if first == nil {
		return 0, false
	}
	return Adjust(params, parent.Bits, int64(parent.Timestamp)-int64(first.Timestamp)), true
}

// BitsMemo is implemented by chain readers that remember, per height, the
// result of the min-difficulty walk back. Consecutive headers of one batch
// then resolve in a step each.
type BitsMemo interface {
	NonMinBits(height uint64) (bits uint32, ok bool)
	SetNonMinBits(height uint64, bits uint32)
}

// lastNonMinBits walks back to the most recent header that either sits on a
// retarget boundary or does not carry the minimum difficulty.
func lastNonMinBits(params *chaincfg.Params, chain storage.ChainReader, from *header.Header) (uint32, bool) {
	memo, _ := chain.(BitsMemo)
	interval := BlocksPerRetarget(params)
	node := from
	for node.Height%interval != 0 && node.Bits == params.PowLimitBits {
		if memo != nil {
			if bits, ok := memo.NonMinBits(node.Height); ok {
				memo.SetNonMinBits(from.Height, bits)
				return bits, true
			}
		}
		prev := chain.HeaderByHeight(node.Height - 1)
		if prev == nil {
			return 0, false
		}
		node = prev
	}
	if memo != nil {
		memo.SetNonMinBits(from.Height, node.Bits)
	}
	return node.Bits, true
}

// CheckDifficulty enforces the retarget policy for h on top of chain.
//
// When the rule needs history below the base header, a header on a retarget
// boundary must stay within the adjustment band of its parent's target and
// any other header is accepted as long as it is not easier than the pow
// limit, which VerifyHeader already checked.
func CheckDifficulty(params *chaincfg.Params, chain storage.ChainReader, h *header.Header) error {
	want, known := RequiredBits(params, chain, h.Timestamp)
	if known {
		if h.Bits != want {
			return fmt.Errorf("%w: bits %08x, want %08x", ErrBadDifficulty, h.Bits, want)
		}
		return nil
	}

	parent := chain.HeaderByHeight(chain.Height())
	if parent == nil {
		return fmt.Errorf("%w: no parent at height %d", ErrBadDifficulty, chain.Height())
	}
	if (parent.Height+1)%BlocksPerRetarget(params) != 0 {
		return nil
	}
	factor := big.NewInt(params.RetargetAdjustmentFactor)
	parentT := parent.Target()
	lo := new(big.Int).Div(parentT, factor)
	hi := new(big.Int).Mul(parentT, factor)
	if t := h.Target(); t.Cmp(lo) < 0 || t.Cmp(hi) > 0 {
		return fmt.Errorf("%w: bits %08x outside adjustment band of %08x", ErrBadDifficulty, h.Bits, parent.Bits)
	}
	return nil
}
