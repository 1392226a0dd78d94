package miner_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"btclc/core/header"
	"btclc/miner"
)

func regtestGenesis() *header.Header {
	h := header.FromWire(&chaincfg.RegressionNetParams.GenesisBlock.Header)
	h.TotalWork = h.Work()
	return h
}

func TestChainLinksAndMeetsTarget(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	base := regtestGenesis()
	require.True(t, base.MeetsTarget())

	headers, err := miner.Chain(context.Background(), params, base, 5, 0)
	require.NoError(t, err)
	require.Len(t, headers, 5)

	parent := base
	for _, h := range headers {
		require.Equal(t, parent.Hash(), h.PrevHash)
		require.Equal(t, parent.Height+1, h.Height)
		require.Equal(t, params.PowLimitBits, h.Bits)
		require.True(t, h.MeetsTarget())
		require.Equal(t, 1, h.TotalWork.Cmp(parent.TotalWork))
		parent = h
	}
}

func TestSaltMakesSiblingsDiffer(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	base := regtestGenesis()

	a, err := miner.Chain(context.Background(), params, base, 1, 1)
	require.NoError(t, err)
	b, err := miner.Chain(context.Background(), params, base, 1, 2)
	require.NoError(t, err)
	require.NotEqual(t, a[0].Hash(), b[0].Hash())
}

func TestSolveHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Mainnet difficulty is out of reach; the first context check aborts.
	h := &header.Header{Bits: chaincfg.MainNetParams.PowLimitBits}
	require.ErrorIs(t, miner.Solve(ctx, h), context.Canceled)
}

func TestRawRoundTrip(t *testing.T) {
	headers, err := miner.Chain(context.Background(), &chaincfg.RegressionNetParams, regtestGenesis(), 2, 0)
	require.NoError(t, err)
	for i, raw := range miner.Raw(headers) {
		got, err := header.Decode(raw)
		require.NoError(t, err)
		require.Equal(t, headers[i].Hash(), got.Hash())
	}
}
