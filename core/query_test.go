package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"btclc/core"
	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/storage"
	"btclc/core/tag"
)

func u64(v uint64) *uint64 { return &v }
func u32(v uint32) *uint32 { return &v }

func heights(headers []*header.Header) []uint64 {
	out := make([]uint64, len(headers))
	for i, h := range headers {
		out[i] = h.Height
	}
	return out
}

func span(from, to uint64) []uint64 {
	var out []uint64
	if from <= to {
		for h := from; h <= to; h++ {
			out = append(out, h)
		}
		return out
	}
	for h := from; h >= to; h-- {
		out = append(out, h)
		if h == 0 {
			break
		}
	}
	return out
}

func TestHeaderRange(t *testing.T) {
	f := newFixture(t, initMsg(3))
	f.mustSubmit(f.mine(f.base, 25, 0)...)

	tests := []struct {
		name string
		q    core.QueryHeaders
		want []uint64
	}{
		{"defaults", core.QueryHeaders{}, span(0, 9)},
		{"start after", core.QueryHeaders{StartAfter: u64(5), Limit: u32(3)}, span(6, 8)},
		{"reverse from tip", core.QueryHeaders{Reverse: true}, span(25, 16)},
		{"reverse start after", core.QueryHeaders{StartAfter: u64(5), Limit: u32(100), Reverse: true}, span(4, 0)},
		{"zero limit", core.QueryHeaders{Limit: u32(0)}, span(0, 9)},
		{"clamped limit", core.QueryHeaders{Limit: u32(500)}, span(0, 25)},
		{"past tip", core.QueryHeaders{StartAfter: u64(25)}, nil},
		{"tail", core.QueryHeaders{StartAfter: u64(20), Limit: u32(10)}, span(21, 25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.query(tt.q).([]*header.Header)
			if tt.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tt.want, heights(got))

			// Stable across identical calls.
			again := f.query(tt.q).([]*header.Header)
			require.Equal(t, hashes(got), hashes(again))
		})
	}
}

func TestQueries(t *testing.T) {
	f := newFixture(t, initMsg(3))
	main := f.mine(f.base, 2, 0)
	f.mustSubmit(main...)

	cfg := f.query(core.QueryConfig{}).(config.Config)
	require.Equal(t, config.Regtest, cfg.Network)
	require.Equal(t, tag.Tag{1, 2, 3, 4}, cfg.BabylonTag)
	require.Equal(t, uint64(3), cfg.BtcConfirmationDepth)

	require.Equal(t, f.base.Hash(), f.query(core.QueryBaseHeader{}).(*header.Header).Hash())
	require.Equal(t, main[1].Hash(), f.query(core.QueryTipHeader{}).(*header.Header).Hash())

	_, err := f.checkpoint(7, main[0])
	require.NoError(t, err)
	cp := f.query(core.QueryCheckpoint{Number: 7}).(*core.Checkpoint)
	require.Equal(t, uint64(7), cp.Epoch)
	require.Equal(t, tag.Tag{1, 2, 3, 4}, cp.Tag)
	require.Equal(t, []core.Anchor{{Hash: main[0].Hash(), Height: 1}}, cp.Anchors)
}

func TestQueryMisses(t *testing.T) {
	f := newFixture(t, initMsg(3))

	misses := []core.Query{
		core.QueryHeader{Height: 999},
		core.QueryHeaderByHash{Hash: "00000000000000000000000000000000000000000000000000000000000000ff"},
		core.QueryBaseEpoch{},
		core.QueryLastEpoch{},
		core.QueryEpoch{Number: 9},
		core.QueryCheckpoint{Number: 9},
	}
	for _, q := range misses {
		_, err := f.lc.Query(q)
		require.ErrorIs(t, err, core.ErrNotFound, "%T", q)
	}

	_, err := f.lc.Query(core.QueryHeaderByHash{Hash: "abc"})
	require.ErrorIs(t, err, header.ErrInvalidHash)

	empty := core.NewLightClient(storage.NewMemDB(), zaptest.NewLogger(t))
	_, err = empty.Query(core.QueryTipHeader{})
	require.ErrorIs(t, err, core.ErrNotInitialized)
}
