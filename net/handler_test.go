package net_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"btclc/core"
	"btclc/core/config"
	"btclc/core/header"
	"btclc/core/storage"
	"btclc/miner"
	"btclc/net"
)

const testTag = "01020304"

var regtest = &chaincfg.RegressionNetParams

func testEnv() core.Env {
	return core.Env{Height: 100, Time: time.Unix(1_700_000_000, 0)}
}

func regtestBase() *header.Header {
	base := header.FromWire(&regtest.GenesisBlock.Header)
	base.TotalWork = base.Work()
	return base
}

func newClient(t *testing.T, depth uint64) *core.LightClient {
	t.Helper()
	lc := core.NewLightClient(storage.NewMemDB(), zaptest.NewLogger(t))
	require.NoError(t, lc.Instantiate(config.InitMsg{
		Network:              string(config.Regtest),
		BabylonTag:           testTag,
		BtcConfirmationDepth: depth,
		BaseHeader:           hex.EncodeToString(regtestBase().Encode()),
	}))
	return lc
}

func mine(t *testing.T, parent *header.Header, n int) []*header.Header {
	t.Helper()
	headers, err := miner.Chain(context.Background(), regtest, parent, n, 0)
	require.NoError(t, err)
	return headers
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHandleHeadersCheckpointAck(t *testing.T) {
	lc := newClient(t, 2)
	h := net.NewHandler(lc, testEnv, zaptest.NewLogger(t))

	headers := mine(t, regtestBase(), 4)
	res, err := h.Handle(net.TopicHeaders, encode(t, net.NewHeadersMsg(headers)))
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3, 4}, res.AcceptedHeights)

	_, err = h.Handle(net.TopicHeaders, encode(t, net.NewHeadersMsg(headers)))
	require.ErrorIs(t, err, core.ErrEmptyBatch)

	res, err = h.Handle(net.TopicCheckpoints, encode(t, net.CheckpointMsg{
		Epoch:   1,
		Tag:     testTag,
		Anchors: []string{headers[1].Hash().String()},
	}))
	require.NoError(t, err)
	require.NotEmpty(t, res.Events)

	_, err = h.Handle(net.TopicAcks, encode(t, net.AckMsg{Epoch: 1}))
	require.NoError(t, err)

	v, err := lc.Query(core.QueryEpoch{Number: 1})
	require.NoError(t, err)
	require.Equal(t, core.StatusFinalized, v.(*core.Epoch).Status)
}

func TestHandleRejectsMalformed(t *testing.T) {
	h := net.NewHandler(newClient(t, 2), testEnv, zaptest.NewLogger(t))

	tests := []struct {
		name  string
		topic string
		data  []byte
		err   error
	}{
		{"not json", net.TopicHeaders, []byte("{"), net.ErrBadMessage},
		{"bad hex header", net.TopicHeaders, encode(t, net.HeadersMsg{Headers: []string{"zz"}}), net.ErrBadMessage},
		{"short header", net.TopicHeaders, encode(t, net.HeadersMsg{Headers: []string{"00"}}), core.ErrMalformedHeader},
		{"bad tag", net.TopicCheckpoints, encode(t, net.CheckpointMsg{Epoch: 1, Tag: "0102", Anchors: []string{}}), core.ErrInvalidTagEncoding},
		{"bad anchor", net.TopicCheckpoints, encode(t, net.CheckpointMsg{Epoch: 1, Tag: testTag, Anchors: []string{"xyz"}}), net.ErrBadMessage},
		{"events are outbound only", net.TopicEvents, []byte("{}"), net.ErrUnknownTopic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(tt.topic, tt.data)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestHandleRejectsOversizedBatch(t *testing.T) {
	h := net.NewHandler(newClient(t, 2), testEnv, zaptest.NewLogger(t))
	msg := net.HeadersMsg{Headers: make([]string, 1001)}
	_, err := h.Handle(net.TopicHeaders, encode(t, msg))
	require.ErrorIs(t, err, net.ErrBadMessage)
}

func TestBehindAndServe(t *testing.T) {
	ahead := newClient(t, 3)
	behind := newClient(t, 3)
	src := net.NewHandler(ahead, testEnv, zaptest.NewLogger(t))
	dst := net.NewHandler(behind, testEnv, zaptest.NewLogger(t))

	headers := mine(t, regtestBase(), 8)
	_, err := src.Handle(net.TopicHeaders, encode(t, net.NewHeadersMsg(headers)))
	require.NoError(t, err)
	_, err = dst.Handle(net.TopicHeaders, encode(t, net.NewHeadersMsg(headers[:5])))
	require.NoError(t, err)

	tip, err := src.Tip()
	require.NoError(t, err)
	require.Equal(t, uint64(8), tip.Height)
	require.Equal(t, headers[7].Hash().String(), tip.Hash)

	_, ok, err := src.Behind(tip)
	require.NoError(t, err)
	require.False(t, ok)

	req, ok, err := dst.Behind(tip)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), req.After)

	resp, ok, err := src.Serve(req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, resp.Headers, 6)

	res, err := dst.Handle(net.TopicHeaders, encode(t, resp))
	require.NoError(t, err)
	require.Equal(t, []uint64{6, 7, 8}, res.AcceptedHeights)

	_, ok, err = src.Serve(net.HeaderRequest{After: 8})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBehindNearBase(t *testing.T) {
	ahead := newClient(t, 6)
	behind := newClient(t, 6)
	src := net.NewHandler(ahead, testEnv, zaptest.NewLogger(t))
	dst := net.NewHandler(behind, testEnv, zaptest.NewLogger(t))

	_, err := src.Handle(net.TopicHeaders, encode(t, net.NewHeadersMsg(mine(t, regtestBase(), 3))))
	require.NoError(t, err)
	tip, err := src.Tip()
	require.NoError(t, err)

	req, ok, err := dst.Behind(tip)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(0), req.After)
}
