package core_test

import (
	"context"
	"encoding/hex"
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
)

const testTag = "01020304"

var (
	regtest = &chaincfg.RegressionNetParams
	testEnv = core.Env{Height: 100, Time: time.Unix(1_700_000_000, 0)}
)

type fixture struct {
	t    *testing.T
	db   storage.DB
	lc   *core.LightClient
	base *header.Header
}

func regtestBase() *header.Header {
	base := header.FromWire(&regtest.GenesisBlock.Header)
	base.TotalWork = base.Work()
	return base
}

func initMsg(depth uint64) config.InitMsg {
	return config.InitMsg{
		Network:              string(config.Regtest),
		BabylonTag:           testTag,
		BtcConfirmationDepth: depth,
		BaseHeader:           hex.EncodeToString(regtestBase().Encode()),
	}
}

func newFixture(t *testing.T, msg config.InitMsg) *fixture {
	return newFixtureOn(t, storage.NewMemDB(), msg)
}

func newFixtureOn(t *testing.T, db storage.DB, msg config.InitMsg) *fixture {
	t.Helper()
	lc := core.NewLightClient(db, zaptest.NewLogger(t))
	require.NoError(t, lc.Instantiate(msg))
	return &fixture{t: t, db: db, lc: lc, base: regtestBase()}
}

func (f *fixture) mine(parent *header.Header, n int, salt uint32) []*header.Header {
	f.t.Helper()
	headers, err := miner.Chain(context.Background(), regtest, parent, n, salt)
	require.NoError(f.t, err)
	return headers
}

func (f *fixture) submit(headers ...*header.Header) (*core.Result, error) {
	return f.lc.Execute(testEnv, core.MsgBtcHeaders{Headers: miner.Raw(headers)})
}

func (f *fixture) mustSubmit(headers ...*header.Header) *core.Result {
	f.t.Helper()
	res, err := f.submit(headers...)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) tip() *header.Header {
	f.t.Helper()
	tip, err := f.lc.TipHeader()
	require.NoError(f.t, err)
	return tip
}

func (f *fixture) query(q core.Query) any {
	f.t.Helper()
	v, err := f.lc.Query(q)
	require.NoError(f.t, err)
	return v
}

// dump returns every committed key and value.
func (f *fixture) dump() map[string]string {
	f.t.Helper()
	out := make(map[string]string)
	require.NoError(f.t, f.db.View(func(r storage.Reader) error {
		return r.Iterate(nil, nil, false, func(k, v []byte) (bool, error) {
			out[string(k)] = string(v)
			return true, nil
		})
	}))
	return out
}

func hashes(headers []*header.Header) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = h.Hash().String()
	}
	return out
}
