package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"btclc/core"
	"btclc/core/config"
	"btclc/core/header"
	"btclc/miner"
)

func run(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--home", home, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, err := run(t, home, args...)
	require.NoError(t, err, out)
	return out
}

func regtestChain(t *testing.T, n int) []*header.Header {
	t.Helper()
	params := &chaincfg.RegressionNetParams
	base := header.FromWire(&params.GenesisBlock.Header)
	base.TotalWork = base.Work()
	headers, err := miner.Chain(context.Background(), params, base, n, 0)
	require.NoError(t, err)
	return headers
}

func TestInitSubmitQuery(t *testing.T) {
	home := t.TempDir()

	var cfg config.Config
	out := mustRun(t, home, "init", "--network", "regtest", "--babylon-tag", "01020304", "--btc-confirmation-depth", "2")
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	require.Equal(t, config.Regtest, cfg.Network)
	require.Equal(t, uint64(2), cfg.BtcConfirmationDepth)

	_, err := run(t, home, "init", "--network", "regtest", "--babylon-tag", "01020304")
	require.ErrorIs(t, err, core.ErrAlreadyInitialized)

	headers := regtestChain(t, 4)
	var lines []string
	for _, h := range miner.Raw(headers) {
		lines = append(lines, hex.EncodeToString(h))
	}
	file := filepath.Join(t.TempDir(), "headers.txt")
	require.NoError(t, os.WriteFile(file, []byte(strings.Join(lines, "\n")+"\n"), 0o600))

	var res struct {
		AcceptedHeights []uint64 `json:"accepted_heights"`
		Digest          string   `json:"digest"`
	}
	out = mustRun(t, home, "headers", "submit", "--file", file)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, []uint64{1, 2, 3, 4}, res.AcceptedHeights)
	require.Len(t, res.Digest, 64)

	var tip header.Header
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "query", "tip")), &tip))
	require.Equal(t, uint64(4), tip.Height)
	require.Equal(t, headers[3].Hash(), tip.Hash())

	var page []header.Header
	out = mustRun(t, home, "query", "headers", "--start-after", "1", "--limit", "2")
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page, 2)
	require.Equal(t, uint64(2), page[0].Height)
	require.Equal(t, uint64(3), page[1].Height)

	mustRun(t, home, "checkpoint", "submit", "1", headers[1].Hash().String())
	var epoch core.Epoch
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "query", "epoch", "1")), &epoch))
	require.Equal(t, core.StatusFinalized, epoch.Status)

	_, err = run(t, home, "query", "header", "9")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestSubmitRejectsBadTag(t *testing.T) {
	home := t.TempDir()
	mustRun(t, home, "init", "--network", "regtest", "--babylon-tag", "01020304", "--btc-confirmation-depth", "1")
	headers := regtestChain(t, 1)
	mustRun(t, home, "headers", "submit", hex.EncodeToString(headers[0].Encode()))

	_, err := run(t, home, "checkpoint", "submit", "1", headers[0].Hash().String(), "--babylon-tag", "ffffffff")
	require.ErrorIs(t, err, core.ErrTagMismatch)
}

func TestConfigFile(t *testing.T) {
	home := t.TempDir()
	data := filepath.Join(t.TempDir(), "chain")
	toml := `data-dir = "` + data + `"

[init]
network = "regtest"
babylon-tag = "0a0b0c0d"
btc-confirmation-depth = 3
notify-cosmos-zone = true
`
	require.NoError(t, os.WriteFile(filepath.Join(home, cfgFile), []byte(toml), 0o600))

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "init")), &cfg))
	require.Equal(t, "0a0b0c0d", cfg.BabylonTag.String())
	require.Equal(t, uint64(3), cfg.BtcConfirmationDepth)
	require.True(t, cfg.NotifyCosmosZone)

	_, err := os.Stat(filepath.Join(data, "badger"))
	require.NoError(t, err)
}

func TestCommandsNeedInit(t *testing.T) {
	_, err := run(t, t.TempDir(), "query", "tip")
	require.ErrorIs(t, err, core.ErrNotInitialized)
}
