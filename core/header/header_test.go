package header_test

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"btclc/core/header"
)

const (
	genesisHex  = "0100000000000000000000000000000000000000000000000000000000000000000000003ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a29ab5f49ffff001d1dac2b7c"
	genesisHash = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"

	// Mainnet block 782,xxx, relayed to Babylon on 2023-03-21.
	mainnetHex  = "00400720b2559c9eb13821d6df53ffab9ddf3a645c559f030cac050000000000000000001ff22ffaa13c41df6aebc4b9b09faf328748c3a45772b6a4c4da319119fd5be3b53a1964817606174cc4c4b0"
	mainnetHash = "00000000000000000004e3258bd8b214ee76463ce4c9d756c6075f528cc6f25f"
)

func TestDecodeGenesisGolden(t *testing.T) {
	raw, err := hex.DecodeString(genesisHex)
	require.NoError(t, err)

	h, err := header.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, int32(1), h.Version)
	require.Equal(t, uint32(0x1d00ffff), h.Bits)
	require.Equal(t, uint32(1231006505), h.Timestamp)
	require.Equal(t, uint32(2083236893), h.Nonce)
	require.Equal(t, genesisHash, h.Hash().String())
	require.Equal(t, *chaincfg.MainNetParams.GenesisHash, h.Hash())
	require.Equal(t, raw, h.Encode())
	require.True(t, h.MeetsTarget())
}

func TestDecodeMainnetFixture(t *testing.T) {
	h, err := header.DecodeHex(mainnetHex)
	require.NoError(t, err)

	require.Equal(t, int32(0x20074000), h.Version)
	require.Equal(t, "00000000000000000005ac0c039f555c643adf9dabff53dfd62138b19e9c55b2", h.PrevHash.String())
	require.Equal(t, "e35bfd199131dac4a4b67257a4c3488732af9fb0b9c4eb6adf413ca1fa2ff21f", h.MerkleRoot.String())
	require.Equal(t, uint32(1679375029), h.Timestamp)
	require.Equal(t, uint32(0x17067681), h.Bits)
	require.Equal(t, uint32(2965685324), h.Nonce)
	require.Equal(t, mainnetHash, h.Hash().String())
	require.Equal(t, mainnetHex, hex.EncodeToString(h.Encode()))
	require.True(t, h.MeetsTarget())

	// Work grows as the target shrinks.
	genesis, err := header.DecodeHex(genesisHex)
	require.NoError(t, err)
	require.Equal(t, 1, h.Work().Cmp(genesis.Work()))
}

func TestDecodeWrongLength(t *testing.T) {
	for _, n := range []int{0, 79, 81, 160} {
		_, err := header.Decode(make([]byte, n))
		require.ErrorIs(t, err, header.ErrMalformedHeader, "length %d", n)
	}
	_, err := header.DecodeHex("zz")
	require.ErrorIs(t, err, header.ErrMalformedHeader)
}

func TestMeetsTargetRejectsHardBits(t *testing.T) {
	h, err := header.DecodeHex(genesisHex)
	require.NoError(t, err)

	h.Bits = 0x03000001 // target == 1
	require.False(t, h.MeetsTarget())

	h.Bits = 0x01800000 // negative compact encoding
	require.False(t, h.MeetsTarget())
}

func TestParseHash(t *testing.T) {
	h, err := header.ParseHash(genesisHash)
	require.NoError(t, err)
	require.Equal(t, genesisHash, h.String())
	// The internal byte order is reversed relative to the display form.
	require.Equal(t, byte(0x6f), h[0])

	_, err = header.ParseHash("19d6689c")
	require.ErrorIs(t, err, header.ErrInvalidHash)
	_, err = header.ParseHash(genesisHash[:62] + "zz")
	require.True(t, errors.Is(err, header.ErrInvalidHash))
}

func TestHeaderJSON(t *testing.T) {
	h, err := header.DecodeHex(mainnetHex)
	require.NoError(t, err)
	h.Height = 782000
	h.TotalWork, _ = new(big.Int).SetString("123456789012345678901234567890", 10)

	data, err := json.Marshal(h)
	require.NoError(t, err)
	require.Contains(t, string(data), `"total_work":"123456789012345678901234567890"`)
	require.Contains(t, string(data), `"hash":"`+mainnetHash+`"`)

	var back header.Header
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, h.Encode(), back.Encode())
	require.Equal(t, h.Height, back.Height)
	require.Zero(t, h.TotalWork.Cmp(back.TotalWork))
}
