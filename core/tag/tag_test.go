package tag_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"btclc/core/tag"
)

func TestDecode(t *testing.T) {
	got, err := tag.Decode("01020304")
	require.NoError(t, err)
	require.Equal(t, tag.Tag{0x01, 0x02, 0x03, 0x04}, got)
	require.Equal(t, "01020304", got.String())

	upper, err := tag.Decode("ABCDEF01")
	require.NoError(t, err)
	require.Equal(t, tag.Tag{0xab, 0xcd, 0xef, 0x01}, upper)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"short":     "010203",
		"odd":       "0102030",
		"long":      "0102030405",
		"non-hex":   "0102030g",
		"raw bytes": "bbn0",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tag.Decode(in)
			require.ErrorIs(t, err, tag.ErrInvalidTagEncoding)
		})
	}
}

func TestTagJSON(t *testing.T) {
	type wrapper struct {
		Tag tag.Tag `json:"tag"`
	}
	data, err := json.Marshal(wrapper{Tag: tag.Tag{0xde, 0xad, 0xbe, 0xef}})
	require.NoError(t, err)
	require.JSONEq(t, `{"tag":"deadbeef"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal(data, &w))
	require.Equal(t, tag.Tag{0xde, 0xad, 0xbe, 0xef}, w.Tag)

	require.Error(t, json.Unmarshal([]byte(`{"tag":"dead"}`), &w))
}

func TestFromBytes(t *testing.T) {
	got, err := tag.FromBytes([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, "01020304", got.String())

	_, err = tag.FromBytes([]byte{1, 2, 3})
	require.ErrorIs(t, err, tag.ErrInvalidTagEncoding)
}
