package headerstore_test

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"

	"btclc/core/header"
	"btclc/core/headerstore"
	"btclc/core/storage"
)

// chain builds n linked headers starting at height base. The store does not
// validate, so proof of work is irrelevant here.
func chain(base uint64, n int) []*header.Header {
	out := make([]*header.Header, n)
	var prev chainhash.Hash
	for i := range out {
		h := &header.Header{
			Version:   1,
			PrevHash:  prev,
			Timestamp: uint32(1000 + i),
			Bits:      0x207fffff,
			Nonce:     uint32(i),
			Height:    base + uint64(i),
			TotalWork: big.NewInt(int64(i + 1)),
		}
		out[i] = h
		prev = h.Hash()
	}
	return out
}

func populate(t *testing.T, db storage.DB, headers []*header.Header) {
	t.Helper()
	require.NoError(t, db.Update(func(rw storage.ReadWriter) error {
		s := headerstore.New(rw)
		if err := s.Init(headers[0]); err != nil {
			return err
		}
		for _, h := range headers[1:] {
			if err := s.PutHeader(h); err != nil {
				return err
			}
			if err := s.SetCanonical(h.Height, h.Hash()); err != nil {
				return err
			}
		}
		return s.SetTip(headers[len(headers)-1].Height)
	}))
}

func view(t *testing.T, db storage.DB, fn func(r *headerstore.Reader)) {
	t.Helper()
	require.NoError(t, db.View(func(kv storage.Reader) error {
		fn(headerstore.NewReader(kv))
		return nil
	}))
}

func TestLookups(t *testing.T) {
	db := storage.NewMemDB()
	headers := chain(100, 5)
	populate(t, db, headers)

	view(t, db, func(r *headerstore.Reader) {
		base, err := r.Base()
		require.NoError(t, err)
		require.Equal(t, headers[0].Hash(), base.Hash())
		require.Equal(t, uint64(100), base.Height)

		tip, err := r.Tip()
		require.NoError(t, err)
		require.Equal(t, headers[4].Hash(), tip.Hash())
		require.Equal(t, 0, tip.TotalWork.Cmp(big.NewInt(5)))

		for _, h := range headers {
			byHeight, err := r.GetByHeight(h.Height)
			require.NoError(t, err)
			byHex, err := r.GetByHashHex(h.Hash().String())
			require.NoError(t, err)
			require.Equal(t, byHeight, byHex)

			canonical, err := r.IsCanonical(h)
			require.NoError(t, err)
			require.True(t, canonical)
		}

		_, err = r.GetByHeight(99)
		require.ErrorIs(t, err, headerstore.ErrNotFound)
		_, err = r.GetByHash(chainhash.Hash{1})
		require.ErrorIs(t, err, headerstore.ErrNotFound)
		_, err = r.GetByHashHex("zz")
		require.ErrorIs(t, err, header.ErrInvalidHash)
	})
}

func TestEmptyStore(t *testing.T) {
	view(t, storage.NewMemDB(), func(r *headerstore.Reader) {
		_, err := r.Base()
		require.ErrorIs(t, err, headerstore.ErrNotFound)
		_, err = r.Tip()
		require.ErrorIs(t, err, headerstore.ErrNotFound)
		branches, err := r.Branches()
		require.NoError(t, err)
		require.Empty(t, branches)
	})
}

func TestRangeBelowBase(t *testing.T) {
	db := storage.NewMemDB()
	headers := chain(100, 5)
	populate(t, db, headers)

	view(t, db, func(r *headerstore.Reader) {
		start := uint64(3)
		got, err := r.Range(&start, nil, false)
		require.NoError(t, err)
		require.Len(t, got, 5)
		require.Equal(t, uint64(100), got[0].Height)

		got, err = r.Range(&start, nil, true)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

func TestClampLimit(t *testing.T) {
	v := func(n uint32) *uint32 { return &n }
	require.Equal(t, 10, headerstore.ClampLimit(nil))
	require.Equal(t, 10, headerstore.ClampLimit(v(0)))
	require.Equal(t, 1, headerstore.ClampLimit(v(1)))
	require.Equal(t, 100, headerstore.ClampLimit(v(100)))
	require.Equal(t, 100, headerstore.ClampLimit(v(101)))
}

func TestBranches(t *testing.T) {
	db := storage.NewMemDB()
	headers := chain(0, 3)
	populate(t, db, headers)

	b := headerstore.Branch{ForkHeight: 1, Hashes: []chainhash.Hash{{0xaa}, {0xbb}}}
	require.Equal(t, chainhash.Hash{0xbb}, b.Tip())
	require.Equal(t, uint64(3), b.TipHeight())

	require.NoError(t, db.Update(func(rw storage.ReadWriter) error {
		return headerstore.New(rw).PutBranch(b)
	}))
	view(t, db, func(r *headerstore.Reader) {
		got, err := r.Branches()
		require.NoError(t, err)
		require.Equal(t, []headerstore.Branch{b}, got)
	})

	require.NoError(t, db.Update(func(rw storage.ReadWriter) error {
		return headerstore.New(rw).DeleteBranch(b.Tip())
	}))
	view(t, db, func(r *headerstore.Reader) {
		got, err := r.Branches()
		require.NoError(t, err)
		require.Empty(t, got)
	})
}
