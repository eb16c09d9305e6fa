package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/getcharzp/go-pointseg/autoseg"
	"github.com/getcharzp/go-pointseg/mask"
	"github.com/getcharzp/go-pointseg/predictor"
	"github.com/getcharzp/go-pointseg/segment"
	"github.com/getcharzp/go-pointseg/store"
)

func newStore(t *testing.T) (*store.MaskStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.New(store.Options{Addr: mr.Addr(), TTL: time.Hour}, nil)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(context.Background()))
	return s, mr
}

func square(w, h int, box mask.Rect) *mask.Mask {
	m := mask.New(w, h)
	for y := box.Y; y < box.Y+box.H; y++ {
		for x := box.X; x < box.X+box.W; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func TestMaskStore_Masks(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	m := square(20, 10, mask.Rect{X: 2, Y: 3, W: 5, H: 4})
	require.NoError(t, s.SaveMask(ctx, "doc", "b", m))
	require.NoError(t, s.SaveMask(ctx, "doc", "a", square(20, 10, mask.Rect{W: 1, H: 1})))

	enc, err := s.LoadMask(ctx, "doc", "b")
	require.NoError(t, err)
	require.Equal(t, mask.Rect{X: 2, Y: 3, W: 5, H: 4}, enc.BBox)
	got, err := enc.Decode()
	require.NoError(t, err)
	require.True(t, m.Equal(got))

	ids, err := s.ListMasks(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.DeleteMask(ctx, "doc", "b"))
	_, err = s.LoadMask(ctx, "doc", "b")
	require.ErrorIs(t, err, store.ErrNotFound)
	ids, err = s.ListMasks(ctx, "doc")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids)
}

func TestMaskStore_AutoResultCache(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	key := store.BytesMD5([]byte("image bytes"))
	require.Len(t, key, 32)

	_, err := s.GetAutoResult(ctx, key)
	require.ErrorIs(t, err, store.ErrNotFound)

	m := square(10, 10, mask.Rect{X: 1, Y: 1, W: 3, H: 3})
	segs := []*autoseg.Segment{{
		Result: &segment.Result{Mask: m, BBox: m.BBox(), Area: m.Area(), Score: 0.9, Stability: 0.95},
		Point:  predictor.Point{X: 2, Y: 2, Label: predictor.LabelPositive},
	}}
	require.NoError(t, s.SetAutoResult(ctx, key, segs))

	entries, err := s.GetAutoResult(ctx, key)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 9, entries[0].Area)
	require.Equal(t, 0.9, entries[0].Score)
	require.Equal(t, mask.Rect{X: 1, Y: 1, W: 3, H: 3}, entries[0].Mask.BBox)

	mr.FastForward(2 * time.Hour)
	_, err = s.GetAutoResult(ctx, key)
	require.ErrorIs(t, err, store.ErrNotFound)
}
