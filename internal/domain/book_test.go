package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionBook(t *testing.T) {
	b := NewPositionBook()
	require.NoError(t, b.Open(&Position{ID: "o1", UserID: "u2", Asset: "BTC"}))
	require.NoError(t, b.Open(&Position{ID: "o2", UserID: "u1", Asset: "BTC"}))
	require.NoError(t, b.Open(&Position{ID: "o3", UserID: "u1", Asset: "SOL"}))
	require.NoError(t, b.Open(&Position{ID: "o4", UserID: "u1", Asset: "BTC"}))

	t.Run("duplicate id", func(t *testing.T) {
		assert.ErrorIs(t, b.Open(&Position{ID: "o1", UserID: "u9"}), ErrDuplicatePosition)
		assert.Equal(t, 4, b.Len())
	})

	t.Run("list keeps open order", func(t *testing.T) {
		ids := []string{}
		for _, p := range b.ListOpen("u1") {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []string{"o2", "o3", "o4"}, ids)
		assert.Empty(t, b.ListOpen("nobody"))
	})

	t.Run("by asset is deterministic", func(t *testing.T) {
		ids := []string{}
		for _, p := range b.ByAsset("BTC") {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []string{"o2", "o4", "o1"}, ids)
	})

	t.Run("close by another user fails", func(t *testing.T) {
		_, ok := b.Close("u2", "o2")
		assert.False(t, ok)
		_, ok = b.Get("o2")
		assert.True(t, ok)
	})

	t.Run("close removes from every index", func(t *testing.T) {
		p, ok := b.Close("u1", "o3")
		require.True(t, ok)
		assert.Equal(t, "o3", p.ID)
		_, ok = b.Get("o3")
		assert.False(t, ok)
		assert.Len(t, b.ListOpen("u1"), 2)

		_, ok = b.Close("u1", "o3")
		assert.False(t, ok, "second close must fail")
	})

	t.Run("close last position of a user", func(t *testing.T) {
		_, ok := b.Close("u2", "o1")
		require.True(t, ok)
		assert.Empty(t, b.ByAsset("SOL"))
		assert.Len(t, b.Snapshot(), 2)
	})
}
