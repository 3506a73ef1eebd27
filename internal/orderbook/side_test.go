package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideCanonicalPrice(t *testing.T) {
	s := NewSide()
	s.Set(decimal.RequireFromString("100.0"), decimal.NewFromInt(1))
	s.Set(decimal.RequireFromString("100"), decimal.NewFromInt(2))
	require.Equal(t, 1, s.Len())
	size, ok := s.Get(decimal.RequireFromString("100.000"))
	require.True(t, ok)
	assert.Equal(t, "2", size.String())
}

func TestSideOrdering(t *testing.T) {
	s := NewSide()
	for _, p := range []string{"10.5", "9", "11", "10.25"} {
		s.Set(decimal.RequireFromString(p), decimal.NewFromInt(1))
	}

	desc := s.Levels(Descending)
	asc := s.Levels(Ascending)
	require.Len(t, desc, 4)
	require.Len(t, asc, 4)
	for i := 1; i < len(desc); i++ {
		assert.True(t, desc[i-1].Price.GreaterThan(desc[i].Price))
		assert.True(t, asc[i-1].Price.LessThan(asc[i].Price))
	}

	best, ok := s.Best(Descending)
	require.True(t, ok)
	assert.Equal(t, "11", best.Price.String())
	best, ok = s.Best(Ascending)
	require.True(t, ok)
	assert.Equal(t, "9", best.Price.String())
}

func TestSideBestEmpty(t *testing.T) {
	_, ok := NewSide().Best(Ascending)
	assert.False(t, ok)
}
