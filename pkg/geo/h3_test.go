package geo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellsCovering_ContainsNearbyCells(t *testing.T) {
	center := Point{Lat: 41.3851, Lon: 2.1734} // Barcelona
	const res = 11

	cells, err := CellsCovering(center, 50, res, 5000)
	require.NoError(t, err)

	set := make(map[string]bool, len(cells))
	for _, c := range cells {
		set[c] = true
	}

	for _, bearing := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		p := DestinationPoint(center, 49, bearing)
		id, err := CellID(p, res)
		require.NoError(t, err)
		assert.True(t, set[id], "cell of point at bearing %v not covered", bearing)
	}

	own, err := CellID(center, res)
	require.NoError(t, err)
	assert.True(t, set[own])
}

func TestCellsCovering_Budget(t *testing.T) {
	_, err := CellsCovering(Point{Lat: 0, Lon: 0}, 10000, 11, 100)
	assert.True(t, errors.Is(err, ErrTooManyCells))
}

func TestDiskRadius_Monotonic(t *testing.T) {
	prev := 0
	for _, r := range []float64{0, 10, 50, 200, 1000} {
		k := DiskRadius(r, 11)
		assert.GreaterOrEqual(t, k, prev)
		prev = k
	}
	assert.GreaterOrEqual(t, DiskRadius(0, 11), 1)
}
