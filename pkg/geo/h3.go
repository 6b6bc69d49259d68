package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/uber/h3-go/v4"
)

// ErrTooManyCells is returned when a radius cover would exceed the cell budget.
var ErrTooManyCells = errors.New("geo: radius covers too many cells")

// Average hexagon edge length in meters per H3 resolution.
var h3EdgeMeters = [16]float64{
	1281256.011, 483056.8391, 182512.9565, 68979.22179,
	26071.75968, 9854.090990, 3724.532667, 1406.475763,
	531.414010, 200.786148, 75.863783, 28.663897,
	10.830188, 4.092010, 1.546100, 0.584169,
}

// CellID returns the H3 cell (hex string) containing p at the given resolution.
func CellID(p Point, res int) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %.6f,%.6f: %w", p.Lat, p.Lon, err)
	}
	return cell.String(), nil
}

// DiskRadius returns the grid distance k whose disk is guaranteed to contain
// every cell with a point within radiusMeters of the center cell.
func DiskRadius(radiusMeters float64, res int) int {
	edge := h3EdgeMeters[res]
	// Cell sizes vary across the globe; 0.9 of the average edge keeps the cover conservative.
	return int(math.Ceil((radiusMeters + edge) / (0.9 * edge)))
}

// CellsCovering returns the H3 cells at res that together cover the circle
// (center, radiusMeters). It fails with ErrTooManyCells if the cover exceeds maxCells.
func CellsCovering(center Point, radiusMeters float64, res, maxCells int) ([]string, error) {
	k := DiskRadius(radiusMeters, res)
	if n := 3*k*(k+1) + 1; maxCells > 0 && n > maxCells {
		return nil, fmt.Errorf("%w: k=%d (%d cells)", ErrTooManyCells, k, n)
	}

	origin, err := h3.LatLngToCell(h3.NewLatLng(center.Lat, center.Lon), res)
	if err != nil {
		return nil, fmt.Errorf("h3 origin: %w", err)
	}
	disk, err := h3.GridDisk(origin, k)
	if err != nil {
		return nil, fmt.Errorf("h3 grid disk: %w", err)
	}

	out := make([]string, 0, len(disk))
	for _, c := range disk {
		if c == 0 {
			continue
		}
		out = append(out, c.String())
	}
	return out, nil
}
