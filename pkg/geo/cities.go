package geo

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// City represents a city from the GeoNames cities1000.txt dump.
type City struct {
	Name        string
	Lat         float64
	Lon         float64
	CountryCode string
	Admin1Code  string
}

// CityIndex is a 1x1 degree grid of cities for offline nearest-city lookup.
type CityIndex struct {
	grid map[int][]City
	size int
}

// LoadCityIndex loads a GeoNames cities file.
func LoadCityIndex(citiesPath string) (*CityIndex, error) {
	file, err := os.Open(citiesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cities file: %w", err)
	}
	defer file.Close()
	return ReadCityIndex(file)
}

// ReadCityIndex parses tab-separated GeoNames rows from r.
func ReadCityIndex(r io.Reader) (*CityIndex, error) {
	idx := &CityIndex{grid: make(map[int][]City)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "\t")
		if len(parts) < 11 {
			continue
		}

		lat, errLat := strconv.ParseFloat(parts[4], 64)
		lon, errLon := strconv.ParseFloat(parts[5], 64)
		if errLat != nil || errLon != nil {
			continue
		}

		idx.Add(City{
			Name:        parts[1],
			Lat:         lat,
			Lon:         lon,
			CountryCode: parts[8],
			Admin1Code:  parts[10],
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Add inserts a city into the grid.
func (idx *CityIndex) Add(c City) {
	key := makeKey(int(math.Floor(c.Lat)), int(math.Floor(c.Lon)))
	idx.grid[key] = append(idx.grid[key], c)
	idx.size++
}

// Len returns the number of indexed cities.
func (idx *CityIndex) Len() int { return idx.size }

// Nearest returns the closest city within maxMeters of p.
func (idx *CityIndex) Nearest(p Point, maxMeters float64) (City, bool) {
	originLat := int(math.Floor(p.Lat))
	originLon := int(math.Floor(p.Lon))

	var best City
	bestDist := math.MaxFloat64

	// Current cell and neighbors
	for dLat := -1; dLat <= 1; dLat++ {
		for dLon := -1; dLon <= 1; dLon++ {
			for _, c := range idx.grid[makeKey(originLat+dLat, originLon+dLon)] {
				d := Distance(p, Point{Lat: c.Lat, Lon: c.Lon})
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
		}
	}

	if bestDist > maxMeters {
		return City{}, false
	}
	return best, true
}

// makeKey combines a lat/lon degree pair into one grid key.
func makeKey(lat, lon int) int {
	// Key = (Lat+90) * 360 + (Lon+180)
	return (lat+90)*360 + (lon + 180)
}
