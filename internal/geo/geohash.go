// Package geo turns coordinates into privacy-preserving location tokens and
// answers "is X near Y" with cell membership instead of a distance scan.
//
// Two partitions are provided: geohash prefix codes and a hexagonal grid.
// Exact distance (Haversine) is only used to confirm a candidate the cells
// already narrowed down.
package geo

import (
	"fmt"
	"strings"

	"github.com/dkeye/huddle/internal/domain"
)

const (
	base32      = "0123456789bcdefghjkmnpqrstuvwxyz"
	MinGeohash  = 1
	MaxGeohash  = 12
	maxLatitude = 90.0
)

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(base32); i++ {
		decodeMap[base32[i]] = int8(i)
	}
}

// Box is a lat/lon bounding box. Min bounds are inclusive.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

func (b Box) Contains(c domain.Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

func (b Box) Center() domain.Coordinate {
	return domain.Coordinate{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

func (b Box) Height() float64 { return b.MaxLat - b.MinLat }
func (b Box) Width() float64  { return b.MaxLon - b.MinLon }

// Encode narrows the longitude/latitude ranges one bit at a time, longitude
// first, and emits a base-32 character every five bits.
func Encode(c domain.Coordinate, precision int) string {
	precision = clampPrecision(precision)
	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)
	even := true
	bit, ch := 0, 0
	for sb.Len() < precision {
		if even {
			mid := (lonLo + lonHi) / 2
			if c.Lon >= mid {
				ch = ch<<1 | 1
				lonLo = mid
			} else {
				ch <<= 1
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if c.Lat >= mid {
				ch = ch<<1 | 1
				latLo = mid
			} else {
				ch <<= 1
				latHi = mid
			}
		}
		even = !even
		if bit++; bit == 5 {
			sb.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}
	return sb.String()
}

// Decode returns the cell box of hash and its center.
func Decode(hash string) (Box, domain.Coordinate, error) {
	if len(hash) < MinGeohash || len(hash) > MaxGeohash {
		return Box{}, domain.Coordinate{}, fmt.Errorf("geohash %q: bad length", hash)
	}
	b := Box{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	even := true
	for i := 0; i < len(hash); i++ {
		v := decodeMap[hash[i]]
		if v < 0 {
			return Box{}, domain.Coordinate{}, fmt.Errorf("geohash %q: invalid character %q", hash, hash[i])
		}
		for mask := 16; mask > 0; mask >>= 1 {
			on := int(v)&mask != 0
			if even {
				mid := (b.MinLon + b.MaxLon) / 2
				if on {
					b.MinLon = mid
				} else {
					b.MaxLon = mid
				}
			} else {
				mid := (b.MinLat + b.MaxLat) / 2
				if on {
					b.MinLat = mid
				} else {
					b.MaxLat = mid
				}
			}
			even = !even
		}
	}
	return b, b.Center(), nil
}

// Neighbors returns the cell itself plus its 8 adjacent cells. Cells beyond a
// pole are dropped; longitude wraps at the antimeridian.
func Neighbors(hash string) ([]string, error) {
	box, center, err := Decode(hash)
	if err != nil {
		return nil, err
	}
	dLat, dLon := box.Height(), box.Width()
	out := make([]string, 0, 9)
	seen := make(map[string]struct{}, 9)
	for _, dy := range []float64{0, 1, -1} {
		lat := center.Lat + dy*dLat
		if lat > maxLatitude || lat < -maxLatitude {
			continue
		}
		for _, dx := range []float64{0, 1, -1} {
			n := Encode(domain.Coordinate{Lat: lat, Lon: wrapLon(center.Lon + dx*dLon)}, len(hash))
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out, nil
}

// CellSize returns the approximate cell height and width in metres at lat.
func CellSize(precision int, lat float64) (height, width float64) {
	precision = clampPrecision(precision)
	bits := precision * 5
	lonBits := (bits + 1) / 2
	latBits := bits / 2
	height = 180.0 / float64(uint64(1)<<latBits) * metresPerDegree
	width = 360.0 / float64(uint64(1)<<lonBits) * metresPerDegree * cosDeg(lat)
	return height, width
}

// PrecisionForRadius picks the finest precision whose cells are still at
// least radius wide and tall at lat, so that any two points within radius
// fall in the same or adjacent cells. Latitude is rounded away from the
// equator to the next whole degree so nearby callers agree on the result.
func PrecisionForRadius(radiusM, lat float64) int {
	band := float64(int(abs(lat)) + 1)
	if band > 89 {
		band = 89
	}
	for p := MaxGeohash; p > MinGeohash; p-- {
		h, w := CellSize(p, band)
		if h >= radiusM && w >= radiusM {
			return p
		}
	}
	return MinGeohash
}

func clampPrecision(p int) int {
	if p < MinGeohash {
		return MinGeohash
	}
	if p > MaxGeohash {
		return MaxGeohash
	}
	return p
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
