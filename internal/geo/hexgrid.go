package geo

import (
	"fmt"
	"math"

	"github.com/dkeye/huddle/internal/domain"
)

// Hexagonal grid: pointy-top hexagons laid over Web Mercator metres, axial
// (q, r) coordinates. Edge length starts near 1,100 km at resolution 0 and
// shrinks by sqrt(7) per level, so each parent covers roughly seven children.

const (
	MinHexResolution = 0
	MaxHexResolution = 15

	hexBaseEdgeM  = 1107712.591
	mercatorR     = 6378137.0
	mercatorLimit = 85.05112878
)

var sqrt3 = math.Sqrt(3)

type hexCoord struct{ q, r int }

// HexEdge returns the edge length in projected metres at res.
func HexEdge(res int) float64 {
	return hexBaseEdgeM / math.Pow(math.Sqrt(7), float64(clampRes(res)))
}

// HexCell returns the id of the cell containing c at res.
func HexCell(c domain.Coordinate, res int) string {
	res = clampRes(res)
	return formatHex(res, pointToHex(project(c), HexEdge(res)))
}

// HexCenter returns the center of a cell.
func HexCenter(id string) (domain.Coordinate, error) {
	res, h, err := parseHex(id)
	if err != nil {
		return domain.Coordinate{}, err
	}
	return unproject(hexToPoint(h, HexEdge(res))), nil
}

// HexParent returns the cell one resolution up that contains the center of id.
func HexParent(id string) (string, error) {
	res, _, err := parseHex(id)
	if err != nil {
		return "", err
	}
	if res == MinHexResolution {
		return "", fmt.Errorf("hex %q: already at coarsest resolution", id)
	}
	c, err := HexCenter(id)
	if err != nil {
		return "", err
	}
	return HexCell(c, res-1), nil
}

// HexCellsInRadius returns every cell at res that may intersect the circle of
// radiusKm around center. It is a ring walk, no distance computation.
func HexCellsInRadius(center domain.Coordinate, radiusKm float64, res int) []string {
	res = clampRes(res)
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 {
		return []string{HexCell(center, res)}
	}
	size := HexEdge(res)
	// Mercator stretches distances by 1/cos(lat).
	lat := math.Max(-mercatorLimit, math.Min(mercatorLimit, center.Lat))
	radius := radiusKm * 1000 / cosDeg(lat)

	// Neighbouring centers are at least 1.5*size apart per ring step.
	k := int(math.Ceil((radius+size)/(1.5*size))) + 1
	origin := pointToHex(project(center), size)

	out := make([]string, 0, 1+3*k*(k+1))
	for dq := -k; dq <= k; dq++ {
		for dr := max(-k, -dq-k); dr <= min(k, -dq+k); dr++ {
			out = append(out, formatHex(res, hexCoord{origin.q + dq, origin.r + dr}))
		}
	}
	return out
}

func project(c domain.Coordinate) [2]float64 {
	lat := math.Max(-mercatorLimit, math.Min(mercatorLimit, c.Lat))
	x := mercatorR * rad(wrapLon(c.Lon))
	y := mercatorR * math.Log(math.Tan(math.Pi/4+rad(lat)/2))
	return [2]float64{x, y}
}

func unproject(p [2]float64) domain.Coordinate {
	lon := p[0] / mercatorR * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(p[1]/mercatorR)) - math.Pi/2) * 180 / math.Pi
	return domain.Coordinate{Lat: lat, Lon: wrapLon(lon)}
}

func pointToHex(p [2]float64, size float64) hexCoord {
	q := (sqrt3/3*p[0] - p[1]/3) / size
	r := (2.0 / 3 * p[1]) / size
	return roundHex(q, r)
}

func hexToPoint(h hexCoord, size float64) [2]float64 {
	x := size * (sqrt3*float64(h.q) + sqrt3/2*float64(h.r))
	y := size * 1.5 * float64(h.r)
	return [2]float64{x, y}
}

// roundHex rounds fractional axial coordinates through cube coordinates.
func roundHex(q, r float64) hexCoord {
	s := -q - r
	rq, rr, rs := math.Round(q), math.Round(r), math.Round(s)
	dq, dr, ds := math.Abs(rq-q), math.Abs(rr-r), math.Abs(rs-s)
	switch {
	case dq > dr && dq > ds:
		rq = -rr - rs
	case dr > ds:
		rr = -rq - rs
	}
	return hexCoord{int(rq), int(rr)}
}

// HexDistance is the number of cell steps between two cells of equal resolution.
func HexDistance(a, b string) (int, error) {
	ra, ha, err := parseHex(a)
	if err != nil {
		return 0, err
	}
	rb, hb, err := parseHex(b)
	if err != nil {
		return 0, err
	}
	if ra != rb {
		return 0, fmt.Errorf("hex distance: resolutions %d and %d differ", ra, rb)
	}
	dq, dr := ha.q-hb.q, ha.r-hb.r
	return (absInt(dq) + absInt(dr) + absInt(dq+dr)) / 2, nil
}

func formatHex(res int, h hexCoord) string {
	return fmt.Sprintf("h%d-%d-%d", res, h.q, h.r)
}

func parseHex(id string) (int, hexCoord, error) {
	var res, q, r int
	if _, err := fmt.Sscanf(id, "h%d-%d-%d", &res, &q, &r); err != nil {
		return 0, hexCoord{}, fmt.Errorf("hex %q: %w", id, err)
	}
	if res < MinHexResolution || res > MaxHexResolution {
		return 0, hexCoord{}, fmt.Errorf("hex %q: resolution out of range", id)
	}
	h := hexCoord{q, r}
	if formatHex(res, h) != id {
		return 0, hexCoord{}, fmt.Errorf("hex %q: malformed id", id)
	}
	return res, h, nil
}

func clampRes(res int) int {
	if res < MinHexResolution {
		return MinHexResolution
	}
	if res > MaxHexResolution {
		return MaxHexResolution
	}
	return res
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
