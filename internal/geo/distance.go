package geo

import (
	"math"

	"github.com/dkeye/huddle/internal/domain"
)

const (
	earthRadiusM    = 6371008.8
	metresPerDegree = math.Pi * earthRadiusM / 180
)

// Distance is the great-circle distance between a and b in metres (Haversine).
func Distance(a, b domain.Coordinate) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLat := lat2 - lat1
	dLon := rad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing is the initial course from a to b in degrees, 0 = north, clockwise.
func Bearing(a, b domain.Coordinate) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLon := rad(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func cosDeg(deg float64) float64 { return math.Cos(rad(deg)) }
