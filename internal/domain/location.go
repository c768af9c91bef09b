package domain

import (
	"math"
	"time"
)

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lon) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Sample is one reading from the device geolocation collaborator.
type Sample struct {
	Coordinate
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// PrecisionTier is the privacy resolution a token is allowed to reveal.
type PrecisionTier string

const (
	TierDistrict     PrecisionTier = "district"
	TierNeighborhood PrecisionTier = "neighborhood"
	TierBlock        PrecisionTier = "block"
	TierStreet       PrecisionTier = "street"
)

func (t PrecisionTier) Valid() bool {
	switch t {
	case TierDistrict, TierNeighborhood, TierBlock, TierStreet:
		return true
	}
	return false
}

// LocationToken is the only location representation that leaves the geo index.
// FuzzyCenter is the center of the Geohash cell, never the sampled point.
type LocationToken struct {
	Geohash     string        `json:"geohash"`
	HexCell     string        `json:"hex_cell"`
	FuzzyCenter Coordinate    `json:"fuzzy_center"`
	Tier        PrecisionTier `json:"tier"`
}
