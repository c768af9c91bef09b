package geo

import (
	"slices"
	"strings"

	"github.com/dkeye/huddle/internal/domain"
)

type tierSpec struct {
	geohash int
	hexRes  int
}

// Tier resolutions. The hex resolution is chosen so a hex cell is never
// finer than the geohash cell of the same tier.
var tiers = map[domain.PrecisionTier]tierSpec{
	domain.TierDistrict:     {geohash: 5, hexRes: 6},
	domain.TierNeighborhood: {geohash: 6, hexRes: 8},
	domain.TierBlock:        {geohash: 7, hexRes: 9},
	domain.TierStreet:       {geohash: 8, hexRes: 10},
}

// GeohashPrecision returns the geohash length used for tier.
func GeohashPrecision(tier domain.PrecisionTier) int { return tiers[tier].geohash }

// HexResolution returns the hex resolution used for tier.
func HexResolution(tier domain.PrecisionTier) int { return tiers[tier].hexRes }

// Index is the gate between raw coordinates and the rest of the engine.
type Index struct {
	tier domain.PrecisionTier
}

// NewIndex returns an index whose tokens default to tier.
func NewIndex(tier domain.PrecisionTier) *Index {
	if !tier.Valid() {
		tier = domain.TierStreet
	}
	return &Index{tier: tier}
}

func (ix *Index) Tier() domain.PrecisionTier { return ix.tier }

// ToPrivacyToken is the only function that accepts a raw coordinate from
// outside this package. tier may be empty to use the index default.
func (ix *Index) ToPrivacyToken(s domain.Sample, tier domain.PrecisionTier) (domain.LocationToken, error) {
	if !s.Coordinate.Valid() {
		return domain.LocationToken{}, domain.Invalid("coordinate out of range")
	}
	if tier == "" {
		tier = ix.tier
	}
	spec, ok := tiers[tier]
	if !ok {
		return domain.LocationToken{}, domain.Invalid("unknown precision tier %q", tier)
	}
	hash := Encode(s.Coordinate, spec.geohash)
	_, center, err := Decode(hash)
	if err != nil {
		return domain.LocationToken{}, err
	}
	return domain.LocationToken{
		Geohash:     hash,
		HexCell:     HexCell(center, spec.hexRes),
		FuzzyCenter: center,
		Tier:        tier,
	}, nil
}

// Candidates is the cell neighbourhood of a token for one radius.
type Candidates struct {
	Center    domain.Coordinate
	RadiusM   float64
	Precision int
	Geohashes []string
	HexCells  []string
	hexSet    map[string]struct{}
	claimP    int
}

// Claim cells are sized for this latitude or higher so that two callers on
// either side of a latitude band agree on the claim precision.
const claimLatitude = 80.0

// Candidates returns the geohash neighbours at the radius precision and the
// hex cells in radius at the token's tier resolution.
func (ix *Index) Candidates(tok domain.LocationToken, radiusM float64) Candidates {
	p := PrecisionForRadius(radiusM, tok.FuzzyCenter.Lat)
	cell := Encode(tok.FuzzyCenter, p)
	hashes, err := Neighbors(cell)
	if err != nil {
		hashes = []string{cell}
	}
	res := HexResolution(tok.Tier)
	if _, ok := tiers[tok.Tier]; !ok {
		res = HexResolution(ix.tier)
	}
	hexes := HexCellsInRadius(tok.FuzzyCenter, radiusM/1000, res)
	set := make(map[string]struct{}, len(hexes))
	for _, h := range hexes {
		set[h] = struct{}{}
	}
	slices.Sort(hashes)
	return Candidates{
		Center:    tok.FuzzyCenter,
		RadiusM:   radiusM,
		Precision: p,
		Geohashes: hashes,
		HexCells:  hexes,
		hexSet:    set,
		claimP:    PrecisionForRadius(radiusM, max(abs(tok.FuzzyCenter.Lat), claimLatitude)),
	}
}

// Covers is the cheap membership test: the token shares a geohash prefix with
// one of the neighbour cells, or its hex cell lies in the radius ring.
func (c Candidates) Covers(tok *domain.LocationToken) bool {
	if tok == nil {
		return false
	}
	if _, ok := c.hexSet[tok.HexCell]; ok {
		return true
	}
	for _, h := range c.Geohashes {
		if strings.HasPrefix(tok.Geohash, h) || strings.HasPrefix(h, tok.Geohash) {
			return true
		}
	}
	return false
}

// Within confirms a covered token with the exact distance between centers.
func (c Candidates) Within(tok *domain.LocationToken) (float64, bool) {
	if tok == nil {
		return 0, false
	}
	d := Distance(c.Center, tok.FuzzyCenter)
	return d, d <= c.RadiusM
}

// ClaimCells are the cells a creation at this location must serialize on:
// the write cell of any creator within RadiusM is in the read set.
func (c Candidates) ClaimCells() (read []string, write string) {
	write = Encode(c.Center, c.claimP)
	read, err := Neighbors(write)
	if err != nil {
		return []string{write}, write
	}
	slices.Sort(read)
	return read, write
}
