// Package geo implements spec.md §4.C's geospatial collection: member
// coordinates encoded as a 52-bit interleaved geohash and stored as the
// score of an underlying sorted set, so geo members are also visible
// through the plain zset surface (GeoAdd replays as op.KindGeoAdd, not
// op.KindZAdd, so replay can still tell the two apart).
package geo

import (
	"math"

	"github.com/synaplabs/synap/internal/collections/zset"
	"github.com/synaplabs/synap/internal/op"
)

const (
	earthRadiusMeters = 6372797.560856
	lonRange          = 180.0
	latRange          = 90.0
	geoStep           = 26 // 26 bits per axis = 52-bit interleaved hash
)

// Store is the sharded geospatial collection store, backed by a zset.Store
// keyed by the 52-bit geohash score.
type Store struct {
	z *zset.Store
}

func New(shardCount int) *Store {
	return &Store{z: zset.New(shardCount)}
}

// interleave produces the standard Z-order (Morton) interleaving of two
// geoStep-bit integers, lat bits in the even positions and lon bits in the
// odd positions, matching the original Rust SDK's encode_geohash.
func interleave(latBits, lonBits uint32) uint64 {
	var result uint64
	for i := 0; i < geoStep; i++ {
		result |= uint64((latBits>>i)&1) << (2 * i)
		result |= uint64((lonBits>>i)&1) << (2*i + 1)
	}
	return result
}

func deinterleave(hash uint64) (latBits, lonBits uint32) {
	for i := 0; i < geoStep; i++ {
		latBits |= uint32((hash>>(2*i))&1) << i
		lonBits |= uint32((hash>>(2*i+1))&1) << i
	}
	return
}

func encode(lon, lat float64) uint64 {
	latBits := uint32((lat + latRange) / (2 * latRange) * float64(uint32(1)<<geoStep))
	lonBits := uint32((lon + lonRange) / (2 * lonRange) * float64(uint32(1)<<geoStep))
	return interleave(latBits, lonBits)
}

func decode(hash uint64) (lon, lat float64) {
	latBits, lonBits := deinterleave(hash)
	lat = float64(latBits)/float64(uint32(1)<<geoStep)*(2*latRange) - latRange
	lon = float64(lonBits)/float64(uint32(1)<<geoStep)*(2*lonRange) - lonRange
	return
}

// Add stores each item's coordinates at key, returning the count newly
// added and the Operation reproducing the write.
func (s *Store) Add(now int64, key string, items []op.GeoItem) (int, op.Operation) {
	scores := make(map[string]float64, len(items))
	for _, it := range items {
		scores[it.Member] = float64(encode(it.Lon, it.Lat))
	}
	added, _ := s.z.Add(now, key, scores)
	return added, op.Operation{Kind: op.KindGeoAdd, Timestamp: now, Payload: &op.GeoAddPayload{
		Key: key, Items: items,
	}}
}

// Pos returns member's decoded coordinates, if present.
func (s *Store) Pos(key, member string) (lon, lat float64, ok bool) {
	score, exists := s.z.Score(key, member)
	if !exists {
		return 0, 0, false
	}
	lon, lat = decode(uint64(score))
	return lon, lat, true
}

func haversineMeters(lon1, lat1, lon2, lat2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Dist returns the great-circle distance in meters between two members, if
// both are present.
func (s *Store) Dist(key, memberA, memberB string) (float64, bool) {
	lonA, latA, ok := s.Pos(key, memberA)
	if !ok {
		return 0, false
	}
	lonB, latB, ok := s.Pos(key, memberB)
	if !ok {
		return 0, false
	}
	return haversineMeters(lonA, latA, lonB, latB), true
}

// SearchResult is one hit from Search, with its distance from the query
// center in meters.
type SearchResult struct {
	Member      string
	DistMeters  float64
}

// Search returns every member within radiusMeters of (lon, lat), sorted by
// ascending distance. This is a brute-force scan over every stored member;
// spec.md §4.C leaves geohash-prefix pruning as a future optimization, not
// a correctness requirement.
func (s *Store) Search(key string, lon, lat, radiusMeters float64) []SearchResult {
	var out []SearchResult
	for _, e := range s.z.Range(key, 0, -1) {
		mLon, mLat := decode(uint64(e.Score))
		d := haversineMeters(lon, lat, mLon, mLat)
		if d <= radiusMeters {
			out = append(out, SearchResult{Member: e.Member, DistMeters: d})
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DistMeters < out[j-1].DistMeters; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
