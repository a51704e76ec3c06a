package utils

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Coordinate is one vertex of a grid-area boundary, as stored in jsonb.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Boundary is the polygon ring of a grid area.
type Boundary struct {
	Coordinates []Coordinate `json:"coordinates"`
}

// ParseBoundary validates and decodes a boundary document.
func ParseBoundary(boundaryJSON []byte) (*Boundary, error) {
	if len(boundaryJSON) == 0 {
		return nil, errors.New("boundary is empty")
	}
	var b Boundary
	if err := json.Unmarshal(boundaryJSON, &b); err != nil {
		return nil, fmt.Errorf("invalid boundary JSON: %w", err)
	}
	if len(b.Coordinates) < 3 {
		return nil, errors.New("boundary needs at least 3 coordinates to form a polygon")
	}
	for i, c := range b.Coordinates {
		if c.Lat < -90 || c.Lat > 90 {
			return nil, fmt.Errorf("coordinate %d: latitude %v out of range", i, c.Lat)
		}
		if c.Lng < -180 || c.Lng > 180 {
			return nil, fmt.Errorf("coordinate %d: longitude %v out of range", i, c.Lng)
		}
	}
	return &b, nil
}

// Contains reports whether the point lies inside the boundary polygon.
func (b *Boundary) Contains(lat, lng float64) bool {
	ring := make(orb.Ring, 0, len(b.Coordinates)+1)
	for _, c := range b.Coordinates {
		ring = append(ring, orb.Point{c.Lng, c.Lat})
	}
	// close the ring
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return planar.PolygonContains(orb.Polygon{ring}, orb.Point{lng, lat})
}
