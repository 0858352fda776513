package geo

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// ValidateGeometry checks the structural rules GeoJSON places on coordinates:
// line strings need two positions, linear rings four positions and a closing
// position equal to the first one. A nil geometry is valid.
func ValidateGeometry(g orb.Geometry) error {
	switch g := g.(type) {
	case nil, orb.Point, orb.MultiPoint, orb.Bound:
		return nil
	case orb.LineString:
		return validateLine(g)
	case orb.MultiLineString:
		for i, ls := range g {
			if err := validateLine(ls); err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
		}
	case orb.Ring:
		return validateRing(g)
	case orb.Polygon:
		return validatePolygon(g)
	case orb.MultiPolygon:
		for i, p := range g {
			if err := validatePolygon(p); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
	case orb.Collection:
		for i, c := range g {
			if err := ValidateGeometry(c); err != nil {
				return fmt.Errorf("geometry %d: %w", i, err)
			}
		}
	}

	return nil
}

func validateLine(ls orb.LineString) error {
	if len(ls) < 2 {
		return fmt.Errorf("line string has %d positions, at least 2 required", len(ls))
	}
	return nil
}

func validatePolygon(p orb.Polygon) error {
	for i, r := range p {
		if err := validateRing(r); err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
	}
	return nil
}

func validateRing(r orb.Ring) error {
	if len(r) < 4 {
		return fmt.Errorf("linear ring has %d positions, at least 4 required", len(r))
	}
	if !r.Closed() {
		return fmt.Errorf("linear ring is not closed")
	}
	return nil
}

// positionDepth is the array nesting of "coordinates" above a position.
var positionDepth = map[string]int{
	"Point":           0,
	"MultiPoint":      1,
	"LineString":      1,
	"MultiLineString": 2,
	"Polygon":         2,
	"MultiPolygon":    3,
}

type rawGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []json.RawMessage `json:"geometries"`
}

// ScanPositions checks every position of every feature geometry in a
// FeatureCollection document holds two or three numbers. The decoder keeps
// only x and y, so short or long positions would otherwise pass unnoticed.
// It returns the indexes of features that have positions with a Z value.
func ScanPositions(data []byte) ([]int, error) {
	var doc struct {
		Features []struct {
			Geometry json.RawMessage `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var elevated []int
	for i, f := range doc.Features {
		withZ, err := scanGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if withZ > 0 {
			elevated = append(elevated, i)
		}
	}

	return elevated, nil
}

func scanGeometry(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	var g rawGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return 0, err
	}

	if g.Type == "GeometryCollection" {
		withZ := 0
		for i, c := range g.Geometries {
			n, err := scanGeometry(c)
			if err != nil {
				return 0, fmt.Errorf("geometry %d: %w", i, err)
			}
			withZ += n
		}
		return withZ, nil
	}

	depth, ok := positionDepth[g.Type]
	if !ok {
		// unknown kinds are reported by the decoder
		return 0, nil
	}
	if len(g.Coordinates) == 0 || string(g.Coordinates) == "null" {
		return 0, fmt.Errorf("%s has no coordinates", g.Type)
	}

	var coords interface{}
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return 0, err
	}

	return scanPositions(coords, depth)
}

func scanPositions(v interface{}, depth int) (int, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return 0, fmt.Errorf("expected an array, got %v", v)
	}

	if depth > 0 {
		withZ := 0
		for _, c := range arr {
			n, err := scanPositions(c, depth-1)
			if err != nil {
				return 0, err
			}
			withZ += n
		}
		return withZ, nil
	}

	if len(arr) < 2 || len(arr) > 3 {
		return 0, fmt.Errorf("position %v has %d values, 2 or 3 required", arr, len(arr))
	}
	for _, n := range arr {
		if _, ok := n.(float64); !ok {
			return 0, fmt.Errorf("position %v holds a non numeric value", arr)
		}
	}
	if len(arr) == 3 {
		return 1, nil
	}

	return 0, nil
}
