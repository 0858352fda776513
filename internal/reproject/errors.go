package reproject

import (
	"errors"
	"fmt"
)

// Fatal errors. Each is returned wrapped with details; match with errors.Is.
var (
	ErrInputNotFound           = errors.New("input file not found")
	ErrMalformedInput          = errors.New("input is not valid GeoJSON")
	ErrUnsupportedTopLevelType = errors.New("only GeoJSON containing a FeatureCollection is supported")
	ErrMissingSourceProjection = errors.New("GeoJSON has no projection (crs) defined")
	ErrInvalidSourceProjection = errors.New("invalid source projection")
	ErrInvalidTargetProjection = errors.New("invalid target projection")
	ErrTransform               = errors.New("coordinate transformation failed")
)

// ErrUnsupportedGeometry marks a feature skipped because of its geometry kind.
// It is never returned from Run, only carried by SkippedFeature.
var ErrUnsupportedGeometry = errors.New("unsupported geometry")

// nullKind names features without a geometry.
const nullKind = "null"

// SkippedFeature describes a feature dropped from the output.
type SkippedFeature struct {
	// Index is the position of the feature in the input collection.
	Index int
	// Kind is the GeoJSON geometry type of the feature.
	Kind string
}

func (s *SkippedFeature) Error() string {
	return fmt.Sprintf("feature %d: %s are not supported at this time, skipping", s.Index, pluralKind(s.Kind))
}

func (s *SkippedFeature) Unwrap() error {
	return ErrUnsupportedGeometry
}

func pluralKind(kind string) string {
	if kind == nullKind {
		return "null geometries"
	}
	return kind + "s"
}
