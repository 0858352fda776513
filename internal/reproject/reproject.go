// Package reproject converts the geometries of a GeoJSON FeatureCollection
// from the CRS the document declares to a target CRS.
package reproject

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/ngenmap/internal/geo"
	"github.com/woozymasta/ngenmap/internal/geodesy"
)

// Options describes a single reprojection run.
type Options struct {
	// Input is the GeoJSON file to read features from.
	Input string
	// Output is the GeoJSON file to write to, replaced if it exists.
	Output string
	// Projection identifies the target CRS (EPSG code, WKT, PROJ string, ...).
	Projection string
	// Indent writes the output with two space indentation.
	Indent bool
}

// Report summarizes a finished run.
type Report struct {
	Input       string
	Output      string
	Source      string
	Target      string
	FeaturesIn  int
	FeaturesOut int
	Skipped     []*SkippedFeature

	// Flattened lists the input features whose Z values were dropped.
	Flattened []int
}

// Input is a FeatureCollection read and checked by Load.
type Input struct {
	Collection *geojson.FeatureCollection

	// Elevated lists the features holding positions with a Z value.
	Elevated []int
}

// geojsonTypes lists every top level type a GeoJSON document may have.
var geojsonTypes = map[string]bool{
	"Point":              true,
	"MultiPoint":         true,
	"LineString":         true,
	"MultiLineString":    true,
	"Polygon":            true,
	"MultiPolygon":       true,
	"GeometryCollection": true,
	"Feature":            true,
	"FeatureCollection":  true,
}

// Run reprojects opts.Input into opts.Output.
// Every input problem is reported before the output file is touched.
func Run(resolver geodesy.Resolver, opts Options) (*Report, error) {
	in, err := Load(opts.Input)
	if err != nil {
		return nil, err
	}
	fc := in.Collection
	log.Info().
		Str("input", opts.Input).
		Int("features", len(fc.Features)).
		Msg("Loaded FeatureCollection")

	sourceName, ok := geo.CRSName(fc)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSourceProjection, opts.Input)
	}

	source, err := resolver.ParseCRS(sourceName)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSourceProjection, sourceName, err)
	}
	defer source.Close()
	log.Info().Str("source", sourceName).Msg("Found source projection definition")

	target, err := resolver.ParseUserCRS(opts.Projection)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTargetProjection, opts.Projection, err)
	}
	defer target.Close()

	authority, code, err := target.Authority()
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTargetProjection, opts.Projection, err)
	}
	targetURN := geo.URN(authority, code)
	log.Info().Str("target", opts.Projection).Str("urn", targetURN).Msg("Target projection given")

	tf, err := resolver.NewTransformer(source, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s -> %s: %v", ErrTransform, sourceName, opts.Projection, err)
	}
	defer tf.Close()

	log.Info().
		Int("features", len(fc.Features)).
		Str("from", sourceName).
		Str("to", targetURN).
		Msg("Reprojecting features")

	out, skipped, err := Transform(fc, tf)
	if err != nil {
		return nil, err
	}
	geo.SetCRS(out, geo.NamedCRS(targetURN))

	for _, s := range skipped {
		log.Warn().Int("feature", s.Index).Str("kind", s.Kind).Msg(s.Error())
	}

	// transforms run in two dimensions, the output carries x and y only
	if len(in.Elevated) > 0 {
		log.Warn().
			Ints("features", in.Elevated).
			Msg("Z coordinates are not supported at this time, dropping them")
	}

	report := &Report{
		Input:       opts.Input,
		Output:      opts.Output,
		Source:      sourceName,
		Target:      targetURN,
		FeaturesIn:  len(fc.Features),
		FeaturesOut: len(out.Features),
		Skipped:     skipped,
		Flattened:   in.Elevated,
	}

	event := log.Info()
	if report.FeaturesOut != report.FeaturesIn {
		event = log.Warn()
	}
	event.
		Int("features_in", report.FeaturesIn).
		Int("features_out", report.FeaturesOut).
		Msg("Successfully reprojected features, writing to file")

	if err := geo.WriteFile(opts.Output, out, opts.Indent); err != nil {
		return nil, fmt.Errorf("write %s: %w", opts.Output, err)
	}

	return report, nil
}

// Load reads path and checks it holds a well formed GeoJSON FeatureCollection.
func Load(path string) (*Input, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInputNotFound, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputNotFound, err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedInput, path, err)
	}
	if !geojsonTypes[head.Type] {
		return nil, fmt.Errorf("%w: %s: unknown type %q", ErrMalformedInput, path, head.Type)
	}
	if head.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: %s given", ErrUnsupportedTopLevelType, head.Type)
	}

	elevated, err := geo.ScanPositions(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedInput, path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedInput, path, err)
	}
	for i, f := range fc.Features {
		if f == nil {
			return nil, fmt.Errorf("%w: %s: feature %d is null", ErrMalformedInput, path, i)
		}
		if err := geo.ValidateGeometry(f.Geometry); err != nil {
			return nil, fmt.Errorf("%w: %s: feature %d: %v", ErrMalformedInput, path, i, err)
		}
	}

	return &Input{Collection: fc, Elevated: elevated}, nil
}

// Transform returns a new collection holding the Point and MultiPolygon
// features of fc with every vertex passed through tf. Other features are
// dropped and reported in skip order. Properties, ids and foreign members
// are carried over; a null properties member stays null.
func Transform(fc *geojson.FeatureCollection, tf geodesy.Transformer) (*geojson.FeatureCollection, []*SkippedFeature, error) {
	out := geojson.NewFeatureCollection()
	var skipped []*SkippedFeature

	for i, f := range fc.Features {
		var (
			g   orb.Geometry
			err error
		)

		switch geom := f.Geometry.(type) {
		case orb.Point:
			g, err = transformPoint(tf, geom)
		case orb.MultiPolygon:
			g, err = transformMultiPolygon(tf, geom)
		case nil:
			skipped = append(skipped, &SkippedFeature{Index: i, Kind: nullKind})
			continue
		default:
			skipped = append(skipped, &SkippedFeature{Index: i, Kind: geom.GeoJSONType()})
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: feature %d: %v", ErrTransform, i, err)
		}

		nf := geojson.NewFeature(g)
		nf.ID = f.ID
		nf.Properties = nil
		if f.Properties != nil {
			nf.Properties = f.Properties.Clone()
		}
		if len(f.ExtraMembers) > 0 {
			nf.ExtraMembers = f.ExtraMembers.Clone()
		}
		out.Append(nf)
	}

	return out, skipped, nil
}

func transformPoint(tf geodesy.Transformer, p orb.Point) (orb.Point, error) {
	x, y, err := tf.Transform(p[0], p[1])
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{x, y}, nil
}

func transformMultiPolygon(tf geodesy.Transformer, mp orb.MultiPolygon) (orb.MultiPolygon, error) {
	polygons := make(orb.MultiPolygon, 0, len(mp))
	for _, polygon := range mp {
		rings := make(orb.Polygon, 0, len(polygon))
		for _, ring := range polygon {
			coords := make(orb.Ring, 0, len(ring))
			for _, p := range ring {
				np, err := transformPoint(tf, p)
				if err != nil {
					return nil, err
				}
				coords = append(coords, np)
			}
			rings = append(rings, coords)
		}
		polygons = append(polygons, rings)
	}
	return polygons, nil
}
