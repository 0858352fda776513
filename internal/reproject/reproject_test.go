package reproject

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/ngenmap/internal/geo"
	"github.com/woozymasta/ngenmap/internal/geodesy"
)

// fakeResolver knows a handful of CRSs and projects between them with the
// spherical Web Mercator formulas, so the walk can be tested without PROJ.
type fakeResolver struct {
	open int
}

const (
	kindGeographic = "geographic"
	kindMercator   = "mercator"
	kindBroken     = "broken"
)

var fakeCRSs = map[string]string{
	"EPSG:4326":                     kindGeographic,
	"EPSG:4269":                     kindGeographic,
	"urn:ogc:def:crs:EPSG::4326":    kindGeographic,
	"urn:ogc:def:crs:OGC:1.3:CRS84": kindGeographic,
	"EPSG:3857":                     kindMercator,
	"+proj=merc +type=crs":          kindMercator,
	"TEST:BROKEN":                   kindBroken,
}

type fakeCRS struct {
	r    *fakeResolver
	def  string
	kind string
}

func (c *fakeCRS) Definition() string { return c.def }

func (c *fakeCRS) Authority() (string, string, error) {
	id, ok := geodesy.ParseIdentifier(c.def)
	if !ok {
		return "", "", geodesy.ErrNoAuthority
	}
	return id.Authority, id.Code, nil
}

func (c *fakeCRS) Close() { c.r.open-- }

func (r *fakeResolver) lookup(def string) (geodesy.CRS, error) {
	kind, ok := fakeCRSs[def]
	if !ok {
		return nil, fmt.Errorf("crs not found: %s", def)
	}
	r.open++
	return &fakeCRS{r: r, def: def, kind: kind}, nil
}

func (r *fakeResolver) ParseCRS(name string) (geodesy.CRS, error) {
	return r.lookup(name)
}

func (r *fakeResolver) ParseUserCRS(input string) (geodesy.CRS, error) {
	return r.lookup(geodesy.NormalizeUserInput(input))
}

func (r *fakeResolver) NewTransformer(src, dst geodesy.CRS) (geodesy.Transformer, error) {
	r.open++
	return &fakeTransformer{r: r, from: src.(*fakeCRS).kind, to: dst.(*fakeCRS).kind}, nil
}

type fakeTransformer struct {
	r        *fakeResolver
	from, to string
}

func (t *fakeTransformer) Transform(x, y float64) (float64, float64, error) {
	p := orb.Point{x, y}
	switch {
	case t.from == kindBroken || t.to == kindBroken:
		return 0, 0, errors.New("no transformation available")
	case t.from == t.to:
	case t.from == kindGeographic:
		p = project.WGS84.ToMercator(p)
	default:
		p = project.Mercator.ToWGS84(p)
	}
	return p[0], p[1], nil
}

func (t *fakeTransformer) Close() { t.r.open-- }

func writeInput(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.geojson")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func outputPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "output.geojson")
}

func TestRun_WebMercatorPoint(t *testing.T) {
	in := writeInput(t, `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[-111.68,40.25]},"properties":{"id":"A"}}]}`)
	out := outputPath(t)
	r := &fakeResolver{}

	report, err := Run(r, Options{Input: in, Output: out, Projection: "EPSG:3857"})
	require.NoError(t, err)
	assert.Zero(t, r.open, "crs and transformer must be closed")

	assert.Equal(t, 1, report.FeaturesIn)
	assert.Equal(t, 1, report.FeaturesOut)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, "EPSG:4326", report.Source)
	assert.Equal(t, "urn:ogc:def:crs:EPSG::3857", report.Target)

	fc, err := geo.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	want := project.WGS84.ToMercator(orb.Point{-111.68, 40.25})
	got, ok := fc.Features[0].Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, want[0], got[0], 1e-6)
	assert.InDelta(t, want[1], got[1], 1e-6)
	assert.InDelta(t, -12432160.73, got[0], 0.01)
	assert.InDelta(t, 4902338.38, got[1], 0.01)
	assert.Equal(t, "A", fc.Features[0].Properties["id"])

	name, ok := geo.CRSName(fc)
	require.True(t, ok)
	assert.Equal(t, "urn:ogc:def:crs:EPSG::3857", name)
}

const multiPolygonDoc = `{
	"type": "FeatureCollection",
	"crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:OGC:1.3:CRS84"}},
	"features": [{
		"type": "Feature",
		"id": "cat-27",
		"properties": {"id": "cat-27", "area_sqkm": 12.5, "toid": "nex-26", "tags": ["headwater"], "meta": {"order": 2}},
		"geometry": {"type": "MultiPolygon", "coordinates": [
			[
				[[-111.70, 40.20], [-111.60, 40.20], [-111.60, 40.30], [-111.70, 40.30], [-111.70, 40.20]],
				[[-111.66, 40.24], [-111.64, 40.24], [-111.64, 40.26], [-111.66, 40.24]]
			],
			[
				[[-111.50, 40.10], [-111.45, 40.10], [-111.45, 40.15], [-111.50, 40.10]]
			]
		]}
	}]
}`

func TestRun_MultiPolygonStructure(t *testing.T) {
	in := writeInput(t, multiPolygonDoc)
	out := outputPath(t)

	_, err := Run(&fakeResolver{}, Options{Input: in, Output: out, Projection: "3857", Indent: true})
	require.NoError(t, err)

	src, err := geojson.UnmarshalFeatureCollection([]byte(multiPolygonDoc))
	require.NoError(t, err)
	fc, err := geo.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	before := src.Features[0].Geometry.(orb.MultiPolygon)
	after, ok := fc.Features[0].Geometry.(orb.MultiPolygon)
	require.True(t, ok)

	require.Len(t, after, len(before))
	for i := range before {
		require.Len(t, after[i], len(before[i]), "polygon %d", i)
		for j := range before[i] {
			require.Len(t, after[i][j], len(before[i][j]), "polygon %d ring %d", i, j)
			for k, p := range before[i][j] {
				want := project.WGS84.ToMercator(p)
				assert.InDelta(t, want[0], after[i][j][k][0], 1e-6)
				assert.InDelta(t, want[1], after[i][j][k][1], 1e-6)
			}
		}
	}

	assert.Equal(t, src.Features[0].Properties, fc.Features[0].Properties)
	assert.Equal(t, "cat-27", fc.Features[0].ID)
}

func TestRun_SameProjectionIsIdentity(t *testing.T) {
	in := writeInput(t, multiPolygonDoc)
	out := outputPath(t)

	_, err := Run(&fakeResolver{}, Options{Input: in, Output: out, Projection: "urn:ogc:def:crs:OGC:1.3:CRS84"})
	require.NoError(t, err)

	src, err := geojson.UnmarshalFeatureCollection([]byte(multiPolygonDoc))
	require.NoError(t, err)
	fc, err := geo.ReadFile(out)
	require.NoError(t, err)

	before := src.Features[0].Geometry.(orb.MultiPolygon)
	after := fc.Features[0].Geometry.(orb.MultiPolygon)
	for i := range before {
		for j := range before[i] {
			for k := range before[i][j] {
				assert.InDelta(t, before[i][j][k][0], after[i][j][k][0], 1e-9)
				assert.InDelta(t, before[i][j][k][1], after[i][j][k][1], 1e-9)
			}
		}
	}

	name, _ := geo.CRSName(fc)
	assert.Equal(t, "urn:ogc:def:crs:OGC::CRS84", name)
}

func TestRun_SkipsUnsupportedGeometries(t *testing.T) {
	in := writeInput(t, `{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "EPSG:4326"}},
		"features": [
			{"type": "Feature", "properties": {"id": "nex-1"}, "geometry": {"type": "Point", "coordinates": [-111.0, 40.0]}},
			{"type": "Feature", "properties": {"id": "fp-1"}, "geometry": {"type": "LineString", "coordinates": [[-111.0, 40.0], [-111.1, 40.1]]}},
			{"type": "Feature", "properties": {"id": "nex-2"}, "geometry": {"type": "Point", "coordinates": [-112.0, 41.0]}},
			{"type": "Feature", "properties": {"id": "poly-1"}, "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}},
			{"type": "Feature", "properties": {"id": "empty"}, "geometry": null},
			{"type": "Feature", "properties": {"id": "cat-1"}, "geometry": {"type": "MultiPolygon", "coordinates": [[[[0, 0], [1, 0], [1, 1], [0, 0]]]]}}
		]
	}`)
	out := outputPath(t)

	report, err := Run(&fakeResolver{}, Options{Input: in, Output: out, Projection: "EPSG:3857"})
	require.NoError(t, err)

	assert.Equal(t, 6, report.FeaturesIn)
	assert.Equal(t, 3, report.FeaturesOut)
	require.Len(t, report.Skipped, 3)

	assert.Equal(t, 1, report.Skipped[0].Index)
	assert.Equal(t, "LineString", report.Skipped[0].Kind)
	assert.Contains(t, report.Skipped[0].Error(), "LineStrings are not supported")
	assert.Equal(t, "Polygon", report.Skipped[1].Kind)
	assert.Equal(t, nullKind, report.Skipped[2].Kind)
	assert.Contains(t, report.Skipped[2].Error(), "null geometries")
	for _, s := range report.Skipped {
		assert.True(t, errors.Is(s, ErrUnsupportedGeometry))
	}

	fc, err := geo.ReadFile(out)
	require.NoError(t, err)
	ids := make([]interface{}, 0, len(fc.Features))
	for _, f := range fc.Features {
		ids = append(ids, f.Properties["id"])
	}
	assert.Equal(t, []interface{}{"nex-1", "nex-2", "cat-1"}, ids)
}

func TestRun_OverwritesOutput(t *testing.T) {
	in := writeInput(t, `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"features":[]}`)
	out := outputPath(t)
	require.NoError(t, os.WriteFile(out, []byte("previous run"), 0644))

	report, err := Run(&fakeResolver{}, Options{Input: in, Output: out, Projection: "EPSG:4326"})
	require.NoError(t, err)
	assert.Zero(t, report.FeaturesOut)

	fc, err := geo.ReadFile(out)
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
}

func TestRun_Errors(t *testing.T) {
	const point = `{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[-111.68,40.25]}}`
	withCRS := func(name string) string {
		return `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"` + name + `"}},"features":[` + point + `]}`
	}
	withPoint := func(coords string) string {
		return `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":` + coords + `}}]}`
	}

	tests := []struct {
		name       string
		doc        string
		input      string
		projection string
		want       error
		contains   string
	}{
		{
			name:       "missing input",
			input:      filepath.Join(t.TempDir(), "nope.geojson"),
			projection: "EPSG:3857",
			want:       ErrInputNotFound,
		},
		{
			name:       "input is a directory",
			input:      t.TempDir(),
			projection: "EPSG:3857",
			want:       ErrInputNotFound,
		},
		{
			name:       "not json",
			doc:        `{"type": "FeatureCollection", "features": [`,
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
		},
		{
			name:       "json array",
			doc:        `[1, 2, 3]`,
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
		},
		{
			name:       "unknown type",
			doc:        `{"type": "Topology", "objects": {}}`,
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
		},
		{
			name:       "bad feature",
			doc:        `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"features":[{"type":"Point","coordinates":[0,0]}]}`,
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
		},
		{
			name:       "open ring",
			doc:        `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"features":[{"type":"Feature","properties":{},"geometry":{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1]]]]}}]}`,
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
			contains:   "not closed",
		},
		{
			name:       "position with one value",
			doc:        withPoint(`[5]`),
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
			contains:   "2 or 3 required",
		},
		{
			name:       "empty position",
			doc:        withPoint(`[]`),
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
			contains:   "2 or 3 required",
		},
		{
			name:       "position with five values",
			doc:        withPoint(`[1,2,3,4,5]`),
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
			contains:   "2 or 3 required",
		},
		{
			name:       "position with text",
			doc:        withPoint(`["-111.68","40.25"]`),
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
			contains:   "non numeric",
		},
		{
			name:       "point without coordinates",
			doc:        `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"features":[{"type":"Feature","properties":{},"geometry":{"type":"Point"}}]}`,
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
		},
		{
			name:       "short position in ring",
			doc:        `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:4326"}},"features":[{"type":"Feature","properties":{},"geometry":{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1],[0,0]]]]}}]}`,
			projection: "EPSG:3857",
			want:       ErrMalformedInput,
			contains:   "feature 0",
		},
		{
			name:       "single feature document",
			doc:        point,
			projection: "EPSG:3857",
			want:       ErrUnsupportedTopLevelType,
			contains:   "Feature given",
		},
		{
			name:       "geometry document",
			doc:        `{"type":"Point","coordinates":[0,0]}`,
			projection: "EPSG:3857",
			want:       ErrUnsupportedTopLevelType,
			contains:   "Point given",
		},
		{
			name:       "no crs",
			doc:        `{"type":"FeatureCollection","features":[` + point + `]}`,
			projection: "EPSG:3857",
			want:       ErrMissingSourceProjection,
		},
		{
			name:       "unknown source crs",
			doc:        withCRS("EPSG:999999"),
			projection: "EPSG:3857",
			want:       ErrInvalidSourceProjection,
			contains:   "EPSG:999999",
		},
		{
			name:       "unknown target crs",
			doc:        withCRS("EPSG:4326"),
			projection: "not-a-real-crs",
			want:       ErrInvalidTargetProjection,
			contains:   "crs not found",
		},
		{
			name:       "empty target crs",
			doc:        withCRS("EPSG:4326"),
			projection: "",
			want:       ErrInvalidTargetProjection,
		},
		{
			name:       "target without authority code",
			doc:        withCRS("EPSG:4326"),
			projection: "+proj=merc +type=crs",
			want:       ErrInvalidTargetProjection,
			contains:   "authority",
		},
		{
			name:       "transformation fails",
			doc:        withCRS("TEST:BROKEN"),
			projection: "EPSG:3857",
			want:       ErrTransform,
			contains:   "feature 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			if input == "" {
				input = writeInput(t, tt.doc)
			}
			out := outputPath(t)
			r := &fakeResolver{}

			report, err := Run(r, Options{Input: input, Output: out, Projection: tt.projection})
			require.Error(t, err)
			assert.Nil(t, report)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
			assert.Zero(t, r.open, "crs and transformer must be closed")

			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr), "no output file may be created")
		})
	}
}

func TestTransform_KeepsPropertiesAndOrder(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	for i := 0; i < 4; i++ {
		f := geojson.NewFeature(orb.Point{float64(i), float64(-i)})
		f.Properties["id"] = fmt.Sprintf("nex-%d", i)
		f.Properties["nested"] = map[string]interface{}{"n": float64(i)}
		fc.Append(f)
	}

	out, skipped, err := Transform(fc, &fakeTransformer{r: &fakeResolver{}, from: kindGeographic, to: kindGeographic})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, out.Features, 4)

	for i, f := range out.Features {
		assert.Equal(t, fc.Features[i].Properties, f.Properties)
		assert.Equal(t, orb.Point{float64(i), float64(-i)}, f.Geometry)
	}

	// output properties are a copy
	out.Features[0].Properties["id"] = "changed"
	assert.Equal(t, "nex-0", fc.Features[0].Properties["id"])
}

func TestRun_KeepsEmptyAndNullProperties(t *testing.T) {
	in := writeInput(t, `{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "EPSG:4326"}},
		"features": [
			{"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [-111.0, 40.0]}},
			{"type": "Feature", "properties": null, "geometry": {"type": "Point", "coordinates": [-112.0, 41.0]}},
			{"type": "Feature", "properties": {"id": "nex-3"}, "source": "hydrofabric", "geometry": {"type": "Point", "coordinates": [-113.0, 42.0]}}
		]
	}`)
	out := outputPath(t)

	_, err := Run(&fakeResolver{}, Options{Input: in, Output: out, Projection: "EPSG:3857"})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc struct {
		Features []map[string]json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Features, 3)

	assert.JSONEq(t, `{}`, string(doc.Features[0]["properties"]))
	assert.Equal(t, "null", string(doc.Features[1]["properties"]))
	assert.JSONEq(t, `{"id":"nex-3"}`, string(doc.Features[2]["properties"]))
	assert.JSONEq(t, `"hydrofabric"`, string(doc.Features[2]["source"]))
}

func TestTransform_EmptyPropertiesStayEmpty(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	empty := geojson.NewFeature(orb.Point{1, 2})
	null := geojson.NewFeature(orb.Point{3, 4})
	null.Properties = nil
	fc.Append(empty)
	fc.Append(null)

	out, _, err := Transform(fc, &fakeTransformer{r: &fakeResolver{}, from: kindGeographic, to: kindGeographic})
	require.NoError(t, err)
	require.Len(t, out.Features, 2)

	assert.NotNil(t, out.Features[0].Properties)
	assert.Empty(t, out.Features[0].Properties)
	assert.Nil(t, out.Features[1].Properties)
}

func TestRun_DropsZ(t *testing.T) {
	in := writeInput(t, `{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "EPSG:4326"}},
		"features": [
			{"type": "Feature", "properties": {"id": "nex-1"}, "geometry": {"type": "Point", "coordinates": [-111.68, 40.25]}},
			{"type": "Feature", "properties": {"id": "nex-2"}, "geometry": {"type": "Point", "coordinates": [-111.68, 40.25, 1432.5]}}
		]
	}`)
	out := outputPath(t)

	report, err := Run(&fakeResolver{}, Options{Input: in, Output: out, Projection: "EPSG:3857"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.Flattened)
	assert.Equal(t, 2, report.FeaturesOut)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc struct {
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Features, 2)
	assert.Len(t, doc.Features[1].Geometry.Coordinates, 2)
	assert.Equal(t, doc.Features[0].Geometry.Coordinates, doc.Features[1].Geometry.Coordinates)
}
