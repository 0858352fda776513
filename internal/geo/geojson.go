// Package geo handles GeoJSON documents and their coordinate reference system members.
package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

// crsMember is the legacy GeoJSON (2008) member naming the collection CRS.
const crsMember = "crs"

// CRS is the named form of the legacy "crs" member:
// {"type": "name", "properties": {"name": "<identifier>"}}.
type CRS struct {
	Type       string        `json:"type"`
	Properties CRSProperties `json:"properties"`
}

// CRSProperties holds the CRS identifier.
type CRSProperties struct {
	Name string `json:"name"`
}

// NamedCRS builds a "name" typed CRS member.
func NamedCRS(name string) CRS {
	return CRS{Type: "name", Properties: CRSProperties{Name: name}}
}

// URN formats an authority and code the way OGC names a CRS,
// e.g. urn:ogc:def:crs:EPSG::3857.
func URN(authority, code string) string {
	return fmt.Sprintf("urn:ogc:def:crs:%s::%s", authority, code)
}

// CRSName returns crs.properties.name of the collection, if declared.
func CRSName(fc *geojson.FeatureCollection) (string, bool) {
	if fc == nil || fc.ExtraMembers == nil {
		return "", false
	}

	var member map[string]interface{}
	switch m := fc.ExtraMembers[crsMember].(type) {
	case CRS:
		return m.Properties.Name, m.Properties.Name != ""
	case map[string]interface{}:
		member = m
	default:
		return "", false
	}

	props, ok := member["properties"].(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := props["name"].(string)
	if !ok || name == "" {
		return "", false
	}

	return name, true
}

// SetCRS replaces the crs member of the collection.
func SetCRS(fc *geojson.FeatureCollection, crs CRS) {
	if fc.ExtraMembers == nil {
		fc.ExtraMembers = geojson.Properties{}
	}
	fc.ExtraMembers[crsMember] = crs
}

// ReadFile loads a FeatureCollection from disk.
func ReadFile(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return geojson.UnmarshalFeatureCollection(data)
}

// WriteFile marshals the collection and replaces path with it.
// The document is written to a temporary file in the same directory first,
// so path is either fully replaced or left untouched.
func WriteFile(path string, fc *geojson.FeatureCollection, indent bool) error {
	var (
		data []byte
		err  error
	)
	doc := newCollectionDoc(fc)
	if indent {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	// removes the temp file unless it was renamed into place
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", tmpPath).Msg("Failed to remove temporary file")
		}
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// newCollectionDoc lays the collection out the way orb does, with features
// encoded by featureDoc.
func newCollectionDoc(fc *geojson.FeatureCollection) map[string]interface{} {
	doc := make(map[string]interface{}, len(fc.ExtraMembers)+3)
	for k, v := range fc.ExtraMembers {
		doc[k] = v
	}

	doc["type"] = "FeatureCollection"
	delete(doc, "bbox")
	if fc.BBox != nil {
		doc["bbox"] = fc.BBox
	}

	features := make([]feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		features = append(features, feature{f})
	}
	doc["features"] = features

	return doc
}

// feature encodes like orb's Feature, except that an empty properties
// object stays {} and only a nil one is written as null.
type feature struct {
	*geojson.Feature
}

type featureDoc struct {
	ID         interface{}            `json:"id,omitempty"`
	Type       string                 `json:"type"`
	BBox       geojson.BBox           `json:"bbox,omitempty"`
	Geometry   *geojson.Geometry      `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

func (f feature) MarshalJSON() ([]byte, error) {
	if f.Feature == nil {
		return []byte("null"), nil
	}

	var geometry *geojson.Geometry
	if f.Geometry != nil {
		geometry = geojson.NewGeometry(f.Geometry)
	}

	if len(f.ExtraMembers) == 0 {
		return json.Marshal(featureDoc{
			ID:         f.ID,
			Type:       "Feature",
			BBox:       f.BBox,
			Geometry:   geometry,
			Properties: f.Properties,
		})
	}

	doc := make(map[string]interface{}, len(f.ExtraMembers)+5)
	for k, v := range f.ExtraMembers {
		doc[k] = v
	}
	delete(doc, "id")
	if f.ID != nil {
		doc["id"] = f.ID
	}
	delete(doc, "bbox")
	if f.BBox != nil {
		doc["bbox"] = f.BBox
	}
	doc["type"] = "Feature"
	doc["geometry"] = geometry
	doc["properties"] = map[string]interface{}(f.Properties)

	return json.Marshal(doc)
}
