// Package config handles configuration loading and shared data structures.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Geometry kinds a layer may hold.
const (
	GeometryPoint   = "point"
	GeometryPolygon = "polygon"
)

// IDPlaceholder is replaced with the feature id in Layer.Series.
const IDPlaceholder = "{id}"

// Config represents the root configuration file structure.
type Config struct {
	Title    string     `yaml:"title" json:"title"`
	Subtitle string     `yaml:"subtitle,omitempty" json:"subtitle,omitempty"`
	DataDir  string     `yaml:"data_dir" json:"-"`
	Basemaps []string   `yaml:"basemaps" json:"basemaps"`
	Layers   []Layer    `yaml:"layers" json:"layers"`
	Extent   [4]float64 `yaml:"extent" json:"extent"` // [minLon, minLat, maxLon, maxLat]
	MinZoom  int        `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom  int        `yaml:"max_zoom" json:"max_zoom"`
}

// Layer represents a GeoJSON layer with per feature time series.
type Layer struct {
	Name     string `yaml:"name" json:"name"`
	Title    string `yaml:"title,omitempty" json:"title,omitempty"`
	File     string `yaml:"file" json:"-"`
	Geometry string `yaml:"geometry" json:"geometry"`

	// Series is the time series file name pattern, {id} is the feature id.
	Series      string `yaml:"series,omitempty" json:"-"`
	IDProperty  string `yaml:"id_property,omitempty" json:"id_property"`
	Header      bool   `yaml:"header,omitempty" json:"-"`
	TimeColumn  int    `yaml:"time_column" json:"-"`
	ValueColumn int    `yaml:"value_column" json:"-"`

	URL       string `yaml:"-" json:"url"`
	SeriesURL string `yaml:"-" json:"series_url,omitempty"`
}

// Default returns the configuration of the Next Generation Water Model viewer.
func Default() *Config {
	return &Config{
		Title:    "Next Generation",
		Subtitle: "Water Model",
		DataDir:  "data",
		Basemaps: []string{"OpenStreetMap", "ESRI", "Stamen"},
		Extent:   [4]float64{-65.69, 23.81, -129.17, 49.38}, // CONUS
		MinZoom:  2,
		MaxZoom:  16,
		Layers: []Layer{
			{
				Name:        "nexus",
				Title:       "Nexus",
				File:        "nexus_reprojected.geojson",
				Geometry:    GeometryPoint,
				Series:      IDPlaceholder + "_output.csv",
				IDProperty:  "id",
				TimeColumn:  1,
				ValueColumn: 2,
			},
			{
				Name:        "catchments",
				Title:       "Catchments",
				File:        "catchments_reprojected.geojson",
				Geometry:    GeometryPolygon,
				Series:      IDPlaceholder + ".csv",
				IDProperty:  "id",
				Header:      true,
				TimeColumn:  1,
				ValueColumn: 2,
			},
		},
	}
}

// Load reads and parses the YAML configuration file from the specified path.
// Keys missing from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	// a file listing layers replaces the default layer set entirely
	cfg.Layers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.Layers == nil {
		cfg.Layers = Default().Layers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot work with.
func (c *Config) Validate() error {
	if c.MinZoom < 0 || c.MaxZoom < c.MinZoom {
		return fmt.Errorf("invalid zoom range %d..%d", c.MinZoom, c.MaxZoom)
	}

	seen := make(map[string]bool, len(c.Layers))
	for i, l := range c.Layers {
		switch {
		case l.Name == "":
			return fmt.Errorf("layer %d: name is required", i)
		case strings.ContainsAny(l.Name, `/\.`):
			return fmt.Errorf("layer %q: name must not contain path characters", l.Name)
		case seen[l.Name]:
			return fmt.Errorf("layer %q: defined more than once", l.Name)
		case l.File == "":
			return fmt.Errorf("layer %q: file is required", l.Name)
		case l.Geometry != GeometryPoint && l.Geometry != GeometryPolygon:
			return fmt.Errorf("layer %q: geometry must be %q or %q", l.Name, GeometryPoint, GeometryPolygon)
		case l.TimeColumn < 0 || l.ValueColumn < 0:
			return fmt.Errorf("layer %q: column positions must not be negative", l.Name)
		case l.Series != "" && !strings.Contains(l.Series, IDPlaceholder):
			return fmt.Errorf("layer %q: series pattern must contain %s", l.Name, IDPlaceholder)
		}
		seen[l.Name] = true
	}

	if len(c.Layers) == 0 {
		return errors.New("no layers configured")
	}

	return nil
}

// SeriesFile returns the time series file name of a feature, or "" if the
// layer has no time series.
func (l Layer) SeriesFile(id string) string {
	if l.Series == "" {
		return ""
	}
	return strings.ReplaceAll(l.Series, IDPlaceholder, id)
}
