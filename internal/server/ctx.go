package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/json"
	"github.com/woozymasta/ngenmap/internal/config"
)

const etagCap = 64

// Layer is a GeoJSON layer held in memory, ready to be served.
type Layer struct {
	config.Layer
	Data     []byte
	ETag     string
	Features int
}

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config  *config.Config
	Layers  map[string]*Layer
	Metrics *Metrics
}

// NewServerContext loads every configured layer from cfg.DataDir.
// Layers whose file is missing are skipped with a warning, a layer file that
// is not a GeoJSON FeatureCollection is an error.
func NewServerContext(cfg *config.Config, metrics *Metrics) (*ServerContext, error) {
	log.Info().
		Int("config_layers_count", len(cfg.Layers)).
		Str("data_dir", cfg.DataDir).
		Msg("Initializing server context")

	m := minify.New()
	m.AddFunc("application/json", json.Minify)

	layers := make(map[string]*Layer, len(cfg.Layers))
	valid := make([]config.Layer, 0, len(cfg.Layers))

	for _, lc := range cfg.Layers {
		path := filepath.Join(cfg.DataDir, lc.File)

		layer, err := loadLayer(m, lc, path)
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().
				Str("layer", lc.Name).
				Str("path", path).
				Msg("Skipping layer: file not found")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", lc.Name, err)
		}

		lc.URL = "/layers/" + lc.Name + ".geojson"
		if lc.Series != "" {
			lc.SeriesURL = "/api/series/" + lc.Name + "/" + config.IDPlaceholder
		}
		layer.Layer = lc

		log.Debug().
			Str("layer", lc.Name).
			Int("features", layer.Features).
			Int("bytes", len(layer.Data)).
			Msg("Layer loaded and added to context")

		layers[lc.Name] = layer
		valid = append(valid, lc)
		if metrics != nil {
			metrics.LayerFeatures.WithLabelValues(lc.Name).Set(float64(layer.Features))
		}
	}

	cfg.Layers = valid
	if metrics != nil {
		metrics.LayersLoaded.Set(float64(len(layers)))
	}

	log.Info().
		Int("valid_layers_count", len(layers)).
		Msg("Server context initialized successfully")

	return &ServerContext{
		Config:  cfg,
		Layers:  layers,
		Metrics: metrics,
	}, nil
}

// loadLayer reads, minifies and checks a layer file.
func loadLayer(m *minify.M, lc config.Layer, path string) (*Layer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data, err := m.Bytes("application/json", raw)
	if err != nil {
		return nil, fmt.Errorf("minify %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	missingIDs := 0
	for _, f := range fc.Features {
		if f == nil {
			return nil, fmt.Errorf("%s: null feature", path)
		}
		if _, ok := FeatureID(f, lc.IDProperty); !ok {
			missingIDs++
		}
	}
	if missingIDs > 0 && lc.Series != "" {
		log.Warn().
			Str("layer", lc.Name).
			Int("features", missingIDs).
			Str("id_property", lc.IDProperty).
			Msg("Features without id, time series will not be available for them")
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, int64(len(data)), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')

	return &Layer{
		Data:     data,
		ETag:     string(buf),
		Features: len(fc.Features),
	}, nil
}

// FeatureID returns the id used to look up the time series of f: the
// idProperty property when set, the feature id otherwise.
func FeatureID(f *geojson.Feature, idProperty string) (string, bool) {
	var v any
	if idProperty != "" {
		v = f.Properties[idProperty]
	}
	if v == nil {
		v = f.ID
	}

	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(id), true
	}
}
