// Package server handles HTTP requests and middleware.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/ngenmap/internal/timeseries"
)

// Series is the response body of the time series endpoint.
type Series struct {
	Layer  string             `json:"layer"`
	ID     string             `json:"id"`
	Points []timeseries.Point `json:"points"`
}

// Routes returns the application handler with logging and metrics wired in.
func (s *ServerContext) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/app", s.Metrics.Instrument("app", s.HandleApp))
	mux.HandleFunc("GET /layers/{file}", s.Metrics.Instrument("layer", s.HandleLayer))
	mux.HandleFunc("GET /api/series/{layer}/{id}", s.Metrics.Instrument("series", s.HandleSeries))
	mux.Handle("GET /metrics", promhttp.Handler())

	return RequestLogger(mux)
}

// HandleApp serves the application descriptor: title, basemaps, extent and layers.
func (s *ServerContext) HandleApp(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config)
}

// HandleLayer serves a minified GeoJSON layer.
func (s *ServerContext) HandleLayer(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".geojson")
	if !ok {
		http.NotFound(w, r)
		return
	}

	layer, ok := s.Layers[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	// check If-None-Match (client sent ETag)
	if match := r.Header.Get("If-None-Match"); match == layer.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("ETag", layer.ETag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(layer.Data)
}

// HandleSeries serves the time series of one feature of a layer.
func (s *ServerContext) HandleSeries(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("layer"), r.PathValue("id")

	layer, ok := s.Layers[name]
	if !ok || layer.Series == "" {
		http.NotFound(w, r)
		return
	}

	if !validID(id) {
		s.Metrics.seriesError("invalid_id")
		http.Error(w, "invalid feature id", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.Config.DataDir, layer.SeriesFile(id))
	points, err := timeseries.ReadFile(path, timeseries.Format{
		Header:      layer.Header,
		TimeColumn:  layer.TimeColumn,
		ValueColumn: layer.ValueColumn,
	})
	if errors.Is(err, timeseries.ErrNotFound) {
		s.Metrics.seriesError("not_found")
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.Metrics.seriesError("read")
		log.Error().Err(err).Str("layer", name).Str("id", id).Msg("Failed to read time series")
		http.Error(w, "failed to read time series", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, Series{Layer: name, ID: id, Points: points})
}

// validID rejects ids that could escape the data directory.
func validID(id string) bool {
	if id == "" || id == "." || strings.Contains(id, "..") {
		return false
	}
	return !strings.ContainsAny(id, `/\`+"\x00")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}
