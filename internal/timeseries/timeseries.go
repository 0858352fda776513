// Package timeseries reads per feature model output stored as CSV.
package timeseries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the series file does not exist.
var ErrNotFound = errors.New("time series not found")

// timeLayouts are tried in order for the time column.
var timeLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// Point is one sample of a series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Format describes the CSV columns.
type Format struct {
	Header      bool
	TimeColumn  int
	ValueColumn int
}

// ReadFile reads a series from path.
func ReadFile(path string, f Format) ([]Point, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer file.Close()

	points, err := Read(file, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

// Read parses series rows from r. Blank lines are ignored.
func Read(r io.Reader, f Format) ([]Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	need := max(f.TimeColumn, f.ValueColumn) + 1
	points := make([]Point, 0, 64)
	first := true

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := cr.FieldPos(0)
		if first {
			first = false
			if f.Header {
				continue
			}
		}

		if len(record) < need {
			return nil, fmt.Errorf("line %d: expected at least %d columns, got %d", line, need, len(record))
		}

		ts, err := parseTime(record[f.TimeColumn])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[f.ValueColumn]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value %q", line, record[f.ValueColumn])
		}

		points = append(points, Point{Time: ts, Value: value})
	}

	return points, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
