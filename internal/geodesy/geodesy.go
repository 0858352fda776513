// Package geodesy describes the coordinate reference system collaborator used
// to reproject geometries, and helpers shared by its implementations.
package geodesy

import "errors"

// ErrNoAuthority is returned when a CRS has no (authority, code) identifier.
var ErrNoAuthority = errors.New("crs has no authority code")

// CRS is a resolved coordinate reference system.
type CRS interface {
	// Definition returns the identifier the CRS was resolved from.
	Definition() string
	// Authority returns the authority name and code identifying the CRS,
	// e.g. ("EPSG", "3857"), or ErrNoAuthority.
	Authority() (name, code string, err error)
	// Close releases resources held by the CRS.
	Close()
}

// Transformer converts coordinate pairs between two CRSs.
// Input and output are always in (x, y) / (longitude, latitude) order.
type Transformer interface {
	Transform(x, y float64) (float64, float64, error)
	Close()
}

// Resolver resolves CRS identifiers and builds transformers between them.
type Resolver interface {
	// ParseCRS resolves an identifier declared inside a document, such as
	// "EPSG:4326" or "urn:ogc:def:crs:OGC:1.3:CRS84".
	ParseCRS(name string) (CRS, error)
	// ParseUserCRS resolves user supplied input. In addition to everything
	// ParseCRS accepts it takes bare EPSG codes ("3857"), WKT and PROJ strings.
	ParseUserCRS(input string) (CRS, error)
	// NewTransformer builds an always-xy transformer from src to dst.
	NewTransformer(src, dst CRS) (Transformer, error)
}
