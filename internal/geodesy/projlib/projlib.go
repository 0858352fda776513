// Package projlib resolves coordinate reference systems and transforms
// coordinates with the PROJ library.
package projlib

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-proj/v10"
	"github.com/woozymasta/ngenmap/internal/geodesy"
)

// Resolver implements geodesy.Resolver on top of PROJ.
type Resolver struct{}

var _ geodesy.Resolver = Resolver{}

// New returns a PROJ backed resolver.
func New() Resolver {
	return Resolver{}
}

// CRS is a coordinate reference system resolved by PROJ.
type CRS struct {
	pj         *proj.PJ
	definition string
	id         geodesy.Identifier
	hasID      bool
}

// Definition returns the identifier the CRS was built from.
func (c *CRS) Definition() string { return c.definition }

// Authority returns the authority and code naming the CRS.
func (c *CRS) Authority() (string, string, error) {
	if !c.hasID {
		return "", "", fmt.Errorf("%w: %s", geodesy.ErrNoAuthority, c.definition)
	}
	return c.id.Authority, c.id.Code, nil
}

// Close releases the PROJ object.
func (c *CRS) Close() {
	if c.pj != nil {
		c.pj.Destroy()
		c.pj = nil
	}
}

// String returns the definition, for logging.
func (c *CRS) String() string { return c.definition }

// ParseCRS resolves a CRS name declared in a document.
func (Resolver) ParseCRS(name string) (geodesy.CRS, error) {
	return newCRS(strings.TrimSpace(name))
}

// ParseUserCRS resolves user input. Bare numbers are taken as EPSG codes.
func (Resolver) ParseUserCRS(input string) (geodesy.CRS, error) {
	return newCRS(geodesy.NormalizeUserInput(input))
}

func newCRS(definition string) (*CRS, error) {
	if definition == "" {
		return nil, errors.New("empty crs definition")
	}

	pj, err := proj.New(definition)
	if err != nil {
		return nil, err
	}
	if !pj.IsCRS() {
		pj.Destroy()
		return nil, fmt.Errorf("%q is not a coordinate reference system", definition)
	}

	id, ok := geodesy.ParseIdentifier(definition)
	return &CRS{
		pj:         pj,
		definition: definition,
		id:         id,
		hasID:      ok,
	}, nil
}

// NewTransformer builds a transformer from src to dst. Axis order is
// normalized so coordinates are always passed as (x, y) / (lon, lat).
// CRSs resolved by this package are reused as parsed, others are parsed
// again from their definition.
func (Resolver) NewTransformer(src, dst geodesy.CRS) (geodesy.Transformer, error) {
	var (
		pj  *proj.PJ
		err error
	)
	srcCRS, srcOK := src.(*CRS)
	dstCRS, dstOK := dst.(*CRS)
	if srcOK && dstOK && srcCRS.pj != nil && dstCRS.pj != nil {
		pj, err = proj.NewCRSToCRSFromPJ(srcCRS.pj, dstCRS.pj, nil, "")
	} else {
		pj, err = proj.NewCRSToCRS(src.Definition(), dst.Definition(), nil)
	}
	if err != nil {
		return nil, err
	}
	defer pj.Destroy()

	normalized, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, err
	}

	return &Transformer{pj: normalized}, nil
}

// Transformer converts coordinate pairs with a normalized PROJ pipeline.
type Transformer struct {
	pj *proj.PJ
}

// Transform converts a single (x, y) pair.
func (t *Transformer) Transform(x, y float64) (float64, float64, error) {
	out, err := t.pj.Forward(proj.Coord{x, y, 0, 0})
	if err != nil {
		return 0, 0, err
	}
	if !finite(out[0]) || !finite(out[1]) {
		return 0, 0, fmt.Errorf("(%g, %g) is outside the transformation domain", x, y)
	}
	return out[0], out[1], nil
}

// Close releases the PROJ pipeline.
func (t *Transformer) Close() {
	if t.pj != nil {
		t.pj.Destroy()
		t.pj = nil
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
