package geodesy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Identifier names a CRS by authority and code, e.g. EPSG 3857.
type Identifier struct {
	Authority string
	Code      string
}

// String returns the AUTHORITY:CODE form.
func (id Identifier) String() string {
	return id.Authority + ":" + id.Code
}

var (
	authCodeRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*):([A-Za-z0-9_.-]+)$`)
	digitsRe   = regexp.MustCompile(`^[0-9]+$`)
)

// ParseIdentifier extracts the authority and code a CRS definition names.
// Recognized forms:
//
//	EPSG:3857
//	3857                                       (EPSG implied)
//	urn:ogc:def:crs:EPSG::3857
//	urn:ogc:def:crs:OGC:1.3:CRS84
//	http://www.opengis.net/def/crs/EPSG/0/3857
//	+proj=... +init=epsg:3857
//	WKT1/WKT2 with a top level AUTHORITY[...] or ID[...]
//	PROJJSON with a top level "id"
func ParseIdentifier(def string) (Identifier, bool) {
	def = strings.TrimSpace(def)
	if def == "" {
		return Identifier{}, false
	}
	lower := strings.ToLower(def)

	switch {
	case digitsRe.MatchString(def):
		return Identifier{Authority: "EPSG", Code: def}, true
	case strings.HasPrefix(lower, "urn:ogc:def:crs:"):
		return parseURN(def[len("urn:ogc:def:crs:"):])
	case strings.Contains(lower, "/def/crs/"):
		return parseHTTP(def[strings.Index(lower, "/def/crs/")+len("/def/crs/"):])
	case strings.HasPrefix(def, "{"):
		return parseProjJSON(def)
	case strings.ContainsAny(def, "[("):
		return parseWKT(def)
	case strings.HasPrefix(def, "+") || strings.Contains(def, " +"):
		return parseProjString(def)
	}

	if m := authCodeRe.FindStringSubmatch(def); m != nil {
		return Identifier{Authority: strings.ToUpper(m[1]), Code: m[2]}, true
	}

	return Identifier{}, false
}

// NormalizeUserInput rewrites bare EPSG codes into the EPSG:<code> form and
// trims surrounding whitespace. Other input is returned as is.
func NormalizeUserInput(input string) string {
	input = strings.TrimSpace(input)
	if digitsRe.MatchString(input) {
		return "EPSG:" + input
	}
	return input
}

// "EPSG::3857", "EPSG:9.8.1:3857", "OGC:1.3:CRS84"
func parseURN(rest string) (Identifier, bool) {
	parts := strings.Split(rest, ":")
	if len(parts) < 2 {
		return Identifier{}, false
	}
	auth, code := parts[0], parts[len(parts)-1]
	if auth == "" || code == "" || strings.Contains(auth, ",") {
		return Identifier{}, false
	}
	return Identifier{Authority: strings.ToUpper(auth), Code: code}, true
}

// "EPSG/0/3857"
func parseHTTP(rest string) (Identifier, bool) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		return Identifier{}, false
	}
	auth, code := parts[0], parts[len(parts)-1]
	if auth == "" || code == "" {
		return Identifier{}, false
	}
	return Identifier{Authority: strings.ToUpper(auth), Code: code}, true
}

func parseProjString(def string) (Identifier, bool) {
	for _, field := range strings.Fields(def) {
		value, ok := strings.CutPrefix(field, "+init=")
		if !ok {
			continue
		}
		if m := authCodeRe.FindStringSubmatch(value); m != nil {
			return Identifier{Authority: strings.ToUpper(m[1]), Code: m[2]}, true
		}
	}
	return Identifier{}, false
}

func parseProjJSON(def string) (Identifier, bool) {
	var doc struct {
		ID *struct {
			Authority string      `json:"authority"`
			Code      interface{} `json:"code"`
		} `json:"id"`
	}
	if err := json.Unmarshal([]byte(def), &doc); err != nil || doc.ID == nil {
		return Identifier{}, false
	}

	var code string
	switch c := doc.ID.Code.(type) {
	case string:
		code = c
	case float64:
		code = fmt.Sprintf("%.0f", c)
	}
	if doc.ID.Authority == "" || code == "" {
		return Identifier{}, false
	}

	return Identifier{Authority: strings.ToUpper(doc.ID.Authority), Code: code}, true
}

// parseWKT returns the last AUTHORITY or ID node directly below the root node,
// which is the identifier of the CRS itself rather than of one of its parts.
func parseWKT(wkt string) (Identifier, bool) {
	var (
		depth int
		found Identifier
		ok    bool
	)

	for i := 0; i < len(wkt); i++ {
		c := wkt[i]
		switch {
		case c == '"':
			i = skipQuoted(wkt, i)
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case depth == 1 && isWordByte(c):
			j := i
			for j < len(wkt) && isWordByte(wkt[j]) {
				j++
			}
			word := strings.ToUpper(wkt[i:j])
			k := j
			for k < len(wkt) && wkt[k] == ' ' {
				k++
			}
			if (word == "AUTHORITY" || word == "ID") && k < len(wkt) && (wkt[k] == '[' || wkt[k] == '(') {
				if id, good := parseWKTArgs(wkt[k+1:]); good {
					found, ok = id, true
				}
			}
			i = j - 1
		}
	}

	return found, ok
}

func parseWKTArgs(s string) (Identifier, bool) {
	if end := strings.IndexAny(s, "])"); end >= 0 {
		s = s[:end]
	}
	args := strings.Split(s, ",")
	if len(args) < 2 {
		return Identifier{}, false
	}

	auth := strings.Trim(strings.TrimSpace(args[0]), `"`)
	code := strings.Trim(strings.TrimSpace(args[1]), `"`)
	if auth == "" || code == "" {
		return Identifier{}, false
	}

	return Identifier{Authority: strings.ToUpper(auth), Code: code}, true
}

// skipQuoted returns the index of the quote closing the string opened at i.
// Doubled quotes inside are escapes.
func skipQuoted(s string, i int) int {
	for i++; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '"' {
			i++
			continue
		}
		return i
	}
	return i
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
