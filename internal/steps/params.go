package steps

import (
	"encoding/json"
	"math"
	"strings"

	"orchestrator/internal/domain"
)

// params reads a free-form parameter bag and records field-tagged problems instead
// of failing on the first one.
type params struct {
	raw  map[string]any
	errs *domain.ValidationError
}

func newParams(raw map[string]any, errs *domain.ValidationError) params {
	if raw == nil {
		raw = map[string]any{}
	}
	return params{raw: raw, errs: errs}
}

func (p params) has(field string) bool {
	v, ok := p.raw[field]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func (p params) require(field string) {
	if !p.has(field) {
		p.errs.Add(field, "is required")
	}
}

func (p params) str(field string) string {
	v, ok := p.raw[field]
	if !ok || v == nil {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		p.errs.Add(field, "must be a string")
		return ""
	}
	return strings.TrimSpace(s)
}

func (p params) number(field string) (float64, bool) {
	v, ok := p.raw[field]
	if !ok || v == nil {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			p.errs.Add(field, "must be a number")
			return 0, false
		}
		f = parsed
	default:
		p.errs.Add(field, "must be a number")
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		p.errs.Add(field, "must be a finite number")
		return 0, false
	}
	return f, true
}

func (p params) integer(field string) (int, bool) {
	f, ok := p.number(field)
	if !ok {
		return 0, false
	}
	if f != math.Trunc(f) {
		p.errs.Add(field, "must be a whole number")
		return 0, false
	}
	if f >= float64(math.MaxInt) || f < float64(math.MinInt) {
		p.errs.Add(field, "is out of range")
		return 0, false
	}
	return int(f), true
}

// intIn returns the field or def when absent, checking lo <= v <= hi.
func (p params) intIn(field string, def, lo, hi int) int {
	v, ok := p.integer(field)
	if !ok {
		return def
	}
	if v < lo || v > hi {
		p.errs.Add(field, "must be between %d and %d", lo, hi)
		return def
	}
	return v
}

func (p params) floatIn(field string, def, lo, hi float64) float64 {
	v, ok := p.number(field)
	if !ok {
		return def
	}
	if v < lo || v > hi {
		p.errs.Add(field, "must be between %g and %g", lo, hi)
		return def
	}
	return v
}

// positive reads a strictly positive number. Absent fields are reported only when
// required is set.
func (p params) positive(field string, required bool) float64 {
	v, ok := p.number(field)
	if !ok {
		if required && !p.errs.Has(field) {
			p.errs.Add(field, "is required")
		}
		return 0
	}
	if v <= 0 {
		p.errs.Add(field, "must be greater than 0")
		return 0
	}
	return v
}

func (p params) seed(field string) *int64 {
	v, ok := p.integer(field)
	if !ok {
		return nil
	}
	if v < 0 {
		p.errs.Add(field, "must not be negative")
		return nil
	}
	s := int64(v)
	return &s
}

func (p params) source(field string) MediaSource {
	url := p.str(field)
	if url == "" {
		return MediaSource{}
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		p.errs.Add(field, "must be an http(s) URL")
		return MediaSource{}
	}
	return MediaSource{URL: url}
}
