package expr

import (
	"fmt"
	"strings"

	"alarmcore/internal/domain"
)

// Kind is the storage shape of a metric value.
type Kind string

const (
	// KindCommon is a single numeric (or boolean) value per minute.
	KindCommon Kind = "common"
	// KindLabeled is a list of labeled values per minute.
	KindLabeled Kind = "labeled"
	// KindSample is a raw sample record that cannot be aggregated.
	KindSample Kind = "sample"
)

// ParseKind resolves kind name.
// Params: raw kind from config.
// Returns: kind or error for unknown name.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindCommon, "":
		return KindCommon, nil
	case KindLabeled:
		return KindLabeled, nil
	case KindSample:
		return KindSample, nil
	default:
		return "", fmt.Errorf("unsupported metric kind %q", raw)
	}
}

// MetricDef describes one metric available to alarm expressions.
type MetricDef struct {
	Name  string
	Scope domain.Scope
	Kind  Kind
}

// Catalog resolves metric names referenced by expressions.
type Catalog interface {
	Lookup(name string) (MetricDef, bool)
}

// StaticCatalog is an immutable name-indexed catalog.
type StaticCatalog map[string]MetricDef

// NewStaticCatalog indexes metric definitions by name.
// Params: metric definitions; later duplicates replace earlier ones.
// Returns: catalog.
func NewStaticCatalog(defs ...MetricDef) StaticCatalog {
	out := make(StaticCatalog, len(defs))
	for _, def := range defs {
		out[def.Name] = def
	}
	return out
}

// Lookup returns metric definition by name.
func (c StaticCatalog) Lookup(name string) (MetricDef, bool) {
	def, ok := c[name]
	return def, ok
}
