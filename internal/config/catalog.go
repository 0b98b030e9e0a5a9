package config

import (
	"fmt"

	"alarmcore/internal/domain"
	"alarmcore/internal/expr"
)

// BuildCatalog converts `[metric.<name>]` tables into an expression catalog.
// Params: metric declarations from service config.
// Returns: catalog or error naming the first invalid declaration.
func BuildCatalog(metrics []MetricConfig) (expr.StaticCatalog, error) {
	defs := make([]expr.MetricDef, 0, len(metrics))
	for _, metric := range metrics {
		scope, ok := domain.ParseScope(metric.Scope)
		if !ok {
			return nil, fmt.Errorf("metric.%s.scope has unsupported value %q", metric.Name, metric.Scope)
		}
		kind, err := expr.ParseKind(metric.Kind)
		if err != nil {
			return nil, fmt.Errorf("metric.%s.kind: %w", metric.Name, err)
		}
		defs = append(defs, expr.MetricDef{Name: metric.Name, Scope: scope, Kind: kind})
	}
	return expr.NewStaticCatalog(defs...), nil
}
