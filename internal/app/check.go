package app

import (
	"errors"
	"fmt"

	"alarmcore/internal/composite"
	"alarmcore/internal/config"
	"alarmcore/internal/engine"
	"alarmcore/internal/expr"
)

// Check validates service config and, for file sources, the rules document.
// Params: config source.
// Returns: joined config, parse, and compile errors.
func Check(source config.ConfigSource) error {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return err
	}
	catalog, err := config.BuildCatalog(cfg.Metric)
	if err != nil {
		return err
	}
	if cfg.Rules.Source != config.RulesSourceFile {
		return nil
	}
	doc, parseErr := config.LoadRulesFile(cfg.Rules.File)
	if errors.Is(parseErr, config.ErrMalformedRules) {
		return parseErr
	}
	errs := []error{parseErr}
	for _, rule := range doc.Rules {
		compiled, err := expr.Compile(rule.Expression, catalog)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
			continue
		}
		if _, err := engine.NewRunningRule(rule, compiled, nil); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rule := range doc.CompositeRules {
		if _, err := composite.Compile(rule); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
