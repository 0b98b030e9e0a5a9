package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"alarmcore/internal/composite"
	"alarmcore/internal/config"
	"alarmcore/internal/engine"
	"alarmcore/internal/expr"
	"alarmcore/internal/metrics"
	"alarmcore/internal/rulesource"
)

// HookSettingsListener receives webhook groups declared by the rules document.
type HookSettingsListener interface {
	OnHookSettings(groups []config.WebhookGroup)
}

// Watcher applies rules documents to a Core.
// Params: target core, metric catalog, and logger.
// Returns: serialized reconfiguration entrypoint.
type Watcher struct {
	core    *Core
	catalog expr.Catalog
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []HookSettingsListener
}

// NewWatcher creates rules watcher bound to core.
// Params: core, catalog used to compile expressions, and logger.
// Returns: watcher.
func NewWatcher(core *Core, catalog expr.Catalog, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{core: core, catalog: catalog, logger: logger}
}

// AddHookSettingsListener registers a listener for webhook groups.
func (w *Watcher) AddHookSettingsListener(listener HookSettingsListener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, listener)
	w.mu.Unlock()
}

// OnChange applies one rules source event.
// Params: modify event with full YAML body, or delete event.
// Returns: joined parse/compile errors; a malformed document leaves rules untouched.
func (w *Watcher) OnChange(_ context.Context, event rulesource.Event) error {
	switch event.Type {
	case rulesource.EventDelete:
		w.Clear()
		w.logger.Info("alarm rules cleared", "source", event.Source)
		return nil
	case rulesource.EventModify:
		doc, parseErr := config.ParseRules(event.Content)
		if errors.Is(parseErr, config.ErrMalformedRules) {
			metrics.RuleReloads.WithLabelValues("failed").Inc()
			return parseErr
		}
		return errors.Join(parseErr, w.Reconfigure(doc))
	default:
		return fmt.Errorf("unsupported rules event type %d", event.Type)
	}
}

// Clear drops every rule, composite, and window.
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.forgetRules(w.core.table.Load(), nil)
	w.core.table.Store(newRuleTable(nil, nil))
	metrics.RulesActive.WithLabelValues("rule").Set(0)
	metrics.RulesActive.WithLabelValues("composite").Set(0)
	metrics.RuleReloads.WithLabelValues("cleared").Inc()
	w.notifyListeners(nil)
}

// Reconfigure swaps the rule table to match doc.
// Params: parsed rules document; names in doc.Rejected keep their running versions.
// Returns: joined compile errors; failing rules keep their previous version when one exists.
func (w *Watcher) Reconfigure(doc config.RulesDocument) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.core.table.Load()
	var errs []error
	added := make(map[string]struct{})
	var rules []*engine.RunningRule
	add := func(rule *engine.RunningRule) {
		added[rule.Name()] = struct{}{}
		rules = append(rules, rule)
	}
	keepOld := func(name string) {
		if _, done := added[name]; done {
			return
		}
		if old, ok := current.byName[name]; ok {
			add(old)
		}
	}

	for _, rule := range doc.Rules {
		compiled, err := expr.Compile(rule.Expression, w.catalog)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: %w", rule.Name, err))
			keepOld(rule.Name)
			continue
		}
		if old, ok := current.byName[rule.Name]; ok && old.Reusable(rule) {
			if err := old.UpdateSettings(rule); err != nil {
				errs = append(errs, err)
			}
			add(old)
			continue
		}
		running, err := engine.NewRunningRule(rule, compiled, w.logger)
		if err != nil {
			errs = append(errs, err)
			keepOld(rule.Name)
			continue
		}
		add(running)
	}
	for _, name := range doc.Rejected {
		keepOld(name)
	}

	oldComposites := make(map[string]*composite.Rule, len(current.composites))
	for _, rule := range current.composites {
		oldComposites[rule.Name()] = rule
	}
	var composites []*composite.Rule
	seen := make(map[string]struct{})
	for _, rule := range doc.CompositeRules {
		compiled, err := composite.Compile(rule)
		if err != nil {
			errs = append(errs, err)
			if old, ok := oldComposites[rule.Name]; ok {
				composites = append(composites, old)
				seen[rule.Name] = struct{}{}
			}
			continue
		}
		for _, ref := range compiled.References() {
			if _, ok := added[ref]; !ok {
				w.logger.Warn("composite rule references unknown rule", "rule", rule.Name, "reference", ref)
			}
		}
		composites = append(composites, compiled)
		seen[rule.Name] = struct{}{}
	}
	for _, name := range doc.Rejected {
		if _, done := seen[name]; done {
			continue
		}
		if old, ok := oldComposites[name]; ok {
			composites = append(composites, old)
			seen[name] = struct{}{}
		}
	}

	w.forgetRules(current, added)
	w.core.table.Store(newRuleTable(rules, composites))
	metrics.RulesActive.WithLabelValues("rule").Set(float64(len(rules)))
	metrics.RulesActive.WithLabelValues("composite").Set(float64(len(composites)))
	w.notifyListeners(doc.Webhooks)

	err := errors.Join(errs...)
	if err != nil {
		metrics.RuleReloads.WithLabelValues("partial").Inc()
		w.logger.Error("alarm rules applied with errors", "rules", len(rules), "composites", len(composites), "error", err.Error())
		return err
	}
	metrics.RuleReloads.WithLabelValues("applied").Inc()
	w.logger.Info("alarm rules applied", "rules", len(rules), "composites", len(composites))
	return nil
}

// forgetRules drops per-rule gauges of rule names absent from the next table.
func (w *Watcher) forgetRules(current *ruleTable, kept map[string]struct{}) {
	for _, rule := range current.rules {
		if _, ok := kept[rule.Name()]; ok {
			continue
		}
		metrics.ActiveWindows.DeleteLabelValues(rule.Name())
	}
}

func (w *Watcher) notifyListeners(groups []config.WebhookGroup) {
	for _, listener := range w.listeners {
		listener.OnHookSettings(groups)
	}
}
