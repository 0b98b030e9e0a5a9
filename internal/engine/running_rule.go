package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"alarmcore/internal/config"
	"alarmcore/internal/domain"
	"alarmcore/internal/expr"
	"alarmcore/internal/metrics"
	"alarmcore/internal/templatefmt"

	"github.com/google/uuid"
)

// ErrEvaluationPanic marks an expression evaluation that panicked and was contained.
var ErrEvaluationPanic = errors.New("expression evaluation panicked")

// RunningRule owns one compiled expression and the windows of every admitted entity.
// Params: built by NewRunningRule from a validated rule and its compiled expression.
// Returns: concurrent-safe ingestion target and per-tick evaluator.
type RunningRule struct {
	name     string
	compiled *expr.Expression
	period   int
	size     int
	metrics  map[string]struct{}
	logger   *slog.Logger
	newID    func() string
	detail   func(expr.Frame) (bool, []string)
	settings atomic.Pointer[ruleSettings]

	// mu is held shared by In and exclusively by Check and MoveTo.
	mu sync.RWMutex
	// windowsMu serializes map access between concurrent In calls.
	windowsMu sync.Mutex
	windows   map[domain.AlarmEntity]*Window

	panicLogged atomic.Bool
}

// ruleSettings is the hot-swappable part of a rule.
type ruleSettings struct {
	rule    config.AlarmRule
	filter  NameFilter
	message *templatefmt.MessageTemplate
	tags    []domain.Tag
	timers  Timers
}

// NewRunningRule builds the runtime form of one rule.
// Params: validated rule, expression compiled from rule.Expression, and logger.
// Returns: running rule or filter/metric-set error.
func NewRunningRule(rule config.AlarmRule, compiled *expr.Expression, logger *slog.Logger) (*RunningRule, error) {
	if compiled == nil {
		return nil, fmt.Errorf("rule %q: compiled expression is required", rule.Name)
	}
	if rule.Period <= 0 {
		return nil, fmt.Errorf("rule %q: period must be >0", rule.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}

	routed, err := RoutedMetrics(rule, compiled)
	if err != nil {
		return nil, err
	}
	included := make(map[string]struct{}, len(routed))
	for _, name := range routed {
		included[name] = struct{}{}
	}

	settings, err := newRuleSettings(rule)
	if err != nil {
		return nil, err
	}
	r := &RunningRule{
		name:     rule.Name,
		compiled: compiled,
		period:   rule.Period,
		size:     rule.Period + compiled.AdditionalPeriod(),
		metrics:  included,
		logger:   logger.With("rule", rule.Name),
		newID:    uuid.NewString,
		detail:   compiled.EvaluateDetail,
		windows:  make(map[domain.AlarmEntity]*Window),
	}
	r.settings.Store(settings)
	return r, nil
}

// RoutedMetrics lists the metrics whose snapshots reach a rule.
// Params: rule and its compiled expression; empty include-metrics means every metric the expression reads.
// Returns: sorted metric names or error for an include-metrics entry the expression does not read.
func RoutedMetrics(rule config.AlarmRule, compiled *expr.Expression) ([]string, error) {
	if len(rule.IncludeMetrics) == 0 {
		out := append([]string(nil), compiled.Metrics()...)
		sort.Strings(out)
		return out, nil
	}
	seen := make(map[string]struct{}, len(rule.IncludeMetrics))
	out := make([]string, 0, len(rule.IncludeMetrics))
	for _, name := range rule.IncludeMetrics {
		if !compiled.ReadsMetric(name) {
			return nil, fmt.Errorf("rule %q: include-metrics names %q which the expression does not read", rule.Name, name)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func newRuleSettings(rule config.AlarmRule) (*ruleSettings, error) {
	filter, err := NewNameFilter(rule)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
	}
	return &ruleSettings{
		rule:    rule,
		filter:  filter,
		message: templatefmt.Compile(rule.Message),
		tags:    domain.TagsFromMap(rule.Tags),
		timers:  Timers{Silence: rule.SilencePeriod, Observation: rule.RecoveryObservationPeriod},
	}, nil
}

// Name returns rule name.
func (r *RunningRule) Name() string { return r.name }

// Expression returns compiled expression.
func (r *RunningRule) Expression() *expr.Expression { return r.compiled }

// Period returns evaluation period in minutes.
func (r *RunningRule) Period() int { return r.period }

// WindowSize returns window capacity in minutes.
func (r *RunningRule) WindowSize() int { return r.size }

// Rule returns the rule definition currently in effect.
func (r *RunningRule) Rule() config.AlarmRule { return r.settings.Load().rule }

// ReadsMetric reports whether snapshots of metric are routed to this rule.
func (r *RunningRule) ReadsMetric(metric string) bool {
	_, ok := r.metrics[metric]
	return ok
}

// Metrics returns sorted metric names routed to this rule.
func (r *RunningRule) Metrics() []string {
	out := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reusable reports whether rule evaluates and routes exactly like r, so its windows stay valid.
// Params: candidate rule definition from a reload.
// Returns: true when name, period, normalized expression, and routed metrics all match.
func (r *RunningRule) Reusable(rule config.AlarmRule) bool {
	if rule.Name != r.name || rule.Period != r.period || expr.Normalize(rule.Expression) != expr.Normalize(r.compiled.Text()) {
		return false
	}
	routed, err := RoutedMetrics(rule, r.compiled)
	return err == nil && slices.Equal(routed, r.Metrics())
}

// UpdateSettings swaps message, tags, hooks, filters, and timers in place.
// Windows of entities the new name filter rejects are discarded without a recovery message.
// Params: rule accepted by Reusable.
// Returns: error when rule is not reusable or filters fail to compile.
func (r *RunningRule) UpdateSettings(rule config.AlarmRule) error {
	if !r.Reusable(rule) {
		return fmt.Errorf("rule %q: only cosmetic settings can be updated in place", r.name)
	}
	settings, err := newRuleSettings(rule)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.settings.Swap(settings)
	if previous != nil && sameNameFilter(previous.rule, rule) {
		return nil
	}
	for entity, window := range r.windows {
		if settings.filter.Admit(window.displayName()) {
			continue
		}
		delete(r.windows, entity)
		r.logger.Info("window discarded by name filter", "entity", entity.String(), "name", window.displayName())
	}
	metrics.ActiveWindows.WithLabelValues(r.name).Set(float64(len(r.windows)))
	return nil
}

func sameNameFilter(a, b config.AlarmRule) bool {
	return slices.Equal(a.IncludeNames, b.IncludeNames) &&
		slices.Equal(a.ExcludeNames, b.ExcludeNames) &&
		a.IncludeNamesRegex == b.IncludeNamesRegex &&
		a.ExcludeNamesRegex == b.ExcludeNamesRegex
}

// In routes one snapshot to the window of its entity.
// Params: validated metric snapshot.
// Returns: true when the snapshot was stored; filtered or stale snapshots are dropped silently.
func (r *RunningRule) In(snapshot domain.MetricSnapshot) bool {
	if _, ok := r.metrics[snapshot.MetricName]; !ok {
		return false
	}
	if snapshot.Scope != r.compiled.Scope() {
		r.dropped(snapshot, "scope")
		return false
	}
	if !r.settings.Load().filter.Admit(snapshot.Name) {
		r.dropped(snapshot, "filtered")
		return false
	}
	bucket, err := snapshot.Time()
	if err != nil {
		r.dropped(snapshot, "bucket")
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	window := r.windowFor(snapshot.MetaInAlarm)
	window.rename(snapshot.Name)
	if !window.Add(snapshot.MetricName, bucket, snapshot.Value) {
		r.dropped(snapshot, "too_old")
		return false
	}
	return true
}

func (r *RunningRule) dropped(snapshot domain.MetricSnapshot, reason string) {
	metrics.SnapshotsDropped.WithLabelValues(r.name, reason).Inc()
	r.logger.Debug("snapshot dropped", "metric", snapshot.MetricName, "name", snapshot.Name, "reason", reason)
}

func (r *RunningRule) windowFor(meta domain.MetaInAlarm) *Window {
	entity := domain.EntityOf(meta)
	r.windowsMu.Lock()
	defer r.windowsMu.Unlock()
	window, ok := r.windows[entity]
	if !ok {
		window = NewWindow(entity, meta.Name, r.size)
		r.windows[entity] = window
	}
	return window
}

// MoveTo advances every window to target.
// Params: target time, truncated to minute by each window.
// Returns: none.
func (r *RunningRule) MoveTo(target time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, window := range r.windows {
		window.MoveTo(target)
	}
}

// Check evaluates every window and collects notification-worthy transitions.
// Params: logical tick time stamped on produced messages.
// Returns: firing and recovery messages ordered by entity.
func (r *RunningRule) Check(now time.Time) (firing, recovery []domain.AlarmMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	settings := r.settings.Load()
	for _, entity := range r.sortedEntitiesLocked() {
		window := r.windows[entity]
		outcome, err := window.check(settings.timers, r.evaluate)
		if err != nil {
			metrics.EvaluationFailures.WithLabelValues("rule").Inc()
			if r.panicLogged.CompareAndSwap(false, true) {
				r.logger.Error("rule evaluation failed", "entity", entity.String(), "error", err.Error())
			}
			continue
		}
		switch outcome {
		case OutcomeFire:
			msg := r.newMessage(settings, window, now)
			window.remember(msg)
			firing = append(firing, msg)
		case OutcomeRecover:
			last := window.takeLastAlarm()
			if last == nil {
				fresh := r.newMessage(settings, window, now)
				last = &fresh
			}
			recovery = append(recovery, last.AsRecovery(now))
		}
		if window.State() == domain.AlarmStateNormal && window.expired() {
			delete(r.windows, entity)
		}
	}
	metrics.ActiveWindows.WithLabelValues(r.name).Set(float64(len(r.windows)))
	return firing, recovery
}

// evaluate runs the compiled expression, turning a panic into an error.
func (r *RunningRule) evaluate(frame expr.Frame) (matched bool, labels []string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrEvaluationPanic, recovered)
		}
	}()
	matched, labels = r.detail(frame)
	return matched, labels, nil
}

func (r *RunningRule) newMessage(settings *ruleSettings, window *Window, now time.Time) domain.AlarmMessage {
	entity := window.entity
	name := window.displayName()
	msg := domain.AlarmMessage{
		ID:              r.newID(),
		RuleName:        r.name,
		Scope:           entity.Scope,
		ScopeID:         entity.Scope.ID(),
		Name:            name,
		ID0:             entity.ID0,
		ID1:             entity.ID1,
		Message:         settings.message.Format(name, entity.ID0),
		Expression:      r.compiled.Text(),
		Period:          r.period,
		StartTime:       now.UTC(),
		OnlyAsCondition: settings.rule.OnlyAsCondition,
	}
	if len(settings.tags) > 0 {
		msg.Tags = append([]domain.Tag(nil), settings.tags...)
	}
	if len(settings.rule.Hooks) > 0 {
		msg.Hooks = append([]string(nil), settings.rule.Hooks...)
	}
	return msg
}

// sortedEntitiesLocked lists window keys in stable order; caller holds mu.
func (r *RunningRule) sortedEntitiesLocked() []domain.AlarmEntity {
	out := make([]domain.AlarmEntity, 0, len(r.windows))
	for entity := range r.windows {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Entities returns tracked entities in stable order.
func (r *RunningRule) Entities() []domain.AlarmEntity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.windowsMu.Lock()
	defer r.windowsMu.Unlock()
	return r.sortedEntitiesLocked()
}

// EntityContext returns the window of one entity for status queries.
// Params: entity key (scope/id0[/id1]) or display name.
// Returns: detached window status and true when found.
func (r *RunningRule) EntityContext(ref string) (WindowStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.windowsMu.Lock()
	var found *Window
	for entity, window := range r.windows {
		if entity.String() == ref {
			found = window
			break
		}
	}
	if found == nil {
		for _, entity := range r.sortedEntitiesLocked() {
			if window := r.windows[entity]; window.displayName() == ref {
				found = window
				break
			}
		}
	}
	r.windowsMu.Unlock()
	if found == nil {
		return WindowStatus{}, false
	}
	return found.Status(), true
}
