package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"alarmcore/internal/clock"
	"alarmcore/internal/composite"
	"alarmcore/internal/domain"
	"alarmcore/internal/engine"
	"alarmcore/internal/expr"
	"alarmcore/internal/metrics"
)

const (
	defaultTickOffsetSec   = 15
	defaultTickTimeout     = 30 * time.Second
	defaultCallbackTimeout = 10 * time.Second
	defaultTickInterval    = 10 * time.Second
)

// ErrInvalidSnapshot marks snapshots rejected at the core boundary.
var ErrInvalidSnapshot = errors.New("invalid metric snapshot")

// Callback receives alarm messages produced by one tick.
// Params: per-call context bounded by the callback timeout.
// Returns: delivery error; logged and counted, never aborting the tick.
type Callback interface {
	Name() string
	DoAlarm(ctx context.Context, messages []domain.AlarmMessage) error
	DoAlarmRecovery(ctx context.Context, messages []domain.AlarmMessage) error
}

// ruleTable is one immutable generation of active rules.
type ruleTable struct {
	rules      []*engine.RunningRule
	byName     map[string]*engine.RunningRule
	byMetric   map[string][]*engine.RunningRule
	composites []*composite.Rule
}

func newRuleTable(rules []*engine.RunningRule, composites []*composite.Rule) *ruleTable {
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name() < rules[j].Name() })
	sort.Slice(composites, func(i, j int) bool { return composites[i].Name() < composites[j].Name() })
	table := &ruleTable{
		rules:      rules,
		byName:     make(map[string]*engine.RunningRule, len(rules)),
		byMetric:   make(map[string][]*engine.RunningRule),
		composites: composites,
	}
	for _, rule := range rules {
		table.byName[rule.Name()] = rule
		for _, metric := range rule.Metrics() {
			table.byMetric[metric] = append(table.byMetric[metric], rule)
		}
	}
	return table
}

// TickReport summarizes one Tick call.
type TickReport struct {
	Evaluated    bool
	Time         time.Time
	Firing       []domain.AlarmMessage
	Recovery     []domain.AlarmMessage
	RulesChecked int
	RulesSkipped int
}

// Option customizes Core.
type Option func(*Core)

// WithClock sets time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Core) { c.clock = clk }
}

// WithLogger sets logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// WithCallbacks registers initial callbacks.
func WithCallbacks(callbacks ...Callback) Option {
	return func(c *Core) { c.callbacks = append(c.callbacks, callbacks...) }
}

// WithTickTimeout bounds one evaluation pass.
func WithTickTimeout(timeout time.Duration) Option {
	return func(c *Core) { c.tickTimeout = timeout }
}

// WithCallbackTimeout bounds one callback invocation.
func WithCallbackTimeout(timeout time.Duration) Option {
	return func(c *Core) { c.callbackTimeout = timeout }
}

// WithTickOffset sets second of minute after which a tick may evaluate.
func WithTickOffset(seconds int) Option {
	return func(c *Core) { c.tickOffset = seconds }
}

// Core routes snapshots to running rules and drives minute-aligned evaluation.
// Params: built by New with options.
// Returns: ingestion sink, scheduler, and rule lookup.
type Core struct {
	clock           clock.Clock
	logger          *slog.Logger
	composite       *composite.Evaluator
	tickTimeout     time.Duration
	callbackTimeout time.Duration
	tickOffset      int

	table atomic.Pointer[ruleTable]

	callbacksMu sync.RWMutex
	callbacks   []Callback

	tickMu     sync.Mutex
	lastMinute time.Time
}

// New creates alarm core with an empty rule table.
// Params: options for clock, logger, callbacks, and timeouts.
// Returns: ready core.
func New(opts ...Option) *Core {
	c := &Core{
		clock:           clock.RealClock{},
		logger:          slog.Default(),
		tickTimeout:     defaultTickTimeout,
		callbackTimeout: defaultCallbackTimeout,
		tickOffset:      defaultTickOffsetSec,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tickOffset < 0 || c.tickOffset > 59 {
		c.tickOffset = defaultTickOffsetSec
	}
	c.composite = composite.NewEvaluator(c.logger)
	c.table.Store(newRuleTable(nil, nil))
	return c
}

// RegisterCallback appends one callback.
func (c *Core) RegisterCallback(callback Callback) {
	c.callbacksMu.Lock()
	c.callbacks = append(c.callbacks, callback)
	c.callbacksMu.Unlock()
}

// Notify routes one snapshot to every rule reading its metric.
// Params: metric snapshot from any ingestion adapter.
// Returns: ErrInvalidSnapshot for schema violations; filtering by rules is silent.
func (c *Core) Notify(snapshot domain.MetricSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	for _, rule := range c.table.Load().byMetric[snapshot.MetricName] {
		rule.In(snapshot)
	}
	return nil
}

// NotifyBatch routes snapshots in order.
// Params: snapshot batch.
// Returns: first validation error; snapshots before it are applied.
func (c *Core) NotifyBatch(snapshots []domain.MetricSnapshot) error {
	for i := range snapshots {
		if err := c.Notify(snapshots[i]); err != nil {
			return fmt.Errorf("snapshot[%d]: %w", i, err)
		}
	}
	return nil
}

// FindRunningRule resolves active rule by name or by expression text.
// Params: rule name or expression (whitespace-insensitive).
// Returns: running rule and true when found.
func (c *Core) FindRunningRule(nameOrExpression string) (*engine.RunningRule, bool) {
	table := c.table.Load()
	if rule, ok := table.byName[nameOrExpression]; ok {
		return rule, true
	}
	normalized := expr.Normalize(nameOrExpression)
	for _, rule := range table.rules {
		if expr.Normalize(rule.Expression().Text()) == normalized {
			return rule, true
		}
	}
	return nil, false
}

// RunningRules returns active rules ordered by name.
func (c *Core) RunningRules() []*engine.RunningRule {
	return append([]*engine.RunningRule(nil), c.table.Load().rules...)
}

// CompositeRules returns active composite rules ordered by name.
func (c *Core) CompositeRules() []*composite.Rule {
	return append([]*composite.Rule(nil), c.table.Load().composites...)
}

// Run ticks on interval until ctx is done.
// Params: context and polling interval; minute alignment is enforced by Tick.
// Returns: none.
func (c *Core) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one evaluation pass when a new minute started and the offset passed.
// Params: parent context; the pass itself is bounded by the tick timeout.
// Returns: report of evaluated rules and delivered messages.
func (c *Core) Tick(ctx context.Context) TickReport {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	now := c.clock.Now()
	minute := clock.TruncateMinute(now)
	report := TickReport{Time: now}
	if !c.lastMinute.IsZero() && !minute.After(c.lastMinute) {
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		return report
	}
	if now.Second() <= c.tickOffset {
		metrics.TicksTotal.WithLabelValues("skipped").Inc()
		return report
	}
	c.lastMinute = minute
	report.Evaluated = true

	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	tickCtx, cancel := context.WithTimeout(ctx, c.tickTimeout)
	defer cancel()

	table := c.table.Load()
	for _, rule := range table.rules {
		rule.MoveTo(now)
	}

	var firing, recovery []domain.AlarmMessage
	for i, rule := range table.rules {
		if tickCtx.Err() != nil {
			report.RulesSkipped = len(table.rules) - i
			metrics.RulesSkipped.Add(float64(report.RulesSkipped))
			c.logger.Warn("tick deadline reached, remaining rules skipped", "skipped", report.RulesSkipped, "error", tickCtx.Err().Error())
			break
		}
		ruleFiring, ruleRecovery := rule.Check(now)
		firing = append(firing, ruleFiring...)
		recovery = append(recovery, ruleRecovery...)
		report.RulesChecked++
	}
	if report.RulesSkipped > 0 {
		metrics.TicksTotal.WithLabelValues("timeout").Inc()
	} else {
		metrics.TicksTotal.WithLabelValues("evaluated").Inc()
	}

	compositeMessages := c.composite.Evaluate(table.composites, firing, now)
	report.Firing = append(withoutConditionOnly(firing), compositeMessages...)
	report.Recovery = withoutConditionOnly(recovery)

	metrics.AlarmMessages.WithLabelValues("firing").Add(float64(len(report.Firing) - len(compositeMessages)))
	metrics.AlarmMessages.WithLabelValues("composite").Add(float64(len(compositeMessages)))
	metrics.AlarmMessages.WithLabelValues("recovery").Add(float64(len(report.Recovery)))

	c.dispatch(ctx, report.Firing, report.Recovery)
	return report
}

func withoutConditionOnly(messages []domain.AlarmMessage) []domain.AlarmMessage {
	out := messages[:0:0]
	for _, msg := range messages {
		if !msg.OnlyAsCondition {
			out = append(out, msg)
		}
	}
	return out
}

// dispatch hands messages to every callback; failures are isolated per callback.
func (c *Core) dispatch(ctx context.Context, firing, recovery []domain.AlarmMessage) {
	if len(firing) == 0 && len(recovery) == 0 {
		return
	}
	c.callbacksMu.RLock()
	callbacks := append([]Callback(nil), c.callbacks...)
	c.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		if len(firing) > 0 {
			c.invoke(ctx, callback, "alarm", func(callCtx context.Context) error {
				return callback.DoAlarm(callCtx, firing)
			})
		}
		if len(recovery) > 0 {
			c.invoke(ctx, callback, "recovery", func(callCtx context.Context) error {
				return callback.DoAlarmRecovery(callCtx, recovery)
			})
		}
	}
}

func (c *Core) invoke(ctx context.Context, callback Callback, kind string, call func(context.Context) error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callbackTimeout)
	defer cancel()

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("callback panicked: %v", recovered)
			}
		}()
		return call(callCtx)
	}()
	metrics.CallbackDuration.WithLabelValues(callback.Name()).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.CallbackDeliveries.WithLabelValues(callback.Name(), "failed").Inc()
		c.logger.Error("alarm callback failed", "callback", callback.Name(), "kind", kind, "error", err.Error())
		return
	}
	metrics.CallbackDeliveries.WithLabelValues(callback.Name(), "success").Inc()
}
