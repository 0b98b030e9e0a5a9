package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"alarmcore/internal/composite"
	"alarmcore/internal/config"
	"alarmcore/internal/engine"
	"alarmcore/internal/ingest"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RuleView exposes active rules for status queries.
type RuleView interface {
	RunningRules() []*engine.RunningRule
	CompositeRules() []*composite.Rule
	FindRunningRule(nameOrExpression string) (*engine.RunningRule, bool)
}

// Handler serves ingest, probe, metrics, and alarm status endpoints.
type Handler struct {
	cfg    config.HTTPConfig
	sink   ingest.SnapshotSink
	rules  RuleView
	ready  *atomic.Bool
	logger *slog.Logger
}

// NewHandler creates API handler.
// Params: HTTP config, snapshot sink, rule view, readiness flag, and logger.
// Returns: handler; mount it with Router.
func NewHandler(cfg config.HTTPConfig, sink ingest.SnapshotSink, rules RuleView, ready *atomic.Bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if ready == nil {
		ready = &atomic.Bool{}
	}
	return &Handler{cfg: cfg, sink: sink, rules: rules, ready: ready, logger: logger}
}

// Router builds chi router with every configured route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get(h.cfg.HealthPath, h.handleHealth)
	r.Get(h.cfg.ReadyPath, h.handleReady)
	r.Handle(h.cfg.MetricsPath, promhttp.Handler())

	single := ingest.NewHTTPHandler(h.sink, h.cfg.MaxBodyBytes, h.logger)
	batch := ingest.NewBatchHTTPHandler(h.sink, h.cfg.MaxBodyBytes, h.logger)
	r.Method(http.MethodPost, h.cfg.IngestPath, single)
	r.Method(http.MethodPost, strings.TrimSuffix(h.cfg.IngestPath, "/")+"/batch", batch)

	if h.cfg.StatusEnabled {
		h.RegisterStatusRoutes(r)
	}
	return r
}

// RegisterStatusRoutes mounts alarm status query routes.
func (h *Handler) RegisterStatusRoutes(r chi.Router) {
	r.Route("/status/alarm/rules", func(r chi.Router) {
		r.Get("/", h.handleRulesList)
		r.Get("/{rule}", h.handleRuleGet)
		r.Get("/{rule}/entities/*", h.handleEntityGet)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not-ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type ruleSummary struct {
	Name            string   `json:"name"`
	Expression      string   `json:"expression"`
	Period          int      `json:"period"`
	SilencePeriod   int      `json:"silence_period"`
	RecoveryPeriod  int      `json:"recovery_observation_period"`
	OnlyAsCondition bool     `json:"only_as_condition,omitempty"`
	Metrics         []string `json:"metrics"`
	Entities        int      `json:"entities"`
}

type compositeSummary struct {
	Name       string   `json:"name"`
	Expression string   `json:"expression"`
	References []string `json:"references"`
}

type rulesResponse struct {
	Rules      []ruleSummary      `json:"rules"`
	Composites []compositeSummary `json:"composite_rules"`
}

type ruleDetail struct {
	ruleSummary
	Message           string            `json:"message"`
	IncludeNames      []string          `json:"include_names,omitempty"`
	ExcludeNames      []string          `json:"exclude_names,omitempty"`
	IncludeNamesRegex string            `json:"include_names_regex,omitempty"`
	ExcludeNamesRegex string            `json:"exclude_names_regex,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	Hooks             []string          `json:"hooks,omitempty"`
	EntityKeys        []string          `json:"entity_keys"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func summarize(rule *engine.RunningRule) ruleSummary {
	settings := rule.Rule()
	return ruleSummary{
		Name:            rule.Name(),
		Expression:      rule.Expression().Text(),
		Period:          rule.Period(),
		SilencePeriod:   settings.SilencePeriod,
		RecoveryPeriod:  settings.RecoveryObservationPeriod,
		OnlyAsCondition: settings.OnlyAsCondition,
		Metrics:         rule.Metrics(),
		Entities:        len(rule.Entities()),
	}
}

func (h *Handler) handleRulesList(w http.ResponseWriter, _ *http.Request) {
	out := rulesResponse{Rules: []ruleSummary{}, Composites: []compositeSummary{}}
	for _, rule := range h.rules.RunningRules() {
		out.Rules = append(out.Rules, summarize(rule))
	}
	for _, rule := range h.rules.CompositeRules() {
		out.Composites = append(out.Composites, compositeSummary{Name: rule.Name(), Expression: rule.Expression(), References: rule.References()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRuleGet(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.findRule(w, r)
	if !ok {
		return
	}
	settings := rule.Rule()
	detail := ruleDetail{
		ruleSummary:       summarize(rule),
		Message:           settings.Message,
		IncludeNames:      settings.IncludeNames,
		ExcludeNames:      settings.ExcludeNames,
		IncludeNamesRegex: settings.IncludeNamesRegex,
		ExcludeNamesRegex: settings.ExcludeNamesRegex,
		Tags:              settings.Tags,
		Hooks:             settings.Hooks,
		EntityKeys:        []string{},
	}
	for _, entity := range rule.Entities() {
		detail.EntityKeys = append(detail.EntityKeys, entity.String())
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleEntityGet(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.findRule(w, r)
	if !ok {
		return
	}
	ref := pathParam(r, "*")
	status, ok := rule.EntityContext(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "entity_not_found", "no window for entity "+ref)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// findRule resolves the {rule} parameter by name or expression and writes 404 when absent.
func (h *Handler) findRule(w http.ResponseWriter, r *http.Request) (*engine.RunningRule, bool) {
	ref := pathParam(r, "rule")
	rule, ok := h.rules.FindRunningRule(ref)
	if !ok {
		writeError(w, http.StatusNotFound, "rule_not_found", "no running rule "+ref)
		return nil, false
	}
	return rule, true
}

func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
