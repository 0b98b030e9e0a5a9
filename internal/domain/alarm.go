package domain

import (
	"sort"
	"time"
)

// AlarmState is the per-window alarm lifecycle state.
type AlarmState string

const (
	AlarmStateNormal            AlarmState = "NORMAL"
	AlarmStateFiring            AlarmState = "FIRING"
	AlarmStateSilenced          AlarmState = "SILENCED"
	AlarmStateObservingRecovery AlarmState = "OBSERVING_RECOVERY"
	AlarmStateRecovered         AlarmState = "RECOVERED"
)

// Tag is one key/value label attached to alarm messages.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TagsFromMap converts tag map into key-sorted tag list.
// Params: tag map from rule configuration.
// Returns: deterministic tag slice or nil for empty map.
func TagsFromMap(tags map[string]string) []Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Tag, 0, len(tags))
	for key, value := range tags {
		out = append(out, Tag{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AlarmMessage is one firing or recovery notification leaving the core.
// Params: rule identity, entity identity, rendered text, and timing.
// Returns: immutable payload handed to callbacks.
type AlarmMessage struct {
	ID              string     `json:"uuid"`
	RuleName        string     `json:"rule_name"`
	Scope           Scope      `json:"scope"`
	ScopeID         int        `json:"scope_id"`
	Name            string     `json:"name"`
	ID0             string     `json:"id0"`
	ID1             string     `json:"id1,omitempty"`
	Message         string     `json:"alarm_message"`
	Expression      string     `json:"expression,omitempty"`
	Period          int        `json:"period,omitempty"`
	Tags            []Tag      `json:"tags,omitempty"`
	Hooks           []string   `json:"hooks,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	RecoveryTime    *time.Time `json:"recovery_time,omitempty"`
	OnlyAsCondition bool       `json:"-"`
}

// Entity returns identity triple of message.
func (m AlarmMessage) Entity() AlarmEntity {
	return AlarmEntity{Scope: m.Scope, ID0: m.ID0, ID1: m.ID1}
}

// Recovered reports whether message announces recovery.
func (m AlarmMessage) Recovered() bool {
	return m.RecoveryTime != nil
}

// AsRecovery derives recovery message from the firing message it closes.
// Params: recovery instant.
// Returns: copy sharing ID and text with RecoveryTime set.
func (m AlarmMessage) AsRecovery(at time.Time) AlarmMessage {
	out := m
	recoveredAt := at.UTC()
	out.RecoveryTime = &recoveredAt
	if m.Tags != nil {
		out.Tags = append([]Tag(nil), m.Tags...)
	}
	if m.Hooks != nil {
		out.Hooks = append([]string(nil), m.Hooks...)
	}
	return out
}
