package engine

import (
	"fmt"
	"regexp"

	"alarmcore/internal/config"
)

// NameFilter admits entity display names by include/exclude lists and regexes.
// Params: built once per rule by NewNameFilter.
// Returns: immutable predicate safe for concurrent use.
type NameFilter struct {
	include      []string
	exclude      []string
	includeRegex *regexp.Regexp
	excludeRegex *regexp.Regexp
}

// NewNameFilter compiles rule name filters.
// Params: rule with optional name lists and regexes; regexes must match the whole name.
// Returns: filter or regex compile error.
func NewNameFilter(rule config.AlarmRule) (NameFilter, error) {
	filter := NameFilter{
		include: rule.IncludeNames,
		exclude: rule.ExcludeNames,
	}
	var err error
	if filter.includeRegex, err = compileFullMatch(rule.IncludeNamesRegex); err != nil {
		return NameFilter{}, fmt.Errorf("include-names-regex: %w", err)
	}
	if filter.excludeRegex, err = compileFullMatch(rule.ExcludeNamesRegex); err != nil {
		return NameFilter{}, fmt.Errorf("exclude-names-regex: %w", err)
	}
	return filter, nil
}

// Admit checks whether name passes every configured filter.
// Params: entity display name.
// Returns: true when name is included and not excluded.
func (f NameFilter) Admit(name string) bool {
	if len(f.include) > 0 && !containsString(f.include, name) {
		return false
	}
	if len(f.exclude) > 0 && containsString(f.exclude, name) {
		return false
	}
	if f.includeRegex != nil && !f.includeRegex.MatchString(name) {
		return false
	}
	if f.excludeRegex != nil && f.excludeRegex.MatchString(name) {
		return false
	}
	return true
}

func compileFullMatch(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

// containsString checks case-sensitive membership.
// Params: haystack string list and expected value.
// Returns: true when value exists in list.
func containsString(values []string, expected string) bool {
	for _, v := range values {
		if v == expected {
			return true
		}
	}
	return false
}
