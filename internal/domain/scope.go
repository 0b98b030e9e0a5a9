package domain

import "strings"

// Scope identifies the entity level a metric belongs to.
// Params: constants below.
// Returns: scope label shared by metrics catalog, rules, and alarm messages.
type Scope string

const (
	ScopeService                 Scope = "Service"
	ScopeServiceInstance         Scope = "ServiceInstance"
	ScopeEndpoint                Scope = "Endpoint"
	ScopeServiceRelation         Scope = "ServiceRelation"
	ScopeServiceInstanceRelation Scope = "ServiceInstanceRelation"
	ScopeEndpointRelation        Scope = "EndpointRelation"
	ScopeProcess                 Scope = "Process"
	ScopeProcessRelation         Scope = "ProcessRelation"
)

var scopeIDs = map[Scope]int{
	ScopeService:                 1,
	ScopeServiceInstance:         2,
	ScopeEndpoint:                3,
	ScopeServiceRelation:         4,
	ScopeServiceInstanceRelation: 5,
	ScopeEndpointRelation:        6,
	ScopeProcess:                 45,
	ScopeProcessRelation:         54,
}

var scopeByFolded = func() map[string]Scope {
	out := make(map[string]Scope, len(scopeIDs))
	for scope := range scopeIDs {
		out[foldScope(string(scope))] = scope
	}
	return out
}()

// ParseScope resolves scope name in any of the accepted spellings.
// Params: raw name such as "Service", "SERVICE_INSTANCE", or "endpoint".
// Returns: canonical scope and true when known.
func ParseScope(raw string) (Scope, bool) {
	scope, ok := scopeByFolded[foldScope(raw)]
	return scope, ok
}

// ID returns numeric scope id used on the wire.
// Params: none.
// Returns: scope id or 0 for unknown scope.
func (s Scope) ID() int {
	return scopeIDs[s]
}

// Valid reports whether scope is one of the known levels.
func (s Scope) Valid() bool {
	_, ok := scopeIDs[s]
	return ok
}

func foldScope(raw string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""))
}
