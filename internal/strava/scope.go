package strava

import "strings"

type Scope int

const (
	ScopeRead Scope = iota
	ScopeReadAll
	ScopeProfileReadAll
	ScopeProfileWrite
	ScopeActivityRead
	ScopeActivityReadAll
	ScopeActivityWrite
)

var scopeNames = [...]string{
	ScopeRead:            "read",
	ScopeReadAll:         "read_all",
	ScopeProfileReadAll:  "profile:read_all",
	ScopeProfileWrite:    "profile:write",
	ScopeActivityRead:    "activity:read",
	ScopeActivityReadAll: "activity:read_all",
	ScopeActivityWrite:   "activity:write",
}

func (s Scope) String() string {
	if s < 0 || int(s) >= len(scopeNames) {
		return ""
	}
	return scopeNames[s]
}

// ParseScopes converts Strava's comma-separated granted scope list into a
// bitfield, ignoring names it does not know.
func ParseScopes(raw string) Bitfield {
	var b Bitfield
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		for i, n := range scopeNames {
			if n == name {
				b.Set(i, true)
			}
		}
	}
	return b
}

func HasScope(b Bitfield, s Scope) bool {
	return b.Get(int(s))
}
