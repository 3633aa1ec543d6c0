package report

import (
	"encoding/json"
	"slices"
)

// Scope restricts one routing axis of a department. The zero value is a
// wildcard and matches every value. A restricted Scope matches only its
// members, so a restricted Scope with no members matches nothing.
type Scope struct {
	restricted bool
	values     []string
}

// AnyScope returns the wildcard scope.
func AnyScope() Scope { return Scope{} }

// ScopeOf returns a scope restricted to values.
func ScopeOf(values ...string) Scope {
	v := slices.Clone(values)
	if v == nil {
		v = []string{}
	}
	return Scope{restricted: true, values: v}
}

// IsWildcard reports whether the scope matches everything.
func (s Scope) IsWildcard() bool { return !s.restricted }

// Values returns the members of a restricted scope, nil for a wildcard.
func (s Scope) Values() []string {
	if !s.restricted {
		return nil
	}
	return slices.Clone(s.values)
}

// Matches reports whether v is inside the scope.
func (s Scope) Matches(v string) bool {
	if !s.restricted {
		return true
	}
	return slices.Contains(s.values, v)
}

// MarshalJSON encodes a wildcard as null and a restricted scope as an array.
func (s Scope) MarshalJSON() ([]byte, error) {
	if !s.restricted {
		return []byte("null"), nil
	}
	return json.Marshal(s.values)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var v []string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*s = AnyScope()
		return nil
	}
	*s = ScopeOf(v...)
	return nil
}
