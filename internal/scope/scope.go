package scope

import "strings"

// defaultTokens are granted to every client unless narrowed by its
// registration. Their claims are resolved without policy lookups.
var defaultTokens = []string{"openid", "email", "profile", "image"}

// Scope is an ordered list of unique scope tokens. Comparisons are
// set-based while iteration and serialization preserve insertion order.
type Scope struct {
	tokens []string
}

// Parse splits a space separated scope string, dropping duplicates while
// keeping first-occurrence order.
func Parse(raw string) Scope {
	return New(strings.Fields(raw))
}

// New builds a scope from tokens, dropping duplicates and empty entries.
func New(tokens []string) Scope {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return Scope{tokens: out}
}

// Default returns the full default scope.
func Default() Scope {
	return New(defaultTokens)
}

// IsDefaultToken reports whether the token belongs to the default scope.
func IsDefaultToken(tok string) bool {
	for _, d := range defaultTokens {
		if d == tok {
			return true
		}
	}
	return false
}

// Tokens returns a copy of the scope tokens in order.
func (s Scope) Tokens() []string {
	return append([]string(nil), s.tokens...)
}

// String serializes the scope as a space separated list.
func (s Scope) String() string {
	return strings.Join(s.tokens, " ")
}

// IsEmpty reports whether the scope holds no tokens.
func (s Scope) IsEmpty() bool {
	return len(s.tokens) == 0
}

// Contains reports whether the scope holds the given token.
func (s Scope) Contains(tok string) bool {
	for _, t := range s.tokens {
		if t == tok {
			return true
		}
	}
	return false
}

// NonDefault returns the tokens that require policy resolution.
func (s Scope) NonDefault() []string {
	var out []string
	for _, t := range s.tokens {
		if !IsDefaultToken(t) {
			out = append(out, t)
		}
	}
	return out
}

// Equal reports set equality regardless of token order.
func (s Scope) Equal(o Scope) bool {
	return len(s.tokens) == len(o.tokens) && s.GreaterEq(o)
}

// GreaterEq reports whether s is a superset of o.
func (s Scope) GreaterEq(o Scope) bool {
	for _, t := range o.tokens {
		if !s.Contains(t) {
			return false
		}
	}
	return true
}

// Greater reports whether s is a strict superset of o.
func (s Scope) Greater(o Scope) bool {
	return len(s.tokens) > len(o.tokens) && s.GreaterEq(o)
}

// Compare orders two scopes by set inclusion. The second return value is
// false when the scopes are incomparable.
func (s Scope) Compare(o Scope) (int, bool) {
	switch {
	case s.Equal(o):
		return 0, true
	case s.Greater(o):
		return 1, true
	case o.Greater(s):
		return -1, true
	default:
		return 0, false
	}
}

// Intersect keeps the tokens present in both scopes, ordered as in s.
func (s Scope) Intersect(o Scope) Scope {
	out := make([]string, 0, len(s.tokens))
	for _, t := range s.tokens {
		if o.Contains(t) {
			out = append(out, t)
		}
	}
	return Scope{tokens: out}
}
