// Package vars provides the variable expansion and rule evaluation contract
// consumed by job construction, with default implementations.
package vars

import (
	"strings"

	"github.com/ormasoftchile/gclocal/pkg/schema"
)

// Expander resolves variable references in raw values against env.
// Implementations must be deterministic and free of side effects.
type Expander interface {
	Expand(raw schema.Variables, env map[string]string) map[string]string
}

// ShellExpander resolves $NAME and ${NAME} references transitively.
// Unresolved references expand to the empty string, $$ is a literal $,
// and self or mutual references terminate with an empty value.
type ShellExpander struct{}

// Expand returns a new map with every value of raw expanded against env.
func (ShellExpander) Expand(raw schema.Variables, env map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = expand(v, env, make(map[string]bool))
	}
	return out
}

// ExpandText expands references in a single string against vars.
func ExpandText(s string, vars map[string]string) string {
	return expand(s, vars, make(map[string]bool))
}

func expand(s string, env map[string]string, visiting map[string]bool) string {
	if !strings.Contains(s, "$") {
		return s // fast path for literals
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			b.WriteByte(c)
			i++
			continue
		}
		next := s[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i += 2
		case next == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				return b.String()
			}
			name := s[i+2 : i+2+end]
			if !validName(name) {
				b.WriteString(s[i : i+3+end])
			} else {
				b.WriteString(lookup(name, env, visiting))
			}
			i += 3 + end
		case isNameStart(next):
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			b.WriteString(lookup(s[i+1:j], env, visiting))
			i = j
		default:
			b.WriteByte('$')
			i++
		}
	}
	return b.String()
}

func lookup(name string, env map[string]string, visiting map[string]bool) string {
	raw, ok := env[name]
	if !ok || visiting[name] {
		return ""
	}
	visiting[name] = true
	v := expand(raw, env, visiting)
	delete(visiting, name)
	return v
}

func validName(name string) bool {
	if name == "" || !isNameStart(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isNameChar(name[i]) {
			return false
		}
	}
	return true
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
