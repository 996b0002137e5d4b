package vars

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/ormasoftchile/gclocal/pkg/schema"
)

// Decision is the effective run decision of a job after rule evaluation.
// A nil AllowFailure keeps the job's own setting.
type Decision struct {
	When         schema.When
	AllowFailure *bool
}

// RuleEvaluator decides whether and how a job runs from its rules and its
// expanded variables. Implementations must be free of side effects.
type RuleEvaluator interface {
	Evaluate(rules []schema.Rule, vars map[string]string) (Decision, error)
}

// ExprRules evaluates GitLab-style if: clauses with expr-lang. The first
// matching rule wins; a rule without if always matches; when no rule
// matches the job is not run.
type ExprRules struct{}

// Evaluate returns the decision of the first matching rule.
func (ExprRules) Evaluate(rules []schema.Rule, vars map[string]string) (Decision, error) {
	for i, rule := range rules {
		matched := true
		if strings.TrimSpace(rule.If) != "" {
			ok, err := EvalCondition(rule.If, vars)
			if err != nil {
				return Decision{}, fmt.Errorf("rules[%d]: %w", i, err)
			}
			matched = ok
		}
		if !matched {
			continue
		}
		when := rule.When
		if when == "" {
			when = schema.WhenOnSuccess
		}
		return Decision{When: when, AllowFailure: rule.AllowFailure}, nil
	}
	no := false
	return Decision{When: schema.WhenNever, AllowFailure: &no}, nil
}

// EvalCondition evaluates a single if: clause against vars.
// Supported: $VAR, ${VAR}, "str", 'str', null, ==, !=, =~ /re/, !~ /re/,
// &&, || and parentheses. A bare variable is true when set and non-empty.
func EvalCondition(cond string, vars map[string]string) (bool, error) {
	toks, err := lex(cond)
	if err != nil {
		return false, fmt.Errorf("parse condition %q: %w", cond, err)
	}
	regexes := make(map[string]*regexp.Regexp)
	source, err := translate(toks, regexes)
	if err != nil {
		return false, fmt.Errorf("parse condition %q: %w", cond, err)
	}

	env := map[string]any{
		"ciVar": func(name string) any {
			if v, ok := vars[name]; ok {
				return v
			}
			return nil
		},
		"ciTruthy": func(v any) bool {
			s, ok := v.(string)
			return ok && s != ""
		},
		"ciMatch": func(v any, pattern string) bool {
			s, ok := v.(string)
			if !ok {
				return false
			}
			re, ok := regexes[pattern]
			if !ok {
				return false
			}
			return re.MatchString(s)
		},
	}

	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", cond, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", cond, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T: %v)", cond, output, output)
	}
	return result, nil
}

type tokenKind int

const (
	tokVar tokenKind = iota
	tokString
	tokRegex
	tokNull
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	flags string // regex flags
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '$':
			if i+1 < len(s) && s[i+1] == '{' {
				end := strings.IndexByte(s[i:], '}')
				if end < 0 {
					return nil, fmt.Errorf("unterminated ${ at offset %d", i)
				}
				name := s[i+2 : i+end]
				if !validName(name) {
					return nil, fmt.Errorf("invalid variable name %q", name)
				}
				toks = append(toks, token{kind: tokVar, text: name})
				i += end + 1
				continue
			}
			j := i + 1
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			name := s[i+1 : j]
			if !validName(name) {
				return nil, fmt.Errorf("invalid variable at offset %d", i)
			}
			toks = append(toks, token{kind: tokVar, text: name})
			i = j
		case c == '"' || c == '\'':
			str, n, err := lexString(s[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: str})
			i += n
		case c == '/':
			if len(toks) == 0 || toks[len(toks)-1].kind != tokOp ||
				(toks[len(toks)-1].text != "=~" && toks[len(toks)-1].text != "!~") {
				return nil, fmt.Errorf("unexpected / at offset %d", i)
			}
			pattern, flags, n, err := lexRegex(s[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokRegex, text: pattern, flags: flags})
			i += n
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case i+1 < len(s) && isOperator(s[i:i+2]):
			toks = append(toks, token{kind: tokOp, text: s[i : i+2]})
			i += 2
		case isNameStart(c):
			j := i
			for j < len(s) && isNameChar(s[j]) {
				j++
			}
			if s[i:j] != "null" {
				return nil, fmt.Errorf("unexpected word %q", s[i:j])
			}
			toks = append(toks, token{kind: tokNull, text: "null"})
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isOperator(op string) bool {
	switch op {
	case "==", "!=", "=~", "!~", "&&", "||":
		return true
	}
	return false
}

func isComparison(t token) bool {
	return t.kind == tokOp && (t.text == "==" || t.text == "!=" || t.text == "=~" || t.text == "!~")
}

// lexString reads a quoted string and returns its value and consumed length.
func lexString(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '\\' && quote == '"' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, fmt.Errorf("unterminated string")
}

// lexRegex reads /pattern/flags and returns pattern, flags and consumed length.
func lexRegex(s string) (string, string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) && s[i+1] == '/' {
			b.WriteByte('/')
			i++
			continue
		}
		if c == '/' {
			j := i + 1
			for j < len(s) && strings.IndexByte("imsx", s[j]) >= 0 {
				j++
			}
			return b.String(), s[i+1 : j], j, nil
		}
		b.WriteByte(c)
	}
	return "", "", 0, fmt.Errorf("unterminated regex")
}

// translate rewrites the token stream as an expr-lang program. Regexes are
// compiled up front and stored in regexes, keyed by the effective pattern.
func translate(toks []token, regexes map[string]*regexp.Regexp) (string, error) {
	if len(toks) == 0 {
		return "", fmt.Errorf("empty condition")
	}
	bare := func(i int) bool {
		if i > 0 && isComparison(toks[i-1]) {
			return false
		}
		if i+1 < len(toks) && isComparison(toks[i+1]) {
			return false
		}
		return true
	}

	var out []string
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.kind {
		case tokVar, tokString:
			operand := fmt.Sprintf("ciVar(%s)", strconv.Quote(t.text))
			if t.kind == tokString {
				operand = strconv.Quote(t.text)
			}
			if bare(i) {
				operand = "ciTruthy(" + operand + ")"
			}
			out = append(out, operand)
		case tokNull:
			out = append(out, "nil")
		case tokOp:
			if t.text != "=~" && t.text != "!~" {
				out = append(out, t.text)
				continue
			}
			if len(out) == 0 || i+1 >= len(toks) || toks[i+1].kind != tokRegex {
				return "", fmt.Errorf("%s needs an operand and a /regex/", t.text)
			}
			re := toks[i+1]
			pattern := re.text
			if re.flags != "" {
				pattern = "(?" + re.flags + ")" + pattern
			}
			compiled, err := regexp.Compile(pattern)
			if err != nil {
				return "", fmt.Errorf("regex /%s/: %w", re.text, err)
			}
			regexes[pattern] = compiled
			call := fmt.Sprintf("ciMatch(%s, %s)", out[len(out)-1], strconv.Quote(pattern))
			if t.text == "!~" {
				call = "not " + call
			}
			out[len(out)-1] = call
			i++
		case tokRegex:
			return "", fmt.Errorf("regex without =~ or !~")
		default:
			out = append(out, t.text)
		}
	}
	return strings.Join(out, " "), nil
}
