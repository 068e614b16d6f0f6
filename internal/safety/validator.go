// Package safety implements the static safe-pattern gate: structural
// analysis of rule patterns that rejects catastrophic-backtracking shapes
// before a pattern ever enters the registry. Analysis is purely static
// (the pattern is parsed, never executed) and runs at load time only.
package safety

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
)

// RejectionReason classifies why a pattern failed the gate.
type RejectionReason string

const (
	ReasonEmptyPattern      RejectionReason = "empty_pattern"
	ReasonParseError        RejectionReason = "parse_error"
	ReasonNestedQuantifier  RejectionReason = "nested_unbounded_quantifier"
	ReasonQuantifierDepth   RejectionReason = "quantifier_depth"
	ReasonUnanchoredLeading RejectionReason = "unanchored_leading_wildcard"
	ReasonUnanchoredTrail   RejectionReason = "unanchored_trailing_wildcard"
	ReasonWideAlternation   RejectionReason = "wide_alternation"
	ReasonUndeclaredFlag    RejectionReason = "undeclared_flag"
)

// ValidationError reports a rejected pattern with its reason.
type ValidationError struct {
	Pattern string
	Reason  RejectionReason
	Detail  string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unsafe pattern %q: %s", e.Pattern, e.Reason)
	}
	return fmt.Sprintf("unsafe pattern %q: %s (%s)", e.Pattern, e.Reason, e.Detail)
}

// Flags are the matching modes a rule may declare. Inline pattern flags
// that are not declared here are rejected: case-insensitive or multiline
// matching is never implicit.
type Flags struct {
	CaseInsensitive bool
	Multiline       bool
}

// Validator is the safe-pattern gate.
type Validator struct {
	// MaxQuantDepth bounds quantifier nesting, bounded repeats included.
	MaxQuantDepth int

	// MaxAlternation bounds alternation width when branches lack a
	// common literal prefix.
	MaxAlternation int
}

// NewValidator returns a gate with the default limits.
func NewValidator() *Validator {
	return &Validator{
		MaxQuantDepth:  2,
		MaxAlternation: 12,
	}
}

// Validate statically analyzes a pattern and, on success, compiles it.
// The compiled pattern is anchored in whatever way the rule author wrote
// it; validation only rejects, it never rewrites.
func (v *Validator) Validate(pattern string, flags Flags) (*regexp.Regexp, *Profile, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil, &ValidationError{Pattern: pattern, Reason: ReasonEmptyPattern}
	}

	if fold, multi := inlineFlags(pattern); (fold && !flags.CaseInsensitive) || (multi && !flags.Multiline) {
		return nil, nil, &ValidationError{
			Pattern: pattern,
			Reason:  ReasonUndeclaredFlag,
			Detail:  "inline (?i)/(?m) require the matching rule-level declaration",
		}
	}

	parseFlags := syntax.Perl
	if flags.CaseInsensitive {
		parseFlags |= syntax.FoldCase
	}

	// Lookaround and back-references are rejected here: the RE2 syntax
	// has no such constructs, so they surface as parse errors.
	tree, err := syntax.Parse(pattern, parseFlags)
	if err != nil {
		return nil, nil, &ValidationError{Pattern: pattern, Reason: ReasonParseError, Detail: err.Error()}
	}

	if err := v.check(pattern, tree); err != nil {
		return nil, nil, err
	}

	profile := buildProfile(tree)

	re, err := regexp.Compile(finalSource(pattern, flags))
	if err != nil {
		return nil, nil, &ValidationError{Pattern: pattern, Reason: ReasonParseError, Detail: err.Error()}
	}
	return re, profile, nil
}

// finalSource prepends the declared flags so the compiled matcher agrees
// with the validated parse.
func finalSource(pattern string, flags Flags) string {
	prefix := ""
	if flags.CaseInsensitive {
		prefix += "i"
	}
	if flags.Multiline {
		prefix += "m"
	}
	if prefix == "" {
		return pattern
	}
	return "(?" + prefix + ")" + pattern
}

func (v *Validator) check(pattern string, tree *syntax.Regexp) error {
	if err := v.checkQuantifiers(pattern, tree, 0, false); err != nil {
		return err
	}
	if err := v.checkEdgeWildcards(pattern, tree); err != nil {
		return err
	}
	return v.checkAlternations(pattern, tree)
}

// checkQuantifiers walks the tree tracking quantifier nesting. An
// unbounded quantifier anywhere inside another unbounded quantifier is the
// classic (a+)+ blow-up shape and is rejected outright; any quantifier
// nesting beyond MaxQuantDepth is rejected as well.
func (v *Validator) checkQuantifiers(pattern string, re *syntax.Regexp, depth int, inUnbounded bool) error {
	quant := isQuantifier(re)
	unbounded := isUnbounded(re)

	if quant {
		depth++
		if depth > v.MaxQuantDepth {
			return &ValidationError{
				Pattern: pattern,
				Reason:  ReasonQuantifierDepth,
				Detail:  fmt.Sprintf("nesting depth %d exceeds %d", depth, v.MaxQuantDepth),
			}
		}
	}
	if unbounded && inUnbounded {
		return &ValidationError{Pattern: pattern, Reason: ReasonNestedQuantifier}
	}

	for _, sub := range re.Sub {
		if err := v.checkQuantifiers(pattern, sub, depth, inUnbounded || unbounded); err != nil {
			return err
		}
	}
	return nil
}

// checkEdgeWildcards rejects a leading or trailing unbounded wildcard
// (.*, .+) with no anchor or boundary assertion next to it. Every
// alternation branch contributes its own edges, so `.*foo|bar` is
// rejected the same as `.*foo`.
func (v *Validator) checkEdgeWildcards(pattern string, tree *syntax.Regexp) error {
	if err := v.checkEdge(pattern, tree, true); err != nil {
		return err
	}
	return v.checkEdge(pattern, tree, false)
}

func (v *Validator) checkEdge(pattern string, re *syntax.Regexp, leading bool) error {
	for re.Op == syntax.OpCapture && len(re.Sub) == 1 {
		re = re.Sub[0]
	}
	switch re.Op {
	case syntax.OpAlternate:
		for _, sub := range re.Sub {
			if err := v.checkEdge(pattern, sub, leading); err != nil {
				return err
			}
		}
		return nil
	case syntax.OpConcat:
		if len(re.Sub) == 0 {
			return nil
		}
		if leading {
			return v.checkEdge(pattern, re.Sub[0], true)
		}
		return v.checkEdge(pattern, re.Sub[len(re.Sub)-1], false)
	}
	if isWildcardQuant(re) {
		reason := ReasonUnanchoredTrail
		if leading {
			reason = ReasonUnanchoredLeading
		}
		return &ValidationError{Pattern: pattern, Reason: reason}
	}
	return nil
}

// checkAlternations rejects alternations wider than MaxAlternation unless
// every branch starts with the same literal rune (such alternations keep a
// usable prefilter shape).
func (v *Validator) checkAlternations(pattern string, re *syntax.Regexp) error {
	if re.Op == syntax.OpAlternate && len(re.Sub) > v.MaxAlternation && !commonLeadingRune(re.Sub) {
		return &ValidationError{
			Pattern: pattern,
			Reason:  ReasonWideAlternation,
			Detail:  fmt.Sprintf("%d branches with no common prefix", len(re.Sub)),
		}
	}
	for _, sub := range re.Sub {
		if err := v.checkAlternations(pattern, sub); err != nil {
			return err
		}
	}
	return nil
}

func isQuantifier(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		return true
	}
	return false
}

func isUnbounded(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpStar, syntax.OpPlus:
		return true
	case syntax.OpRepeat:
		return re.Max < 0
	}
	return false
}

// isWildcardQuant reports an unbounded quantifier over "any char".
func isWildcardQuant(re *syntax.Regexp) bool {
	if !isUnbounded(re) || len(re.Sub) == 0 {
		return false
	}
	inner := re.Sub[0]
	return inner.Op == syntax.OpAnyChar || inner.Op == syntax.OpAnyCharNotNL
}

// commonLeadingRune reports whether every branch opens with the same
// literal rune.
func commonLeadingRune(subs []*syntax.Regexp) bool {
	var lead rune
	for i, sub := range subs {
		r, ok := leadingRune(sub)
		if !ok {
			return false
		}
		if i == 0 {
			lead = r
		} else if r != lead {
			return false
		}
	}
	return true
}

func leadingRune(re *syntax.Regexp) (rune, bool) {
	for {
		switch re.Op {
		case syntax.OpLiteral:
			if len(re.Rune) == 0 {
				return 0, false
			}
			return re.Rune[0], true
		case syntax.OpConcat, syntax.OpCapture:
			if len(re.Sub) == 0 {
				return 0, false
			}
			re = re.Sub[0]
		default:
			return 0, false
		}
	}
}

// inlineFlags scans for inline flag groups carrying i or m. Named capture
// groups ((?P<name>...)) are skipped; clearing groups ((?-i)) are allowed.
func inlineFlags(pattern string) (fold, multi bool) {
	for i := 0; i+1 < len(pattern); i++ {
		if pattern[i] != '(' || pattern[i+1] != '?' {
			continue
		}
		if i > 0 && pattern[i-1] == '\\' {
			continue
		}
		for j := i + 2; j < len(pattern); j++ {
			c := pattern[j]
			if c == 'P' || c == '<' || c == '\'' || c == ':' || c == ')' || c == '-' || c == '=' || c == '!' {
				break
			}
			switch c {
			case 'i':
				fold = true
			case 'm':
				multi = true
			case 's', 'U':
				// width/greediness flags carry no backtracking risk
			default:
				j = len(pattern)
			}
		}
	}
	return fold, multi
}
