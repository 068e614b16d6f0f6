package safety

import (
	"regexp/syntax"
)

// Specificity weights. The structural score is computed once per rule at
// load time; the matching engine adds a request-time bonus for total
// matched-span length.
const (
	weightBeginAnchor  = 4
	weightEndAnchor    = 4
	weightWordBoundary = 2
	weightNamedCapture = 3

	// Literal runes count toward specificity at half weight, capped.
	literalRuneDivisor = 2
	literalBonusCap    = 8

	penaltyWildcardQuant = 3

	// Alternation branches beyond this width each cost a point.
	freeAlternationWidth = 4
)

// Profile is the structural analysis of a validated pattern: the
// load-time specificity score plus the counts behind it, kept for
// explainability in logs and rule listings.
type Profile struct {
	Specificity   int `json:"specificity"`
	Anchors       int `json:"anchors"`
	Boundaries    int `json:"boundaries"`
	NamedCaptures int `json:"namedCaptures"`
	LiteralRunes  int `json:"literalRunes"`
	WildcardSpans int `json:"wildcardSpans"`
	MaxAltWidth   int `json:"maxAltWidth"`

	endAnchored bool
}

// buildProfile walks the parse tree once, tallying the structural
// features that make a pattern narrow or broad.
func buildProfile(tree *syntax.Regexp) *Profile {
	p := &Profile{}
	p.walk(tree)

	score := weightBeginAnchor*min(p.Anchors, 1) +
		weightWordBoundary*p.Boundaries +
		weightNamedCapture*p.NamedCaptures

	if p.endAnchored {
		score += weightEndAnchor
	}

	lit := p.LiteralRunes / literalRuneDivisor
	if lit > literalBonusCap {
		lit = literalBonusCap
	}
	score += lit

	score -= penaltyWildcardQuant * p.WildcardSpans
	if p.MaxAltWidth > freeAlternationWidth {
		score -= p.MaxAltWidth - freeAlternationWidth
	}
	if score < 0 {
		score = 0
	}
	p.Specificity = score
	return p
}

func (p *Profile) walk(re *syntax.Regexp) {
	switch re.Op {
	case syntax.OpBeginText, syntax.OpBeginLine:
		p.Anchors++
	case syntax.OpEndText, syntax.OpEndLine:
		p.endAnchored = true
	case syntax.OpWordBoundary:
		p.Boundaries++
	case syntax.OpCapture:
		if re.Name != "" {
			p.NamedCaptures++
		}
	case syntax.OpLiteral:
		p.LiteralRunes += len(re.Rune)
	case syntax.OpAlternate:
		if len(re.Sub) > p.MaxAltWidth {
			p.MaxAltWidth = len(re.Sub)
		}
	}
	if isWildcardQuant(re) {
		p.WildcardSpans++
	}
	for _, sub := range re.Sub {
		p.walk(sub)
	}
}
