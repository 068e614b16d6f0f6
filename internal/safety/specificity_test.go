package safety

import (
	"testing"
)

func profileFor(t *testing.T, v *Validator, pattern string) *Profile {
	t.Helper()
	_, p, err := v.Validate(pattern, Flags{})
	if err != nil {
		t.Fatalf("Validate(%q): %v", pattern, err)
	}
	return p
}

func TestSpecificityAnchorsBeatUnanchored(t *testing.T) {
	v := NewValidator()

	anchored := profileFor(t, v, `^quero pagar$`)
	loose := profileFor(t, v, `quero pagar`)

	if anchored.Specificity <= loose.Specificity {
		t.Errorf("anchored %d should beat unanchored %d",
			anchored.Specificity, loose.Specificity)
	}
}

func TestSpecificityNamedCaptures(t *testing.T) {
	v := NewValidator()

	with := profileFor(t, v, `^pagar (?P<what>boleto)$`)
	without := profileFor(t, v, `^pagar (?:boleto)$`)

	if with.NamedCaptures != 1 {
		t.Errorf("expected 1 named capture, got %d", with.NamedCaptures)
	}
	if with.Specificity <= without.Specificity {
		t.Errorf("named capture %d should beat anonymous group %d",
			with.Specificity, without.Specificity)
	}
}

func TestSpecificityWildcardPenalty(t *testing.T) {
	v := NewValidator()

	tight := profileFor(t, v, `^pagar boleto$`)
	wild := profileFor(t, v, `^pagar.*boleto$`)

	if wild.WildcardSpans != 1 {
		t.Errorf("expected 1 wildcard span, got %d", wild.WildcardSpans)
	}
	if wild.Specificity >= tight.Specificity {
		t.Errorf("wildcard %d should score below tight %d",
			wild.Specificity, tight.Specificity)
	}
}

func TestSpecificityLiteralBonusCapped(t *testing.T) {
	v := NewValidator()

	short := profileFor(t, v, `abcdefghijklmnop`)              // 16 runes, at cap
	long := profileFor(t, v, `abcdefghijklmnopqrstuvwxyz0123`) // far past cap

	if long.Specificity != short.Specificity {
		t.Errorf("literal bonus not capped: %d vs %d",
			long.Specificity, short.Specificity)
	}
}

func TestSpecificityNeverNegative(t *testing.T) {
	v := NewValidator()

	// Wildcards sandwiched between anchors strip most structure away.
	p := profileFor(t, v, `^.*a.*b.*$`)
	if p.Specificity < 0 {
		t.Errorf("specificity went negative: %d", p.Specificity)
	}
}

func TestSpecificityWordBoundaries(t *testing.T) {
	v := NewValidator()

	bounded := profileFor(t, v, `\bpagar\b`)
	if bounded.Boundaries != 2 {
		t.Errorf("expected 2 boundaries, got %d", bounded.Boundaries)
	}

	plain := profileFor(t, v, `pagar`)
	if bounded.Specificity <= plain.Specificity {
		t.Errorf("boundaries %d should beat plain literal %d",
			bounded.Specificity, plain.Specificity)
	}
}
