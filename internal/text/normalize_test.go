package text

import (
	"strings"
	"testing"
)

func TestNormalizeLowercaseAndSpaces(t *testing.T) {
	n := NewNormalizer(512)

	got := n.Normalize("  Quero   PAGAR \t o boleto  ")
	want := "quero pagar o boleto"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNormalizeKeepsDiacritics(t *testing.T) {
	n := NewNormalizer(512)

	// Accented characters survive normalization; only the hash form folds
	// them away.
	got := n.Normalize("Não consigo pagar")
	if !strings.Contains(got, "não") {
		t.Errorf("expected diacritics preserved, got %q", got)
	}
}

func TestNormalizeComposesNFC(t *testing.T) {
	n := NewNormalizer(512)

	// "e" + combining acute accent vs the precomposed form.
	decomposed := "café"
	composed := "café"

	if n.Normalize(decomposed) != n.Normalize(composed) {
		t.Errorf("NFC forms differ: %q vs %q",
			n.Normalize(decomposed), n.Normalize(composed))
	}
}

func TestNormalizeStripsFormatRunes(t *testing.T) {
	n := NewNormalizer(512)

	// Zero-width space and zero-width joiner are format runes.
	got := n.Normalize("pa​gar‍")
	if got != "pagar" {
		t.Errorf("expected format runes removed, got %q", got)
	}
}

func TestNormalizeTruncation(t *testing.T) {
	n := NewNormalizer(10)

	long := strings.Repeat("a", 50)
	got := n.Normalize(long)
	if len([]rune(got)) != 10 {
		t.Errorf("expected 10 runes, got %d", len([]rune(got)))
	}

	// Truncation must count runes, not bytes.
	got = n.Normalize(strings.Repeat("ã", 50))
	if len([]rune(got)) != 10 {
		t.Errorf("expected 10 runes for multibyte input, got %d", len([]rune(got)))
	}
}

func TestNormalizeEmpty(t *testing.T) {
	n := NewNormalizer(512)

	for _, in := range []string{"", "   ", "\t\n"} {
		if got := n.Normalize(in); got != "" {
			t.Errorf("Normalize(%q) = %q, want empty", in, got)
		}
	}
}

func TestFoldForHash(t *testing.T) {
	n := NewNormalizer(512)

	got := n.FoldForHash("não consigo pagar à vista", 64)
	want := "nao consigo pagar a vista"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestFoldForHashCaseIndependent(t *testing.T) {
	n := NewNormalizer(512)

	// The fold lowercases as well as stripping diacritics, so raw and
	// pre-normalized input produce the same hash form.
	if n.FoldForHash("NÃO consigo", 64) != n.FoldForHash("não consigo", 64) {
		t.Errorf("case variants fold differently: %q vs %q",
			n.FoldForHash("NÃO consigo", 64), n.FoldForHash("não consigo", 64))
	}
	if got := n.FoldForHash("PAGAR À Vista", 64); got != "pagar a vista" {
		t.Errorf("expected %q, got %q", "pagar a vista", got)
	}
}

func TestFoldForHashTruncates(t *testing.T) {
	n := NewNormalizer(512)

	got := n.FoldForHash(strings.Repeat("é", 100), 8)
	if len([]rune(got)) != 8 {
		t.Errorf("expected 8 runes, got %d", len([]rune(got)))
	}
}
