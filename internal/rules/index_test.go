package rules

import (
	"reflect"
	"testing"
)

func TestLiteralIndexBasic(t *testing.T) {
	ix := BuildLiteralIndex([]string{"boleto", "fatura", "saldo"})

	hits := ix.Hits("quero pagar o boleto da fatura")
	if !reflect.DeepEqual(hits, []int{0, 1}) {
		t.Errorf("expected [0 1], got %v", hits)
	}

	if hits := ix.Hits("nada aqui"); hits != nil {
		t.Errorf("expected no hits, got %v", hits)
	}
}

func TestLiteralIndexOverlapping(t *testing.T) {
	// Classic Aho-Corasick shapes: suffixes of one literal are other
	// literals, exercising fail links and output merging.
	ix := BuildLiteralIndex([]string{"he", "she", "his", "hers"})

	hits := ix.Hits("ushers")
	// "ushers" contains "she", "he", "hers".
	if !reflect.DeepEqual(hits, []int{0, 1, 3}) {
		t.Errorf("expected [0 1 3], got %v", hits)
	}
}

func TestLiteralIndexSharedPrefix(t *testing.T) {
	ix := BuildLiteralIndex([]string{"pagar", "pagamento"})

	hits := ix.Hits("fazer um pagamento agora")
	// "pagamento" contains "paga..." but "pagar" does not occur.
	if !reflect.DeepEqual(hits, []int{1}) {
		t.Errorf("expected [1], got %v", hits)
	}

	hits = ix.Hits("vou pagar e depois fazer outro pagamento")
	if !reflect.DeepEqual(hits, []int{0, 1}) {
		t.Errorf("expected [0 1], got %v", hits)
	}
}

func TestLiteralIndexDuplicateOccurrences(t *testing.T) {
	ix := BuildLiteralIndex([]string{"sim"})

	// Repeated occurrences report the literal once.
	hits := ix.Hits("sim sim sim")
	if !reflect.DeepEqual(hits, []int{0}) {
		t.Errorf("expected [0], got %v", hits)
	}
}

func TestLiteralIndexUnicode(t *testing.T) {
	ix := BuildLiteralIndex([]string{"cartão", "não"})

	hits := ix.Hits("não consigo usar o cartão")
	if !reflect.DeepEqual(hits, []int{0, 1}) {
		t.Errorf("expected [0 1], got %v", hits)
	}
}

func TestLiteralIndexEmpty(t *testing.T) {
	ix := BuildLiteralIndex(nil)

	if hits := ix.Hits("anything at all"); hits != nil {
		t.Errorf("empty index returned hits: %v", hits)
	}
	if ix.Size() != 1 {
		t.Errorf("empty index should hold only the root, got %d nodes", ix.Size())
	}
}
