package text

import (
	"strings"

	"github.com/opensource-dialog/shrike/internal/domain"
)

// Detection is the result of language / code-switch classification.
type Detection struct {
	Primary string             `json:"primary"`
	Mixed   bool               `json:"mixed"`
	Shares  map[string]float64 `json:"shares,omitempty"`
}

// Detector classifies the language mix of normalized input by vocabulary
// token fractions. Used for routing and logging only: rule language
// tagging is the (separate, coarser) candidate filter.
type Detector struct {
	cfg   domain.LanguageConfig
	vocab map[string]map[string]struct{}
	stop  map[string]struct{}
}

// Default recognition vocabularies. Deliberately small: the detector only
// needs a majority signal, not coverage.
var defaultVocab = map[string][]string{
	"pt": {
		"pagar", "boleto", "fatura", "quero", "preciso", "fazer", "como",
		"voce", "você", "nao", "não", "sim", "conta", "saldo", "cartao",
		"cartão", "ajuda", "obrigado", "obrigada", "segunda", "dinheiro",
		"transferir", "receber", "qual", "meu", "minha", "hoje", "amanha",
		"amanhã", "quitar", "consigo", "gostaria",
	},
	"es": {
		"pagar", "factura", "quiero", "necesito", "hacer", "como", "cómo",
		"usted", "no", "si", "sí", "cuenta", "tarjeta", "ayuda", "gracias",
		"dinero", "transferir", "recibir", "cual", "cuál", "hoy", "mañana",
		"manana", "quitar", "puedo", "quisiera", "saldo", "lunes",
	},
	"en": {
		"pay", "bill", "invoice", "want", "need", "make", "how", "you",
		"not", "yes", "account", "balance", "card", "help", "thanks",
		"money", "transfer", "receive", "which", "today", "tomorrow",
		"can", "would", "please", "payment", "monday",
	},
}

// Tokens too short or too shared to carry a language signal.
var defaultStop = []string{
	"a", "o", "e", "de", "do", "da", "em", "um", "uma", "el", "la", "los",
	"las", "en", "un", "una", "y", "the", "to", "of", "in", "is", "it",
	"me", "se", "que",
}

// NewDetector creates a detector with the built-in vocabularies.
func NewDetector(cfg domain.LanguageConfig) *Detector {
	d := &Detector{
		cfg:   cfg,
		vocab: make(map[string]map[string]struct{}, len(defaultVocab)),
		stop:  make(map[string]struct{}, len(defaultStop)),
	}
	for lang, words := range defaultVocab {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		d.vocab[lang] = set
	}
	for _, w := range defaultStop {
		d.stop[w] = struct{}{}
	}
	return d
}

// Detect computes per-language shares of recognized tokens (stop words
// excluded) and assigns primary by majority threshold. Mixed is set when
// the runner-up share exceeds the configured minority threshold.
func (d *Detector) Detect(normalized string) Detection {
	det := Detection{Primary: d.cfg.Default}
	if normalized == "" {
		return det
	}

	counts := make(map[string]int, len(d.vocab))
	recognized := 0
	for _, tok := range strings.Fields(normalized) {
		if _, skip := d.stop[tok]; skip {
			continue
		}
		hit := false
		for lang, set := range d.vocab {
			if _, ok := set[tok]; ok {
				counts[lang]++
				hit = true
			}
		}
		if hit {
			recognized++
		}
	}
	if recognized == 0 {
		return det
	}

	det.Shares = make(map[string]float64, len(counts))
	best, second := "", ""
	for lang, c := range counts {
		share := float64(c) / float64(recognized)
		det.Shares[lang] = share
		switch {
		case best == "" || share > det.Shares[best] ||
			(share == det.Shares[best] && lang < best): // deterministic tie order
			second = best
			best = lang
		case second == "" || share > det.Shares[second]:
			second = lang
		}
	}

	if det.Shares[best] >= d.cfg.PrimaryThreshold {
		det.Primary = best
	}
	if second != "" && det.Shares[second] > d.cfg.MixedThreshold {
		det.Mixed = true
	}
	return det
}
