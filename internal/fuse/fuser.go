// Package fuse implements the Fuser decision engine (spec.md §4.5): a pure
// function combining vector top-K hits and an OCR hypothesis into a terminal
// or transient ScanVerdict. It has no I/O and no third-party dependency
// beyond NFKD name normalization.
package fuse

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/cardid/cardid/internal/config"
	"github.com/cardid/cardid/internal/domain"
)

// Thresholds mirrors config.FuserConfig; kept as its own type so Fuser has
// no compile-time dependency on the config package's mapstructure tags.
type Thresholds struct {
	DistHigh    float32
	DistMed     float32
	DistCutoff  float32
	OCRBlock    float32
	MaxAttempts int
}

// ThresholdsFromConfig adapts a loaded config.FuserConfig into Thresholds.
func ThresholdsFromConfig(cfg config.FuserConfig) Thresholds {
	return Thresholds{
		DistHigh:    cfg.DistHigh,
		DistMed:     cfg.DistMed,
		DistCutoff:  cfg.DistCutoff,
		OCRBlock:    cfg.OCRBlock,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// DefaultThresholds returns the calibrated defaults of spec.md §4.5.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DistHigh:    0.30,
		DistMed:     0.42,
		DistCutoff:  0.52,
		OCRBlock:    0.90,
		MaxAttempts: 3,
	}
}

// nameOverlapMinFraction is the 55% word-overlap threshold of spec.md §4.5's
// name-overlap function.
const nameOverlapMinFraction = 0.55

// minOverlapWordLength is the minimum word length considered in the
// name-overlap function.
const minOverlapWordLength = 3

// Fuser evaluates the decision rules of spec.md §4.5 against its configured
// thresholds. It is a pure function of its inputs: no two calls with the
// same arguments produce different results (P4).
type Fuser struct {
	t Thresholds
}

// New builds a Fuser with the given thresholds.
func New(t Thresholds) *Fuser {
	return &Fuser{t: t}
}

// Decide implements the Fuser contract of spec.md §4.5. hits is assumed
// already sorted ascending by distance, with any OCR-injected hit (see
// Pipeline) at index 0 carrying distance 0.0.
func (f *Fuser) Decide(hits []domain.VectorSearchResult, ocrTitle string, ocrScore float32, attempt int) domain.ScanVerdict {
	ocrFound := ocrTitle != ""

	// Rule 1: both signals fail.
	if len(hits) == 0 && !ocrFound {
		return domain.ScanVerdict{
			Status:          domain.StatusNotFound,
			Confidence:      domain.ConfidenceLow,
			ConfidenceScore: 0,
			DetectionMethod: domain.MethodNone,
			Attempt:         attempt,
		}
	}

	// Rule 2: OCR only, no vector hits at all.
	if len(hits) == 0 && ocrFound {
		if attempt < f.t.MaxAttempts {
			return transient(domain.StatusRescanRequired, attempt)
		}
		return domain.ScanVerdict{
			Status:          domain.StatusAmbiguous,
			Confidence:      domain.ConfidenceLow,
			ConfidenceScore: 0,
			DetectionMethod: domain.MethodOCR,
			Attempt:         attempt,
		}
	}

	top := hits[0]
	alternatives := hits[1:]

	// Rule 3: exact name injection (Pipeline prepended a find_by_name hit).
	if top.Distance == 0.0 {
		return domain.ScanVerdict{
			Status:          domain.StatusConfirmed,
			Confidence:      domain.ConfidenceHigh,
			ConfidenceScore: confidenceScore(top.Distance),
			DetectionMethod: domain.MethodOCRAndVector,
			Attempt:         attempt,
			Card:            cardRef(top),
			Alternatives:    cardRefs(alternatives),
		}
	}

	// Rule 4: very confident vector.
	if top.Distance < f.t.DistHigh {
		method := domain.MethodVector
		if ocrFound {
			method = domain.MethodOCRAndVector
		}
		return domain.ScanVerdict{
			Status:          domain.StatusConfirmed,
			Confidence:      domain.ConfidenceHigh,
			ConfidenceScore: confidenceScore(top.Distance),
			DetectionMethod: method,
			Attempt:         attempt,
			Card:            cardRef(top),
			Alternatives:    cardRefs(alternatives),
		}
	}

	// Rule 5: good vector (DistHigh <= dist < DistMed, since rule 4 already
	// rejected dist < DistHigh), check for an OCR veto.
	if top.Distance < f.t.DistMed {
		if ocrFound && ocrScore >= f.t.OCRBlock && !nameOverlap(top.OracleCard.Name, ocrTitle) {
			if attempt < f.t.MaxAttempts {
				return transient(domain.StatusRescanRequired, attempt)
			}
			return domain.ScanVerdict{
				Status:          domain.StatusAmbiguous,
				Confidence:      domain.ConfidenceLow,
				ConfidenceScore: confidenceScore(top.Distance),
				DetectionMethod: domain.MethodVector,
				Attempt:         attempt,
				Card:            cardRef(top),
			}
		}
		return domain.ScanVerdict{
			Status:          domain.StatusConfirmed,
			Confidence:      domain.ConfidenceMedium,
			ConfidenceScore: confidenceScore(top.Distance),
			DetectionMethod: domain.MethodVector,
			Attempt:         attempt,
			Card:            cardRef(top),
			Alternatives:    cardRefs(alternatives),
		}
	}

	// Rule 6: hard reject.
	if top.Distance >= f.t.DistCutoff {
		if attempt < f.t.MaxAttempts {
			return transient(domain.StatusRescanRequired, attempt)
		}
		return domain.ScanVerdict{
			Status:          domain.StatusNotFound,
			Confidence:      domain.ConfidenceLow,
			ConfidenceScore: 0,
			DetectionMethod: domain.MethodNone,
			Attempt:         attempt,
		}
	}

	// Rule 7: suspect vector (DistMed <= dist < DistCutoff).
	if attempt < f.t.MaxAttempts {
		return transient(domain.StatusRescanRequired, attempt)
	}
	return domain.ScanVerdict{
		Status:          domain.StatusAmbiguous,
		Confidence:      domain.ConfidenceLow,
		ConfidenceScore: 0,
		DetectionMethod: domain.MethodVector,
		Attempt:         attempt,
	}
}

func transient(status domain.ScanStatus, attempt int) domain.ScanVerdict {
	return domain.ScanVerdict{
		Status:          status,
		Confidence:      domain.ConfidenceLow,
		ConfidenceScore: 0,
		DetectionMethod: domain.MethodDivergent,
		Attempt:         attempt,
	}
}

// confidenceScore implements spec.md §4.5's confidence_score definition:
// max(0, 1 - distance), rounded to 4 decimals.
func confidenceScore(distance float32) float64 {
	score := 1.0 - float64(distance)
	if score < 0 {
		score = 0
	}
	return roundTo4(score)
}

func roundTo4(v float64) float64 {
	const scale = 10000.0
	return float64(int64(v*scale+0.5)) / scale
}

func cardRef(hit domain.VectorSearchResult) *domain.CardRef {
	ref := domain.CardRefFrom(hit)
	return &ref
}

func cardRefs(hits []domain.VectorSearchResult) []domain.CardRef {
	if len(hits) == 0 {
		return nil
	}
	out := make([]domain.CardRef, 0, len(hits))
	for _, h := range hits {
		out = append(out, domain.CardRefFrom(h))
	}
	return out
}

// nameOverlap implements spec.md §4.5's name-overlap function: true iff at
// least 55% of the database name's words (length >= 3) appear as substrings
// of the normalized OCR text.
func nameOverlap(dbName, ocrText string) bool {
	words := wordsOfMinLength(normalizeName(dbName), minOverlapWordLength)
	if len(words) == 0 {
		return false
	}

	normalizedOcr := normalizeName(ocrText)
	matches := 0
	for _, w := range words {
		if strings.Contains(normalizedOcr, w) {
			matches++
		}
	}
	return float64(matches)/float64(len(words)) >= nameOverlapMinFraction
}

// normalizeName lowercases, NFKD-decomposes, and drops everything that is
// not an ASCII letter, digit, or space.
func normalizeName(s string) string {
	lowered := strings.ToLower(s)
	decomposed := norm.NFKD.String(lowered)

	var b strings.Builder
	for _, r := range decomposed {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		case unicode.Is(unicode.Mn, r):
			// combining marks produced by NFKD decomposition are dropped
			// silently (they are exactly what makes accented letters fold
			// to their base ASCII letter).
		default:
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func wordsOfMinLength(s string, minLen int) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, w := range fields {
		if len(w) >= minLen {
			out = append(out, w)
		}
	}
	return out
}
