// Package pipeline implements Pipeline (spec.md §4.6): orchestrating
// Detector -> (Embedder, TitleReader) -> CatalogStore -> Fuser for one
// identification request.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cardid/cardid/internal/domain"
	"github.com/cardid/cardid/internal/logger"
	"github.com/cardid/cardid/internal/store"
)

const defaultTopK = 10

// Detector is the subset of detector.Detector the Pipeline depends on.
type Detector interface {
	DetectAndCrop(raw []byte) []byte
}

// Embedder is the subset of embedder.Embedder the Pipeline depends on.
type Embedder interface {
	Embed(canonical []byte) ([]float32, bool)
}

// TitleReader is the subset of ocr.TitleReader the Pipeline depends on.
type TitleReader interface {
	ReadTitle(canonical []byte) domain.OcrResult
}

// Fuser is the subset of fuse.Fuser the Pipeline depends on.
type Fuser interface {
	Decide(hits []domain.VectorSearchResult, ocrTitle string, ocrScore float32, attempt int) domain.ScanVerdict
}

// Pipeline wires the five extractor/store/decision components together. It
// holds no mutable state of its own; every field is a shared, concurrently
// usable collaborator (spec.md §5).
type Pipeline struct {
	detector    Detector
	embedder    Embedder
	titleReader TitleReader
	catalog     store.CatalogStore
	fuser       Fuser

	ocrInjectThreshold float32
}

// New builds a Pipeline from its collaborators.
// Parameters:
//   - detector, embedder, titleReader, catalog, fuser: the pipeline stages.
//   - ocrInjectThreshold: minimum OCR score (spec.md §4.6) to attempt a
//     find_by_name lookup; default 0.70 per spec.md §6.
func New(d Detector, e Embedder, t TitleReader, c store.CatalogStore, f Fuser, ocrInjectThreshold float32) *Pipeline {
	return &Pipeline{
		detector:           d,
		embedder:           e,
		titleReader:        t,
		catalog:            c,
		fuser:              f,
		ocrInjectThreshold: ocrInjectThreshold,
	}
}

// Identify implements the Pipeline contract of spec.md §4.6.
// Parameters:
//   - ctx: context for cancellation/deadlines on the CatalogStore calls.
//   - raw: the uploaded image bytes.
//   - previousAttempt: the caller's attempt counter; defaults to 0.
// Returns:
//   - domain.ScanVerdict: the fused decision, with attempt = previousAttempt+1.
//   - error: non-nil only on a CatalogStore failure (spec.md §7: storage
//     errors abort; extractor failures are absorbed as missing data).
func (p *Pipeline) Identify(ctx context.Context, raw []byte, previousAttempt int) (domain.ScanVerdict, error) {
	canonical := p.detector.DetectAndCrop(raw)

	var embedding []float32
	var embedOK bool
	var ocr domain.OcrResult

	// Embedder and TitleReader are both CPU-bound and never themselves
	// suspend (spec.md §5); errgroup here is purely a fan-out/join
	// primitive, not a cancellation boundary.
	var g errgroup.Group
	g.Go(func() error {
		embedding, embedOK = p.embedder.Embed(canonical)
		return nil
	})
	g.Go(func() error {
		ocr = p.titleReader.ReadTitle(canonical)
		return nil
	})
	_ = g.Wait()

	var hits []domain.VectorSearchResult
	if embedOK {
		found, err := p.catalog.FindClosest(ctx, embedding, defaultTopK)
		if err != nil {
			return domain.ScanVerdict{}, err
		}
		hits = found
	}

	if ocr.Found() && ocr.Score >= p.ocrInjectThreshold {
		named, ok, err := p.catalog.FindByName(ctx, ocr.Title)
		if err != nil {
			return domain.ScanVerdict{}, err
		}
		if ok {
			hits = append([]domain.VectorSearchResult{named}, hits...)
		}
	}

	attempt := previousAttempt + 1
	verdict := p.fuser.Decide(hits, ocr.Title, ocr.Score, attempt)

	logger.CtxInfo(ctx, "identify: attempt=%d status=%s method=%s hits=%d",
		attempt, verdict.Status, verdict.DetectionMethod, len(hits))

	return verdict, nil
}
