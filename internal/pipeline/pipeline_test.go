package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/cardid/cardid/internal/domain"
	"github.com/cardid/cardid/internal/store"
)

type fakeDetector struct{ out []byte }

func (f *fakeDetector) DetectAndCrop(raw []byte) []byte { return f.out }

type fakeEmbedder struct {
	vec []float32
	ok  bool
}

func (f *fakeEmbedder) Embed(canonical []byte) ([]float32, bool) { return f.vec, f.ok }

type fakeTitleReader struct{ result domain.OcrResult }

func (f *fakeTitleReader) ReadTitle(canonical []byte) domain.OcrResult { return f.result }

type fakeCatalog struct {
	closest    []domain.VectorSearchResult
	closestErr error
	byName     domain.VectorSearchResult
	byNameOK   bool
	byNameErr  error
}

func (f *fakeCatalog) FindClosest(ctx context.Context, query []float32, topK int) ([]domain.VectorSearchResult, error) {
	return f.closest, f.closestErr
}
func (f *fakeCatalog) FindByName(ctx context.Context, name string) (domain.VectorSearchResult, bool, error) {
	return f.byName, f.byNameOK, f.byNameErr
}
func (f *fakeCatalog) SetExists(ctx context.Context, setCode string) (bool, error) { return false, nil }
func (f *fakeCatalog) UpsertBatch(ctx context.Context, records []domain.PrintingRecord) error {
	return nil
}
func (f *fakeCatalog) SaveEmbedding(ctx context.Context, printingID string, vec []float32) error {
	return nil
}
func (f *fakeCatalog) PrintingsWithoutEmbedding(ctx context.Context, setCode string) ([]store.PendingEmbedding, error) {
	return nil, nil
}

var _ store.CatalogStore = (*fakeCatalog)(nil)

type fakeFuser struct {
	called  bool
	hits    []domain.VectorSearchResult
	title   string
	score   float32
	attempt int
	verdict domain.ScanVerdict
}

func (f *fakeFuser) Decide(hits []domain.VectorSearchResult, ocrTitle string, ocrScore float32, attempt int) domain.ScanVerdict {
	f.called = true
	f.hits = hits
	f.title = ocrTitle
	f.score = ocrScore
	f.attempt = attempt
	return f.verdict
}

func TestIdentify_IncrementsAttempt(t *testing.T) {
	fuser := &fakeFuser{verdict: domain.ScanVerdict{Status: domain.StatusNotFound}}
	p := New(&fakeDetector{out: []byte("canonical")},
		&fakeEmbedder{ok: false},
		&fakeTitleReader{},
		&fakeCatalog{},
		fuser, 0.70)

	_, err := p.Identify(context.Background(), []byte("raw"), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fuser.attempt != 3 {
		t.Errorf("attempt = %d, want 3", fuser.attempt)
	}
}

func TestIdentify_NoEmbeddingSkipsFindClosest(t *testing.T) {
	fuser := &fakeFuser{verdict: domain.ScanVerdict{Status: domain.StatusNotFound}}
	p := New(&fakeDetector{out: []byte("canonical")},
		&fakeEmbedder{ok: false},
		&fakeTitleReader{},
		&fakeCatalog{closest: []domain.VectorSearchResult{{Distance: 0.1}}},
		fuser, 0.70)

	_, err := p.Identify(context.Background(), []byte("raw"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fuser.hits) != 0 {
		t.Errorf("hits = %v, want none (embedding failed, FindClosest must not run)", fuser.hits)
	}
}

func TestIdentify_OCRInjectionPrependsNamedHit(t *testing.T) {
	named := domain.VectorSearchResult{
		OracleCard: domain.OracleCard{Name: "Lightning Bolt"},
		Distance:   0.0,
	}
	vectorHit := domain.VectorSearchResult{OracleCard: domain.OracleCard{Name: "Shock"}, Distance: 0.3}

	fuser := &fakeFuser{verdict: domain.ScanVerdict{Status: domain.StatusConfirmed}}
	p := New(&fakeDetector{out: []byte("canonical")},
		&fakeEmbedder{vec: make([]float32, domain.EmbeddingDimensions), ok: true},
		&fakeTitleReader{result: domain.OcrResult{Title: "Lightning Bolt", Score: 0.9}},
		&fakeCatalog{
			closest:  []domain.VectorSearchResult{vectorHit},
			byName:   named,
			byNameOK: true,
		},
		fuser, 0.70)

	_, err := p.Identify(context.Background(), []byte("raw"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fuser.hits) != 2 {
		t.Fatalf("hits = %v, want 2", fuser.hits)
	}
	if fuser.hits[0].Distance != 0.0 || fuser.hits[0].OracleCard.Name != "Lightning Bolt" {
		t.Errorf("hits[0] = %+v, want the injected named hit at distance 0", fuser.hits[0])
	}
}

func TestIdentify_OCRBelowInjectThresholdSkipsFindByName(t *testing.T) {
	fuser := &fakeFuser{verdict: domain.ScanVerdict{Status: domain.StatusNotFound}}
	cat := &fakeCatalog{byNameOK: true, byName: domain.VectorSearchResult{Distance: 0.0}}
	p := New(&fakeDetector{out: []byte("canonical")},
		&fakeEmbedder{ok: false},
		&fakeTitleReader{result: domain.OcrResult{Title: "Shock", Score: 0.5}},
		cat,
		fuser, 0.70)

	_, err := p.Identify(context.Background(), []byte("raw"), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fuser.hits) != 0 {
		t.Errorf("hits = %v, want none (ocr score below inject threshold)", fuser.hits)
	}
}

func TestIdentify_StorageErrorAborts(t *testing.T) {
	fuser := &fakeFuser{}
	p := New(&fakeDetector{out: []byte("canonical")},
		&fakeEmbedder{vec: make([]float32, domain.EmbeddingDimensions), ok: true},
		&fakeTitleReader{},
		&fakeCatalog{closestErr: errors.New("db down")},
		fuser, 0.70)

	_, err := p.Identify(context.Background(), []byte("raw"), 0)
	if err == nil {
		t.Fatal("expected storage error to propagate")
	}
	if fuser.called {
		t.Error("fuser must not run after a storage error")
	}
}
