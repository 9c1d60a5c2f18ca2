package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cardid/cardid/internal/catalogclient"
	"github.com/cardid/cardid/internal/config"
	"github.com/cardid/cardid/internal/domain"
	"github.com/cardid/cardid/internal/store"
)

type fakeSetLister struct {
	sets []catalogclient.SetSummary
	err  error
}

func (f *fakeSetLister) ListSets(ctx context.Context) ([]catalogclient.SetSummary, error) {
	return f.sets, f.err
}

type fakeStore struct {
	mu     sync.Mutex
	exists map[string]bool
}

func (f *fakeStore) FindClosest(ctx context.Context, query []float32, topK int) ([]domain.VectorSearchResult, error) {
	return nil, nil
}
func (f *fakeStore) FindByName(ctx context.Context, name string) (domain.VectorSearchResult, bool, error) {
	return domain.VectorSearchResult{}, false, nil
}
func (f *fakeStore) SetExists(ctx context.Context, setCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[setCode], nil
}
func (f *fakeStore) UpsertBatch(ctx context.Context, records []domain.PrintingRecord) error { return nil }
func (f *fakeStore) SaveEmbedding(ctx context.Context, printingID string, vec []float32) error {
	return nil
}
func (f *fakeStore) PrintingsWithoutEmbedding(ctx context.Context, setCode string) ([]store.PendingEmbedding, error) {
	return nil, nil
}

var _ store.CatalogStore = (*fakeStore)(nil)

type fakeSeeder struct {
	mu      sync.Mutex
	seeded  []string
	failSet string
}

func (f *fakeSeeder) SeedSet(ctx context.Context, setCode string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded = append(f.seeded, setCode)
	if setCode == f.failSet {
		return 0, 0, errors.New("seed failed")
	}
	return 1, 1, nil
}

func TestRunCycle_SeedsOnlyMissingIgnoringExcludedTypes(t *testing.T) {
	cat := &fakeSetLister{sets: []catalogclient.SetSummary{
		{Code: "M11", SetType: "expansion"},
		{Code: "TSRM", SetType: "token"},
		{Code: "PLST", SetType: "expansion"},
	}}
	st := &fakeStore{exists: map[string]bool{"plst": true}}
	seeder := &fakeSeeder{}

	r := New(cat, st, seeder, config.ReconcilerConfig{
		IgnoredSetTypes: []string{"token"},
	})
	r.runCycle(context.Background())

	if len(seeder.seeded) != 1 || seeder.seeded[0] != "m11" {
		t.Errorf("seeded = %v, want only [m11]", seeder.seeded)
	}
}

func TestRunCycle_OneSetFailureDoesNotAbortOthers(t *testing.T) {
	cat := &fakeSetLister{sets: []catalogclient.SetSummary{
		{Code: "AAA", SetType: "expansion"},
		{Code: "BBB", SetType: "expansion"},
	}}
	st := &fakeStore{exists: map[string]bool{}}
	seeder := &fakeSeeder{failSet: "aaa"}

	r := New(cat, st, seeder, config.ReconcilerConfig{BetweenSetsDelay: time.Millisecond})
	r.runCycle(context.Background())

	if len(seeder.seeded) != 2 {
		t.Fatalf("seeded = %v, want both sets attempted despite the first failing", seeder.seeded)
	}
}

func TestRun_HonorsCancellationDuringInitialDelay(t *testing.T) {
	cat := &fakeSetLister{}
	st := &fakeStore{exists: map[string]bool{}}
	seeder := &fakeSeeder{}

	r := New(cat, st, seeder, config.ReconcilerConfig{
		InitialDelay: time.Hour,
		Interval:     time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
	if len(seeder.seeded) != 0 {
		t.Errorf("seeded = %v, want none (canceled during initial delay)", seeder.seeded)
	}
}
