// Package reconcile implements the Reconciler (spec.md §4.8): a persistent
// background task that discovers upstream sets missing from CatalogStore
// and seeds them one at a time.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/cardid/cardid/internal/catalogclient"
	"github.com/cardid/cardid/internal/config"
	"github.com/cardid/cardid/internal/logger"
	"github.com/cardid/cardid/internal/store"
)

// defaultBetweenSetsDelay is used when config.ReconcilerConfig leaves
// BetweenSetsDelay at its zero value (spec.md §4.8 step 5 calls for 2s).
const defaultBetweenSetsDelay = 2 * time.Second

// Seeder is the subset of ingest.Ingestor the Reconciler depends on.
type Seeder interface {
	SeedSet(ctx context.Context, setCode string) (cardsProcessed, embeddingsGenerated int, err error)
}

// SetLister is the subset of catalogclient.Client the Reconciler depends
// on.
type SetLister interface {
	ListSets(ctx context.Context) ([]catalogclient.SetSummary, error)
}

// Reconciler runs the cycle of spec.md §4.8 until its context is canceled.
type Reconciler struct {
	catalog          SetLister
	store            store.CatalogStore
	ingestor         Seeder
	initialDelay     time.Duration
	interval         time.Duration
	betweenSetsDelay time.Duration
	ignoredTypes     map[string]bool
}

// New builds a Reconciler from its collaborators and the reconciler section
// of config.
func New(catalog SetLister, st store.CatalogStore, ingestor Seeder, cfg config.ReconcilerConfig) *Reconciler {
	ignored := make(map[string]bool, len(cfg.IgnoredSetTypes))
	for _, t := range cfg.IgnoredSetTypes {
		ignored[t] = true
	}
	betweenSets := cfg.BetweenSetsDelay
	if betweenSets == 0 {
		betweenSets = defaultBetweenSetsDelay
	}
	return &Reconciler{
		catalog:          catalog,
		store:            st,
		ingestor:         ingestor,
		initialDelay:     cfg.InitialDelay,
		interval:         cfg.Interval,
		betweenSetsDelay: betweenSets,
		ignoredTypes:     ignored,
	}
}

// Run blocks, executing reconciliation cycles until ctx is canceled. It
// honors cancellation at every await point (spec.md §4.8 step 6).
func (r *Reconciler) Run(ctx context.Context) {
	if !sleepOrDone(ctx, r.initialDelay) {
		return
	}

	for {
		r.runCycle(ctx)
		if !sleepOrDone(ctx, r.interval) {
			return
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	sets, err := r.catalog.ListSets(ctx)
	if err != nil {
		logger.CtxError(ctx, "reconcile: failed to list upstream sets: %v", err)
		return
	}

	var missing []string
	for _, s := range sets {
		if r.ignoredTypes[s.SetType] {
			continue
		}
		code := strings.ToLower(s.Code)
		exists, err := r.store.SetExists(ctx, code)
		if err != nil {
			logger.CtxError(ctx, "reconcile: failed to check set %q existence: %v", code, err)
			continue
		}
		if !exists {
			missing = append(missing, code)
		}
		if ctx.Err() != nil {
			return
		}
	}

	logger.CtxInfo(ctx, "reconcile: %d sets missing out of %d total", len(missing), len(sets))

	for i, code := range missing {
		if ctx.Err() != nil {
			return
		}

		processed, generated, err := r.ingestor.SeedSet(ctx, code)
		if err != nil {
			logger.CtxError(ctx, "reconcile: seed_set(%q) failed: %v", code, err)
		} else {
			logger.CtxInfo(ctx, "reconcile: seed_set(%q) processed=%d embeddings=%d", code, processed, generated)
		}

		if i == len(missing)-1 {
			break
		}
		if !sleepOrDone(ctx, r.betweenSetsDelay) {
			return
		}
	}
}

// sleepOrDone sleeps for d, returning false if ctx is canceled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
