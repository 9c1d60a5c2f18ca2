// Package ingest implements the Ingestor (spec.md §4.7): seeding
// CatalogStore from the upstream catalog for one set at a time, then
// backfilling embeddings for printings that don't have one yet.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/cardid/cardid/internal/catalogclient"
	"github.com/cardid/cardid/internal/domain"
	"github.com/cardid/cardid/internal/logger"
	"github.com/cardid/cardid/internal/store"
)

// pageSleep and printingSleep implement the upstream rate-limit pauses of
// spec.md §4.7 steps 2 and 7.
const (
	pageSleep     = 100 * time.Millisecond
	printingSleep = 150 * time.Millisecond
)

// Detector is the subset of detector.Detector the Ingestor depends on.
type Detector interface {
	DetectAndCrop(raw []byte) []byte
}

// Embedder is the subset of embedder.Embedder the Ingestor depends on.
type Embedder interface {
	Embed(canonical []byte) ([]float32, bool)
}

// CatalogSource is the subset of catalogclient.Client the Ingestor depends
// on.
type CatalogSource interface {
	SearchPage(ctx context.Context, setCode, pageURL string) ([]catalogclient.PrintingJSON, string, error)
	FetchImage(ctx context.Context, imageURL string) ([]byte, error)
}

// Ingestor implements seed_set. Pages are fetched and embeddings are
// generated strictly in order (spec.md §5) — there is deliberately no
// worker pool here, unlike a throughput-oriented batch ingester; the
// upstream rate limit and printings_without_embedding ordering both demand
// one operation in flight at a time.
type Ingestor struct {
	catalog  CatalogSource
	store    store.CatalogStore
	detector Detector
	embedder Embedder
}

// New builds an Ingestor from its collaborators.
func New(catalog CatalogSource, st store.CatalogStore, d Detector, e Embedder) *Ingestor {
	return &Ingestor{catalog: catalog, store: st, detector: d, embedder: e}
}

// SeedSet implements the Ingestor contract of spec.md §4.7.
// Returns (cardsProcessed, embeddingsGenerated, error). A non-existent
// upstream set (HTTP 400/404) is not an error: both counters are zero.
func (ing *Ingestor) SeedSet(ctx context.Context, setCode string) (cardsProcessed, embeddingsGenerated int, err error) {
	cardsProcessed, err = ing.fetchAndUpsert(ctx, setCode)
	if err != nil {
		var notFound *catalogclient.ErrSetNotFound
		if errors.As(err, &notFound) {
			logger.CtxInfo(ctx, "seed_set: set %q not found upstream, skipping", setCode)
			return 0, 0, nil
		}
		return 0, 0, err
	}

	embeddingsGenerated, err = ing.backfillEmbeddings(ctx, setCode)
	if err != nil {
		return cardsProcessed, embeddingsGenerated, err
	}

	logger.CtxInfo(ctx, "seed_set: set=%s cards_processed=%d embeddings_generated=%d",
		setCode, cardsProcessed, embeddingsGenerated)
	return cardsProcessed, embeddingsGenerated, nil
}

func (ing *Ingestor) fetchAndUpsert(ctx context.Context, setCode string) (int, error) {
	processed := 0
	pageURL := ""

	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		printings, nextPage, err := ing.catalog.SearchPage(ctx, setCode, pageURL)
		if err != nil {
			return processed, err
		}

		records := make([]domain.PrintingRecord, 0, len(printings))
		for _, p := range printings {
			records = append(records, domain.PrintingRecord{
				OracleID:        p.OracleID,
				OracleName:      p.Name,
				PrintingID:      p.ID,
				SetCode:         p.Set,
				CollectorNumber: p.CollectorNumber,
				SetType:         p.SetType,
				ImageURL:        p.ImageURL(),
				ReleasedAt:      p.ReleasedAtUTC(),
			})
		}

		if len(records) > 0 {
			if err := ing.store.UpsertBatch(ctx, records); err != nil {
				return processed, err
			}
			processed += len(records)
		}

		if nextPage == "" {
			return processed, nil
		}
		pageURL = nextPage

		select {
		case <-time.After(pageSleep):
		case <-ctx.Done():
			return processed, ctx.Err()
		}
	}
}

func (ing *Ingestor) backfillEmbeddings(ctx context.Context, setCode string) (int, error) {
	pending, err := ing.store.PrintingsWithoutEmbedding(ctx, setCode)
	if err != nil {
		return 0, err
	}

	generated := 0
	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			return generated, err
		}

		raw, err := ing.catalog.FetchImage(ctx, p.ImageURL)
		if err != nil {
			logger.CtxWarn(ctx, "seed_set: image fetch failed for printing %s: %v", p.PrintingID, err)
			continue
		}

		canonical := ing.detector.DetectAndCrop(raw)
		vec, ok := ing.embedder.Embed(canonical)
		if ok {
			if err := ing.store.SaveEmbedding(ctx, p.PrintingID, vec); err != nil {
				return generated, err
			}
			generated++
		}

		if i == len(pending)-1 {
			break
		}
		select {
		case <-time.After(printingSleep):
		case <-ctx.Done():
			return generated, ctx.Err()
		}
	}

	return generated, nil
}
