// Package store defines the CatalogStore contract (spec.md §4.4) that the
// Pipeline, Fuser caller, and Ingestor depend on. internal/store/postgres
// provides the only production implementation.
package store

import (
	"context"

	"github.com/cardid/cardid/internal/domain"
)

// CatalogStore persists OracleCards and Printings and serves both the
// cosine-nearest-neighbor query the Pipeline needs and the name lookup used
// for OCR injection.
type CatalogStore interface {
	// FindClosest returns up to topK printings with a non-null embedding,
	// ordered by ascending cosine distance to query. query must have length
	// domain.EmbeddingDimensions.
	FindClosest(ctx context.Context, query []float32, topK int) ([]domain.VectorSearchResult, error)

	// FindByName resolves name to its OracleCard's latest printing. It tries
	// a case-insensitive exact match first, then (when len(name) >= 4) a
	// case-insensitive prefix match. ok is false when neither matches.
	FindByName(ctx context.Context, name string) (hit domain.VectorSearchResult, ok bool, err error)

	// SetExists reports whether at least one Printing with the given
	// (case-insensitively matched) set_code exists.
	SetExists(ctx context.Context, setCode string) (bool, error)

	// UpsertBatch creates missing OracleCards/Printings from records and
	// recomputes is_latest_printing for every affected oracle_id. It never
	// touches embeddings.
	UpsertBatch(ctx context.Context, records []domain.PrintingRecord) error

	// SaveEmbedding writes vec (length domain.EmbeddingDimensions, L2
	// normalized) to printingID and stamps embedding_updated_at.
	SaveEmbedding(ctx context.Context, printingID string, vec []float32) error

	// PrintingsWithoutEmbedding lists printings with a non-null image_url
	// and a null embedding, optionally restricted to one set, sorted by
	// is_latest_printing DESC, released_at DESC.
	PrintingsWithoutEmbedding(ctx context.Context, setCode string) ([]PendingEmbedding, error)
}

// PendingEmbedding is one row returned by PrintingsWithoutEmbedding.
type PendingEmbedding struct {
	PrintingID string
	ImageURL   string
}
