package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cardid/cardid/internal/domain"
	"github.com/cardid/cardid/internal/store"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogStore implements store.CatalogStore on Postgres + pgvector,
// following the repository-over-gorm.DB shape of the teacher's
// MemeRepository: one struct wrapping a *gorm.DB, one method per operation.
type CatalogStore struct {
	db *gorm.DB
}

var _ store.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore wraps an initialized *gorm.DB (see InitDB).
func NewCatalogStore(db *gorm.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

type hitRow struct {
	OracleID        string
	OracleName      string
	PrintingID      string
	SetCode         string
	CollectorNumber string
	SetType         string
	ImageURL        string
	ReleasedAt      time.Time
	Distance        float64
}

func (r hitRow) toResult() domain.VectorSearchResult {
	return domain.VectorSearchResult{
		OracleCard: domain.OracleCard{ID: r.OracleID, Name: r.OracleName},
		Printing: domain.Printing{
			ID:               r.PrintingID,
			OracleID:         r.OracleID,
			SetCode:          r.SetCode,
			CollectorNumber:  r.CollectorNumber,
			SetType:          r.SetType,
			ImageURL:         r.ImageURL,
			ReleasedAt:       r.ReleasedAt,
			IsLatestPrinting: true,
		},
		Distance: float32(r.Distance),
	}
}

// FindClosest implements store.CatalogStore.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: a domain.EmbeddingDimensions-length L2-normalized vector.
//   - topK: maximum number of hits to return.
// Returns:
//   - []domain.VectorSearchResult: ascending by cosine distance.
//   - error: non-nil on a storage failure.
func (s *CatalogStore) FindClosest(ctx context.Context, query []float32, topK int) ([]domain.VectorSearchResult, error) {
	if len(query) != domain.EmbeddingDimensions {
		return nil, fmt.Errorf("find closest: expected %d-dim query, got %d", domain.EmbeddingDimensions, len(query))
	}
	vec := pgvector.NewVector(query)

	// hnsw.ef_search is a session-local GUC; SET LOCAL inside this
	// transaction pins it to the connection that runs the query below
	// (a bare SET on the init connection never reaches pool connections).
	var rows []hitRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", hnswEfSearch)).Error; err != nil {
			return fmt.Errorf("set hnsw.ef_search: %w", err)
		}
		return tx.Raw(`
			SELECT p.oracle_id AS oracle_id, o.name AS oracle_name, p.id AS printing_id,
			       p.set_code AS set_code, p.collector_number AS collector_number,
			       p.set_type AS set_type, p.image_url AS image_url, p.released_at AS released_at,
			       (p.embedding <=> ?) AS distance
			FROM printings p
			JOIN oracle_cards o ON o.id = p.oracle_id
			WHERE p.embedding IS NOT NULL
			ORDER BY p.embedding <=> ?
			LIMIT ?`, vec, vec, topK).Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find closest: %w", err)
	}

	hits := make([]domain.VectorSearchResult, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, r.toResult())
	}
	return hits, nil
}

// FindByName implements store.CatalogStore: case-insensitive exact match on
// OracleCard.name, falling back to a case-insensitive prefix match when no
// exact match exists and len(name) >= 4.
func (s *CatalogStore) FindByName(ctx context.Context, name string) (domain.VectorSearchResult, bool, error) {
	row, found, err := s.findByNameExact(ctx, name)
	if err != nil {
		return domain.VectorSearchResult{}, false, err
	}
	if !found && len(name) >= 4 {
		row, found, err = s.findByNamePrefix(ctx, name)
		if err != nil {
			return domain.VectorSearchResult{}, false, err
		}
	}
	if !found {
		return domain.VectorSearchResult{}, false, nil
	}
	hit := row.toResult()
	hit.Distance = 0.0
	return hit, true, nil
}

func (s *CatalogStore) findByNameExact(ctx context.Context, name string) (hitRow, bool, error) {
	return s.queryLatestByName(ctx, "lower(o.name) = lower(?)", name)
}

func (s *CatalogStore) findByNamePrefix(ctx context.Context, name string) (hitRow, bool, error) {
	return s.queryLatestByName(ctx, "lower(o.name) LIKE lower(?) || '%'", name)
}

func (s *CatalogStore) queryLatestByName(ctx context.Context, where string, arg string) (hitRow, bool, error) {
	var row hitRow
	err := s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT p.oracle_id AS oracle_id, o.name AS oracle_name, p.id AS printing_id,
		       p.set_code AS set_code, p.collector_number AS collector_number,
		       p.set_type AS set_type, p.image_url AS image_url, p.released_at AS released_at,
		       0 AS distance
		FROM printings p
		JOIN oracle_cards o ON o.id = p.oracle_id
		WHERE p.is_latest_printing = true AND %s
		LIMIT 1`, where), arg).Scan(&row).Error
	if err != nil {
		return hitRow{}, false, fmt.Errorf("find by name: %w", err)
	}
	if row.PrintingID == "" {
		return hitRow{}, false, nil
	}
	return row, true, nil
}

// SetExists implements store.CatalogStore.
func (s *CatalogStore) SetExists(ctx context.Context, setCode string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Printing{}).
		Where("upper(set_code) = upper(?)", setCode).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("set exists: %w", err)
	}
	return count > 0, nil
}

// UpsertBatch implements store.CatalogStore. Each record is applied inside
// one transaction per batch; is_latest_printing is recomputed once per
// distinct oracle_id touched, after all records are applied, matching
// spec.md §4.4's "after processing each record" requirement without redundant
// recomputation within the same batch.
func (s *CatalogStore) UpsertBatch(ctx context.Context, records []domain.PrintingRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		touched := make(map[string]struct{})
		for _, rec := range records {
			if rec.OracleID == "" || rec.PrintingID == "" || rec.ImageURL == "" {
				continue
			}

			oracle := domain.OracleCard{ID: rec.OracleID, Name: rec.OracleName}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
			}).Create(&oracle).Error; err != nil {
				return fmt.Errorf("upsert oracle card %s: %w", rec.OracleID, err)
			}

			printing := domain.Printing{
				ID:              rec.PrintingID,
				OracleID:        rec.OracleID,
				SetCode:         strings.ToUpper(rec.SetCode),
				CollectorNumber: rec.CollectorNumber,
				SetType:         rec.SetType,
				ImageURL:        rec.ImageURL,
				ReleasedAt:      rec.ReleasedAt,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"set_code", "collector_number", "set_type", "image_url", "released_at", "updated_at",
				}),
			}).Create(&printing).Error; err != nil {
				return fmt.Errorf("upsert printing %s: %w", rec.PrintingID, err)
			}

			touched[rec.OracleID] = struct{}{}
		}

		for oracleID := range touched {
			if err := recomputeLatestPrinting(tx, oracleID); err != nil {
				return err
			}
		}
		return nil
	})
}

// printingMeta is the minimal shape selectLatestPrinting needs to pick a
// winner; kept separate from domain.Printing so the selection rule can be
// unit-tested without a database.
type printingMeta struct {
	ID         string
	ReleasedAt time.Time
}

// selectLatestPrinting returns the id that should carry is_latest_printing =
// true: the greatest released_at, ties broken by the lexicographically
// smallest id (spec.md §3). Returns "" for an empty input.
func selectLatestPrinting(printings []printingMeta) string {
	if len(printings) == 0 {
		return ""
	}
	best := printings[0]
	for _, p := range printings[1:] {
		switch {
		case p.ReleasedAt.After(best.ReleasedAt):
			best = p
		case p.ReleasedAt.Equal(best.ReleasedAt) && p.ID < best.ID:
			best = p
		}
	}
	return best.ID
}

// recomputeLatestPrinting sets is_latest_printing = true on exactly the
// printing of oracleID selected by selectLatestPrinting, and false on every
// other printing of that oracle. Must run inside the caller's transaction.
func recomputeLatestPrinting(tx *gorm.DB, oracleID string) error {
	if err := tx.Model(&domain.Printing{}).
		Where("oracle_id = ?", oracleID).
		Update("is_latest_printing", false).Error; err != nil {
		return fmt.Errorf("clear latest flag for oracle %s: %w", oracleID, err)
	}

	var rows []printingMeta
	if err := tx.Model(&domain.Printing{}).
		Select("id", "released_at").
		Where("oracle_id = ?", oracleID).
		Scan(&rows).Error; err != nil {
		return fmt.Errorf("find printings for oracle %s: %w", oracleID, err)
	}

	latestID := selectLatestPrinting(rows)
	if latestID == "" {
		return nil
	}

	return tx.Model(&domain.Printing{}).
		Where("id = ?", latestID).
		Update("is_latest_printing", true).Error
}

// SaveEmbedding implements store.CatalogStore.
func (s *CatalogStore) SaveEmbedding(ctx context.Context, printingID string, vec []float32) error {
	if len(vec) != domain.EmbeddingDimensions {
		return fmt.Errorf("save embedding: expected %d-dim vector, got %d", domain.EmbeddingDimensions, len(vec))
	}
	v := pgvector.NewVector(vec)
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&domain.Printing{}).
		Where("id = ?", printingID).
		Updates(map[string]interface{}{
			"embedding":            v,
			"embedding_updated_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("save embedding for printing %s: %w", printingID, err)
	}
	return nil
}

// PrintingsWithoutEmbedding implements store.CatalogStore.
func (s *CatalogStore) PrintingsWithoutEmbedding(ctx context.Context, setCode string) ([]store.PendingEmbedding, error) {
	q := s.db.WithContext(ctx).Model(&domain.Printing{}).
		Select("id", "image_url").
		Where("embedding IS NULL AND image_url IS NOT NULL AND image_url <> ''").
		Order("is_latest_printing DESC, released_at DESC")
	if setCode != "" {
		q = q.Where("upper(set_code) = upper(?)", setCode)
	}

	var rows []struct {
		ID       string
		ImageURL string
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("printings without embedding: %w", err)
	}

	out := make([]store.PendingEmbedding, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.PendingEmbedding{PrintingID: r.ID, ImageURL: r.ImageURL})
	}
	return out, nil
}
