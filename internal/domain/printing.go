package domain

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the fixed length of a Printing's art embedding.
const EmbeddingDimensions = 512

// Printing represents one physical print run of an OracleCard in one set.
// `Embedding` is nil until the ingest/embedding pipeline has produced a
// vector for this printing; `EmbeddingUpdatedAt` is set iff `Embedding` is.
type Printing struct {
	ID                 string           `gorm:"type:uuid;primaryKey" json:"id"`
	OracleID           string           `gorm:"type:uuid;not null;index:idx_printings_oracle_latest,priority:1" json:"oracle_id"`
	SetCode            string           `gorm:"type:text;not null;index:idx_printings_set_number,priority:1" json:"set_code"`
	CollectorNumber    string           `gorm:"type:text;not null;index:idx_printings_set_number,priority:2" json:"collector_number"`
	SetType            string           `gorm:"type:text;not null" json:"set_type"`
	ImageURL           string           `gorm:"type:text" json:"image_url,omitempty"`
	ReleasedAt         time.Time        `gorm:"not null" json:"released_at"`
	IsLatestPrinting   bool             `gorm:"not null;default:false;index:idx_printings_oracle_latest,priority:2" json:"is_latest_printing"`
	Embedding          *pgvector.Vector `gorm:"type:vector(512)" json:"-"`
	EmbeddingUpdatedAt *time.Time       `json:"embedding_updated_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`

	OracleCard OracleCard `gorm:"foreignKey:OracleID;references:ID" json:"-"`
}

// TableName returns the database table name for Printing.
func (Printing) TableName() string {
	return "printings"
}

// PrintingRecord is the shape upsert_batch accepts: a flattened view of one
// upstream catalog record, already parsed into native Go types. It is not a
// persisted model — it is the Ingestor's unit of work handed to CatalogStore.
type PrintingRecord struct {
	OracleID        string
	OracleName      string
	PrintingID      string
	SetCode         string
	CollectorNumber string
	SetType         string
	ImageURL        string
	ReleasedAt      time.Time
}
