// Package postgres implements store.CatalogStore on Postgres + pgvector.
package postgres

import (
	"fmt"

	"github.com/cardid/cardid/internal/config"
	"github.com/cardid/cardid/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// HNSW index tuning, calibrated for a 512-dimension cosine embedding at the
// catalog's expected scale (tens of thousands of printings). Grounded on the
// equivalent 512-dim face-embedding constants in the retrieved pack, scaled
// up for a larger catalog.
const (
	hnswM              = 16
	hnswEfConstruction = 128
	hnswEfSearch       = 80
)

// InitDB opens the Postgres connection, configures the pool, and brings the
// schema up to date: AutoMigrate for the two GORM-mapped tables, then a raw
// SQL migration for the HNSW cosine index pgvector needs (AutoMigrate alone
// cannot express an index access method).
// Parameters:
//   - cfg: database configuration (DSN, pool sizes, auto-migrate toggle).
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	// PreferSimpleProtocol disables implicit prepared statements, required
	// when the DSN points at a transaction pooler (e.g. pgbouncer) rather
	// than a direct Postgres connection.
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.AutoMigrate {
		return db, nil
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	if err := db.AutoMigrate(&domain.OracleCard{}, &domain.Printing{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := db.Exec(fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_printings_embedding_hnsw ON printings
		 USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)`,
		hnswM, hnswEfConstruction,
	)).Error; err != nil {
		return nil, fmt.Errorf("failed to create hnsw index: %w", err)
	}

	return db, nil
}
