package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// ChunkTable is the Postgres table backing PGIndex.
const ChunkTable = "knowledge_chunks"

// Migrate creates the pgvector extension and the chunk table. It is safe to
// run repeatedly.
func Migrate(ctx context.Context, databaseURL string, log zerolog.Logger) error {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	for _, stmt := range migrationStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info().Str("table", ChunkTable).Msg("database tables created successfully")
	return nil
}

func migrationStatements() []string {
	table := pq.QuoteIdentifier(ChunkTable)
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			image_id    TEXT NOT NULL DEFAULT '',
			embedding   vector NOT NULL,
			created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source)`,
			pq.QuoteIdentifier(ChunkTable+"_source_idx"), table),
		`
		CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,
		fmt.Sprintf(`DROP TRIGGER IF EXISTS update_chunks_updated_at ON %s`, table),
		fmt.Sprintf(`
		CREATE TRIGGER update_chunks_updated_at
			BEFORE UPDATE ON %s
			FOR EACH ROW
			EXECUTE FUNCTION update_updated_at_column()`, table),
	}
}
