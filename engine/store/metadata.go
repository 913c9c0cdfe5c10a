package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Marker is one row of processing_metadata: the last thing ingested from
// a source path and the content hash it had.
type Marker struct {
	Source string
	Path   string
	Marker string
	Hash   string
}

// Metadata tracks incremental ingestion progress. It only drives skip
// decisions; losing it costs a re-ingest, never correctness.
type Metadata struct {
	db DB
}

// NewMetadata creates a Metadata store on db.
func NewMetadata(db DB) *Metadata {
	return &Metadata{db: db}
}

// Lookup returns the recorded hash for (source, path).
func (m *Metadata) Lookup(ctx context.Context, source, path string) (string, bool, error) {
	var hash string
	err := m.db.QueryRow(ctx,
		`SELECT content_hash FROM processing_metadata WHERE source = $1 AND source_path = $2`,
		source, path,
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbErr("lookup marker", err)
	}
	return hash, true, nil
}

// Record upserts a marker.
func (m *Metadata) Record(ctx context.Context, mk Marker) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO processing_metadata (source, source_path, last_marker, content_hash, processed_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (source, source_path) DO UPDATE SET
			last_marker  = EXCLUDED.last_marker,
			content_hash = EXCLUDED.content_hash,
			processed_at = now()`,
		mk.Source, mk.Path, mk.Marker, mk.Hash,
	)
	if err != nil {
		return dbErr("record marker", err)
	}
	return nil
}
