// Package sqlstore is a Metastore backed by PostgreSQL (spec.md §4.9):
// three tables — indexes, splits, checkpoints — with PublishSplits
// executed as a single transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/wessley-search/splitcore/internal/checkpoint"
	"github.com/wessley-search/splitcore/internal/metastore"
	"github.com/wessley-search/splitcore/internal/model"
)

// Schema is the DDL sqlstore expects; a deployment applies it out of band
// (spec.md §4.9 names the three tables but leaves migration tooling out of
// scope).
const Schema = `
CREATE TABLE IF NOT EXISTS indexes (
	index_id   TEXT PRIMARY KEY,
	metadata   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS splits (
	split_id TEXT PRIMARY KEY,
	index_id TEXT NOT NULL REFERENCES indexes(index_id) ON DELETE CASCADE,
	state    SMALLINT NOT NULL,
	metadata JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoints (
	index_id   TEXT NOT NULL REFERENCES indexes(index_id) ON DELETE CASCADE,
	source_id  TEXT NOT NULL,
	checkpoint JSONB NOT NULL,
	PRIMARY KEY (index_id, source_id)
);
`

// Store is a Metastore backed by *sql.DB.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (a postgres:// connection string) via lib/pq.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, model.NewError(model.KindConfig, "sqlstore.Open", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB, for callers that manage the pool
// themselves (and for tests, with sql.Open("sqlmock", ...)).
func New(db *sql.DB) *Store { return &Store{db: db} }

var _ metastore.Metastore = (*Store)(nil)

func (s *Store) CreateIndex(ctx context.Context, meta model.IndexMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return model.NewError(model.KindInternal, "sqlstore.CreateIndex", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO indexes (index_id, metadata) VALUES ($1, $2)`, meta.IndexID, b)
	if err != nil {
		return model.NewError(model.KindIO, "sqlstore.CreateIndex", err)
	}
	return nil
}

func (s *Store) DeleteIndex(ctx context.Context, indexID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexes WHERE index_id = $1`, indexID)
	if err != nil {
		return model.NewError(model.KindIO, "sqlstore.DeleteIndex", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return model.NewError(model.KindNotFound, "sqlstore.DeleteIndex", model.ErrIndexDoesNotExist)
	}
	return nil
}

func (s *Store) IndexMetadata(ctx context.Context, indexID string) (model.IndexMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT metadata FROM indexes WHERE index_id = $1`, indexID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.IndexMetadata{}, model.NewError(model.KindNotFound, "sqlstore.IndexMetadata", model.ErrIndexDoesNotExist)
		}
		return model.IndexMetadata{}, model.NewError(model.KindIO, "sqlstore.IndexMetadata", err)
	}
	var meta model.IndexMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return model.IndexMetadata{}, model.NewError(model.KindCorruption, "sqlstore.IndexMetadata", err)
	}
	return meta, nil
}

func (s *Store) ListIndexesMetadatas(ctx context.Context) ([]model.IndexMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metadata FROM indexes ORDER BY index_id`)
	if err != nil {
		return nil, model.NewError(model.KindIO, "sqlstore.ListIndexesMetadatas", err)
	}
	defer rows.Close()

	var out []model.IndexMetadata
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, model.NewError(model.KindIO, "sqlstore.ListIndexesMetadatas", err)
		}
		var meta model.IndexMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, model.NewError(model.KindCorruption, "sqlstore.ListIndexesMetadatas", err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func (s *Store) StageSplit(ctx context.Context, indexID string, meta model.SplitMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return model.NewError(model.KindInternal, "sqlstore.StageSplit", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO splits (split_id, index_id, state, metadata) VALUES ($1, $2, $3, $4)`,
		meta.SplitID, indexID, int(meta.State), b)
	if err != nil {
		return model.NewError(model.KindIO, "sqlstore.StageSplit", err)
	}
	return nil
}

// PublishSplits runs the staged->published transition, the replaced->
// marked-for-deletion transition, and the checkpoint advance inside one
// transaction (spec.md §4.9's atomicity requirement).
func (s *Store) PublishSplits(ctx context.Context, indexID string, newIDs, replacedIDs []string, delta *checkpoint.IndexCheckpointDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewError(model.KindIO, "sqlstore.PublishSplits", err)
	}
	defer tx.Rollback()

	for _, id := range newIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE splits SET state = $1 WHERE split_id = $2 AND index_id = $3 AND state = $4`,
			int(model.SplitPublished), id, indexID, int(model.SplitStaged))
		if err != nil {
			return model.NewError(model.KindIO, "sqlstore.PublishSplits", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.NewError(model.KindPreconditionFailed, "sqlstore.PublishSplits", model.ErrSplitIsNotStaged)
		}
	}
	for _, id := range replacedIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE splits SET state = $1 WHERE split_id = $2 AND index_id = $3`,
			int(model.SplitMarkedForDeletion), id, indexID); err != nil {
			return model.NewError(model.KindIO, "sqlstore.PublishSplits", err)
		}
	}

	if delta != nil {
		if err := applyCheckpointDelta(ctx, tx, indexID, *delta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.NewError(model.KindIO, "sqlstore.PublishSplits", err)
	}
	return nil
}

func applyCheckpointDelta(ctx context.Context, tx *sql.Tx, indexID string, delta checkpoint.IndexCheckpointDelta) error {
	row := tx.QueryRowContext(ctx,
		`SELECT checkpoint FROM checkpoints WHERE index_id = $1 AND source_id = $2`, indexID, delta.SourceID)
	var raw []byte
	err := row.Scan(&raw)
	var cur checkpoint.SourceCheckpoint
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cur = checkpoint.SourceCheckpoint{}
	case err != nil:
		return model.NewError(model.KindIO, "sqlstore.applyCheckpointDelta", err)
	default:
		if err := json.Unmarshal(raw, &cur); err != nil {
			return model.NewError(model.KindCorruption, "sqlstore.applyCheckpointDelta", err)
		}
	}

	next, err := checkpoint.Apply(cur, delta.SourceDelta)
	if err != nil {
		return model.NewError(model.KindPreconditionFailed, "sqlstore.applyCheckpointDelta", err)
	}
	b, err := json.Marshal(next)
	if err != nil {
		return model.NewError(model.KindInternal, "sqlstore.applyCheckpointDelta", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (index_id, source_id, checkpoint) VALUES ($1, $2, $3)
		ON CONFLICT (index_id, source_id) DO UPDATE SET checkpoint = EXCLUDED.checkpoint`,
		indexID, delta.SourceID, b)
	if err != nil {
		return model.NewError(model.KindIO, "sqlstore.applyCheckpointDelta", err)
	}
	return nil
}

func (s *Store) MarkSplitsForDeletion(ctx context.Context, indexID string, splitIDs []string) error {
	for _, id := range splitIDs {
		_, err := s.db.ExecContext(ctx,
			`UPDATE splits SET state = $1 WHERE split_id = $2 AND index_id = $3 AND state IN ($4, $1)`,
			int(model.SplitMarkedForDeletion), id, indexID, int(model.SplitPublished))
		if err != nil {
			return model.NewError(model.KindIO, "sqlstore.MarkSplitsForDeletion", err)
		}
	}
	return nil
}

func (s *Store) DeleteSplits(ctx context.Context, indexID string, splitIDs []string) error {
	for _, id := range splitIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM splits WHERE split_id = $1 AND index_id = $2`, id, indexID); err != nil {
			return model.NewError(model.KindIO, "sqlstore.DeleteSplits", err)
		}
	}
	return nil
}

func (s *Store) ListSplits(ctx context.Context, indexID string, state *model.SplitState, timeRange *model.TimeRange, tags []string) ([]model.SplitMetadata, error) {
	query := `SELECT metadata FROM splits WHERE index_id = $1`
	args := []any{indexID}
	if state != nil {
		query += fmt.Sprintf(" AND state = $%d", len(args)+1)
		args = append(args, int(*state))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewError(model.KindIO, "sqlstore.ListSplits", err)
	}
	defer rows.Close()

	var out []model.SplitMetadata
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, model.NewError(model.KindIO, "sqlstore.ListSplits", err)
		}
		var sp model.SplitMetadata
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, model.NewError(model.KindCorruption, "sqlstore.ListSplits", err)
		}
		if timeRange != nil && sp.TimeRange.Set && (sp.TimeRange.Max < timeRange.Min || sp.TimeRange.Min > timeRange.Max) {
			continue
		}
		if !hasAllTags(sp, tags) {
			continue
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func hasAllTags(sp model.SplitMetadata, tags []string) bool {
	for _, t := range tags {
		if !sp.HasTag(t) {
			return false
		}
	}
	return true
}

func (s *Store) AddSource(ctx context.Context, indexID string, cfg model.SourceConfig) error {
	meta, err := s.IndexMetadata(ctx, indexID)
	if err != nil {
		return err
	}
	meta.Sources[cfg.SourceID] = cfg
	if _, ok := meta.Checkpoint[cfg.SourceID]; !ok {
		meta.Checkpoint[cfg.SourceID] = checkpoint.SourceCheckpoint{}
	}
	return s.updateIndexMetadata(ctx, meta)
}

func (s *Store) DeleteSource(ctx context.Context, indexID, sourceID string) error {
	meta, err := s.IndexMetadata(ctx, indexID)
	if err != nil {
		return err
	}
	delete(meta.Sources, sourceID)
	delete(meta.Checkpoint, sourceID)
	return s.updateIndexMetadata(ctx, meta)
}

func (s *Store) updateIndexMetadata(ctx context.Context, meta model.IndexMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return model.NewError(model.KindInternal, "sqlstore.updateIndexMetadata", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE indexes SET metadata = $1, updated_at = now() WHERE index_id = $2`, b, meta.IndexID)
	if err != nil {
		return model.NewError(model.KindIO, "sqlstore.updateIndexMetadata", err)
	}
	return nil
}
