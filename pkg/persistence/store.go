// Package persistence stores batch results in SQLite so report and stats
// can read back past runs. There is no global connection: Open returns a
// Store that the caller owns and closes.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver

	"tokenforge/pkg/logx"
	"tokenforge/pkg/pipeline"
	"tokenforge/pkg/token"
)

// ErrNotFound is returned when a requested batch does not exist.
var ErrNotFound = errors.New("batch not found")

// Store wraps a single-writer SQLite database holding finished batches.
// It implements pipeline.ResultSink.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the results database at path and brings
// the schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("📦 Results database ready: %s", path)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SaveBatch stores a finished batch, its image outcomes, and every merged
// token in one transaction.
func (s *Store) SaveBatch(ctx context.Context, result *pipeline.BatchResult) error {
	if result == nil {
		return fmt.Errorf("cannot save nil batch result")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO batches (id, started_at, total_ms, images_total, images_done, images_failed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		result.BatchID, result.StartedAt.UTC(), result.TotalMS,
		result.Summary.Total, result.Summary.Done, result.Summary.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch %s: %w", result.BatchID, err)
	}

	for _, img := range result.Images {
		if img == nil {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO images (task_id, batch_id, image_ref, image_id, stage, failed_stage, error, token_count, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			img.TaskID, result.BatchID, img.ImageRef, img.ImageID,
			string(img.Stage), string(img.FailedStage), img.Error,
			len(img.Tokens), img.ElapsedMS,
		)
		if err != nil {
			return fmt.Errorf("failed to insert image %s: %w", img.TaskID, err)
		}

		for _, tok := range img.Tokens {
			if err := insertToken(ctx, tx, result.BatchID, img.TaskID, tok); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %s: %w", result.BatchID, err)
	}

	s.logger.Info("📦 Saved batch %s: %d images, %d failed",
		result.BatchID, result.Summary.Total, result.Summary.Failed)
	return nil
}

func insertToken(ctx context.Context, tx *sql.Tx, batchID, taskID string, tok *token.Token) error {
	provenance, err := json.Marshal(tok.Provenance)
	if err != nil {
		return fmt.Errorf("failed to marshal provenance for token %s: %w", tok.ID, err)
	}
	var metadata []byte
	if len(tok.Metadata) > 0 {
		metadata, err = json.Marshal(tok.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for token %s: %w", tok.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO tokens (id, batch_id, task_id, type, value, confidence, source_count, weighted_confidence, provenance, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tok.ID, batchID, taskID, string(tok.Type), tok.Value, tok.Confidence,
		tok.Provenance.SourceCount, tok.Provenance.WeightedConfidence,
		string(provenance), nullableString(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert token %s: %w", tok.ID, err)
	}
	return nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// GetBatch loads one batch and its image rows.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*BatchDetail, error) {
	var batch BatchRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, total_ms, images_total, images_done, images_failed
		FROM batches WHERE id = ?`, batchID,
	).Scan(&batch.ID, &batch.StartedAt, &batch.TotalMS,
		&batch.ImagesTotal, &batch.ImagesDone, &batch.ImagesFailed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", batchID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, batch_id, image_ref, image_id, stage, failed_stage, error, token_count, elapsed_ms
		FROM images WHERE batch_id = ? ORDER BY task_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images for batch %s: %w", batchID, err)
	}
	defer func() { _ = rows.Close() }()

	detail := &BatchDetail{Batch: batch}
	for rows.Next() {
		var img ImageRecord
		if err := rows.Scan(&img.TaskID, &img.BatchID, &img.ImageRef, &img.ImageID,
			&img.Stage, &img.FailedStage, &img.Error, &img.TokenCount, &img.ElapsedMS); err != nil {
			return nil, fmt.Errorf("failed to scan image row: %w", err)
		}
		detail.Images = append(detail.Images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate image rows: %w", err)
	}

	return detail, nil
}

// LatestBatch returns the most recently started batch.
func (s *Store) LatestBatch(ctx context.Context) (*BatchDetail, error) {
	var batchID string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM batches ORDER BY started_at DESC, id DESC LIMIT 1",
	).Scan(&batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no batches stored", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest batch: %w", err)
	}
	return s.GetBatch(ctx, batchID)
}

// ListBatches returns up to limit batch records, newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, total_ms, images_total, images_done, images_failed
		FROM batches ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []BatchRecord
	for rows.Next() {
		var b BatchRecord
		if err := rows.Scan(&b.ID, &b.StartedAt, &b.TotalMS,
			&b.ImagesTotal, &b.ImagesDone, &b.ImagesFailed); err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch rows: %w", err)
	}
	return batches, nil
}

// BatchTokens loads every token stored for a batch, provenance included,
// sorted by category then value.
func (s *Store) BatchTokens(ctx context.Context, batchID string) ([]*token.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, value, confidence, provenance, metadata
		FROM tokens WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens for batch %s: %w", batchID, err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*token.Token
	for rows.Next() {
		var (
			tok        token.Token
			typ        string
			provenance string
			metadata   sql.NullString
		)
		if err := rows.Scan(&tok.ID, &typ, &tok.Value, &tok.Confidence, &provenance, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		tok.Type = token.Type(typ)
		if provenance != "" {
			if err := json.Unmarshal([]byte(provenance), &tok.Provenance); err != nil {
				return nil, fmt.Errorf("failed to parse provenance for token %s: %w", tok.ID, err)
			}
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &tok.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse metadata for token %s: %w", tok.ID, err)
			}
		}
		tokens = append(tokens, &tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token rows: %w", err)
	}

	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Type != tokens[j].Type {
			return tokens[i].Type < tokens[j].Type
		}
		if tokens[i].Value != tokens[j].Value {
			return tokens[i].Value < tokens[j].Value
		}
		return tokens[i].ID < tokens[j].ID
	})
	return tokens, nil
}

// TokenCountsByType aggregates stored token counts per category for one
// batch.
func (s *Store) TokenCountsByType(ctx context.Context, batchID string) (map[token.Type]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM tokens WHERE batch_id = ? GROUP BY type`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens for batch %s: %w", batchID, err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[token.Type]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[token.Type(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate count rows: %w", err)
	}
	return counts, nil
}
