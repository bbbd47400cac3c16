package kb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/jitkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
)

// chunkStore persists document chunks and their vectors for the local
// provider. It owns its schema; the tracking store never touches these
// tables.
type chunkStore struct {
	db *sql.DB
}

func newChunkStore(db *sql.DB, embedDim int) (*chunkStore, error) {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kb_chunks (
			id TEXT NOT NULL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			file_id TEXT NOT NULL,
			position INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, embedDim),
		`CREATE INDEX IF NOT EXISTS idx_kb_chunks_file
			ON kb_chunks (tenant_id, file_id)`,
		`CREATE TABLE IF NOT EXISTS kb_jobs (
			job_ref TEXT NOT NULL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			ctime BIGINT NOT NULL,
			mtime BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("init kb schema: %w", err)
		}
	}
	return &chunkStore{db: db}, nil
}

type chunkRecord struct {
	ID        string
	Position  int
	Content   string
	Embedding []float32
}

// ReplaceChunks swaps the chunk set of a file in one transaction, so
// re-ingesting the same file is idempotent.
func (s *chunkStore) ReplaceChunks(ctx context.Context, tenantID, projectID, fileID string, chunks []chunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	delStr, delArgs := dbutil.Finalize(
		"DELETE FROM kb_chunks WHERE tenant_id = ? AND file_id = ?",
		[]interface{}{tenantID, fileID},
	)
	if _, err := tx.ExecContext(ctx, delStr, delArgs...); err != nil {
		return err
	}
	insStr, _ := dbutil.Finalize(
		"INSERT INTO kb_chunks (id, tenant_id, project_id, file_id, position, content, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)",
		nil,
	)
	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, insStr,
			chunk.ID, tenantID, projectID, fileID, chunk.Position, chunk.Content,
			pgvector.NewVector(chunk.Embedding),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteByFile removes every chunk of a file. Removing an absent file is
// not an error.
func (s *chunkStore) DeleteByFile(ctx context.Context, tenantID, fileID string) error {
	sqlStr, args := dbutil.Finalize(
		"DELETE FROM kb_chunks WHERE tenant_id = ? AND file_id = ?",
		[]interface{}{tenantID, fileID},
	)
	_, err := s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

type searchHit struct {
	FileID  string
	Content string
}

// Search returns the closest chunks by cosine distance, scoped to the
// tenant, project and file set.
func (s *chunkStore) Search(ctx context.Context, tenantID, projectID string, fileIDs []string, queryVec []float32, limit int) ([]searchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	query := "SELECT file_id, content FROM kb_chunks WHERE tenant_id = ? AND project_id = ?"
	args := []interface{}{tenantID, projectID}
	if len(fileIDs) > 0 {
		query += " AND file_id IN (?" + repeatPlaceholder(len(fileIDs)-1) + ")"
		for _, id := range fileIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY embedding <=> ? LIMIT ?"
	args = append(args, pgvector.NewVector(queryVec), limit)
	sqlStr, finalArgs := dbutil.Finalize(query, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, finalArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]searchHit, 0, limit)
	for rows.Next() {
		var hit searchHit
		if err := rows.Scan(&hit.FileID, &hit.Content); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

type jobStore struct {
	db *sql.DB
}

func (s *jobStore) Create(ctx context.Context, jobRef, tenantID, projectID string) error {
	now := time.Now().Unix()
	data := map[string]interface{}{
		"job_ref":    jobRef,
		"tenant_id":  tenantID,
		"project_id": projectID,
		"state":      string(JobRunning),
		"ctime":      now,
		"mtime":      now,
	}
	sqlStr, args, err := builder.BuildInsert("kb_jobs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (s *jobStore) SetState(ctx context.Context, jobRef string, state JobState, reason string) error {
	where := map[string]interface{}{
		"job_ref": jobRef,
	}
	update := map[string]interface{}{
		"state":  string(state),
		"reason": reason,
		"mtime":  time.Now().Unix(),
	}
	sqlStr, args, err := builder.BuildUpdate("kb_jobs", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = s.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (s *jobStore) Get(ctx context.Context, jobRef string) (*JobStatus, error) {
	sqlStr, args := dbutil.Finalize(
		"SELECT state, reason FROM kb_jobs WHERE job_ref = ?",
		[]interface{}{jobRef},
	)
	row := s.db.QueryRowContext(ctx, sqlStr, args...)
	var state, reason string
	if err := row.Scan(&state, &reason); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &JobStatus{State: JobState(state), Reason: reason}, nil
}
