package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
)

var trackedFileColumns = []string{
	"tenant_id", "file_id", "project_id", "state", "ttl_deadline",
	"ingestion_job_ref", "last_error", "retries", "ctime", "mtime",
}

// TrackedFileRepo is the tracking store. Every state transition is a
// conditional write keyed on the expected prior state; a write that
// matches no row reports ErrRaceLost instead of failing.
type TrackedFileRepo struct {
	db *sql.DB
}

func NewTrackedFileRepo(db *sql.DB) *TrackedFileRepo {
	return &TrackedFileRepo{db: db}
}

func (r *TrackedFileRepo) PutIfAbsent(ctx context.Context, file *model.TrackedFile) error {
	data := map[string]interface{}{
		"tenant_id":         file.TenantID,
		"file_id":           file.FileID,
		"project_id":        file.ProjectID,
		"state":             string(file.State),
		"ttl_deadline":      file.TTLDeadline,
		"ingestion_job_ref": file.IngestionJobRef,
		"last_error":        file.LastError,
		"retries":           file.Retries,
		"ctime":             file.Ctime,
		"mtime":             file.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("tracked_files", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *TrackedFileRepo) Get(ctx context.Context, tenantID, fileID string) (*model.TrackedFile, error) {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"file_id":   fileID,
	}
	sqlStr, args, err := builder.BuildSelect("tracked_files", where, trackedFileColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanTrackedFile(rows)
}

// TransitionState moves a row from one state to another. The expected
// prior state goes into the WHERE clause, so concurrent callers race on
// the database and exactly one wins.
func (r *TrackedFileRepo) TransitionState(ctx context.Context, tenantID, fileID string, from, to model.FileState, extra map[string]interface{}, mtime int64) error {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"file_id":   fileID,
		"state":     string(from),
	}
	update := map[string]interface{}{
		"state": string(to),
		"mtime": mtime,
	}
	for k, v := range extra {
		update[k] = v
	}
	sqlStr, args, err := builder.BuildUpdate("tracked_files", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrRaceLost
	}
	return nil
}

// ExtendTTL refreshes the deadline of a ready file. Files mid-ingestion
// or failed are never touched.
func (r *TrackedFileRepo) ExtendTTL(ctx context.Context, tenantID, fileID string, newDeadline, mtime int64) error {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"file_id":   fileID,
		"state":     string(model.FileStateReady),
	}
	update := map[string]interface{}{
		"ttl_deadline": newDeadline,
		"mtime":        mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("tracked_files", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrRaceLost
	}
	return nil
}

func (r *TrackedFileRepo) Delete(ctx context.Context, tenantID, fileID string) error {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"file_id":   fileID,
	}
	sqlStr, args, err := builder.BuildDelete("tracked_files", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// DeleteExpired removes a row only if its deadline still matches the one
// the sweeper observed. A concurrent touch moves the deadline forward and
// the delete loses the race.
func (r *TrackedFileRepo) DeleteExpired(ctx context.Context, tenantID, fileID string, observedDeadline int64) error {
	where := map[string]interface{}{
		"tenant_id":    tenantID,
		"file_id":      fileID,
		"state":        string(model.FileStateReady),
		"ttl_deadline": observedDeadline,
	}
	sqlStr, args, err := builder.BuildDelete("tracked_files", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrRaceLost
	}
	return nil
}

func (r *TrackedFileRepo) ScanByProject(ctx context.Context, tenantID, projectID string) ([]model.TrackedFile, error) {
	where := map[string]interface{}{
		"tenant_id":  tenantID,
		"project_id": projectID,
		"_orderby":   "ctime asc",
	}
	return r.queryList(ctx, where)
}

// ListExpired returns ready rows whose deadline has lapsed. Used by the
// TTL sweep job.
func (r *TrackedFileRepo) ListExpired(ctx context.Context, now int64, limit uint) ([]model.TrackedFile, error) {
	where := map[string]interface{}{
		"state":           string(model.FileStateReady),
		"ttl_deadline <=": now,
		"ttl_deadline >":  0,
		"_orderby":        "ttl_deadline asc",
		"_limit":          []uint{0, limit},
	}
	return r.queryList(ctx, where)
}

// ListStaleIngesting returns ingesting rows not updated since the cutoff,
// candidates for a forced failure.
func (r *TrackedFileRepo) ListStaleIngesting(ctx context.Context, cutoffMtime int64, limit uint) ([]model.TrackedFile, error) {
	where := map[string]interface{}{
		"state":    string(model.FileStateIngesting),
		"mtime <=": cutoffMtime,
		"_orderby": "mtime asc",
		"_limit":   []uint{0, limit},
	}
	return r.queryList(ctx, where)
}

func (r *TrackedFileRepo) queryList(ctx context.Context, where map[string]interface{}) ([]model.TrackedFile, error) {
	sqlStr, args, err := builder.BuildSelect("tracked_files", where, trackedFileColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := make([]model.TrackedFile, 0)
	for rows.Next() {
		file, err := scanTrackedFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

func scanTrackedFile(rows *sql.Rows) (*model.TrackedFile, error) {
	var file model.TrackedFile
	var state string
	if err := rows.Scan(
		&file.TenantID,
		&file.FileID,
		&file.ProjectID,
		&state,
		&file.TTLDeadline,
		&file.IngestionJobRef,
		&file.LastError,
		&file.Retries,
		&file.Ctime,
		&file.Mtime,
	); err != nil {
		return nil, err
	}
	file.State = model.FileState(state)
	if !file.State.Valid() {
		return nil, fmt.Errorf("tracked file %s/%s has unknown state %q", file.TenantID, file.FileID, state)
	}
	return &file, nil
}
