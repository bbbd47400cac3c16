package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
)

var projectFileColumns = []string{"id", "tenant_id", "project_id", "user_id", "name", "bucket", "s3_key", "size", "ctime"}

type ProjectFileRepo struct {
	db *sql.DB
}

func NewProjectFileRepo(db *sql.DB) *ProjectFileRepo {
	return &ProjectFileRepo{db: db}
}

func (r *ProjectFileRepo) Create(ctx context.Context, file *model.ProjectFile) error {
	data := map[string]interface{}{
		"id":         file.ID,
		"tenant_id":  file.TenantID,
		"project_id": file.ProjectID,
		"user_id":    file.UserID,
		"name":       file.Name,
		"bucket":     file.Bucket,
		"s3_key":     file.S3Key,
		"size":       file.Size,
		"ctime":      file.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("project_files", []map[string]interface{}{data})
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

func (r *ProjectFileRepo) Get(ctx context.Context, tenantID, fileID string) (*model.ProjectFile, error) {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"id":        fileID,
	}
	sqlStr, args, err := builder.BuildSelect("project_files", where, projectFileColumns)
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
	return scanProjectFile(rows)
}

func (r *ProjectFileRepo) ListByProject(ctx context.Context, tenantID, projectID string) ([]model.ProjectFile, error) {
	where := map[string]interface{}{
		"tenant_id":  tenantID,
		"project_id": projectID,
		"_orderby":   "ctime asc",
	}
	sqlStr, args, err := builder.BuildSelect("project_files", where, projectFileColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	files := make([]model.ProjectFile, 0)
	for rows.Next() {
		file, err := scanProjectFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

func (r *ProjectFileRepo) CountByProject(ctx context.Context, tenantID, projectID string) (int, error) {
	sqlStr, args := dbutil.Finalize(
		"SELECT COUNT(1) FROM project_files WHERE tenant_id = ? AND project_id = ?",
		[]interface{}{tenantID, projectID},
	)
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ProjectFileRepo) Delete(ctx context.Context, tenantID, fileID string) error {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"id":        fileID,
	}
	sqlStr, args, err := builder.BuildDelete("project_files", where)
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

func (r *ProjectFileRepo) DeleteByProject(ctx context.Context, tenantID, projectID string) error {
	where := map[string]interface{}{
		"tenant_id":  tenantID,
		"project_id": projectID,
	}
	sqlStr, args, err := builder.BuildDelete("project_files", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func scanProjectFile(rows *sql.Rows) (*model.ProjectFile, error) {
	var file model.ProjectFile
	if err := rows.Scan(
		&file.ID,
		&file.TenantID,
		&file.ProjectID,
		&file.UserID,
		&file.Name,
		&file.Bucket,
		&file.S3Key,
		&file.Size,
		&file.Ctime,
	); err != nil {
		return nil, err
	}
	return &file, nil
}
