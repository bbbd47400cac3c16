package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
)

var projectColumns = []string{"id", "tenant_id", "user_id", "name", "ctime", "mtime"}

type ProjectRepo struct {
	db *sql.DB
}

func NewProjectRepo(db *sql.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func (r *ProjectRepo) Create(ctx context.Context, project *model.Project) error {
	data := map[string]interface{}{
		"id":        project.ID,
		"tenant_id": project.TenantID,
		"user_id":   project.UserID,
		"name":      project.Name,
		"ctime":     project.Ctime,
		"mtime":     project.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("projects", []map[string]interface{}{data})
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

func (r *ProjectRepo) Get(ctx context.Context, tenantID, projectID string) (*model.Project, error) {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"id":        projectID,
	}
	sqlStr, args, err := builder.BuildSelect("projects", where, projectColumns)
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
	var project model.Project
	if err := rows.Scan(&project.ID, &project.TenantID, &project.UserID, &project.Name, &project.Ctime, &project.Mtime); err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *ProjectRepo) ListByTenantUser(ctx context.Context, tenantID, userID string) ([]model.Project, error) {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"user_id":   userID,
		"_orderby":  "ctime desc",
	}
	sqlStr, args, err := builder.BuildSelect("projects", where, projectColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	projects := make([]model.Project, 0)
	for rows.Next() {
		var project model.Project
		if err := rows.Scan(&project.ID, &project.TenantID, &project.UserID, &project.Name, &project.Ctime, &project.Mtime); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (r *ProjectRepo) Delete(ctx context.Context, tenantID, projectID string) error {
	where := map[string]interface{}{
		"tenant_id": tenantID,
		"id":        projectID,
	}
	sqlStr, args, err := builder.BuildDelete("projects", where)
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
