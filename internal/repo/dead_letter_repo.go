package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/pkg/dbutil"
	appErr "github.com/xxxsen/jitkb/internal/pkg/errors"
)

var deadLetterColumns = []string{"id", "tenant_id", "file_id", "event_json", "attempts", "last_error", "ctime", "mtime"}

// DeadLetterRepo holds expiry events that exhausted their redelivery
// budget. They are kept for manual inspection and periodic re-drive,
// never silently dropped.
type DeadLetterRepo struct {
	db *sql.DB
}

func NewDeadLetterRepo(db *sql.DB) *DeadLetterRepo {
	return &DeadLetterRepo{db: db}
}

func (r *DeadLetterRepo) Save(ctx context.Context, letter *model.DeadLetter) error {
	data := map[string]interface{}{
		"id":         letter.ID,
		"tenant_id":  letter.TenantID,
		"file_id":    letter.FileID,
		"event_json": letter.EventJSON,
		"attempts":   letter.Attempts,
		"last_error": letter.LastError,
		"ctime":      letter.Ctime,
		"mtime":      letter.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("dead_letters", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DeadLetterRepo) List(ctx context.Context, limit uint) ([]model.DeadLetter, error) {
	where := map[string]interface{}{
		"_orderby": "ctime asc",
		"_limit":   []uint{0, limit},
	}
	sqlStr, args, err := builder.BuildSelect("dead_letters", where, deadLetterColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	letters := make([]model.DeadLetter, 0)
	for rows.Next() {
		var letter model.DeadLetter
		if err := rows.Scan(&letter.ID, &letter.TenantID, &letter.FileID, &letter.EventJSON, &letter.Attempts, &letter.LastError, &letter.Ctime, &letter.Mtime); err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

func (r *DeadLetterRepo) Delete(ctx context.Context, id string) error {
	where := map[string]interface{}{
		"id": id,
	}
	sqlStr, args, err := builder.BuildDelete("dead_letters", where)
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

func (r *DeadLetterRepo) MarkRetried(ctx context.Context, id string, attempts int, lastError string, mtime int64) error {
	where := map[string]interface{}{
		"id": id,
	}
	update := map[string]interface{}{
		"attempts":   attempts,
		"last_error": lastError,
		"mtime":      mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("dead_letters", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
