package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/jitkb/internal/model"
	"github.com/xxxsen/jitkb/internal/pkg/dbutil"
)

var chatMessageColumns = []string{"id", "session_id", "tenant_id", "user_id", "project_id", "type", "content", "sources_json", "ts"}

type ChatHistoryRepo struct {
	db *sql.DB
}

func NewChatHistoryRepo(db *sql.DB) *ChatHistoryRepo {
	return &ChatHistoryRepo{db: db}
}

func (r *ChatHistoryRepo) Save(ctx context.Context, msg *model.ChatMessage) error {
	sourcesJSON := []byte("[]")
	if len(msg.Sources) > 0 {
		var err error
		sourcesJSON, err = json.Marshal(msg.Sources)
		if err != nil {
			return err
		}
	}
	data := map[string]interface{}{
		"id":           msg.ID,
		"session_id":   msg.SessionID,
		"tenant_id":    msg.TenantID,
		"user_id":      msg.UserID,
		"project_id":   msg.ProjectID,
		"type":         msg.Type,
		"content":      msg.Content,
		"sources_json": string(sourcesJSON),
		"ts":           msg.Timestamp,
	}
	sqlStr, args, err := builder.BuildInsert("chat_messages", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ChatHistoryRepo) ListByProject(ctx context.Context, tenantID, userID, projectID string) ([]model.ChatMessage, error) {
	where := map[string]interface{}{
		"tenant_id":  tenantID,
		"user_id":    userID,
		"project_id": projectID,
		"_orderby":   "ts asc",
	}
	sqlStr, args, err := builder.BuildSelect("chat_messages", where, chatMessageColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := make([]model.ChatMessage, 0)
	for rows.Next() {
		var msg model.ChatMessage
		var sourcesJSON string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.TenantID, &msg.UserID, &msg.ProjectID, &msg.Type, &msg.Content, &sourcesJSON, &msg.Timestamp); err != nil {
			return nil, err
		}
		if sourcesJSON != "" && sourcesJSON != "[]" {
			if err := json.Unmarshal([]byte(sourcesJSON), &msg.Sources); err != nil {
				return nil, err
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *ChatHistoryRepo) DeleteByProject(ctx context.Context, tenantID, userID, projectID string) error {
	where := map[string]interface{}{
		"tenant_id":  tenantID,
		"user_id":    userID,
		"project_id": projectID,
	}
	sqlStr, args, err := builder.BuildDelete("chat_messages", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}
