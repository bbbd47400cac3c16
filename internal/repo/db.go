package repo

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/xxxsen/jitkb/internal/config"
)

func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		ctime BIGINT NOT NULL,
		mtime BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS project_files (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		bucket TEXT NOT NULL DEFAULT '',
		s3_key TEXT NOT NULL DEFAULT '',
		size BIGINT NOT NULL DEFAULT 0,
		ctime BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_project_files_tenant_project
		ON project_files (tenant_id, project_id)`,
	`CREATE TABLE IF NOT EXISTS tracked_files (
		tenant_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		state TEXT NOT NULL,
		ttl_deadline BIGINT NOT NULL DEFAULT 0,
		ingestion_job_ref TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		retries INT NOT NULL DEFAULT 0,
		ctime BIGINT NOT NULL,
		mtime BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, file_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tracked_files_tenant_project
		ON tracked_files (tenant_id, project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tracked_files_ttl
		ON tracked_files (ttl_deadline) WHERE ttl_deadline > 0`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT NOT NULL PRIMARY KEY,
		session_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		sources_json TEXT NOT NULL DEFAULT '[]',
		ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_tenant_user
		ON chat_messages (tenant_id, user_id, ts)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id TEXT NOT NULL PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		event_json TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		ctime BIGINT NOT NULL,
		mtime BIGINT NOT NULL
	)`,
}

func ApplyMigrations(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
