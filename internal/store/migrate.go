package store

import (
	"context"
	"fmt"
)

// Migrate applies the idempotent schema. Statements are plain CREATE IF NOT
// EXISTS so the command is safe to re-run on every deploy.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			is_starred BOOLEAN NOT NULL DEFAULT FALSE,
			chatgpt_project_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT 'gpt-4',
			create_time TIMESTAMPTZ NOT NULL,
			update_time TIMESTAMPTZ NOT NULL,
			project_id BIGINT REFERENCES projects(id),
			openai_thread_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			parts TEXT,
			create_time TIMESTAMPTZ NOT NULL,
			parent TEXT,
			children TEXT,
			author_name TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_project_id ON conversations(project_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
