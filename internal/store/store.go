package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/convosync/internal/webhook"
	"github.com/convosync/pkg/models"
)

// ErrStorageUnavailable is returned for any lower-level database failure.
// The caller aborts the request with a 5xx; redelivery is safe because every
// write is an idempotent upsert.
var ErrStorageUnavailable = errors.New("storage unavailable")

// opTimeout bounds each storage interaction. Expiry maps to
// ErrStorageUnavailable like any other connectivity failure.
const opTimeout = 5 * time.Second

// Store persists projects, conversations, and messages with
// insert-or-update semantics keyed by their natural identities. All methods
// are safe to call concurrently for the same key: conflicts are resolved
// atomically by the database, not by read-then-write.
type Store struct {
	db *sql.DB
}

// New creates a store around an injected connection pool. The store never
// owns or closes the pool; the composition root does.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Health reports storage reachability.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

// UpsertProject inserts a project or, on name conflict, updates description
// and external id only. The starred flag is owner-controlled and never
// touched on conflict.
func (s *Store) UpsertProject(ctx context.Context, rec *webhook.ProjectRecord) (*models.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
	INSERT INTO projects (name, description, is_starred, chatgpt_project_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NOW(), NOW())
	ON CONFLICT (name) DO UPDATE SET
		description = COALESCE(EXCLUDED.description, projects.description),
		chatgpt_project_id = COALESCE(EXCLUDED.chatgpt_project_id, projects.chatgpt_project_id),
		updated_at = NOW()
	RETURNING id, name, description, is_starred, chatgpt_project_id, created_at, updated_at
	`

	var project models.Project
	err := s.db.QueryRowContext(ctx, query,
		rec.Name, rec.Description, rec.IsStarred, rec.ChatGPTProjectID,
	).Scan(
		&project.ID, &project.Name, &project.Description, &project.IsStarred,
		&project.ChatGPTProjectID, &project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return nil, s.fail("upsert project", err)
	}
	return &project, nil
}

// FindProjectByExternalID looks up a project by its ChatGPT project id.
// Returns nil without error when no project matches.
func (s *Store) FindProjectByExternalID(ctx context.Context, externalID string) (*models.Project, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
	SELECT id, name, description, is_starred, chatgpt_project_id, created_at, updated_at
	FROM projects
	WHERE chatgpt_project_id = $1
	`

	var project models.Project
	err := s.db.QueryRowContext(ctx, query, externalID).Scan(
		&project.ID, &project.Name, &project.Description, &project.IsStarred,
		&project.ChatGPTProjectID, &project.CreatedAt, &project.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("find project", err)
	}
	return &project, nil
}

const conversationUpsertQuery = `
	INSERT INTO conversations (conversation_id, title, model, create_time, update_time, project_id, openai_thread_id, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	ON CONFLICT (conversation_id) DO UPDATE SET
		title = EXCLUDED.title,
		model = EXCLUDED.model,
		update_time = EXCLUDED.update_time,
		project_id = COALESCE(EXCLUDED.project_id, conversations.project_id),
		openai_thread_id = COALESCE(EXCLUDED.openai_thread_id, conversations.openai_thread_id),
		updated_at = NOW()
	RETURNING id, conversation_id, title, model, create_time, update_time, project_id, openai_thread_id, created_at, updated_at
	`

// UpsertConversation inserts a conversation or updates it in place on
// redelivery. create_time is intentionally absent from the conflict SET
// clause: it is immutable after first insert.
func (s *Store) UpsertConversation(ctx context.Context, rec *webhook.ConversationRecord, projectID *int64) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	conv, err := upsertConversation(ctx, s.db, rec, projectID)
	if err != nil {
		return nil, s.fail("upsert conversation", err)
	}
	return conv, nil
}

// GetConversation fetches a conversation by its external id. Returns nil
// without error when the conversation has not been seen yet.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
	SELECT id, conversation_id, title, model, create_time, update_time, project_id, openai_thread_id, created_at, updated_at
	FROM conversations
	WHERE conversation_id = $1
	`

	var conv models.Conversation
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ID, &conv.ConversationID, &conv.Title, &conv.Model,
		&conv.CreateTime, &conv.UpdateTime, &conv.ProjectID, &conv.OpenAIThreadID,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get conversation", err)
	}
	return &conv, nil
}

const messageUpsertQuery = `
	INSERT INTO messages (id, conversation_id, role, content, parts, create_time, parent, children, author_name, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	ON CONFLICT (id) DO UPDATE SET
		role = EXCLUDED.role,
		content = EXCLUDED.content,
		parts = EXCLUDED.parts,
		parent = EXCLUDED.parent,
		children = EXCLUDED.children,
		author_name = EXCLUDED.author_name,
		updated_at = NOW()
	RETURNING id, conversation_id, role, content, parts, create_time, parent, children, author_name, created_at, updated_at
	`

// UpsertMessage inserts a message or updates it in place on redelivery.
// create_time is immutable after first insert.
func (s *Store) UpsertMessage(ctx context.Context, rec *webhook.MessageRecord) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	msg, err := upsertMessage(ctx, s.db, rec)
	if err != nil {
		return nil, s.fail("upsert message", err)
	}
	return msg, nil
}

// UpsertMessageWithConversation writes the synthesized conversation and the
// message in a single transaction, so a message-first delivery either lands
// both rows or neither.
func (s *Store) UpsertMessageWithConversation(ctx context.Context, msgRec *webhook.MessageRecord, convRec *webhook.ConversationRecord, projectID *int64) (*models.Conversation, *models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, s.fail("begin transaction", err)
	}
	defer tx.Rollback()

	conv, err := upsertConversation(ctx, tx, convRec, projectID)
	if err != nil {
		return nil, nil, s.fail("upsert conversation", err)
	}

	msg, err := upsertMessage(ctx, tx, msgRec)
	if err != nil {
		return nil, nil, s.fail("upsert message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, s.fail("commit transaction", err)
	}
	return conv, msg, nil
}

// SetConversationThreadID records the mirrored third-party thread id.
func (s *Store) SetConversationThreadID(ctx context.Context, conversationID, threadID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET openai_thread_id = $1, updated_at = NOW()
		WHERE conversation_id = $2
	`, threadID, conversationID)
	if err != nil {
		return s.fail("set thread id", err)
	}
	return nil
}

// querier lets the upsert statements run against either the pool or an open
// transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertConversation(ctx context.Context, q querier, rec *webhook.ConversationRecord, projectID *int64) (*models.Conversation, error) {
	var conv models.Conversation
	err := q.QueryRowContext(ctx, conversationUpsertQuery,
		rec.ID, rec.Title, rec.Model, rec.CreateTime, rec.UpdateTime, projectID, rec.OpenAIThreadID,
	).Scan(
		&conv.ID, &conv.ConversationID, &conv.Title, &conv.Model,
		&conv.CreateTime, &conv.UpdateTime, &conv.ProjectID, &conv.OpenAIThreadID,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func upsertMessage(ctx context.Context, q querier, rec *webhook.MessageRecord) (*models.Message, error) {
	children, err := encodeChildren(rec.Children)
	if err != nil {
		return nil, err
	}

	var msg models.Message
	var childrenRaw sql.NullString
	err = q.QueryRowContext(ctx, messageUpsertQuery,
		rec.ID, rec.ConversationID, rec.Role, rec.Content, rec.Parts,
		rec.CreateTime, rec.Parent, children, rec.AuthorName,
	).Scan(
		&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Parts,
		&msg.CreateTime, &msg.Parent, &childrenRaw, &msg.AuthorName,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Children, err = decodeChildren(childrenRaw)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func encodeChildren(children []string) (*string, error) {
	if len(children) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(children)
	if err != nil {
		return nil, fmt.Errorf("encode children: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeChildren(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var children []string
	if err := json.Unmarshal([]byte(raw.String), &children); err != nil {
		return nil, fmt.Errorf("decode children: %w", err)
	}
	return children, nil
}

// fail logs the underlying database error and returns the storage sentinel
// the handlers map to a 5xx.
func (s *Store) fail(op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("storage operation failed")
	return fmt.Errorf("%s: %w", op, ErrStorageUnavailable)
}
