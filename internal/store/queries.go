package store

import (
	"context"
	"database/sql"

	"github.com/convosync/pkg/models"
)

// ListConversations returns stored conversations, newest update first. When
// search is non-empty it filters on title and message content; callers are
// expected to pass search through webhook.SearchNormalize first.
func (s *Store) ListConversations(ctx context.Context, search string, limit int) ([]models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
	SELECT id, conversation_id, title, model, create_time, update_time, project_id, openai_thread_id, created_at, updated_at
	FROM conversations
	ORDER BY update_time DESC
	LIMIT $1
	`
	args := []any{limit}
	if search != "" {
		query = `
		SELECT DISTINCT c.id, c.conversation_id, c.title, c.model, c.create_time, c.update_time, c.project_id, c.openai_thread_id, c.created_at, c.updated_at
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.conversation_id
		WHERE c.title ILIKE '%' || $2 || '%' OR m.content ILIKE '%' || $2 || '%'
		ORDER BY c.update_time DESC
		LIMIT $1
		`
		args = append(args, search)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail("list conversations", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(
			&conv.ID, &conv.ConversationID, &conv.Title, &conv.Model,
			&conv.CreateTime, &conv.UpdateTime, &conv.ProjectID, &conv.OpenAIThreadID,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, s.fail("scan conversation", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list conversations", err)
	}
	return conversations, nil
}

// ListMessages returns every message of a conversation in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
	SELECT id, conversation_id, role, content, parts, create_time, parent, children, author_name, created_at, updated_at
	FROM messages
	WHERE conversation_id = $1
	ORDER BY create_time ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, s.fail("list messages", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var childrenRaw sql.NullString
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Parts,
			&msg.CreateTime, &msg.Parent, &childrenRaw, &msg.AuthorName,
			&msg.CreatedAt, &msg.UpdatedAt,
		); err != nil {
			return nil, s.fail("scan message", err)
		}
		children, err := decodeChildren(childrenRaw)
		if err != nil {
			return nil, s.fail("decode message children", err)
		}
		msg.Children = children
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list messages", err)
	}
	return messages, nil
}
