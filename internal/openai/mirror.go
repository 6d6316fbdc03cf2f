package openai

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/convosync/pkg/models"
)

// ThreadMirror reflects locally persisted conversations and messages into
// OpenAI threads. It satisfies the router's Mirror contract; every error it
// returns is treated as an isolated upstream integration failure.
type ThreadMirror struct {
	client *Client
}

// NewThreadMirror creates a mirror over an API client.
func NewThreadMirror(client *Client) *ThreadMirror {
	return &ThreadMirror{client: client}
}

// MirrorConversation creates the remote thread for a conversation and
// returns its id. Called once per conversation; the thread id is then stored
// locally so redeliveries reuse it.
func (m *ThreadMirror) MirrorConversation(ctx context.Context, conv *models.Conversation) (string, error) {
	threadID, err := m.client.CreateThread(ctx, map[string]string{
		"conversation_id": conv.ConversationID,
		"title":           conv.Title,
		"model":           conv.Model,
	})
	if err != nil {
		return "", err
	}
	log.Info().
		Str("conversation_id", conv.ConversationID).
		Str("thread_id", threadID).
		Msg("mirrored conversation to thread")
	return threadID, nil
}

// MirrorMessage appends a message to the conversation's thread. The thread
// API only accepts user and assistant roles; system and tool messages are
// skipped rather than remapped.
func (m *ThreadMirror) MirrorMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) error {
	if conv.OpenAIThreadID == nil {
		return nil
	}
	if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
		log.Debug().
			Str("message_id", msg.ID).
			Str("role", msg.Role).
			Msg("skipping mirror for non-thread role")
		return nil
	}
	return m.client.AddMessage(ctx, *conv.OpenAIThreadID, msg.Role, msg.Content)
}
