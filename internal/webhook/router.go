package webhook

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/convosync/pkg/models"
)

// EventType is the closed set of webhook event tags. Unrecognized tags map
// to EventUnknown, which is an explicit variant rather than a failure.
type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventConversationUpdated EventType = "conversation.updated"
	EventMessageCreated      EventType = "message.created"
	EventMessageUpdated      EventType = "message.updated"
	EventUnknown             EventType = "unknown"
)

// ParseEventType maps a raw tag to the closed enumeration.
func ParseEventType(tag string) EventType {
	switch EventType(tag) {
	case EventConversationCreated, EventConversationUpdated, EventMessageCreated, EventMessageUpdated:
		return EventType(tag)
	}
	return EventUnknown
}

// InferEventType derives an event type for envelopes delivered without one.
func InferEventType(env *Envelope) EventType {
	if env.Message != nil {
		return EventMessageCreated
	}
	return EventConversationCreated
}

// Store is the persistence contract the router dispatches into. All three
// upserts are idempotent under redelivery.
type Store interface {
	UpsertProject(ctx context.Context, rec *ProjectRecord) (*models.Project, error)
	FindProjectByExternalID(ctx context.Context, externalID string) (*models.Project, error)
	UpsertConversation(ctx context.Context, rec *ConversationRecord, projectID *int64) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)
	UpsertMessage(ctx context.Context, rec *MessageRecord) (*models.Message, error)
	// UpsertMessageWithConversation writes both rows in one transaction so a
	// message-first delivery never leaves a dangling foreign key.
	UpsertMessageWithConversation(ctx context.Context, msg *MessageRecord, conv *ConversationRecord, projectID *int64) (*models.Conversation, *models.Message, error)
	SetConversationThreadID(ctx context.Context, conversationID, threadID string) error
}

// Mirror is the optional outbound integration that reflects persisted data
// into a third-party conversational API. Mirror failures never abort or roll
// back local persistence.
type Mirror interface {
	MirrorConversation(ctx context.Context, conv *models.Conversation) (threadID string, err error)
	MirrorMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) error
}

// Result is the routed outcome reported back to the webhook sender.
type Result struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	EventType      string `json:"eventType,omitempty"`
}

// Router composes validation output with the store and the optional mirror.
type Router struct {
	store  Store
	mirror Mirror
}

// NewRouter creates a router. mirror may be nil when the outbound
// integration is disabled.
func NewRouter(store Store, mirror Mirror) *Router {
	return &Router{store: store, mirror: mirror}
}

// Dispatch routes a validated envelope to the matching handler. Unknown
// event types are accepted and flagged ignored so upstream additions never
// fail delivery.
func (r *Router) Dispatch(ctx context.Context, event EventType, env *Envelope) (*Result, error) {
	switch event {
	case EventConversationCreated, EventConversationUpdated:
		return r.handleConversation(ctx, event, env)
	case EventMessageCreated, EventMessageUpdated:
		return r.handleMessage(ctx, event, env)
	default:
		log.Info().Str("event_type", string(event)).Msg("ignoring unknown webhook event type")
		return &Result{Status: "ignored"}, nil
	}
}

func (r *Router) handleConversation(ctx context.Context, event EventType, env *Envelope) (*Result, error) {
	if env.Conversation == nil {
		return nil, ValidationErrors{{Field: "conversation", Message: "conversation object is required for " + string(event)}}
	}

	projectID, err := r.resolveProject(ctx, env.Project, env.Conversation.ProjectID)
	if err != nil {
		return nil, err
	}

	conv, err := r.store.UpsertConversation(ctx, env.Conversation, projectID)
	if err != nil {
		return nil, err
	}

	r.mirrorConversation(ctx, conv)

	status := "conversation_created"
	if event == EventConversationUpdated {
		status = "conversation_updated"
	}
	return &Result{Status: status, ConversationID: conv.ConversationID}, nil
}

func (r *Router) handleMessage(ctx context.Context, event EventType, env *Envelope) (*Result, error) {
	if env.Message == nil {
		return nil, ValidationErrors{{Field: "message", Message: "message object is required for " + string(event)}}
	}
	msg := env.Message

	var projectID *int64
	var embedded *ConversationRecord
	if env.Conversation != nil {
		embedded = env.Conversation
		var err error
		projectID, err = r.resolveProject(ctx, env.Project, env.Conversation.ProjectID)
		if err != nil {
			return nil, err
		}
	}

	conv, err := r.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	var stored *models.Message
	if conv == nil {
		// Message arrived before its conversation. Synthesize one from the
		// embedded sub-object, or a stub from the message itself, inside the
		// same transaction as the message insert.
		synth := embedded
		if synth == nil {
			synth = &ConversationRecord{
				ID:         msg.ConversationID,
				Model:      DefaultModel,
				CreateTime: msg.CreateTime,
				UpdateTime: msg.CreateTime,
			}
		}
		conv, stored, err = r.store.UpsertMessageWithConversation(ctx, msg, synth, projectID)
	} else {
		if embedded != nil {
			conv, err = r.store.UpsertConversation(ctx, embedded, projectID)
			if err != nil {
				return nil, err
			}
		}
		stored, err = r.store.UpsertMessage(ctx, msg)
	}
	if err != nil {
		return nil, err
	}

	conv = r.mirrorConversation(ctx, conv)
	r.mirrorMessage(ctx, conv, stored)

	status := "message_created"
	if event == EventMessageUpdated {
		status = "message_updated"
	}
	return &Result{Status: status, MessageID: stored.ID}, nil
}

// resolveProject turns the project sub-object (or the conversation's external
// project id) into a projects row id for linkage. A missing project is not an
// error; the conversation is simply stored unlinked.
func (r *Router) resolveProject(ctx context.Context, rec *ProjectRecord, externalID *string) (*int64, error) {
	if rec != nil {
		project, err := r.store.UpsertProject(ctx, rec)
		if err != nil {
			return nil, err
		}
		return &project.ID, nil
	}
	if externalID != nil {
		project, err := r.store.FindProjectByExternalID(ctx, *externalID)
		if err != nil {
			return nil, err
		}
		if project != nil {
			return &project.ID, nil
		}
	}
	return nil, nil
}

// mirrorConversation reflects the conversation into the outbound API and
// records the thread id on first success. Errors are logged and swallowed.
func (r *Router) mirrorConversation(ctx context.Context, conv *models.Conversation) *models.Conversation {
	if r.mirror == nil || conv == nil || conv.OpenAIThreadID != nil {
		return conv
	}
	threadID, err := r.mirror.MirrorConversation(ctx, conv)
	if err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conv.ConversationID).
			Msg("upstream integration failure: conversation mirror skipped")
		return conv
	}
	if err := r.store.SetConversationThreadID(ctx, conv.ConversationID, threadID); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conv.ConversationID).
			Msg("failed to record mirrored thread id")
		return conv
	}
	conv.OpenAIThreadID = &threadID
	return conv
}

func (r *Router) mirrorMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	if r.mirror == nil || conv == nil || msg == nil || conv.OpenAIThreadID == nil {
		return
	}
	if err := r.mirror.MirrorMessage(ctx, conv, msg); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conv.ConversationID).
			Str("message_id", msg.ID).
			Msg("upstream integration failure: message mirror skipped")
	}
}
