package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convosync/pkg/models"
)

// fakeStore is an in-memory Store used to exercise routing decisions.
type fakeStore struct {
	projects      map[string]*models.Project
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message

	nextProjectID int64
	txWrites      int
	failWith      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:      map[string]*models.Project{},
		conversations: map[string]*models.Conversation{},
		messages:      map[string]*models.Message{},
	}
}

func (f *fakeStore) UpsertProject(_ context.Context, rec *ProjectRecord) (*models.Project, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if existing, ok := f.projects[rec.Name]; ok {
		existing.Description = rec.Description
		existing.ChatGPTProjectID = rec.ChatGPTProjectID
		return existing, nil
	}
	f.nextProjectID++
	project := &models.Project{
		ID:               f.nextProjectID,
		Name:             rec.Name,
		Description:      rec.Description,
		IsStarred:        rec.IsStarred,
		ChatGPTProjectID: rec.ChatGPTProjectID,
	}
	f.projects[rec.Name] = project
	return project, nil
}

func (f *fakeStore) FindProjectByExternalID(_ context.Context, externalID string) (*models.Project, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, p := range f.projects {
		if p.ChatGPTProjectID != nil && *p.ChatGPTProjectID == externalID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) applyConversation(rec *ConversationRecord, projectID *int64) *models.Conversation {
	if existing, ok := f.conversations[rec.ID]; ok {
		existing.Title = rec.Title
		existing.Model = rec.Model
		existing.UpdateTime = rec.UpdateTime
		if projectID != nil {
			existing.ProjectID = projectID
		}
		if rec.OpenAIThreadID != nil {
			existing.OpenAIThreadID = rec.OpenAIThreadID
		}
		return existing
	}
	conv := &models.Conversation{
		ConversationID: rec.ID,
		Title:          rec.Title,
		Model:          rec.Model,
		CreateTime:     rec.CreateTime,
		UpdateTime:     rec.UpdateTime,
		ProjectID:      projectID,
		OpenAIThreadID: rec.OpenAIThreadID,
	}
	f.conversations[rec.ID] = conv
	return conv
}

func (f *fakeStore) applyMessage(rec *MessageRecord) *models.Message {
	msg := &models.Message{
		ID:             rec.ID,
		ConversationID: rec.ConversationID,
		Role:           rec.Role,
		Content:        rec.Content,
		Parts:          rec.Parts,
		CreateTime:     rec.CreateTime,
		Parent:         rec.Parent,
		Children:       rec.Children,
		AuthorName:     rec.AuthorName,
	}
	f.messages[rec.ID] = msg
	return msg
}

func (f *fakeStore) UpsertConversation(_ context.Context, rec *ConversationRecord, projectID *int64) (*models.Conversation, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.applyConversation(rec, projectID), nil
}

func (f *fakeStore) GetConversation(_ context.Context, conversationID string) (*models.Conversation, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.conversations[conversationID], nil
}

func (f *fakeStore) UpsertMessage(_ context.Context, rec *MessageRecord) (*models.Message, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.applyMessage(rec), nil
}

func (f *fakeStore) UpsertMessageWithConversation(_ context.Context, msg *MessageRecord, conv *ConversationRecord, projectID *int64) (*models.Conversation, *models.Message, error) {
	if f.failWith != nil {
		return nil, nil, f.failWith
	}
	f.txWrites++
	return f.applyConversation(conv, projectID), f.applyMessage(msg), nil
}

func (f *fakeStore) SetConversationThreadID(_ context.Context, conversationID, threadID string) error {
	if f.failWith != nil {
		return f.failWith
	}
	if conv, ok := f.conversations[conversationID]; ok {
		conv.OpenAIThreadID = &threadID
	}
	return nil
}

type fakeMirror struct {
	threadID     string
	convErr      error
	msgErr       error
	convCalls    int
	messageCalls int
}

func (m *fakeMirror) MirrorConversation(context.Context, *models.Conversation) (string, error) {
	m.convCalls++
	return m.threadID, m.convErr
}

func (m *fakeMirror) MirrorMessage(context.Context, *models.Conversation, *models.Message) error {
	m.messageCalls++
	return m.msgErr
}

func convRecord(id string) *ConversationRecord {
	return &ConversationRecord{
		ID:         id,
		Title:      "T",
		Model:      DefaultModel,
		CreateTime: time.Unix(1700000000, 0).UTC(),
		UpdateTime: time.Unix(1700000000, 0).UTC(),
	}
}

func msgRecord(id, convID string) *MessageRecord {
	return &MessageRecord{
		ID:             id,
		ConversationID: convID,
		Role:           models.RoleUser,
		Content:        "hi",
		CreateTime:     time.Unix(1700000000, 0).UTC(),
	}
}

func TestRouterDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown event is ignored without writes", func(t *testing.T) {
		st := newFakeStore()
		r := NewRouter(st, nil)

		result, err := r.Dispatch(ctx, ParseEventType("something.else"), &Envelope{Conversation: convRecord("c1")})
		require.NoError(t, err)
		assert.Equal(t, "ignored", result.Status)
		assert.Empty(t, st.conversations)
		assert.Empty(t, st.messages)
	})

	t.Run("conversation created", func(t *testing.T) {
		st := newFakeStore()
		r := NewRouter(st, nil)

		result, err := r.Dispatch(ctx, EventConversationCreated, &Envelope{Conversation: convRecord("c1")})
		require.NoError(t, err)
		assert.Equal(t, "conversation_created", result.Status)
		assert.Equal(t, "c1", result.ConversationID)
		assert.Contains(t, st.conversations, "c1")
	})

	t.Run("conversation links embedded project", func(t *testing.T) {
		st := newFakeStore()
		r := NewRouter(st, nil)

		env := &Envelope{
			Conversation: convRecord("c1"),
			Project:      &ProjectRecord{Name: "Research"},
		}
		_, err := r.Dispatch(ctx, EventConversationCreated, env)
		require.NoError(t, err)
		require.Contains(t, st.projects, "Research")
		require.NotNil(t, st.conversations["c1"].ProjectID)
		assert.Equal(t, st.projects["Research"].ID, *st.conversations["c1"].ProjectID)
	})

	t.Run("message-first delivery synthesizes the conversation transactionally", func(t *testing.T) {
		st := newFakeStore()
		r := NewRouter(st, nil)

		env := &Envelope{
			Message:      msgRecord("m1", "c1"),
			Conversation: convRecord("c1"),
		}
		result, err := r.Dispatch(ctx, EventMessageCreated, env)
		require.NoError(t, err)
		assert.Equal(t, "message_created", result.Status)
		assert.Equal(t, "m1", result.MessageID)
		assert.Equal(t, 1, st.txWrites)

		require.Contains(t, st.conversations, "c1")
		assert.Equal(t, "T", st.conversations["c1"].Title)
		require.Contains(t, st.messages, "m1")
		assert.Equal(t, "c1", st.messages["m1"].ConversationID)
	})

	t.Run("message without embedded conversation gets a stub", func(t *testing.T) {
		st := newFakeStore()
		r := NewRouter(st, nil)

		_, err := r.Dispatch(ctx, EventMessageCreated, &Envelope{Message: msgRecord("m1", "c9")})
		require.NoError(t, err)
		require.Contains(t, st.conversations, "c9")
		assert.Equal(t, DefaultModel, st.conversations["c9"].Model)
		assert.Equal(t, st.messages["m1"].CreateTime, st.conversations["c9"].CreateTime)
	})

	t.Run("message for existing conversation skips the transaction", func(t *testing.T) {
		st := newFakeStore()
		r := NewRouter(st, nil)

		_, err := r.Dispatch(ctx, EventConversationCreated, &Envelope{Conversation: convRecord("c1")})
		require.NoError(t, err)

		_, err = r.Dispatch(ctx, EventMessageCreated, &Envelope{Message: msgRecord("m1", "c1")})
		require.NoError(t, err)
		assert.Equal(t, 0, st.txWrites)
		assert.Contains(t, st.messages, "m1")
	})

	t.Run("storage failure propagates", func(t *testing.T) {
		st := newFakeStore()
		st.failWith = errors.New("connection refused")
		r := NewRouter(st, nil)

		_, err := r.Dispatch(ctx, EventConversationCreated, &Envelope{Conversation: convRecord("c1")})
		assert.Error(t, err)
	})

	t.Run("conversation event without conversation is a validation error", func(t *testing.T) {
		st := newFakeStore()
		r := NewRouter(st, nil)

		_, err := r.Dispatch(ctx, EventConversationCreated, &Envelope{Message: msgRecord("m1", "c1")})
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
	})
}

func TestRouterMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("records thread id after mirroring", func(t *testing.T) {
		st := newFakeStore()
		mirror := &fakeMirror{threadID: "thread-1"}
		r := NewRouter(st, mirror)

		_, err := r.Dispatch(ctx, EventConversationCreated, &Envelope{Conversation: convRecord("c1")})
		require.NoError(t, err)
		require.NotNil(t, st.conversations["c1"].OpenAIThreadID)
		assert.Equal(t, "thread-1", *st.conversations["c1"].OpenAIThreadID)
	})

	t.Run("mirror failure never fails the request", func(t *testing.T) {
		st := newFakeStore()
		mirror := &fakeMirror{convErr: errors.New("rate limited")}
		r := NewRouter(st, mirror)

		result, err := r.Dispatch(ctx, EventConversationCreated, &Envelope{Conversation: convRecord("c1")})
		require.NoError(t, err)
		assert.Equal(t, "conversation_created", result.Status)
		assert.Nil(t, st.conversations["c1"].OpenAIThreadID)
	})

	t.Run("already mirrored conversations are not mirrored again", func(t *testing.T) {
		st := newFakeStore()
		mirror := &fakeMirror{threadID: "thread-1"}
		r := NewRouter(st, mirror)

		_, err := r.Dispatch(ctx, EventConversationCreated, &Envelope{Conversation: convRecord("c1")})
		require.NoError(t, err)
		_, err = r.Dispatch(ctx, EventConversationUpdated, &Envelope{Conversation: convRecord("c1")})
		require.NoError(t, err)
		assert.Equal(t, 1, mirror.convCalls)
	})

	t.Run("messages mirror into the recorded thread", func(t *testing.T) {
		st := newFakeStore()
		mirror := &fakeMirror{threadID: "thread-1"}
		r := NewRouter(st, mirror)

		_, err := r.Dispatch(ctx, EventMessageCreated, &Envelope{
			Message:      msgRecord("m1", "c1"),
			Conversation: convRecord("c1"),
		})
		require.NoError(t, err)
		assert.Equal(t, 1, mirror.messageCalls)
	})
}
