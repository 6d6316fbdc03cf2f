package models

import (
	"time"
)

// Project groups conversations under a human-assigned name. Projects are
// created lazily on first reference from an incoming conversation payload and
// are never deleted by the sync pipeline.
type Project struct {
	ID               int64     `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Description      *string   `json:"description,omitempty" db:"description"`
	IsStarred        bool      `json:"is_starred" db:"is_starred"`
	ChatGPTProjectID *string   `json:"chatgpt_project_id,omitempty" db:"chatgpt_project_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Conversation mirrors one ChatGPT conversation. ConversationID is the
// externally issued identity key; re-delivery with the same id updates the
// row in place instead of duplicating it.
type Conversation struct {
	ID             int64     `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Title          string    `json:"title" db:"title"`
	Model          string    `json:"model" db:"model"`
	CreateTime     time.Time `json:"create_time" db:"create_time"`
	UpdateTime     time.Time `json:"update_time" db:"update_time"`
	ProjectID      *int64    `json:"project_id,omitempty" db:"project_id"`
	OpenAIThreadID *string   `json:"openai_thread_id,omitempty" db:"openai_thread_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Message roles accepted by the pipeline.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one message inside a conversation. Parent/Children form a tree
// within the owning conversation.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Role           string    `json:"role" db:"role"`
	Content        string    `json:"content" db:"content"`
	Parts          *string   `json:"parts,omitempty" db:"parts"`
	CreateTime     time.Time `json:"create_time" db:"create_time"`
	Parent         *string   `json:"parent,omitempty" db:"parent"`
	Children       []string  `json:"children,omitempty" db:"children"`
	AuthorName     *string   `json:"author_name,omitempty" db:"author_name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// ValidRole reports whether role is one of the closed role set.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}
