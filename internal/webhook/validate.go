package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/convosync/pkg/models"
)

// DefaultModel is assumed when a conversation payload omits the model field.
const DefaultModel = "gpt-4"

// timestampSanityWindow flags timestamps more than a year away from now.
// Out-of-window values are logged, never rejected.
const timestampSanityWindow = 365 * 24 * time.Hour

// FieldError describes a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates field-level errors for one payload.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "invalid payload"
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// ConversationRecord is a validated, normalized conversation payload.
// Timestamps arrive as epoch seconds and are converted exactly once here.
type ConversationRecord struct {
	ID             string
	Title          string
	Model          string
	CreateTime     time.Time
	UpdateTime     time.Time
	ProjectID      *string
	OpenAIThreadID *string
}

// MessageRecord is a validated, normalized message payload. Content has
// already been resolved from its wire shape (string, object, or array) into
// text; Structured records which side of that union it came from.
type MessageRecord struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Structured     bool
	Parts          *string
	CreateTime     time.Time
	Parent         *string
	Children       []string
	AuthorName     *string
}

// ProjectRecord is a validated, normalized project payload.
type ProjectRecord struct {
	Name             string
	Description      *string
	IsStarred        bool
	ChatGPTProjectID *string
}

// Envelope is the validated top-level webhook body. Conversation is required
// unless a message is present; everything else is optional.
type Envelope struct {
	EventType    string
	Timestamp    *float64
	Conversation *ConversationRecord
	Message      *MessageRecord
	Project      *ProjectRecord
}

// ParseEnvelope decodes raw webhook bytes into a generic object. Unknown
// fields are tolerated and preserved by the map representation.
func ParseEnvelope(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	return raw, nil
}

// ValidateEnvelope checks the envelope and each present sub-object against
// its schema. It returns either a fully normalized envelope or the complete
// list of field errors; it never returns a partially usable envelope.
func ValidateEnvelope(raw map[string]any) (*Envelope, ValidationErrors) {
	var errs ValidationErrors
	env := &Envelope{}

	if v, ok := raw["event_type"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			errs = append(errs, FieldError{Field: "event_type", Message: "must be a string"})
		} else {
			env.EventType = s
		}
	}

	if v, ok := raw["timestamp"]; ok && v != nil {
		n, ok := v.(float64)
		if !ok {
			errs = append(errs, FieldError{Field: "timestamp", Message: "must be numeric"})
		} else {
			checkTimestampSanity("timestamp", n)
			env.Timestamp = &n
		}
	}

	convRaw, hasConv := objectField(raw, "conversation", "conversation", &errs)
	msgRaw, hasMsg := objectField(raw, "message", "message", &errs)
	projRaw, hasProj := objectField(raw, "project", "project", &errs)

	if !hasConv && !hasMsg {
		errs = append(errs, FieldError{Field: "conversation", Message: "conversation object is required when no message is present"})
	}

	if hasConv {
		rec, convErrs := ValidateConversation(convRaw)
		errs = append(errs, convErrs...)
		env.Conversation = rec
	}
	if hasMsg {
		rec, msgErrs := ValidateMessage(msgRaw)
		errs = append(errs, msgErrs...)
		env.Message = rec
	}
	if hasProj {
		rec, projErrs := ValidateProject(projRaw)
		errs = append(errs, projErrs...)
		env.Project = rec
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return env, nil
}

// ValidateConversation checks a conversation object against its schema.
func ValidateConversation(raw map[string]any) (*ConversationRecord, ValidationErrors) {
	var errs ValidationErrors
	rec := &ConversationRecord{Model: DefaultModel}

	rec.ID = requiredString(raw, "id", "conversation.id", &errs)
	rec.Title = optionalString(raw, "title", "conversation.title", &errs)
	if model := optionalString(raw, "model", "conversation.model", &errs); model != "" {
		rec.Model = model
	}
	rec.CreateTime = requiredEpoch(raw, "create_time", "conversation.create_time", &errs)
	rec.UpdateTime = requiredEpoch(raw, "update_time", "conversation.update_time", &errs)
	rec.ProjectID = nullableString(raw, "project_id", "conversation.project_id", &errs)
	rec.OpenAIThreadID = nullableString(raw, "openai_thread_id", "conversation.openai_thread_id", &errs)

	if len(errs) > 0 {
		return nil, errs
	}
	return rec, nil
}

// ValidateMessage checks a message object against its schema and resolves
// the content union into normalized text.
func ValidateMessage(raw map[string]any) (*MessageRecord, ValidationErrors) {
	var errs ValidationErrors
	rec := &MessageRecord{}

	rec.ID = requiredString(raw, "id", "message.id", &errs)
	rec.ConversationID = requiredString(raw, "conversation_id", "message.conversation_id", &errs)

	role := requiredString(raw, "role", "message.role", &errs)
	if role != "" && !models.ValidRole(role) {
		errs = append(errs, FieldError{Field: "message.role", Message: "must be one of user, assistant, system, tool"})
	}
	rec.Role = role

	if v, ok := raw["content"]; ok && v != nil {
		text, structured, err := resolveContent(v)
		if err != nil {
			errs = append(errs, FieldError{Field: "message.content", Message: err.Error()})
		} else {
			rec.Content = NormalizeContent(text)
			rec.Structured = structured
		}
	}
	if rec.Content == "" {
		errs = append(errs, FieldError{Field: "message.content", Message: "must be non-empty"})
	}

	if v, ok := raw["parts"]; ok && v != nil {
		text, _, err := resolveContent(v)
		if err != nil {
			errs = append(errs, FieldError{Field: "message.parts", Message: err.Error()})
		} else {
			rec.Parts = &text
		}
	}

	rec.CreateTime = requiredEpoch(raw, "create_time", "message.create_time", &errs)
	rec.Parent = nullableString(raw, "parent", "message.parent", &errs)

	if v, ok := raw["children"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			errs = append(errs, FieldError{Field: "message.children", Message: "must be an array of strings or null"})
		} else {
			for i, item := range list {
				s, ok := item.(string)
				if !ok {
					errs = append(errs, FieldError{Field: fmt.Sprintf("message.children[%d]", i), Message: "must be a string"})
					continue
				}
				rec.Children = append(rec.Children, s)
			}
		}
	}

	if v, ok := raw["author"]; ok && v != nil {
		author, ok := v.(map[string]any)
		if !ok {
			errs = append(errs, FieldError{Field: "message.author", Message: "must be an object or null"})
		} else if name, ok := author["name"].(string); ok && name != "" {
			rec.AuthorName = &name
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rec, nil
}

// ValidateProject checks a project object against its schema.
func ValidateProject(raw map[string]any) (*ProjectRecord, ValidationErrors) {
	var errs ValidationErrors
	rec := &ProjectRecord{}

	rec.Name = requiredString(raw, "name", "project.name", &errs)
	rec.Description = nullableString(raw, "description", "project.description", &errs)
	rec.ChatGPTProjectID = nullableString(raw, "chatgpt_project_id", "project.chatgpt_project_id", &errs)

	if v, ok := raw["is_starred"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			errs = append(errs, FieldError{Field: "project.is_starred", Message: "must be a boolean"})
		} else {
			rec.IsStarred = b
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rec, nil
}

// resolveContent collapses the content union (string | object | array) into
// text. Objects and arrays are serialized as compact JSON.
func resolveContent(v any) (text string, structured bool, err error) {
	switch typed := v.(type) {
	case string:
		return typed, false, nil
	case map[string]any, []any:
		raw, merr := json.Marshal(typed)
		if merr != nil {
			return "", false, fmt.Errorf("cannot serialize structured content")
		}
		return string(raw), true, nil
	default:
		return "", false, fmt.Errorf("must be a string, object, or array")
	}
}

func objectField(raw map[string]any, key, field string, errs *ValidationErrors) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		*errs = append(*errs, FieldError{Field: field, Message: "must be an object"})
		return nil, false
	}
	return obj, true
}

func requiredString(raw map[string]any, key, field string, errs *ValidationErrors) string {
	v, ok := raw[key]
	if !ok || v == nil {
		*errs = append(*errs, FieldError{Field: field, Message: "is required"})
		return ""
	}
	s, ok := v.(string)
	if !ok {
		*errs = append(*errs, FieldError{Field: field, Message: "must be a string"})
		return ""
	}
	if strings.TrimSpace(s) == "" {
		*errs = append(*errs, FieldError{Field: field, Message: "is required"})
		return ""
	}
	return s
}

func optionalString(raw map[string]any, key, field string, errs *ValidationErrors) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		*errs = append(*errs, FieldError{Field: field, Message: "must be a string"})
		return ""
	}
	return s
}

func nullableString(raw map[string]any, key, field string, errs *ValidationErrors) *string {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		*errs = append(*errs, FieldError{Field: field, Message: "must be a string or null"})
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

func requiredEpoch(raw map[string]any, key, field string, errs *ValidationErrors) time.Time {
	v, ok := raw[key]
	if !ok || v == nil {
		*errs = append(*errs, FieldError{Field: field, Message: "is required"})
		return time.Time{}
	}
	n, ok := v.(float64)
	if !ok {
		*errs = append(*errs, FieldError{Field: field, Message: "must be numeric"})
		return time.Time{}
	}
	checkTimestampSanity(field, n)
	sec := int64(n)
	nsec := int64((n - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// checkTimestampSanity logs timestamps far outside the expected range.
// Stale exports are still ingested.
func checkTimestampSanity(field string, epoch float64) {
	ts := time.Unix(int64(epoch), 0)
	drift := time.Since(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > timestampSanityWindow {
		log.Warn().
			Str("field", field).
			Time("value", ts).
			Msg("timestamp is more than a year away from now")
	}
}
