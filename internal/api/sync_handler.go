package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/convosync/internal/webhook"
)

// manualSyncRequest is the administrative re-sync body: one entity at a
// time, validated against the same schemas as webhook deliveries.
type manualSyncRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// handleManualSync lets an operator push a conversation or message through
// the same validate -> route -> persist pipeline as the webhook ingress.
func (s *Server) handleManualSync(c echo.Context) error {
	var req manualSyncRequest
	if err := c.Bind(&req); err != nil {
		return s.invalidPayload(c, webhook.ValidationErrors{
			{Field: "body", Message: "must be a JSON object"},
		})
	}
	if req.Data == nil {
		return s.invalidPayload(c, webhook.ValidationErrors{
			{Field: "data", Message: "is required"},
		})
	}

	var env *webhook.Envelope
	var eventType webhook.EventType

	switch req.Type {
	case "conversation":
		rec, verrs := webhook.ValidateConversation(req.Data)
		if verrs != nil {
			return s.invalidPayload(c, verrs)
		}
		env = &webhook.Envelope{Conversation: rec}
		eventType = webhook.EventConversationUpdated
	case "message":
		rec, verrs := webhook.ValidateMessage(req.Data)
		if verrs != nil {
			return s.invalidPayload(c, verrs)
		}
		env = &webhook.Envelope{Message: rec}
		eventType = webhook.EventMessageUpdated
	default:
		return s.invalidPayload(c, webhook.ValidationErrors{
			{Field: "type", Message: "must be conversation or message"},
		})
	}

	log.Info().Str("type", req.Type).Msg("processing manual sync")

	result, err := s.router.Dispatch(c.Request().Context(), eventType, env)
	if err != nil {
		return s.dispatchError(c, "manual-sync", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":    "success",
		"eventType": string(eventType),
		"result":    result,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
