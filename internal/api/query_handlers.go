package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/convosync/internal/webhook"
)

// handleListConversations returns stored conversations, optionally filtered
// by a search term. Search terms go through the same normalization as
// message content and must survive it.
func (s *Server) handleListConversations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	search := ""
	if q := c.QueryParam("q"); q != "" {
		normalized, ok := webhook.SearchNormalize(q)
		if !ok {
			return s.invalidPayload(c, webhook.ValidationErrors{
				{Field: "q", Message: "search term must be at least 4 characters"},
			})
		}
		search = normalized
	}

	conversations, err := s.store.ListConversations(c.Request().Context(), search, limit)
	if err != nil {
		return s.dispatchError(c, "list-conversations", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"conversations": conversations,
		"count":         len(conversations),
	})
}

// handleListMessages returns every message of one conversation.
func (s *Server) handleListMessages(c echo.Context) error {
	conversationID := c.Param("id")

	conv, err := s.store.GetConversation(c.Request().Context(), conversationID)
	if err != nil {
		return s.dispatchError(c, "list-messages", err)
	}
	if conv == nil {
		return s.routeNotFound(c)
	}

	messages, err := s.store.ListMessages(c.Request().Context(), conversationID)
	if err != nil {
		return s.dispatchError(c, "list-messages", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     messages,
		"count":        len(messages),
	})
}
