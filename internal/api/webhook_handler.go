package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/convosync/internal/store"
	"github.com/convosync/internal/webhook"
)

// Webhook ingress headers.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

// handleWebhook runs the full ingestion pipeline for one delivery:
// verify -> validate -> route -> persist, strictly in that order.
func (s *Server) handleWebhook(c echo.Context) error {
	deliveryID := uuid.NewString()

	// The signature covers the exact bytes received; read them before any
	// decoding so whitespace and key ordering survive.
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	signature := c.Request().Header.Get(HeaderSignature)
	timestamp := c.Request().Header.Get(HeaderTimestamp)
	if err := s.verifier.Verify(signature, timestamp, body); err != nil {
		log.Warn().Err(err).Str("delivery_id", deliveryID).Msg("rejected webhook delivery")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": authErrorMessage(err),
		})
	}

	raw, err := webhook.ParseEnvelope(body)
	if err != nil {
		return s.invalidPayload(c, webhook.ValidationErrors{
			{Field: "body", Message: "must be a JSON object"},
		})
	}

	env, verrs := webhook.ValidateEnvelope(raw)
	if verrs != nil {
		return s.invalidPayload(c, verrs)
	}

	eventType := s.resolveEventType(c.Request().Header.Get(HeaderEvent), env)

	log.Info().
		Str("delivery_id", deliveryID).
		Str("event_type", string(eventType)).
		Msg("processing webhook delivery")

	result, err := s.router.Dispatch(c.Request().Context(), eventType, env)
	if err != nil {
		return s.dispatchError(c, deliveryID, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":    "success",
		"eventType": string(eventType),
		"result":    result,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// resolveEventType picks the event tag: the header wins, then the envelope's
// own event_type field, then inference from the payload shape.
func (s *Server) resolveEventType(header string, env *webhook.Envelope) webhook.EventType {
	if header != "" {
		return webhook.ParseEventType(header)
	}
	if env.EventType != "" {
		return webhook.ParseEventType(env.EventType)
	}
	return webhook.InferEventType(env)
}

func (s *Server) invalidPayload(c echo.Context, verrs webhook.ValidationErrors) error {
	return c.JSON(http.StatusBadRequest, map[string]any{
		"error":   "Invalid payload",
		"details": verrs,
	})
}

func (s *Server) dispatchError(c echo.Context, deliveryID string, err error) error {
	var verrs webhook.ValidationErrors
	if errors.As(err, &verrs) {
		return s.invalidPayload(c, verrs)
	}

	if errors.Is(err, store.ErrStorageUnavailable) {
		log.Error().Err(err).Str("delivery_id", deliveryID).Msg("storage failure during dispatch")
		resp := map[string]any{
			"error":     "Storage unavailable",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if !s.cfg.IsProduction() {
			resp["detail"] = err.Error()
		}
		return c.JSON(http.StatusServiceUnavailable, resp)
	}

	log.Error().Err(err).Str("delivery_id", deliveryID).Msg("webhook dispatch failed")
	resp := map[string]any{
		"error":     "Internal server error",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !s.cfg.IsProduction() {
		resp["detail"] = err.Error()
	}
	return c.JSON(http.StatusInternalServerError, resp)
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, webhook.ErrMissingCredential):
		return "Missing signature or timestamp"
	case errors.Is(err, webhook.ErrStaleRequest):
		return "Request too old"
	default:
		return "Invalid signature"
	}
}
