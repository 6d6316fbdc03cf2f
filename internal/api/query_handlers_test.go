package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListConversationsRejectsShortSearch(t *testing.T) {
	s := newTestServer(t, newMemStore())

	req := httptest.NewRequest(http.MethodGet, "/api/conversations?q=hi", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeBody(t, rec)["details"].([]any)
	require.NotEmpty(t, details)
	assert.Equal(t, "q", details[0].(map[string]any)["field"])
}
