package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyStrict(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"evt_1"}`))
		body, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"evt_1"}`, string(body))
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		assert.ErrorIs(t, err, ErrEmptyBody)
	})

	t.Run("too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 2048)))
		_, err := ReadBodyStrict(httptest.NewRecorder(), req, 1024)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	SetSecurityHeaders(w)
	require.NoError(t, WriteJSON(w, http.StatusAccepted, map[string]string{"status": "ok"}))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
