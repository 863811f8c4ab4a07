package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchparty/internal/apperr"
)

func TestError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"not host", apperr.New(apperr.KindForbidden, "not_host", "You are not the host"), http.StatusForbidden, "not_host", "You are not the host"},
		{"wrapped not found", fmt.Errorf("join: %w", apperr.New(apperr.KindNotFound, "session_not_found", "session not found")), http.StatusNotFound, "session_not_found", "session not found"},
		{"invalid seek", apperr.New(apperr.KindInvalidArgument, "invalid_seek", "bad"), http.StatusBadRequest, "invalid_seek", "bad"},
		{"conflict", apperr.New(apperr.KindConflict, "session_ended", "ended"), http.StatusConflict, "session_ended", "ended"},
		{"unavailable", apperr.New(apperr.KindUnavailable, "storage_unavailable", "down"), http.StatusServiceUnavailable, "storage_unavailable", "down"},
		{"untyped", errors.New("pq: connection refused"), http.StatusInternalServerError, "", "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			Error(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantMsg, body.Error)
		})
	}
}
