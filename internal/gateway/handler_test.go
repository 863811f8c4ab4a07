package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchparty/internal/middleware"
	"github.com/aura-webinar/watchparty/internal/models"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	users := map[string]models.Requester{"alice": alice, "bob": bob, "carol": carol, "dave": dave}
	r := gin.New()
	api := r.Group("")
	api.Use(func(c *gin.Context) {
		u, ok := users[c.GetHeader("X-User")]
		if !ok {
			c.Next()
			return
		}
		c.Set(middleware.ContextUserID, u.UserID)
		c.Set(middleware.ContextUserRole, u.Role)
		c.Set(middleware.ContextRequester, u)
		c.Next()
	})
	NewHandler(f.gw).Routes(api)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func do(t *testing.T, r http.Handler, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestHandler_SessionFlow(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	settings := models.DefaultSessionSettings()
	settings.AllowParticipantControl = true
	code, env := do(t, r, http.MethodPost, "/sessions", "alice", CreateSessionRequest{VideoID: "v1", GroupID: "g1", Settings: &settings})
	require.Equal(t, http.StatusCreated, code)
	var created JoinResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	id := created.Session.ID
	require.NotEmpty(t, id)

	code, _ = do(t, r, http.MethodPost, "/sessions/"+id+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodPost, "/sessions/"+id+"/control", "bob", ControlRequest{Action: models.ActionPlay})
	assert.Equal(t, http.StatusForbidden, code)
	assert.NotEmpty(t, env.Code)

	code, _ = do(t, r, http.MethodPost, "/sessions/"+id+"/hand", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodPost, "/sessions/"+id+"/participants/bob/control", "alice", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodPost, "/sessions/"+id+"/control", "bob", ControlRequest{Action: models.ActionPlay})
	require.Equal(t, http.StatusOK, code)
	var ev models.ControlEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, uint64(1), ev.Sequence)

	code, env = do(t, r, http.MethodGet, "/sessions/"+id+"/events?after=0", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var events EventsResult
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events.Events, 1)
	assert.True(t, events.Complete)

	code, _ = do(t, r, http.MethodDelete, "/sessions/"+id+"/participants/bob/control", "alice", nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	code, _ := do(t, r, http.MethodGet, "/sessions", "bob", nil)
	assert.Equal(t, http.StatusForbidden, code, "listing is staff only")

	code, _ = do(t, r, http.MethodGet, "/sessions", "alice", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, http.MethodPost, "/sessions/missing/join", "bob", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, r, http.MethodPost, "/sessions", "alice", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code, "video_id is required")

	code, _ = do(t, r, http.MethodGet, "/sessions/x/events?after=abc", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodPost, "/sessions", "", map[string]string{"video_id": "v1"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHandler_Annotations(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	code, env := do(t, r, http.MethodPost, "/videos/v1/annotations", "bob", map[string]interface{}{
		"type": "note", "content": "see here", "time_code": 12.5, "visibility": "public",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var a models.Annotation
	require.NoError(t, json.Unmarshal(env.Data, &a))

	code, _ = do(t, r, http.MethodPost, "/annotations/"+a.ID+"/like", "carol", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodGet, "/videos/v1/annotations", "dave", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), a.ID)

	code, _ = do(t, r, http.MethodDelete, "/annotations/"+a.ID, "carol", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = do(t, r, http.MethodDelete, "/annotations/"+a.ID, "bob", nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHandler_Speed(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	code, env := do(t, r, http.MethodPut, "/videos/v1/speed", "bob", map[string]float64{"speed": 1.25})
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodGet, "/videos/v1/speed", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	var st SpeedState
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1.25, st.Applied)
	assert.False(t, st.Pending)
}
