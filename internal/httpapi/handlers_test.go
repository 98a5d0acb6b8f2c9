package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-sre/argus/internal/agentsdk"
	"github.com/argus-sre/argus/internal/agentsdk/fake"
	"github.com/argus-sre/argus/internal/config"
	"github.com/argus-sre/argus/internal/persistence/memory"
	"github.com/argus-sre/argus/internal/session"
	"github.com/argus-sre/argus/internal/sessionstore"
)

func testServer() *Server {
	cfg := &config.Config{
		Scenarios: map[string]config.ScenarioConfig{
			"k8s-crashloop": {Name: "k8s-crashloop", OrchestratorAgentID: "orchestrator"},
		},
		Runtime: config.Runtime{MaxRetries: 1, SubscriberQueueCap: 8},
	}
	store := sessionstore.New(memory.New(), 0)
	newRuntime := func(config.ScenarioConfig) (agentsdk.Runtime, error) {
		return &fake.Runtime{FinalMessage: "done"}, nil
	}
	return New(cfg, store, newRuntime)
}

func TestCreateSessionHandlerRejectsUnknownScenario(t *testing.T) {
	s := testServer()
	body, _ := json.Marshal(createSessionRequest{AlertText: "pod down", Scenario: "does-not-exist"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	err := s.createSessionHandler(c)
	require.Error(t, err)

	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestCreateSessionHandlerAcceptsKnownScenario(t *testing.T) {
	s := testServer()
	body, _ := json.Marshal(createSessionRequest{AlertText: "pod down", Scenario: "k8s-crashloop"})
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.createSessionHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, string(session.StatusPending), resp.Status)

	// spec.md §4.2 point 2: creating a session must not launch its worker.
	time.Sleep(20 * time.Millisecond)
	live, ok := s.store.GetLive(resp.SessionID)
	require.True(t, ok)
	assert.Equal(t, session.StatusPending, live.Status(), "an unattended session must stay pending, not run unattended")
}

func TestStartSessionHandlerLaunchesWorker(t *testing.T) {
	s := testServer()
	liveRec, err := s.store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+liveRec.ID+"/start", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(liveRec.ID)

	require.NoError(t, s.startSessionHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	deadline := time.After(time.Second)
	for liveRec.Status() == session.StatusPending {
		select {
		case <-deadline:
			t.Fatal("explicit start never launched the worker")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestGetSessionHandlerNotFound(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/nope", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := s.getSessionHandler(c)
	require.Error(t, err)
	httpErr := err.(*echo.HTTPError)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestCancelSessionHandlerRejectsAlreadyTerminal(t *testing.T) {
	s := testServer()
	rec, err := s.store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)

	// Force a terminal status without retiring, to exercise the conflict path.
	rec.SetStatus(session.StatusCompleted)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+rec.ID+"/cancel", nil)
	w := httptest.NewRecorder()
	c := s.echo.NewContext(req, w)
	c.SetParamNames("id")
	c.SetParamValues(rec.ID)

	err = s.cancelSessionHandler(c)
	require.Error(t, err)
	httpErr := err.(*echo.HTTPError)
	assert.Equal(t, http.StatusConflict, httpErr.Code)
}

func TestListSessionsHandlerReturnsEmptyArray(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.listSessionsHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestHealthHandlerReportsSessionsProcessed(t *testing.T) {
	s := testServer()
	liveRec, err := s.store.Create("pod down", "k8s-crashloop", "orchestrator", nil)
	require.NoError(t, err)
	liveRec.SetStatus(session.StatusCompleted)
	require.NoError(t, s.store.Retire(t.Context(), liveRec.ID))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)

	require.NoError(t, s.healthHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["live_sessions"])
	assert.EqualValues(t, 1, body["sessions_processed"])
	assert.NotEmpty(t, body["last_activity"])
}
