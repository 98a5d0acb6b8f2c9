package httpapi

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-sre/argus/internal/sessionstore"
)

// createSessionRequest is the POST /v1/sessions body (spec.md §6).
type createSessionRequest struct {
	AlertText string `json:"alert_text"`
	Scenario  string `json:"scenario"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) createSessionHandler(c *echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return mapServiceError(&ValidationError{Msg: err.Error()})
	}
	if req.AlertText == "" {
		return mapServiceError(&ValidationError{Msg: "alert_text is required"})
	}
	scenario, ok := s.cfg.Scenarios[req.Scenario]
	if !ok {
		return mapServiceError(&ValidationError{Msg: "unknown scenario: " + req.Scenario})
	}

	rec, err := s.store.Create(req.AlertText, req.Scenario, scenario.OrchestratorAgentID, scenario.SubAgentIDs)
	if err != nil {
		return mapServiceError(err)
	}

	// The worker is deliberately not started here (spec.md §4.2 points 1-2):
	// it launches on the first subscriber's stream connection or an
	// explicit POST .../start, whichever comes first, so an unattended
	// session does not consume agent-runtime resources.
	return c.JSON(http.StatusAccepted, createSessionResponse{SessionID: rec.ID, Status: string(rec.Status())})
}

func (s *Server) startSessionHandler(c *echo.Context) error {
	rec, ok := s.store.GetLive(c.Param("id"))
	if !ok {
		return mapServiceError(sessionstore.ErrNotFound)
	}
	if err := s.ensureWorkerStarted(rec); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, createSessionResponse{SessionID: rec.ID, Status: string(rec.Status())})
}

func (s *Server) getSessionHandler(c *echo.Context) error {
	rec, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec.Snapshot())
}

func (s *Server) listSessionsHandler(c *echo.Context) error {
	scenario := c.QueryParam("scenario")
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	snaps, err := s.store.List(c.Request().Context(), scenario, limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": snaps})
}

func (s *Server) cancelSessionHandler(c *echo.Context) error {
	rec, ok := s.store.GetLive(c.Param("id"))
	if !ok {
		return mapServiceError(sessionstore.ErrNotFound)
	}
	if rec.Status().Terminal() {
		return mapServiceError(ErrConflict("session is already terminal"))
	}
	rec.Cancel()
	return c.NoContent(http.StatusAccepted)
}

type submitInputRequest struct {
	Text string `json:"text"`
}

func (s *Server) submitInputHandler(c *echo.Context) error {
	rec, ok := s.store.GetLive(c.Param("id"))
	if !ok {
		return mapServiceError(sessionstore.ErrNotFound)
	}
	var req submitInputRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return mapServiceError(&ValidationError{Msg: "text is required"})
	}
	if !rec.SubmitInput(req.Text) {
		return mapServiceError(ErrConflict("session is not awaiting input"))
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) deleteSessionHandler(c *echo.Context) error {
	if err := s.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func queryInt(c *echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
