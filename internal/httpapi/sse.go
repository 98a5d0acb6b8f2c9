package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/argus-sre/argus/internal/broadcast"
	"github.com/argus-sre/argus/internal/session"
)

// streamHandler serves GET /v1/sessions/:id/stream: replay-then-tail SSE
// (spec.md §4.5). A client reconnecting with Last-Event-ID resumes from
// that sequence number instead of re-reading the whole history.
func (s *Server) streamHandler(c *echo.Context) error {
	id := c.Param("id")
	rec, err := s.store.Get(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}

	fromSeq := lastEventID(c)

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher := resp

	live, ok := s.store.GetLive(id)
	if !ok {
		// Terminal, replayed-from-storage session: emit history and close,
		// no live tail.
		for _, ev := range rec.HistorySince(fromSeq) {
			if err := writeSSE(flusher, ev); err != nil {
				return nil
			}
		}
		return nil
	}

	// spec.md §4.2 point 2: a stream connection is one of the two events
	// that launches the worker. ensureWorkerStarted is idempotent, so this
	// is safe whether or not an earlier subscriber (or an explicit start
	// call) already launched it.
	if err := s.ensureWorkerStarted(live); err != nil {
		return mapServiceError(err)
	}

	sub := broadcast.New(s.cfg.Runtime.SubscriberQueueCap)
	replay, isLive := live.AddSubscriber(sub, fromSeq)
	for _, ev := range replay {
		if err := writeSSE(flusher, ev); err != nil {
			live.RemoveSubscriber(sub.ID())
			return nil
		}
	}
	if !isLive {
		return nil
	}
	defer live.RemoveSubscriber(sub.ID())

	keepalive := s.cfg.Runtime.KeepaliveIntervalS
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := writeKeepalive(flusher); err != nil {
				return nil
			}
		case env, open := <-sub.Recv():
			if !open {
				return nil
			}
			if env.IsDropped() {
				// spec.md §4.5/§7: an evicted subscriber still gets a
				// final wire-level error event, not a silent close.
				_ = writeSSE(flusher, session.Event{
					Kind:    session.KindError,
					Payload: session.ErrorPayload("subscriber evicted due to slow consumer", false),
				})
				return nil
			}
			if env.IsTerminal() {
				return nil
			}
			if err := writeSSE(flusher, env.Event); err != nil {
				return nil
			}
		}
	}
}

func lastEventID(c *echo.Context) int64 {
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("last_event_id")
	}
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev session.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, body); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// writeKeepalive emits a bare SSE comment line, per spec.md §4.5: a comment
// keeps the connection alive without advancing the client's event cursor.
func writeKeepalive(w http.ResponseWriter) error {
	if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
