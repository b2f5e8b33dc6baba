package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"factorchain/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// EventMessage is one committed event as delivered over the websocket.
type EventMessage struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	filter := parseTypeFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func parseTypeFilter(raw string) map[string]struct{} {
	var filter map[string]struct{}
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if filter == nil {
			filter = make(map[string]struct{})
		}
		filter[trimmed] = struct{}{}
	}
	return filter
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string, filter map[string]struct{}) error {
	updates, cancel, backlog := s.node.Events().Subscribe(ctx, cursor)
	defer cancel()

	for _, record := range backlog {
		if err := writeEventRecord(ctx, conn, record, filter); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case record, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventRecord(ctx, conn, record, filter); err != nil {
				return err
			}
		}
	}
}

func writeEventRecord(ctx context.Context, conn *websocket.Conn, record events.Record, filter map[string]struct{}) error {
	if record.Event == nil {
		return nil
	}
	if filter != nil {
		if _, ok := filter[record.Event.Type]; !ok {
			return nil
		}
	}
	data, err := json.Marshal(EventMessage{
		Sequence:   record.Sequence,
		Cursor:     record.Cursor,
		Type:       record.Event.Type,
		Attributes: record.Event.Attributes,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
