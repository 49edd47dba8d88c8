package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"paysettle/services/settled/journal"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamBuffer       = 256
	streamReplayPage   = 500
)

// StreamEvents handles GET /v1/events/stream. With ?after=<seq> it first
// replays journaled events past that sequence, then pushes each event as it
// commits. Without a cursor only new events are sent.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	cursor := int64(-1)
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		cursor = after
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor); err != nil {
		switch {
		case errors.Is(err, errSubscriberDropped):
			_ = conn.Close(websocket.StatusTryAgainLater, "stream fell behind; resume with after")
		case websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
			s.logger.Warn("event stream failed", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

var errSubscriberDropped = errors.New("event stream subscriber dropped")

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor int64) error {
	// Subscribe before replaying so nothing committed in between is missed;
	// duplicates are filtered by sequence.
	updates, cancel := s.journal.Subscribe(streamBuffer)
	defer cancel()

	last := cursor
	if cursor >= 0 {
		for {
			backlog, err := s.journal.List(ctx, journal.Filter{AfterSeq: last, Limit: streamReplayPage})
			if err != nil {
				return err
			}
			for _, rec := range backlog {
				if err := writeRecord(ctx, conn, rec); err != nil {
					return err
				}
				last = rec.Sequence
			}
			if len(backlog) < streamReplayPage {
				break
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return errSubscriberDropped
			}
			if rec.Sequence <= last {
				continue
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			last = rec.Sequence
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec journal.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
