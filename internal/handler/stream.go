package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/venuehub/seat-holds/internal/lib/logger/sl"
	"github.com/venuehub/seat-holds/internal/realtime"
	"github.com/venuehub/seat-holds/internal/storage"
)

// heartbeatInterval paces SSE comment lines that keep idle connections
// alive through proxies with read timeouts.
const heartbeatInterval = 15 * time.Second

// StreamSource is the slice of the broadcaster the SSE endpoint uses.
type StreamSource interface {
	Subscribe(ctx context.Context, eventID uint64, connID string) (*realtime.Snapshot, *realtime.Subscription, error)
	Unsubscribe(sub *realtime.Subscription)
	Snapshot(ctx context.Context, eventID uint64) (*realtime.Snapshot, error)
}

// StreamHandler serves the live seat-map stream over server-sent
// events. Every connection first receives a full snapshot, then deltas
// in sequence order; when the connection fell behind and deltas were
// dropped, the handler resyncs it with a fresh snapshot instead of
// leaving the client's seat map silently wrong.
type StreamHandler struct {
	log *slog.Logger
	rt  StreamSource
}

func NewStreamHandler(log *slog.Logger, rt StreamSource) *StreamHandler {
	if rt == nil {
		panic("nil StreamSource passed to NewStreamHandler")
	}
	return &StreamHandler{log: log, rt: rt}
}

// Stream handles GET /v1/events/:id/stream.
func (h *StreamHandler) Stream(c echo.Context) error {
	eventID, err := pathID(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	ctx := c.Request().Context()
	connID := uuid.NewString()

	snap, sub, err := h.rt.Subscribe(ctx, eventID, connID)
	if err != nil {
		if errors.Is(err, storage.ErrSeatNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		h.log.Error("subscribe failed", slog.Uint64("event_id", eventID), sl.Err(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	defer h.rt.Unsubscribe(sub)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", snap); err != nil {
		return nil
	}
	lastSeq := snap.Sequence

	log := h.log.With(slog.Uint64("event_id", eventID), slog.String("conn_id", connID))
	log.Debug("stream opened")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("stream closed by client")
			return nil

		case d, ok := <-sub.C():
			if !ok {
				// replaced by a newer subscription with the same ID
				return nil
			}
			if sub.TakeGap() || d.Sequence > lastSeq+1 {
				fresh, err := h.rt.Snapshot(ctx, eventID)
				if err != nil {
					log.Warn("resync snapshot failed", sl.Err(err))
					return nil
				}
				if err := writeEvent(w, "snapshot", fresh); err != nil {
					return nil
				}
				lastSeq = fresh.Sequence
				continue
			}
			if d.Sequence <= lastSeq {
				// already covered by the snapshot
				continue
			}
			if err := writeEvent(w, "delta", d); err != nil {
				return nil
			}
			lastSeq = d.Sequence

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// writeEvent sends one named SSE event and flushes it out.
func writeEvent(w *echo.Response, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
