package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StreamHandler pushes access events to browsers over server-sent events.
// It is the push-based counterpart of the poll endpoint: a page holds one
// stream per gated item instead of re-polling on an interval.
type StreamHandler struct {
	bus       *Bus
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewStreamHandler constructs a StreamHandler.
func NewStreamHandler(bus *Bus, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{bus: bus, logger: logger, heartbeat: 15 * time.Second}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	feature := q.Get("feature")
	if feature == "" {
		feature = q.Get("type")
	}
	featureID := q.Get("id")
	if featureID == "" {
		featureID = q.Get("playlist")
	}
	if featureID == "" {
		featureID = q.Get("subject")
	}
	email := q.Get("email")
	if email == "" {
		email = q.Get("gmail")
	}
	if feature == "" || featureID == "" {
		http.Error(w, "feature and id are required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	cancel := h.bus.Subscribe(Filter{Feature: feature, FeatureID: featureID, Email: email}, func(e Event) {
		select {
		case ch <- e:
		default:
			// Slow consumer; the event will be rediscovered on re-check.
		}
	})
	defer cancel()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e := <-ch:
			payload, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("encode stream event", slog.Any("error", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload)
			flusher.Flush()
		}
	}
}
