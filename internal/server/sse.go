package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jonathan/slide-narrator/internal/pipeline"
)

// sseRetryMillis is the reconnect delay suggested to clients
const sseRetryMillis = 3000

// eventStream writes Server-Sent Events for one job. Each status event
// carries the record version as its id so a reconnecting client can tell
// whether it missed a checkpoint.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newEventStream prepares w for streaming, failing when the writer cannot flush
func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis); err != nil {
		return nil, err
	}
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, nil
}

func (s *eventStream) send(event, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// status sends an intermediate snapshot
func (s *eventStream) status(st *pipeline.Status) error {
	return s.send("status", strconv.Itoa(st.Version), st)
}

// complete sends the terminal snapshot
func (s *eventStream) complete(st *pipeline.Status) error {
	return s.send("complete", strconv.Itoa(st.Version), st)
}

// fail reports a read error and ends the stream
func (s *eventStream) fail(message string) {
	_ = s.send("error", "", map[string]string{"error": message})
}
