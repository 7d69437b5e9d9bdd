// Package sse writes text/event-stream frames.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const HeartbeatInterval = 30 * time.Second

var ErrStreamingUnsupported = errors.New("sse: response writer cannot flush")

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStream writes the event-stream headers. It fails when w cannot flush,
// before anything is written.
func NewStream(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{w: w, flusher: flusher}, nil
}

func (s *Stream) Send(event Event) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Stream) SendJSON(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.Send(Event{Type: eventType, Data: raw})
}

// Ping writes a comment line that keeps intermediaries from timing out.
func (s *Stream) Ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
