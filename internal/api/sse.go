package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"sheetchat/internal/llm"
)

// sseSink streams turn events to the client as server-sent events.
// Headers are written lazily on the first event so that turns failing
// before any output can still return a plain JSON error status.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseSink) Send(ev llm.Event) error {
	if !s.started {
		flusher, ok := s.w.(http.Flusher)
		if !ok {
			return errors.New("streaming not supported")
		}
		s.flusher = flusher
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
