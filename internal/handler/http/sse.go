package http

import (
	"net/http"

	"github.com/juju/errors"
)

// sseSink пишет события в формате text/event-stream
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.NotSupportedf("streaming")
	}
	return &sseSink{w: w, flusher: flusher}, nil
}

// Open отправляет заголовки и комментарий о подключении:
// клиент видит, что подписка уже зарегистрирована.
func (s *sseSink) Open() error {
	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.write(": connected\n\n")
}

// Send одно событие с одним компактным GridResult
func (s *sseSink) Send(msg []byte) error {
	return s.write("data: " + string(msg) + "\n\n")
}

// Heartbeat комментарий, который клиенты SSE игнорируют
func (s *sseSink) Heartbeat() error {
	return s.write(": ping\n\n")
}

func (s *sseSink) write(frame string) error {
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return errors.Trace(err)
	}
	s.flusher.Flush()
	return nil
}
