package stream

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// WriterSink writes one JSON envelope per line. It backs the stdout mode and
// the --once flag.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) SendSnapshot(_ context.Context, frame SnapshotFrame) error {
	payload, err := EncodeEnvelope(NewSnapshotEnvelope(frame))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

func (s *WriterSink) Close(context.Context) error {
	return nil
}
