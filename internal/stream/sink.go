// Package stream feeds a live HTTP byte stream into a media sink so playback
// can begin before the transfer completes.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Sink is the decoder's input surface. A session owns exactly one sink and
// never shares it.
type Sink interface {
	// Opened returns a channel that is closed once the sink can accept a
	// writer.
	Opened() <-chan struct{}
	// CreateWriter allocates the sink's single writer for the given mime
	// type. Called at most once per successful return.
	CreateWriter(mime string) (Writer, error)
	// BufferedDuration reports how much decoded media is currently buffered.
	BufferedDuration() time.Duration
	// Finalize marks that no more data will arrive. Must not be called while
	// an append is in flight.
	Finalize() error
	Close() error
}

// Writer accepts one chunk at a time. Append blocks until the decoder has
// consumed the chunk; callers must not overlap calls.
type Writer interface {
	Append(ctx context.Context, chunk []byte) error
}

// BufferSink is an in-memory Sink that models decode progress from a byte
// rate. It backs the probe CLI and tests; a real player supplies its own Sink.
type BufferSink struct {
	bytesPerSecond int
	opened         chan struct{}

	mu        sync.Mutex
	buffered  int64
	finalized bool
	closed    bool
	writer    *bufferWriter
}

type BufferSinkOption func(*BufferSink)

// WithByteRate sets the byte rate used to convert buffered bytes into a
// duration. Defaults to 16000 (128 kbit/s audio).
func WithByteRate(bytesPerSecond int) BufferSinkOption {
	return func(s *BufferSink) {
		if bytesPerSecond > 0 {
			s.bytesPerSecond = bytesPerSecond
		}
	}
}

func NewBufferSink(opts ...BufferSinkOption) *BufferSink {
	s := &BufferSink{
		bytesPerSecond: 16000,
		opened:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	close(s.opened)
	return s
}

func (s *BufferSink) Opened() <-chan struct{} { return s.opened }

func (s *BufferSink) CreateWriter(mime string) (Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("sink is closed")
	}
	if s.writer != nil {
		return nil, fmt.Errorf("writer already exists")
	}
	if !strings.HasPrefix(mime, "audio/") {
		return nil, fmt.Errorf("unsupported mime type %q", mime)
	}
	s.writer = &bufferWriter{sink: s}
	return s.writer, nil
}

func (s *BufferSink) BufferedDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.buffered) * time.Second / time.Duration(s.bytesPerSecond)
}

// BufferedBytes reports the total bytes accepted so far.
func (s *BufferSink) BufferedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *BufferSink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sink is closed")
	}
	s.finalized = true
	return nil
}

// Finalized reports whether the end of the stream has been marked.
func (s *BufferSink) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

func (s *BufferSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type bufferWriter struct {
	sink *BufferSink
}

func (w *bufferWriter) Append(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	if w.sink.closed {
		return fmt.Errorf("sink is closed")
	}
	if w.sink.finalized {
		return fmt.Errorf("sink is finalized")
	}
	w.sink.buffered += int64(len(chunk))
	return nil
}
