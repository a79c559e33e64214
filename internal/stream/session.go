package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Warmaster-Hoshino/findshop-go/internal/errutil"
	"github.com/Warmaster-Hoshino/findshop-go/internal/httputil"
)

// errWriterUnavailable signals that a drain pass could not obtain a writer.
// Queued chunks stay pending for a later pass.
var errWriterUnavailable = errors.New("writer unavailable")

// session is one playback attempt. All sink appends and the finalization
// happen on the drain goroutine, which is what enforces the one-outstanding-
// submission and no-finalize-mid-submission rules.
type session struct {
	id     string
	feeder *Feeder
	sink   Sink
	cb     Callbacks
	cancel context.CancelFunc
	logger zerolog.Logger

	mu             sync.Mutex
	pending        [][]byte
	writer         Writer
	contentType    string
	sourceEnded    bool
	firstChunkSeen bool
	receivedBytes  int64

	notify       chan struct{}
	firstChunk   chan struct{}
	ready        chan error
	readyOnce    sync.Once
	started      atomic.Bool
	midstreamErr atomic.Bool
}

func newSession(f *Feeder, cb Callbacks, cancel context.CancelFunc) *session {
	id := uuid.NewString()
	return &session{
		id:         id,
		feeder:     f,
		sink:       f.newSink(),
		cb:         cb,
		cancel:     cancel,
		logger:     f.logger.With().Str("session", id).Logger(),
		notify:     make(chan struct{}, 1),
		firstChunk: make(chan struct{}),
		ready:      make(chan error, 1),
	}
}

func (s *session) run(ctx context.Context, path string, payload any) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, path, payload) })
	g.Go(func() error { return s.drainLoop(gctx) })

	go s.waitReady(ctx)
	go s.finish(g.Wait())
}

// start resolves Play successfully. Safe to call more than once.
func (s *session) start() {
	s.readyOnce.Do(func() {
		s.started.Store(true)
		if s.cb.OnStart != nil {
			s.cb.OnStart()
		}
		s.ready <- nil
	})
}

// fail rejects Play if it has not resolved yet.
func (s *session) fail(err error) {
	s.readyOnce.Do(func() {
		s.ready <- err
	})
}

func (s *session) finish(err error) {
	if err == nil {
		if !s.seenFirstChunk() {
			// The source completed without delivering a single chunk;
			// there is nothing to play.
			s.fail(errutil.ErrStreamTimeout)
			s.cancel()
			return
		}
		s.start()
		s.logger.Debug().Int64("bytes", s.bytesReceived()).Msg("stream drained")
		if s.cb.OnComplete != nil && !s.midstreamErr.Load() {
			s.cb.OnComplete()
		}
		s.cancel()
		return
	}
	wasStarted := s.started.Load()
	s.fail(err)
	s.cancel()
	if wasStarted && !errors.Is(err, context.Canceled) && s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// readLoop issues the request and pumps chunks into the pending queue,
// pausing for one backpressure slice whenever the queue runs past the
// threshold. Read failures after the first chunk are reported but leave the
// already-queued chunks to drain.
func (s *session) readLoop(ctx context.Context, path string, payload any) error {
	resp, cancelReq, err := s.feeder.client.PostStream(ctx, path, payload)
	if err != nil {
		return err
	}
	defer cancelReq()

	s.setContentType(resp.Header.Get("Content-Type"))

	_, err = httputil.ReadChunks(resp, func(p httputil.Progress) error {
		s.enqueue(p.Chunk)
		if s.cb.OnProgress != nil {
			s.cb.OnProgress(p.ReceivedBytes)
		}
		if s.pendingLen() > s.feeder.cfg.bufferThreshold {
			select {
			case <-time.After(s.feeder.cfg.backpressureDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return ctx.Err()
	})

	s.markSourceEnded()
	if err != nil {
		if !s.seenFirstChunk() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("stream read failed after playback began")
		s.midstreamErr.Store(true)
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
	}
	return nil
}

// drainLoop hands queued chunks to the writer in arrival order and finalizes
// the sink once the source ended and the queue is empty. The writer is idle
// whenever this goroutine is not inside Append, so finalization here can
// never overlap a submission.
func (s *session) drainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}

		err := s.drain(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errWriterUnavailable):
			if s.sourceHasEnded() {
				return &errutil.DecoderError{Err: errWriterUnavailable}
			}
			continue
		default:
			return err
		}

		s.mu.Lock()
		done := s.sourceEnded && len(s.pending) == 0
		s.mu.Unlock()
		if done {
			if err := s.sink.Finalize(); err != nil {
				return &errutil.DecoderError{Err: err}
			}
			return nil
		}
	}
}

func (s *session) drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return nil
		}
		chunk := s.pending[0]
		w := s.writer
		mime := s.contentType
		s.mu.Unlock()

		if w == nil {
			created, err := s.createWriter(ctx, mime)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.writer = created
			s.mu.Unlock()
			w = created
		}

		if err := w.Append(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Dropped from this attempt, not retried; the stream goes on.
			s.logger.Warn().Err(err).Int("size", len(chunk)).Msg("sink rejected chunk")
		}

		s.mu.Lock()
		s.pending = s.pending[1:]
		s.mu.Unlock()
	}
}

// createWriter waits for the sink to open, then tries the detected content
// type and, should that fail, the fallback type exactly once.
func (s *session) createWriter(ctx context.Context, mime string) (Writer, error) {
	select {
	case <-s.sink.Opened():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	fallback := s.feeder.cfg.fallbackMime
	if mime == "" {
		mime = fallback
	}
	w, err := s.sink.CreateWriter(mime)
	if err == nil {
		return w, nil
	}
	if mime != fallback {
		s.logger.Warn().Err(err).Str("mime", mime).Msg("writer creation failed, trying fallback type")
		if w, err = s.sink.CreateWriter(fallback); err == nil {
			return w, nil
		}
	}
	s.logger.Warn().Err(err).Msg("writer creation failed")
	return nil, errWriterUnavailable
}

func (s *session) enqueue(chunk []byte) {
	s.mu.Lock()
	s.pending = append(s.pending, chunk)
	s.receivedBytes += int64(len(chunk))
	first := !s.firstChunkSeen
	s.firstChunkSeen = true
	s.mu.Unlock()

	if first {
		close(s.firstChunk)
	}
	s.signal()
}

func (s *session) markSourceEnded() {
	s.mu.Lock()
	s.sourceEnded = true
	s.mu.Unlock()
	s.signal()
}

func (s *session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *session) setContentType(ct string) {
	s.mu.Lock()
	s.contentType = ct
	s.mu.Unlock()
}

func (s *session) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *session) bytesReceived() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receivedBytes
}

func (s *session) seenFirstChunk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstChunkSeen
}

func (s *session) sourceHasEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceEnded
}
