package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Warmaster-Hoshino/findshop-go/internal/httputil"
	"github.com/Warmaster-Hoshino/findshop-go/internal/log"
)

const (
	// DefaultFallbackMime is tried once when writer creation with the
	// detected content type fails.
	DefaultFallbackMime = "audio/mpeg"

	defaultBufferThreshold   = 5
	defaultBackpressureDelay = 50 * time.Millisecond
	defaultReadinessPoll     = 100 * time.Millisecond
	defaultReadinessFloor    = time.Second
	defaultReadinessCeiling  = time.Second
	defaultStreamTimeout     = 10 * time.Second
)

// Callbacks are the optional hooks the session layer supplies. All of them
// are invoked from the session's goroutines, never concurrently with
// themselves.
type Callbacks struct {
	// OnStart fires once, when enough media is buffered to begin playback.
	OnStart func()
	// OnProgress fires per arrived chunk with the running byte total.
	OnProgress func(receivedBytes int64)
	// OnComplete fires once, after the source ended and every queued chunk
	// was handed to the sink.
	OnComplete func()
	// OnError fires for failures after playback began. Earlier failures are
	// returned from Play instead.
	OnError func(err error)
}

type feederConfig struct {
	fallbackMime      string
	bufferThreshold   int
	backpressureDelay time.Duration
	readinessPoll     time.Duration
	readinessFloor    time.Duration
	readinessCeiling  time.Duration
	streamTimeout     time.Duration
}

// Feeder turns streaming HTTP responses into live playable sinks.
type Feeder struct {
	client  *httputil.Client
	newSink func() Sink
	logger  zerolog.Logger
	cfg     feederConfig
}

type Option func(*Feeder)

// WithBufferThreshold sets the pending-chunk count past which the network
// read loop backs off.
func WithBufferThreshold(n int) Option {
	return func(f *Feeder) {
		if n > 0 {
			f.cfg.bufferThreshold = n
		}
	}
}

func WithBackpressureDelay(d time.Duration) Option {
	return func(f *Feeder) {
		if d > 0 {
			f.cfg.backpressureDelay = d
		}
	}
}

// WithReadinessPolicy overrides the gate timings: poll cadence, the buffered
// duration floor, and the elapsed-time ceiling after the first chunk.
func WithReadinessPolicy(poll, floor, ceiling time.Duration) Option {
	return func(f *Feeder) {
		if poll > 0 {
			f.cfg.readinessPoll = poll
		}
		if floor > 0 {
			f.cfg.readinessFloor = floor
		}
		if ceiling > 0 {
			f.cfg.readinessCeiling = ceiling
		}
	}
}

// WithStreamTimeout sets how long to wait for the first chunk before the
// whole operation fails.
func WithStreamTimeout(d time.Duration) Option {
	return func(f *Feeder) {
		if d > 0 {
			f.cfg.streamTimeout = d
		}
	}
}

func WithFallbackMime(mime string) Option {
	return func(f *Feeder) {
		if mime != "" {
			f.cfg.fallbackMime = mime
		}
	}
}

// NewFeeder builds a feeder that issues requests through client and allocates
// one sink per playback attempt via newSink.
func NewFeeder(client *httputil.Client, newSink func() Sink, opts ...Option) *Feeder {
	f := &Feeder{
		client:  client,
		newSink: newSink,
		logger:  log.WithComponent("stream"),
		cfg: feederConfig{
			fallbackMime:      DefaultFallbackMime,
			bufferThreshold:   defaultBufferThreshold,
			backpressureDelay: defaultBackpressureDelay,
			readinessPoll:     defaultReadinessPoll,
			readinessFloor:    defaultReadinessFloor,
			readinessCeiling:  defaultReadinessCeiling,
			streamTimeout:     defaultStreamTimeout,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handle is the opaque playable handle returned to the session layer. The
// sink keeps playing whatever was buffered even after Stop.
type Handle struct {
	id   string
	sink Sink
	stop context.CancelFunc
}

func (h *Handle) ID() string { return h.id }

// Sink exposes the playable sink to the external player.
func (h *Handle) Sink() Sink { return h.sink }

// Stop aborts the transfer and stops feeding. Already-buffered media is not
// unwound.
func (h *Handle) Stop() { h.stop() }

// Play streams path's response into a fresh sink and returns as soon as
// playback can safely begin, while feeding continues in the background.
//
// Failures before the first chunk arrives are returned here; anything later
// is reported through cb.OnError.
func (f *Feeder) Play(ctx context.Context, path string, payload any, cb Callbacks) (*Handle, error) {
	sctx, cancel := context.WithCancel(ctx)
	s := newSession(f, cb, cancel)

	s.run(sctx, path, payload)

	select {
	case err := <-s.ready:
		if err != nil {
			cancel()
			return nil, err
		}
		return &Handle{id: s.id, sink: s.sink, stop: cancel}, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}
