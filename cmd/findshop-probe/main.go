// Command findshop-probe exercises the SDK end to end against a live or mock
// backend: it streams one synthesis request into an in-memory sink and drives
// the duplex link alongside it.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Warmaster-Hoshino/findshop-go/internal/config"
	"github.com/Warmaster-Hoshino/findshop-go/internal/duplex"
	"github.com/Warmaster-Hoshino/findshop-go/internal/errutil"
	"github.com/Warmaster-Hoshino/findshop-go/internal/httputil"
	"github.com/Warmaster-Hoshino/findshop-go/internal/log"
	"github.com/Warmaster-Hoshino/findshop-go/internal/stream"
)

func main() {
	text := flag.String("text", "Hello from findshop", "text to synthesize")
	path := flag.String("path", "/api/tts", "streaming endpoint path")
	wsPath := flag.String("ws-path", "", "duplex endpoint path (empty to skip)")
	byteRate := flag.Int("byte-rate", 16000, "sink byte rate for duration estimates")
	flag.Parse()

	log.Configure(log.Config{})
	logger := log.WithComponent("probe")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := httputil.New(cfg.APIBase, cfg.RequestTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid API base")
	}

	g, gctx := errgroup.WithContext(ctx)

	if *wsPath != "" {
		mgr := duplex.New(cfg.WSBase,
			duplex.WithHeartbeatInterval(cfg.HeartbeatInterval),
			duplex.WithHeartbeatTimeout(cfg.HeartbeatTimeout),
			duplex.WithReconnectInterval(cfg.ReconnectInterval),
			duplex.WithMaxReconnect(cfg.MaxReconnect),
		)
		defer mgr.Close()
		mgr.Subscribe(duplex.EventMessage, func(data any) {
			logger.Info().Any("message", data).Msg("duplex message")
		})
		mgr.Subscribe(duplex.EventClose, func(any) {
			logger.Warn().Msg("duplex closed")
		})
		mgr.Subscribe(duplex.EventReconnectFailed, func(any) {
			logger.Error().Msg("duplex gave up reconnecting")
		})
		g.Go(func() error {
			if err := mgr.Connect(gctx, *wsPath); err != nil {
				return err
			}
			<-gctx.Done()
			return nil
		})
	}

	g.Go(func() error {
		feeder := stream.NewFeeder(client, func() stream.Sink {
			return stream.NewBufferSink(stream.WithByteRate(*byteRate))
		}, stream.WithBufferThreshold(cfg.BufferThreshold))

		done := make(chan struct{})
		started := time.Now()
		handle, err := feeder.Play(gctx, *path, map[string]string{"text": *text}, stream.Callbacks{
			OnStart: func() {
				logger.Info().Dur("after", time.Since(started)).Msg("playback ready")
			},
			OnProgress: func(n int64) {
				logger.Debug().Int64("received", n).Msg("progress")
			},
			OnComplete: func() {
				logger.Info().Msg("stream complete")
				close(done)
			},
			OnError: func(err error) {
				logger.Error().Err(err).Msg("stream failed mid-flight")
				close(done)
			},
		})
		if err != nil {
			logger.Error().Err(err).Str("user_message", errutil.Normalize(err)).Msg("playback failed to start")
			return err
		}
		defer handle.Stop()

		select {
		case <-done:
			sink := handle.Sink().(*stream.BufferSink)
			logger.Info().
				Int64("bytes", sink.BufferedBytes()).
				Dur("duration", sink.BufferedDuration()).
				Msg("sink summary")
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("probe failed")
	}
}
