package stream

import (
	"context"
	"time"

	"github.com/Warmaster-Hoshino/findshop-go/internal/errutil"
)

// waitReady runs the playback readiness gate: once the first chunk has
// arrived, poll the sink's buffered duration and declare readiness when it
// clears the floor or when the elapsed-time ceiling passes, whichever comes
// first. No chunk within the stream timeout fails the whole operation.
func (s *session) waitReady(ctx context.Context) {
	overall := time.NewTimer(s.feeder.cfg.streamTimeout)
	defer overall.Stop()

	select {
	case <-s.firstChunk:
	case <-overall.C:
		s.logger.Warn().Dur("timeout", s.feeder.cfg.streamTimeout).Msg("no audio arrived")
		s.fail(errutil.ErrStreamTimeout)
		s.cancel()
		return
	case <-ctx.Done():
		// Play is resolved by whoever canceled.
		return
	}

	firstSeen := time.Now()
	ticker := time.NewTicker(s.feeder.cfg.readinessPoll)
	defer ticker.Stop()

	for {
		if s.sink.BufferedDuration() >= s.feeder.cfg.readinessFloor ||
			time.Since(firstSeen) >= s.feeder.cfg.readinessCeiling {
			s.start()
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
