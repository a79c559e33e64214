package stream

import (
	"context"
	"testing"
	"time"
)

func TestBufferSinkOpensImmediately(t *testing.T) {
	s := NewBufferSink()
	select {
	case <-s.Opened():
	default:
		t.Fatal("buffer sink should be open on creation")
	}
}

func TestBufferSinkDurationFromByteRate(t *testing.T) {
	s := NewBufferSink(WithByteRate(1000))
	w, err := s.CreateWriter("audio/mpeg")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(context.Background(), make([]byte, 2500)); err != nil {
		t.Fatal(err)
	}
	if got := s.BufferedDuration(); got != 2500*time.Millisecond {
		t.Errorf("buffered duration = %v, want 2.5s", got)
	}
	if got := s.BufferedBytes(); got != 2500 {
		t.Errorf("buffered bytes = %d, want 2500", got)
	}
}

func TestBufferSinkRejectsNonAudioMime(t *testing.T) {
	s := NewBufferSink()
	if _, err := s.CreateWriter("text/html"); err == nil {
		t.Error("expected rejection for non-audio mime")
	}
	if _, err := s.CreateWriter("audio/ogg"); err != nil {
		t.Errorf("audio mime rejected: %v", err)
	}
}

func TestBufferSinkSingleWriter(t *testing.T) {
	s := NewBufferSink()
	if _, err := s.CreateWriter("audio/mpeg"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateWriter("audio/mpeg"); err == nil {
		t.Error("second writer must be refused")
	}
}

func TestBufferSinkAppendAfterFinalizeFails(t *testing.T) {
	s := NewBufferSink()
	w, err := s.CreateWriter("audio/mpeg")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatal(err)
	}
	if !s.Finalized() {
		t.Error("sink not marked finalized")
	}
	if err := w.Append(context.Background(), []byte("x")); err == nil {
		t.Error("append after finalize must fail")
	}
}

func TestBufferSinkClosedRefusesEverything(t *testing.T) {
	s := NewBufferSink()
	w, err := s.CreateWriter("audio/mpeg")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(context.Background(), []byte("x")); err == nil {
		t.Error("append on closed sink must fail")
	}
	if err := s.Finalize(); err == nil {
		t.Error("finalize on closed sink must fail")
	}
}
