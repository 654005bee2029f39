package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAlignsToInterval(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)
	if next := s.nextTick(now); !next.Equal(time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("mid-interval must round up to the next boundary, got %s", next)
	}

	onBoundary := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	if next := s.nextTick(onBoundary); !next.Equal(onBoundary.Add(time.Hour)) {
		t.Fatalf("a boundary instant must schedule a full interval ahead, got %s", next)
	}
}

func TestNextTickWithoutAlignment(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())

	now := time.Date(2025, 6, 2, 12, 30, 0, 0, time.UTC)
	if next := s.nextTick(now); !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("unaligned mode is a plain delay, got %s", next)
	}
}

func TestBucketStartTruncates(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())

	at := time.Date(2025, 6, 2, 13, 0, 0, 42, time.UTC)
	if bucket := s.bucketStart(at); !bucket.Equal(time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("bucket must truncate to the interval start, got %s", bucket)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ticked := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			select {
			case ticked <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never fired")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
