// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chponte/libreeye/internal/camera"
	"github.com/chponte/libreeye/internal/sink"
)

func TestSegmentClock(t *testing.T) {
	tests := []struct {
		name          string
		nowUnix       int64
		offset        int
		segmentLength time.Duration
		want          time.Duration
	}{
		{"start of a 10s window", 100, 0, 10 * time.Second, 0},
		{"mid window", 105, 0, 10 * time.Second, 5 * time.Second},
		{"offset pushes into next window", 9, 1, 10 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Unix(tt.nowUnix, 0).UTC()
			got := segmentClock(now, tt.offset, tt.segmentLength)
			if got != tt.want {
				t.Errorf("segmentClock(%d, %d, %v) = %v, want %v", tt.nowUnix, tt.offset, tt.segmentLength, got, tt.want)
			}
		})
	}
}

func TestSegmentClockDetectsRollover(t *testing.T) {
	segmentLength := 10 * time.Second
	last := segmentClock(time.Unix(108, 0).UTC(), 0, segmentLength)
	next := segmentClock(time.Unix(111, 0).UTC(), 0, segmentLength)
	if next >= last {
		t.Fatalf("expected rollover (next < last), got last=%v next=%v", last, next)
	}
}

// shellTranscoder builds a TranscoderFactory that runs script under /bin/sh,
// standing in for a real transcoder binary so CameraPipeline.Run can be
// exercised without ffmpeg installed.
func shellTranscoder(script string) TranscoderFactory {
	return func(ctx context.Context, d *camera.Descriptor) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "/bin/sh", "-c", script), nil
	}
}

func newTestPipeline(t *testing.T, factory TranscoderFactory, sinks map[string]sink.Sink, storage map[string]*camera.Storage, clk clockwork.Clock) *CameraPipeline {
	t.Helper()
	old := clock
	clock = clk
	t.Cleanup(func() { clock = old })

	return New(Config{
		Camera:      &camera.Descriptor{Name: "cam1"},
		Sinks:       sinks,
		Storage:     storage,
		Transcoder:  factory,
		Logger:      slog.New(slog.NewTextHandler(bytesDiscard{}, nil)),
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		MaxAttempts: 3,
		TickPeriod:  5 * time.Millisecond,
		JoinTimeout: time.Second,
	})
}

type bytesDiscard struct{}

func (bytesDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestCameraPipelineRunsUntilContextCancelled(t *testing.T) {
	s := &fakeSink{name: "local", failOn: -1}
	sinks := map[string]sink.Sink{"local": s}
	storage := map[string]*camera.Storage{"local": {Name: "local", SegmentLength: 50 * time.Millisecond}}

	// Emits bytes once, then sleeps well past a segment boundary so Run's
	// rollover loop has to carry it across more than one tick.
	factory := shellTranscoder(`printf 'seg-bytes'; sleep 5`)

	p := newTestPipeline(t, factory, sinks, storage, clockwork.NewRealClock())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run() returned %v, want nil on context cancellation", err)
	}
	if s.nwrites == 0 {
		t.Error("expected at least one write to the sink before the run was cancelled")
	}
}

func TestCameraPipelineRetriesOnImmediateExit(t *testing.T) {
	s := &fakeSink{name: "local", failOn: -1}
	sinks := map[string]sink.Sink{"local": s}
	storage := map[string]*camera.Storage{"local": {Name: "local", SegmentLength: 50 * time.Millisecond}}

	// Dies immediately without writing anything and without stderr output
	// matching the taxonomy, so the spawn race should observe stdout closing
	// before any byte and the pipeline should back off and retry rather than
	// giving up after one attempt. The backoff sleeps 10+20+40ms before the
	// third failure exhausts MaxAttempts=3, so cancelling at 50ms lands
	// mid-retry.
	factory := shellTranscoder(`exit 1`)

	p := newTestPipeline(t, factory, sinks, storage, clockwork.NewRealClock())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run() returned %v, want nil on context cancellation mid-retry", err)
	}
}

func TestCameraPipelineGivesUpAfterMaxAttempts(t *testing.T) {
	sinks := map[string]sink.Sink{"local": &fakeSink{name: "local", failOn: -1}}
	storage := map[string]*camera.Storage{"local": {Name: "local", SegmentLength: 20 * time.Millisecond}}

	factory := shellTranscoder(`exit 1`)

	p := New(Config{
		Camera:      &camera.Descriptor{Name: "cam1"},
		Sinks:       sinks,
		Storage:     storage,
		Transcoder:  factory,
		Logger:      slog.New(slog.NewTextHandler(bytesDiscard{}, nil)),
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 2,
		TickPeriod:  time.Millisecond,
		JoinTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Run(ctx)
	if err == nil {
		t.Fatal("Run() returned nil, want an error once the retry budget is exhausted")
	}
}

func TestCameraPipelineStopsWhenNoSinkOpens(t *testing.T) {
	s := &alwaysFailsToOpen{name: "broken"}
	sinks := map[string]sink.Sink{"broken": s}
	storage := map[string]*camera.Storage{"broken": {Name: "broken", SegmentLength: time.Second}}

	p := New(Config{
		Camera:      &camera.Descriptor{Name: "cam1"},
		Sinks:       sinks,
		Storage:     storage,
		Transcoder:  shellTranscoder(`exit 0`),
		Logger:      slog.New(slog.NewTextHandler(bytesDiscard{}, nil)),
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 2,
		TickPeriod:  time.Millisecond,
		JoinTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Run(ctx)
	if err == nil {
		t.Fatal("Run() returned nil, want an error when no sink can ever be opened")
	}
}

type alwaysFailsToOpen struct {
	name string
}

func (a *alwaysFailsToOpen) Open(ext string) error   { return errors.New("disk full") }
func (a *alwaysFailsToOpen) IsOpened() bool          { return false }
func (a *alwaysFailsToOpen) Write(block []byte) error { return errors.New("not opened") }
func (a *alwaysFailsToOpen) Close() error            { return nil }
func (a *alwaysFailsToOpen) Name() string            { return a.name }
