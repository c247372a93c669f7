// SPDX-License-Identifier: MIT

// Package pipeline owns one camera's transcoder subprocess and the sinks it
// feeds: spawn, read, fan out, segment, restart with backoff, guarantee
// bounded work is flushed before teardown. A CameraPipeline's Run is the
// body a re-exec'd procsup child executes; it never shares memory with the
// supervisor.
//
// Reference: surveillance/camera.py's Camera class for the subprocess
// life-cycle, and the source tree's internal/stream.Manager for the
// state-machine/backoff/logging idiom it is generalized from.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chponte/libreeye/internal/camera"
	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/sink"
)

// clock is the wall clock the segment-rollover test reads. Tests substitute
// a clockwork.FakeClock to advance time deterministically instead of
// sleeping in real time through a segment boundary.
var clock clockwork.Clock = clockwork.NewRealClock()

// SegmentExtension is the container format every transcoder invocation
// writes to stdout and every sink names its segment files with.
const SegmentExtension = "mkv"

// TranscoderFactory builds the external transcoding subprocess for one
// spawn attempt. Tests substitute a factory that runs a short, deterministic
// shell pipeline instead of a real transcoder binary.
type TranscoderFactory func(ctx context.Context, d *camera.Descriptor) (*exec.Cmd, error)

// Config carries everything a CameraPipeline needs to run one camera's
// record loop. Sinks are built once at construction and Open/Close per
// segment; they are not rebuilt on restart.
type Config struct {
	Camera      *camera.Descriptor
	Sinks       map[string]sink.Sink      // storage name -> sink, one per d.Sinks entry
	Storage     map[string]*camera.Storage // storage name -> descriptor, same keys as Sinks
	Transcoder  TranscoderFactory
	Logger      *slog.Logger
	StderrLog   io.Writer // transcoder stderr/stdout capture, e.g. a RotatingWriter
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	TickPeriod  time.Duration // defaults to 1s, overridable in tests
	JoinTimeout time.Duration // bounded join for reader fibers on quit
}

// CameraPipeline is the per-camera state machine described in 4.5
// CameraPipeline (C5): open sinks, spawn transcoder, fan out bytes,
// detect rollover, restart on failure.
type CameraPipeline struct {
	cfg     Config
	backoff *Backoff
	log     *slog.Logger
}

// New builds a CameraPipeline from cfg, defaulting TickPeriod/JoinTimeout
// when the caller leaves them zero.
func New(cfg Config) *CameraPipeline {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CameraPipeline{
		cfg:     cfg,
		backoff: NewBackoff(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxAttempts),
		log:     logger,
	}
}

// Run executes the pipeline loop until ctx is cancelled or the retry budget
// is exhausted, returning the taxonomy error that ended it. It implements
// steps 1-7 of 4.5 CameraPipeline verbatim: open sinks with backoff, spawn
// the transcoder and race its first byte against its first error, run the
// ~1 Hz rollover loop, quit the transcoder, close sinks, and repeat for the
// next segment unless interrupted.
func (p *CameraPipeline) Run(ctx context.Context) error {
	name := p.cfg.Camera.Name

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		active, err := p.openSinks(ctx)
		if err != nil {
			return err
		}
		if active == nil {
			// openSinks was interrupted by ctx while backing off; nothing
			// was opened, so there is nothing to run or close.
			return nil
		}

		runErr := p.runSegment(ctx, active)

		p.closeSinks(active)

		if ctx.Err() != nil {
			return nil
		}

		if runErr != nil {
			if rerror.KindOf(runErr) == rerror.KindNoSink {
				p.log.Warn("pipeline restarting: no sink survived the segment", "camera", name)
			} else {
				p.log.Error("pipeline segment ended in error", "camera", name, "error", runErr)
			}
			if waitErr := p.backoff.WaitContext(ctx); waitErr != nil {
				return nil
			}
			p.backoff.RecordFailure()
			if p.backoff.ShouldStop() {
				return rerror.Wrap(rerror.KindIO, fmt.Sprintf("camera %q: max restart attempts exceeded", name), runErr)
			}
			continue
		}

		// Clean rollover: reset backoff and go straight to the next segment.
		p.backoff.Reset()
	}
}

// openSinks implements step 1: call Open on every configured sink, logging
// and skipping ones that fail; if none open, apply backoff and retry until
// the attempt budget is exhausted.
func (p *CameraPipeline) openSinks(ctx context.Context) (*activeSinkSet, error) {
	for {
		opened := make(map[string]sink.Sink)
		for storageName, s := range p.cfg.Sinks {
			if err := s.Open(SegmentExtension); err != nil {
				p.log.Warn("sink failed to open", "camera", p.cfg.Camera.Name, "sink", storageName, "error", err)
				continue
			}
			opened[storageName] = s
		}

		if len(opened) > 0 {
			return newActiveSinkSet(opened), nil
		}

		p.backoff.RecordFailure()
		if p.backoff.ShouldStop() {
			return nil, rerror.New(rerror.KindIO, fmt.Sprintf("camera %q: no sink could be opened after %d attempts", p.cfg.Camera.Name, p.backoff.Attempts()))
		}
		if err := p.backoff.WaitContext(ctx); err != nil {
			return nil, nil
		}
	}
}

// runSegment implements steps 2-5: spawn the transcoder, race its first
// byte against its first error, run the rollover loop, then quit the
// transcoder and join the reader fibers.
func (p *CameraPipeline) runSegment(ctx context.Context, active *activeSinkSet) error {
	segCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd, err := p.cfg.Transcoder(segCtx, p.cfg.Camera)
	if err != nil {
		return rerror.Wrap(rerror.KindIO, "spawn transcoder", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return rerror.Wrap(rerror.KindIO, "open transcoder stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return rerror.Wrap(rerror.KindIO, "open transcoder stderr", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return rerror.Wrap(rerror.KindIO, "open transcoder stdin", err)
	}

	if err := cmd.Start(); err != nil {
		return rerror.Wrap(rerror.KindIO, "start transcoder", err)
	}

	events := make(chan readerEvent, 16)
	peeked := startReaders(p.cfg.Camera.Name, stdout, stderr, active, events, func(line string) {
		p.log.Debug("transcoder warning", "camera", p.cfg.Camera.Name, "line", line)
		if p.cfg.StderrLog != nil {
			fmt.Fprintln(p.cfg.StderrLog, line)
		}
	})

	// Race "first byte peeked" against "first error queued" to distinguish a
	// transcoder that started from one that failed before producing output.
	var startErr error
	select {
	case <-peeked:
	case ev := <-events:
		startErr = ev.Err
	case <-segCtx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}
	if startErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return startErr
	}

	p.backoff.Reset()

	loopErr := p.mainLoop(segCtx, events)

	p.quitTranscoder(cmd, stdin)

	return loopErr
}

// mainLoop implements step 4: at ~TickPeriod, compute the modular segment
// clock, break on rollover, drain the error channel (warnings logged,
// everything else unwound), sleep until the next tick or interruption.
func (p *CameraPipeline) mainLoop(ctx context.Context, events <-chan readerEvent) error {
	storage := p.primaryStorage()
	segmentLength := storage.SegmentLength
	_, offset := clock.Now().Zone()

	lastT := segmentClock(clock.Now(), offset, segmentLength)
	ticker := clock.NewTicker(p.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if rerror.KindOf(ev.Err) == rerror.KindWarning {
				p.log.Warn("transcoder warning", "camera", p.cfg.Camera.Name, "error", ev.Err)
				continue
			}
			return ev.Err
		case <-ticker.Chan():
			t := segmentClock(clock.Now(), offset, segmentLength)
			if t < lastT {
				return nil // segment rolled over
			}
			lastT = t
		}
	}
}

// segmentClock computes (now + local-utc-offset) mod segmentLength, the
// modular-clock test 4.5 uses to align segment boundaries to wall-clock
// multiples of segmentLength.
func segmentClock(now time.Time, utcOffsetSeconds int, segmentLength time.Duration) time.Duration {
	sec := now.Unix() + int64(utcOffsetSeconds)
	mod := time.Duration(sec) * time.Second % segmentLength
	return mod
}

// primaryStorage returns the segment-length source: all sinks for a camera
// share one segment length by construction (validated at config load), so
// any configured storage descriptor gives the same answer.
func (p *CameraPipeline) primaryStorage() *camera.Storage {
	for _, s := range p.cfg.Storage {
		return s
	}
	return &camera.Storage{SegmentLength: time.Minute}
}

// quitTranscoder implements step 5: write "q" to stdin, close it, then join
// with a bounded timeout before escalating to Kill.
func (p *CameraPipeline) quitTranscoder(cmd *exec.Cmd, stdin io.WriteCloser) {
	_, _ = stdin.Write([]byte("q"))
	_ = stdin.Close()

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.JoinTimeout):
		p.log.Warn("transcoder did not exit before join timeout, killing", "camera", p.cfg.Camera.Name)
		_ = cmd.Process.Kill()
		<-done
	}
}

// closeSinks implements step 6: close every sink still in the active set,
// logging and continuing past a failure.
func (p *CameraPipeline) closeSinks(active *activeSinkSet) {
	if active == nil {
		return
	}
	for _, name := range active.names() {
		s := active.get(name)
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			p.log.Warn("sink failed to close", "camera", p.cfg.Camera.Name, "sink", name, "error", err)
		}
	}
}
