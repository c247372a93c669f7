// SPDX-License-Identifier: MIT

package pipeline

import (
	"bufio"
	"io"
	"regexp"
	"sync"

	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/sink"
	"github.com/chponte/libreeye/internal/util"
)

// readBlockSize is the fixed-size read the byte-reader issues against the
// transcoder's stdout, matching the original's 1 MiB buffer.
const readBlockSize = 1 << 20

// stderrPatterns classifies a transcoder stderr line into an error Kind.
// Patterns are checked in order; the first match wins, and anything left
// unmatched is a warning.
//
// Reference: §7 ERROR HANDLING DESIGN's taxonomy.
var stderrPatterns = []struct {
	kind Kind
	re   *regexp.Regexp
}{
	{KindUnreachable, regexp.MustCompile(`^\[tcp @ `)},
	{KindReset, regexp.MustCompile(`^\[rtsp @ .*CSeq \d+ expected, \d+ received\.`)},
	{KindAborted, regexp.MustCompile(`Could not find codec parameters`)},
}

// Kind mirrors rerror.Kind for the subset a stderr line can produce;
// defined here so callers outside rerror don't need to import it just to
// reference the taxonomy in a switch.
type Kind = rerror.Kind

const (
	KindUnreachable = rerror.KindUnreachable
	KindReset       = rerror.KindReset
	KindAborted     = rerror.KindAborted
	KindWarning     = rerror.KindWarning
)

// classifyStderrLine maps one line of transcoder stderr (without its
// trailing newline) to an error Kind per the taxonomy in §7.
func classifyStderrLine(line string) Kind {
	for _, p := range stderrPatterns {
		if p.re.MatchString(line) {
			return p.kind
		}
	}
	return KindWarning
}

// readerEvent is what a byte-reader or line-reader fiber pushes onto the
// pipeline's shared error channel. A nil Err with Peeked set signals "first
// byte observed"; every other event carries a classified error.
type readerEvent struct {
	Err    error
	Line   string // raw line text, set only for line-reader warning/error events
	Peeked bool
}

// byteReader fans fixed-size reads of stdout out to every sink currently in
// activeSinks, in strict arrival order, removing a sink from the set (for
// the remainder of the segment) the first time its Write fails. peeked is
// closed the instant the first block is read, win or lose, so the spawn
// race in the main loop can resolve. If stdout ends before any byte
// arrives, peeked stays open and a KindIO event is queued instead, so the
// race sees a transcoder that failed before producing output.
//
// Reference: surveillance/camera.py's _stdout_handler, translated from a
// queue.Queue hand-off to direct sequential fan-out since Go's goroutine
// scheduling makes the original's separate consumer thread unnecessary.
func byteReader(stdout io.Reader, sinks *activeSinkSet, events chan<- readerEvent, peeked chan<- struct{}) {
	buf := make([]byte, readBlockSize)
	var peekedOnce bool
	closePeeked := func() {
		if !peekedOnce {
			peekedOnce = true
			close(peeked)
		}
	}

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			closePeeked()
			block := make([]byte, n)
			copy(block, buf[:n])
			for _, name := range sinks.names() {
				s := sinks.get(name)
				if s == nil {
					continue
				}
				if werr := s.Write(block); werr != nil {
					sinks.remove(name)
					events <- readerEvent{Err: rerror.Wrap(rerror.KindIO, "sink "+name+" write failed", werr)}
				}
			}
			if sinks.empty() {
				events <- readerEvent{Err: rerror.New(rerror.KindNoSink, "all sinks closed mid-segment")}
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				if !peekedOnce {
					events <- readerEvent{Err: rerror.New(rerror.KindIO, "transcoder stdout closed before producing output")}
				}
				return
			}
			events <- readerEvent{Err: rerror.Wrap(rerror.KindIO, "transcoder stdout read failed", err)}
			return
		}
	}
}

// lineReader reads stderr one line at a time, classifies each line per the
// taxonomy, and pushes a typed event for every non-warning line. Warnings
// are logged directly (via logWarning) and never reach the error channel,
// matching §7's "warning-class errors are logged and never propagated".
//
// Reference: surveillance/camera.py's _stderr_handler (byte-at-a-time
// accumulation into a line), replaced with bufio.Scanner since Go's
// stdlib already does this without manual buffering.
func lineReader(stderr io.Reader, events chan<- readerEvent, logWarning func(line string)) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		kind := classifyStderrLine(line)
		if kind == KindWarning {
			if logWarning != nil {
				logWarning(line)
			}
			continue
		}
		events <- readerEvent{Err: rerror.New(kind, line), Line: line}
	}
}

// activeSinkSet is the mutable set of sinks still accepting writes for the
// current segment. Only the byte-reader fiber removes entries; the main
// loop only reads it to decide whether to re-open a sink at the next
// segment, so no separate synchronization beyond the embedded mutex is
// needed even though both run concurrently during Open/teardown.
type activeSinkSet struct {
	mu sync.Mutex
	m  map[string]sink.Sink
}

func newActiveSinkSet(sinks map[string]sink.Sink) *activeSinkSet {
	m := make(map[string]sink.Sink, len(sinks))
	for k, v := range sinks {
		m[k] = v
	}
	return &activeSinkSet{m: m}
}

func (a *activeSinkSet) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.m))
	for k := range a.m {
		out = append(out, k)
	}
	return out
}

func (a *activeSinkSet) get(name string) sink.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m[name]
}

func (a *activeSinkSet) remove(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.m, name)
}

func (a *activeSinkSet) empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.m) == 0
}

// startReaders launches the byte-reader and line-reader fibers for one
// transcoder instance, each wrapped in util.SafeGo so a panic in either
// cannot take the whole pipeline process down.
func startReaders(name string, stdout, stderr io.Reader, sinks *activeSinkSet, events chan<- readerEvent, logWarning func(string)) (peeked <-chan struct{}) {
	peekedCh := make(chan struct{})
	util.SafeGo("pipeline-byte-reader-"+name, nil, func() {
		byteReader(stdout, sinks, events, peekedCh)
	}, nil)
	util.SafeGo("pipeline-line-reader-"+name, nil, func() {
		lineReader(stderr, events, logWarning)
	}, nil)
	return peekedCh
}
