// SPDX-License-Identifier: MIT

package pipeline

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/chponte/libreeye/internal/rerror"
)

func TestClassifyStderrLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"unreachable", `[tcp @ 0x55d1a2d3f500] Connection to tcp://192.168.1.10:554 failed: Connection timed out`, KindUnreachable},
		{"reset", `[rtsp @ 0x55d1a2d3f500] CSeq 4 expected, 7 received.`, KindReset},
		{"aborted", `Could not find codec parameters for stream 0`, KindAborted},
		{"warning falls through", `[libx264 @ 0x55d1a2d3f500] using SAR=1/1`, KindWarning},
		{"empty line is a warning", ``, KindWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStderrLine(tt.line); got != tt.want {
				t.Errorf("classifyStderrLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

type fakeSink struct {
	name    string
	writes  [][]byte
	failOn  int // write call index (0-based) that returns an error, -1 for never
	nwrites int
}

func (f *fakeSink) Open(ext string) error { return nil }
func (f *fakeSink) IsOpened() bool        { return true }
func (f *fakeSink) Name() string          { return f.name }
func (f *fakeSink) Close() error          { return nil }

func (f *fakeSink) Write(block []byte) error {
	idx := f.nwrites
	f.nwrites++
	if f.failOn >= 0 && idx == f.failOn {
		return errors.New("boom")
	}
	cp := make([]byte, len(block))
	copy(cp, block)
	f.writes = append(f.writes, cp)
	return nil
}

func TestByteReaderFansOutToAllSinks(t *testing.T) {
	a := &fakeSink{name: "a", failOn: -1}
	b := &fakeSink{name: "b", failOn: -1}

	sinks := newActiveSinkSet(nil)
	sinks.m["a"] = a
	sinks.m["b"] = b

	payload := []byte("hello")
	r := bytes.NewReader(payload)
	events := make(chan readerEvent, 4)
	peeked := make(chan struct{})

	byteReader(r, sinks, events, peeked)

	select {
	case <-peeked:
	default:
		t.Error("peeked channel was not closed")
	}
	if len(a.writes) != 1 || !bytes.Equal(a.writes[0], payload) {
		t.Errorf("sink a got %v, want one write of %q", a.writes, payload)
	}
	if len(b.writes) != 1 || !bytes.Equal(b.writes[0], payload) {
		t.Errorf("sink b got %v, want one write of %q", b.writes, payload)
	}
}

func TestByteReaderRemovesFailingSinkButKeepsOthers(t *testing.T) {
	good := &fakeSink{name: "good", failOn: -1}
	bad := &fakeSink{name: "bad", failOn: 0}

	sinks := newActiveSinkSet(nil)
	sinks.m["good"] = good
	sinks.m["bad"] = bad

	r := bytes.NewReader([]byte("segment-bytes"))
	events := make(chan readerEvent, 4)
	peeked := make(chan struct{})

	byteReader(r, sinks, events, peeked)

	if sinks.get("bad") != nil {
		t.Error("failing sink should have been removed from the active set")
	}
	if sinks.get("good") == nil {
		t.Error("surviving sink should still be in the active set")
	}
	if sinks.empty() {
		t.Error("active set should not be empty while one sink survives")
	}

	select {
	case ev := <-events:
		if rerror.KindOf(ev.Err) != rerror.KindIO {
			t.Errorf("expected a KindIO event for the failing sink, got %v", rerror.KindOf(ev.Err))
		}
	case <-time.After(time.Second):
		t.Fatal("expected a write-failure event, got none")
	}
}

func TestByteReaderEmitsNoSinkWhenAllFail(t *testing.T) {
	bad := &fakeSink{name: "bad", failOn: 0}

	sinks := newActiveSinkSet(nil)
	sinks.m["bad"] = bad

	r := bytes.NewReader([]byte("x"))
	events := make(chan readerEvent, 4)
	peeked := make(chan struct{})

	byteReader(r, sinks, events, peeked)

	if !sinks.empty() {
		t.Error("active set should be empty once the only sink fails")
	}

	var sawNoSink bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if rerror.KindOf(ev.Err) == rerror.KindNoSink {
				sawNoSink = true
			}
		case <-time.After(time.Second):
		}
	}
	if !sawNoSink {
		t.Error("expected a KindNoSink event once the active set emptied")
	}
}

func TestLineReaderClassifiesAndRoutesWarnings(t *testing.T) {
	input := "[libx264 @ 0x1] using cpu capabilities\n" +
		"[tcp @ 0x1] Connection to tcp://10.0.0.1:554 failed\n" +
		"[rtsp @ 0x1] CSeq 9 expected, 1 received.\n"

	var warnings []string
	events := make(chan readerEvent, 4)

	lineReader(io.NopCloser(bytesReader(input)), events, func(line string) {
		warnings = append(warnings, line)
	})
	close(events)

	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1: %v", len(warnings), warnings)
	}

	var kinds []Kind
	for ev := range events {
		kinds = append(kinds, rerror.KindOf(ev.Err))
	}
	want := []Kind{KindUnreachable, KindReset}
	if len(kinds) != len(want) {
		t.Fatalf("got %d classified events, want %d: %v", len(kinds), len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: got %v, want %v", i, kinds[i], want[i])
		}
	}
}

func bytesReader(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }
