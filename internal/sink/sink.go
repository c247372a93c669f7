// SPDX-License-Identifier: MIT

// Package sink defines the capability set every recording destination
// implements (file, object-store, broadcast) and the small state machine
// that governs it. A Sink is opened once per segment, written to many
// times, then closed; a fresh Sink life-cycle starts at the next rollover.
//
// Reference: surveillance/sink.py and surveillance/sinks/aws_bucket.py of
// the original implementation, reworked as a capability set rather than an
// abstract base class per the interface/implementation split.
package sink

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is the wall clock segment names are stamped from. Tests substitute
// a clockwork.FakeClock so rollover-adjacent timestamps are deterministic
// instead of racing the real clock.
var clock clockwork.Clock = clockwork.NewRealClock()

// State is a Sink's position in the closed -> opening -> open -> closing ->
// closed life-cycle. Only Open and IsOpened/Write/Close are exported; State
// itself is exposed for tests and diagnostics.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Sink is the capability set the pipeline drives. Implementations must be
// safe for the call sequence Open; (Write)*; Close; Open; ... issued in that
// order, Open and Close from the pipeline's main loop and Write from its
// byte-reader goroutine, while IsOpened may be polled concurrently from the
// pipeline's main loop.
type Sink interface {
	// Open allocates whatever backend resource this sink needs for a new
	// segment and stamps a segment name from the current local time.
	// Opening an already-open sink is a no-op. ext is the container
	// extension to use for the segment name (without the leading dot).
	Open(ext string) error

	// IsOpened reports whether the sink is currently in StateOpen. It must
	// not block.
	IsOpened() bool

	// Write appends a block to the current segment. It must not reorder
	// bytes relative to earlier successful writes on this sink.
	Write(block []byte) error

	// Close flushes buffered bytes, finalizes the segment and transitions
	// to StateClosed. Calling Close on an already-closed sink is a no-op.
	Close() error

	// Name identifies the sink for logging (normally the storage
	// descriptor's name).
	Name() string
}

// segmentName formats the wall-clock-derived segment identifier used by
// every backend: "<dd_mm_yy_HH_MM>.<ext>", matching the persisted-state
// layout from the external interfaces.
func segmentName(t time.Time, ext string) string {
	return fmt.Sprintf("%s.%s", t.Local().Format("02_01_06_15_04"), ext)
}

// now returns the current time from the package clock.
func now() time.Time { return clock.Now() }

// stateBox is a small atomic wrapper embedded by each concrete sink so the
// closed/opening/open/closing transitions are consistent across backends
// without duplicating the compare-and-swap boilerplate in every file.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) get() State        { return State(b.v.Load()) }
func (b *stateBox) set(s State)       { b.v.Store(int32(s)) }
func (b *stateBox) isOpened() bool    { return b.get() == StateOpen }
func (b *stateBox) casOpening() bool  { return b.v.CompareAndSwap(int32(StateClosed), int32(StateOpening)) }
