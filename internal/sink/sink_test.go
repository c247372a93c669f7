// SPDX-License-Identifier: MIT

package sink

import (
	"testing"
	"time"
)

func TestSegmentNameFormat(t *testing.T) {
	ts := time.Date(2026, time.March, 5, 14, 7, 0, 0, time.Local)
	got := segmentName(ts, "mp4")
	want := "05_03_26_14_07.mp4"
	if got != want {
		t.Errorf("segmentName() = %q, want %q", got, want)
	}
}

func TestStateBoxTransitions(t *testing.T) {
	var b stateBox

	if b.get() != StateClosed {
		t.Fatalf("new stateBox = %v, want %v", b.get(), StateClosed)
	}
	if b.isOpened() {
		t.Fatal("new stateBox reports opened")
	}

	if !b.casOpening() {
		t.Fatal("casOpening() = false from StateClosed, want true")
	}
	if b.casOpening() {
		t.Fatal("casOpening() = true from StateOpening, want false")
	}

	b.set(StateOpen)
	if !b.isOpened() {
		t.Error("isOpened() = false in StateOpen")
	}

	b.set(StateClosing)
	if b.isOpened() {
		t.Error("isOpened() = true in StateClosing")
	}

	b.set(StateClosed)
	if !b.casOpening() {
		t.Fatal("casOpening() = false after returning to StateClosed, want true")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:  "closed",
		StateOpening: "opening",
		StateOpen:    "open",
		StateClosing: "closing",
		State(99):    "unknown(99)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
