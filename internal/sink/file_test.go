// SPDX-License-Identifier: MIT

package sink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chponte/libreeye/internal/rerror"
)

func TestFileSinkOpenWriteClose(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSink("cam1", root)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	if s.IsOpened() {
		t.Fatal("IsOpened() = true before Open")
	}
	if err := s.Open("mp4"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !s.IsOpened() {
		t.Fatal("IsOpened() = false after Open")
	}

	// Opening an already-open sink is a no-op.
	if err := s.Open("mp4"); err != nil {
		t.Fatalf("second Open() error = %v", err)
	}

	payload := []byte("segment-bytes")
	if err := s.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.IsOpened() {
		t.Fatal("IsOpened() = true after Close")
	}

	// Closing an already-closed sink is a no-op.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if ext := filepath.Ext(entries[0].Name()); ext != ".mp4" {
		t.Errorf("segment extension = %q, want .mp4", ext)
	}

	got, err := os.ReadFile(filepath.Join(root, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("segment contents = %q, want %q", got, payload)
	}
}

func TestFileSinkWriteBeforeOpen(t *testing.T) {
	s, err := NewFileSink("cam1", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	err = s.Write([]byte("x"))
	if rerror.KindOf(err) != rerror.KindInternal {
		t.Errorf("Write() before Open kind = %v, want %v", rerror.KindOf(err), rerror.KindInternal)
	}
}

func TestFileSinkName(t *testing.T) {
	s, err := NewFileSink("front-door", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	if s.Name() != "front-door" {
		t.Errorf("Name() = %q, want %q", s.Name(), "front-door")
	}
}

func TestFileSinkSegmentNameFollowsInjectedClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, time.January, 2, 3, 4, 0, 0, time.Local))
	old := clock
	clock = fake
	defer func() { clock = old }()

	root := t.TempDir()
	s, err := NewFileSink("cam1", root)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	if err := s.Open("mp4"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	want := "02_01_26_03_04.mp4"
	if entries[0].Name() != want {
		t.Errorf("segment name = %q, want %q", entries[0].Name(), want)
	}
}

func TestFileSinkRootCreatedOnConstruction(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "path")
	if _, err := NewFileSink("cam1", root); err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Error("root was not created as a directory")
	}
}
