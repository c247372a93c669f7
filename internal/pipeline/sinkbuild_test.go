// SPDX-License-Identifier: MIT

package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chponte/libreeye/internal/camera"
	"github.com/chponte/libreeye/internal/sink"
)

func TestBuildSinkLocal(t *testing.T) {
	root := t.TempDir()
	st := &camera.Storage{
		Name:          "local",
		Kind:          camera.StorageKindLocal,
		SegmentLength: time.Minute,
	}

	s, err := BuildSink("local", st, filepath.Join(root, "cam1"))
	if err != nil {
		t.Fatalf("BuildSink() error = %v", err)
	}
	if _, ok := s.(*sink.FileSink); !ok {
		t.Errorf("BuildSink() returned %T, want *sink.FileSink", s)
	}
	if s.Name() != "local" {
		t.Errorf("Name() = %q, want %q", s.Name(), "local")
	}
}

func TestBuildSinkObjectStore(t *testing.T) {
	st := &camera.Storage{
		Name:          "archive",
		Kind:          camera.StorageKindObject,
		Bucket:        "my-bucket",
		KeyPrefix:     "cam1/",
		Region:        "us-east-1",
		AccessKeyID:   "AKIA...",
		SecretKey:     "secret",
		SegmentLength: time.Minute,
		Timeout:       5 * time.Second,
	}

	s, err := BuildSink("archive", st, "")
	if err != nil {
		t.Fatalf("BuildSink() error = %v", err)
	}
	if _, ok := s.(*sink.ObjectStoreSink); !ok {
		t.Errorf("BuildSink() returned %T, want *sink.ObjectStoreSink", s)
	}
}

func TestBuildSinkBroadcast(t *testing.T) {
	st := &camera.Storage{
		Name:            "live",
		Kind:            camera.StorageKindBroadcast,
		BroadcastAPIURL: "http://localhost:8080",
		BroadcastToken:  "tok",
		SegmentLength:   time.Minute,
		Timeout:         5 * time.Second,
	}

	s, err := BuildSink("live", st, "")
	if err != nil {
		t.Fatalf("BuildSink() error = %v", err)
	}
	if _, ok := s.(*sink.BroadcastSink); !ok {
		t.Errorf("BuildSink() returned %T, want *sink.BroadcastSink", s)
	}
}

func TestBuildSinkUnknownKind(t *testing.T) {
	st := &camera.Storage{Name: "weird", Kind: "carrier-pigeon"}

	if _, err := BuildSink("weird", st, ""); err == nil {
		t.Fatal("BuildSink() with an unknown kind returned nil error")
	}
}
