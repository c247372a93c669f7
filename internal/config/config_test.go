// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chponte/libreeye/internal/camera"
)

func writeConfigFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoadStorage(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "storage.conf")
	writeConfigFile(t, path, `
local:
  kind: local
  root_path: /var/lib/libreeye
  segment_length: 60s
  retention_days: 30
cold:
  kind: object-store
  bucket: my-bucket
  region: us-east-1
  segment_length: 60s
  retention_days: 90
`)

	storage, err := LoadStorage(path)
	if err != nil {
		t.Fatalf("LoadStorage() error = %v", err)
	}
	if len(storage) != 2 {
		t.Fatalf("len(storage) = %d, want 2", len(storage))
	}
	if storage["local"].Name != "local" || storage["local"].RootPath != "/var/lib/libreeye" {
		t.Errorf("local backend = %+v", storage["local"])
	}
	if storage["cold"].Bucket != "my-bucket" {
		t.Errorf("cold backend = %+v", storage["cold"])
	}
}

func TestLoadStorageRejectsInvalidBackend(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "storage.conf")
	writeConfigFile(t, path, "broken:\n  kind: object-store\n  segment_length: 60s\n")

	if _, err := LoadStorage(path); err == nil {
		t.Fatal("LoadStorage() with a bucket-less object-store backend returned nil error")
	}
}

func TestLoadCameras(t *testing.T) {
	root := t.TempDir()
	camDir := filepath.Join(root, "cameras.d")
	writeConfigFile(t, filepath.Join(camDir, "front-door.conf"), `
url: rtsp://10.0.0.5/stream1
transport: tcp
sinks: [local]
`)
	writeConfigFile(t, filepath.Join(camDir, "garage.conf"), `
url: rtsp://10.0.0.6/stream1
sinks: [local, cold]
`)

	cams, err := LoadCameras(camDir)
	if err != nil {
		t.Fatalf("LoadCameras() error = %v", err)
	}
	if len(cams) != 2 {
		t.Fatalf("len(cams) = %d, want 2", len(cams))
	}
	if cams[1].Name != "garage" || cams[1].URL != "rtsp://10.0.0.6/stream1" {
		t.Errorf("garage descriptor = %+v", cams[1])
	}
	if cams[1].LogPath == "" {
		t.Error("LogPath should default when unset")
	}
}

func TestLoadCamerasRejectsInvalidDescriptor(t *testing.T) {
	root := t.TempDir()
	camDir := filepath.Join(root, "cameras.d")
	writeConfigFile(t, filepath.Join(camDir, "broken.conf"), "url: rtsp://10.0.0.5/s\n")

	if _, err := LoadCameras(camDir); err == nil {
		t.Fatal("LoadCameras() with no sinks returned nil error")
	}
}

func TestLoadConfigFullLayout(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, filepath.Join(root, "libreeye.conf"), `
control_socket: /run/libreeye/libreeye.sock
watchdog_interval: 30s
`)
	writeConfigFile(t, filepath.Join(root, "storage.conf"), `
local:
  kind: local
  root_path: /var/lib/libreeye
  segment_length: 60s
  retention_days: 30
`)
	writeConfigFile(t, filepath.Join(root, "cameras.d", "front-door.conf"), `
url: rtsp://10.0.0.5/stream1
sinks: [local]
`)

	cfg, err := LoadConfig(root)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.Cameras) != 1 {
		t.Fatalf("len(cfg.Cameras) = %d, want 1", len(cfg.Cameras))
	}
	if cfg.WatchdogInterval != 30*time.Second {
		t.Errorf("WatchdogInterval = %v, want 30s", cfg.WatchdogInterval)
	}
	if cfg.RetentionSweepInterval != DefaultConfig().RetentionSweepInterval {
		t.Errorf("RetentionSweepInterval = %v, want default", cfg.RetentionSweepInterval)
	}
}

func TestLoadConfigRejectsUnknownSink(t *testing.T) {
	root := t.TempDir()
	writeConfigFile(t, filepath.Join(root, "libreeye.conf"), "")
	writeConfigFile(t, filepath.Join(root, "storage.conf"), `
local:
  kind: local
  root_path: /var/lib/libreeye
  segment_length: 60s
`)
	writeConfigFile(t, filepath.Join(root, "cameras.d", "front-door.conf"), `
url: rtsp://10.0.0.5/stream1
sinks: [nonexistent]
`)

	if _, err := LoadConfig(root); err == nil {
		t.Fatal("LoadConfig() with an unknown sink reference returned nil error")
	}
}

func TestConfigValidateRejectsNoCameras(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with no cameras returned nil error")
	}
}

func TestConfigValidateRejectsDuplicateCameraNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cameras = []*camera.Descriptor{
		{Name: "front-door", URL: "rtsp://10.0.0.5/s", Sinks: []string{"local"}},
		{Name: "front-door", URL: "rtsp://10.0.0.6/s", Sinks: []string{"local"}},
	}
	cfg.Storage = map[string]*camera.Storage{
		"local": {Name: "local", Kind: camera.StorageKindLocal, RootPath: "/tmp", SegmentLength: time.Minute},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with duplicate camera names returned nil error")
	}
}
