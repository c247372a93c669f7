// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestKoanfConfigLoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libreeye.conf")
	writeConfigFile(t, path, "control_socket: /tmp/libreeye.sock\nwatchdog_interval: 45s\n")

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("LIBREEYE_TEST_UNUSED"))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ControlSocket != "/tmp/libreeye.sock" {
		t.Errorf("ControlSocket = %q, want /tmp/libreeye.sock", cfg.ControlSocket)
	}
	if cfg.WatchdogInterval != 45*time.Second {
		t.Errorf("WatchdogInterval = %v, want 45s", cfg.WatchdogInterval)
	}
}

func TestKoanfConfigEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libreeye.conf")
	writeConfigFile(t, path, "control_socket: /tmp/from-yaml.sock\n")

	t.Setenv("LIBREEYETEST_CONTROL_SOCKET", "/tmp/from-env.sock")

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("LIBREEYETEST"))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ControlSocket != "/tmp/from-env.sock" {
		t.Errorf("ControlSocket = %q, want env override /tmp/from-env.sock", cfg.ControlSocket)
	}
}

func TestKoanfConfigReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libreeye.conf")
	writeConfigFile(t, path, "control_socket: /tmp/first.sock\n")

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("LIBREEYERELOAD"))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	writeConfigFile(t, path, "control_socket: /tmp/second.sock\n")
	if err := kc.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ControlSocket != "/tmp/second.sock" {
		t.Errorf("ControlSocket = %q after reload, want /tmp/second.sock", cfg.ControlSocket)
	}
}

func TestKoanfConfigWatchRequiresFilePath(t *testing.T) {
	kc, err := NewKoanfConfig(WithEnvPrefix("LIBREEYENOFILE"))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}
	if err := kc.Watch(context.Background(), func(string, error) {}); err == nil {
		t.Fatal("Watch() with no file path returned nil error")
	}
}

func TestKoanfConfigGetters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libreeye.conf")
	writeConfigFile(t, path, "control_socket: /tmp/x.sock\nwatchdog_interval: 10s\n")

	kc, err := NewKoanfConfig(WithYAMLFile(path), WithEnvPrefix("LIBREEYEGET"))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}
	if got := kc.GetString("control_socket"); got != "/tmp/x.sock" {
		t.Errorf("GetString(control_socket) = %q", got)
	}
	if !kc.Exists("control_socket") {
		t.Error("Exists(control_socket) = false, want true")
	}
	if kc.Exists("nonexistent") {
		t.Error("Exists(nonexistent) = true, want false")
	}
	if len(kc.All()) == 0 {
		t.Error("All() returned empty map")
	}
}
