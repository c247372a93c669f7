// SPDX-License-Identifier: MIT

// Package config loads the supervisor's on-disk configuration: daemon-level
// settings from libreeye.conf, storage backends from storage.conf, and one
// camera descriptor per file under cameras.d/. Detailed section parsing
// mirrors the original ConfigParser-based layout; the result is the typed
// camera.Descriptor/camera.Storage pair the rest of the system consumes.
//
// Reference: utils/config.py's Config/CameraConfig/StorageConfig for the
// three-file layout, and the source tree's internal/config for the
// koanf-based env-override idiom this package keeps for daemon settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/chponte/libreeye/internal/camera"
	"github.com/chponte/libreeye/internal/procsup"
	"github.com/chponte/libreeye/internal/rerror"
)

// DefaultConfigRoot is where the supervisor looks for libreeye.conf,
// storage.conf, and cameras.d/ unless overridden on the command line.
const DefaultConfigRoot = "/etc/libreeye"

// Config is the supervisor's fully loaded configuration: daemon-level
// settings plus every camera and storage descriptor found under
// ConfigRoot.
type Config struct {
	ConfigRoot string `yaml:"-" koanf:"-"`

	ControlSocket          string        `yaml:"control_socket" koanf:"control_socket"`
	PIDFile                string        `yaml:"pid_file" koanf:"pid_file"`
	LogDir                 string        `yaml:"log_dir" koanf:"log_dir"`
	StopTimeout            time.Duration `yaml:"stop_timeout" koanf:"stop_timeout"`
	RetentionSweepInterval time.Duration `yaml:"retention_sweep_interval" koanf:"retention_sweep_interval"`
	WatchdogInterval       time.Duration `yaml:"watchdog_interval" koanf:"watchdog_interval"`
	HealthAddr             string        `yaml:"health_addr" koanf:"health_addr"`

	Cameras []*camera.Descriptor       `yaml:"-" koanf:"-"`
	Storage map[string]*camera.Storage `yaml:"-" koanf:"-"`
}

// DefaultConfig returns the daemon-level settings used when libreeye.conf
// and the environment are both silent on a field.
func DefaultConfig() Config {
	return Config{
		ControlSocket:          "/run/libreeye/libreeye.sock",
		PIDFile:                "/run/libreeye/libreeye.pid",
		LogDir:                 "/var/log/libreeye",
		StopTimeout:            procsup.DefaultStopTimeout,
		RetentionSweepInterval: 24 * time.Hour,
		WatchdogInterval:       60 * time.Second,
		HealthAddr:             "127.0.0.1:8866",
	}
}

// LoadConfig reads libreeye.conf (with LIBREEYE_* environment overrides),
// storage.conf, and every file under cameras.d/, cross-checks that each
// camera's sinks reference a declared storage backend, and validates the
// result.
func LoadConfig(root string) (*Config, error) {
	kc, err := NewKoanfConfig(
		WithYAMLFile(filepath.Join(root, "libreeye.conf")),
		WithEnvPrefix("LIBREEYE"),
	)
	if err != nil {
		return nil, rerror.Wrap(rerror.KindIO, "load libreeye.conf", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		return nil, err
	}
	cfg.ConfigRoot = root
	cfg.applyDefaults()

	storage, err := LoadStorage(filepath.Join(root, "storage.conf"))
	if err != nil {
		return nil, err
	}
	cfg.Storage = storage

	cameras, err := LoadCameras(filepath.Join(root, "cameras.d"))
	if err != nil {
		return nil, err
	}
	for _, d := range cameras {
		for _, sinkName := range d.Sinks {
			if _, ok := storage[sinkName]; !ok {
				return nil, fmt.Errorf("camera %q references unknown storage %q", d.Name, sinkName)
			}
		}
	}
	cfg.Cameras = cameras

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills any daemon-level field left zero after the koanf
// load with DefaultConfig's value.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ControlSocket == "" {
		c.ControlSocket = d.ControlSocket
	}
	if c.PIDFile == "" {
		c.PIDFile = d.PIDFile
	}
	if c.LogDir == "" {
		c.LogDir = d.LogDir
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.RetentionSweepInterval <= 0 {
		c.RetentionSweepInterval = d.RetentionSweepInterval
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	if c.HealthAddr == "" {
		c.HealthAddr = d.HealthAddr
	}
}

// Validate checks the aggregate configuration is internally consistent:
// required daemon paths are set, camera names are unique, and every
// camera/storage descriptor individually validates.
func (c *Config) Validate() error {
	if c.ControlSocket == "" {
		return fmt.Errorf("control_socket cannot be empty")
	}
	if c.PIDFile == "" {
		return fmt.Errorf("pid_file cannot be empty")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("no cameras configured under %s", filepath.Join(c.ConfigRoot, "cameras.d"))
	}

	seen := make(map[string]bool, len(c.Cameras))
	for _, d := range c.Cameras {
		if seen[d.Name] {
			return fmt.Errorf("duplicate camera name %q", d.Name)
		}
		seen[d.Name] = true
		if err := d.Validate(); err != nil {
			return err
		}
	}
	for _, s := range c.Storage {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadCameras loads one camera.Descriptor per "*.conf" file in dir, named
// after the file's basename (matching cameras.d/front-door.conf ->
// "front-door", the original ConfigParser layout's per-file camera name).
func LoadCameras(dir string) ([]*camera.Descriptor, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.conf"))
	if err != nil {
		return nil, rerror.Wrap(rerror.KindIO, "glob "+dir, err)
	}
	sort.Strings(matches)

	out := make([]*camera.Descriptor, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, rerror.Wrap(rerror.KindIO, "read "+path, err)
		}
		var d camera.Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, rerror.Wrap(rerror.KindInternal, "parse "+path, err)
		}
		d.Name = strings.TrimSuffix(filepath.Base(path), ".conf")
		if d.LogPath == "" {
			d.LogPath = filepath.Join("/var/log/libreeye", d.Name+".log")
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, nil
}

// LoadStorage loads every backend declared in storage.conf, one YAML
// mapping entry per backend, keyed by the name cameras reference in their
// "sinks" list.
func LoadStorage(path string) (map[string]*camera.Storage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerror.Wrap(rerror.KindIO, "read "+path, err)
	}
	var raw map[string]camera.Storage
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, rerror.Wrap(rerror.KindInternal, "parse "+path, err)
	}

	out := make(map[string]*camera.Storage, len(raw))
	for name, st := range raw {
		st := st
		st.Name = name
		if err := st.Validate(); err != nil {
			return nil, err
		}
		out[name] = &st
	}
	return out, nil
}
