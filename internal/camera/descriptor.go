// SPDX-License-Identifier: MIT

// Package camera holds the immutable descriptors loaded from configuration:
// cameras and the storage backends they record to. Nothing in this package
// does I/O; it is pure data plus the small amount of validation needed to
// catch a broken config file before a pipeline is started on it.
package camera

import (
	"fmt"
	"time"
)

// Descriptor is the immutable configuration for a single camera, loaded
// once at startup and never mutated afterwards. Concurrent readers do not
// need to synchronize on it.
type Descriptor struct {
	// Name uniquely identifies the camera; it is used as the map key in
	// the supervisor's camera table and as a path component for segments.
	Name string `yaml:"-"`

	// URL is the camera's source, e.g. "rtsp://192.168.1.10/stream1".
	URL string `yaml:"url"`

	// Transport is a hint for the transcoder's RTSP transport
	// ("tcp", "udp"); empty lets the transcoder choose.
	Transport string `yaml:"transport"`

	// Resolution optionally rescales the output. Nil means "no rescale".
	Resolution *Resolution `yaml:"resolution,omitempty"`

	// TranscoderOptions passes through opaque key/value pairs appended to
	// the transcoder's command line (e.g. extra filters, quality knobs).
	TranscoderOptions map[string]string `yaml:"options,omitempty"`

	// Motion optionally enables the motion-detection tap.
	Motion *MotionConfig `yaml:"motion,omitempty"`

	// LogPath is the file the supervisor attaches to this camera's pipeline
	// child process as its stdout/stderr log. The transcoder's own stderr
	// goes to a separate <LogDir>/<name>-transcoder.log.
	LogPath string `yaml:"log_path"`

	// Sinks lists the storage backends this camera records to, by name
	// (each name must match a Storage descriptor).
	Sinks []string `yaml:"sinks"`
}

// Resolution is a target output width/height in pixels.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// MotionConfig carries parameters for the optional motion-detection tap.
type MotionConfig struct {
	Enabled        bool    `yaml:"enabled"`
	DownscaleWidth int     `yaml:"downscale_width"`
	FrameStep      int     `yaml:"frame_step"` // emit every Nth frame
	Sensitivity    float64 `yaml:"sensitivity"`
}

// Validate checks that the descriptor is internally consistent. It does not
// reach the network or the filesystem.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("camera descriptor: name cannot be empty")
	}
	if d.URL == "" {
		return fmt.Errorf("camera %q: url cannot be empty", d.Name)
	}
	if len(d.Sinks) == 0 {
		return fmt.Errorf("camera %q: must reference at least one sink", d.Name)
	}
	if d.Resolution != nil && (d.Resolution.Width <= 0 || d.Resolution.Height <= 0) {
		return fmt.Errorf("camera %q: invalid resolution %dx%d", d.Name, d.Resolution.Width, d.Resolution.Height)
	}
	return nil
}

// StorageKind identifies which concrete sink/retention backend a Storage
// descriptor configures.
type StorageKind string

const (
	StorageKindLocal     StorageKind = "local"
	StorageKindObject    StorageKind = "object-store"
	StorageKindBroadcast StorageKind = "broadcast"
)

// Storage is the immutable configuration for one storage backend. A single
// Storage descriptor may be referenced by many cameras.
type Storage struct {
	Name string      `yaml:"-"`
	Kind StorageKind `yaml:"kind"`

	// Local backend.
	RootPath string `yaml:"root_path,omitempty"`

	// Object-store backend.
	Bucket      string `yaml:"bucket,omitempty"`
	KeyPrefix   string `yaml:"key_prefix,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	AccessKeyID string `yaml:"access_key_id,omitempty"`
	SecretKey   string `yaml:"secret_access_key,omitempty"`

	// Broadcast backend.
	BroadcastAPIURL string `yaml:"broadcast_api_url,omitempty"`
	BroadcastToken  string `yaml:"broadcast_token,omitempty"`

	// Common to all backends.
	SegmentLength time.Duration `yaml:"segment_length"`
	Retention     int           `yaml:"retention_days"`

	// Timeout bounds connect/read operations against remote backends and
	// caps how long a sink waits for its background uploader on Close.
	Timeout time.Duration `yaml:"timeout"`
}

// Validate checks internal consistency of the storage descriptor.
func (s *Storage) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("storage descriptor: name cannot be empty")
	}
	if s.SegmentLength <= 0 {
		return fmt.Errorf("storage %q: segment_length must be positive", s.Name)
	}
	switch s.Kind {
	case StorageKindLocal:
		if s.RootPath == "" {
			return fmt.Errorf("storage %q: root_path cannot be empty", s.Name)
		}
	case StorageKindObject:
		if s.Bucket == "" {
			return fmt.Errorf("storage %q: bucket cannot be empty", s.Name)
		}
	case StorageKindBroadcast:
		if s.BroadcastAPIURL == "" {
			return fmt.Errorf("storage %q: broadcast_api_url cannot be empty", s.Name)
		}
	default:
		return fmt.Errorf("storage %q: unknown kind %q", s.Name, s.Kind)
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	return nil
}
