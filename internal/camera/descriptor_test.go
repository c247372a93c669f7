// SPDX-License-Identifier: MIT

package camera

import (
	"testing"
	"time"
)

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr bool
	}{
		{
			name:    "valid minimal",
			d:       Descriptor{Name: "front-door", URL: "rtsp://10.0.0.5/stream1", Sinks: []string{"local"}},
			wantErr: false,
		},
		{
			name:    "missing name",
			d:       Descriptor{URL: "rtsp://10.0.0.5/stream1", Sinks: []string{"local"}},
			wantErr: true,
		},
		{
			name:    "missing url",
			d:       Descriptor{Name: "front-door", Sinks: []string{"local"}},
			wantErr: true,
		},
		{
			name:    "no sinks",
			d:       Descriptor{Name: "front-door", URL: "rtsp://10.0.0.5/stream1"},
			wantErr: true,
		},
		{
			name: "invalid resolution",
			d: Descriptor{
				Name: "front-door", URL: "rtsp://10.0.0.5/stream1", Sinks: []string{"local"},
				Resolution: &Resolution{Width: 0, Height: 480},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStorageValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Storage
		wantErr bool
	}{
		{
			name:    "local ok",
			s:       Storage{Name: "local", Kind: StorageKindLocal, RootPath: "/var/lib/libreeye", SegmentLength: time.Minute},
			wantErr: false,
		},
		{
			name:    "local missing root path",
			s:       Storage{Name: "local", Kind: StorageKindLocal, SegmentLength: time.Minute},
			wantErr: true,
		},
		{
			name:    "object-store missing bucket",
			s:       Storage{Name: "cold", Kind: StorageKindObject, SegmentLength: time.Minute},
			wantErr: true,
		},
		{
			name:    "broadcast missing api url",
			s:       Storage{Name: "live", Kind: StorageKindBroadcast, SegmentLength: time.Minute},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			s:       Storage{Name: "mystery", Kind: "carrier-pigeon", SegmentLength: time.Minute},
			wantErr: true,
		},
		{
			name:    "zero segment length",
			s:       Storage{Name: "local", Kind: StorageKindLocal, RootPath: "/tmp"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStorageValidateDefaultsTimeout(t *testing.T) {
	s := Storage{Name: "local", Kind: StorageKindLocal, RootPath: "/tmp", SegmentLength: time.Minute}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if s.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want default 10s", s.Timeout)
	}
}
