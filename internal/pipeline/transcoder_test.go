// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/chponte/libreeye/internal/camera"
)

func TestDefaultTranscoderBuildsBaseCommand(t *testing.T) {
	d := &camera.Descriptor{
		Name:      "cam1",
		URL:       "rtsp://10.0.0.5/stream1",
		Transport: "tcp",
	}

	cmd, err := DefaultTranscoder(context.Background(), d)
	if err != nil {
		t.Fatalf("DefaultTranscoder() error = %v", err)
	}

	got := strings.Join(cmd.Args, " ")
	for _, want := range []string{
		"-rtsp_transport tcp",
		"-i rtsp://10.0.0.5/stream1",
		"-f matroska",
		"-vcodec libx264",
		"-preset fast",
		"-threads 1",
		"pipe:1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("command %q does not contain %q", got, want)
		}
	}
}

func TestDefaultTranscoderOmitsTransportWhenUnset(t *testing.T) {
	d := &camera.Descriptor{Name: "cam1", URL: "rtsp://10.0.0.5/stream1"}

	cmd, err := DefaultTranscoder(context.Background(), d)
	if err != nil {
		t.Fatalf("DefaultTranscoder() error = %v", err)
	}
	if strings.Contains(strings.Join(cmd.Args, " "), "-rtsp_transport") {
		t.Error("command should not set -rtsp_transport when Transport is empty")
	}
}

func TestDefaultTranscoderAddsScaleFilterWhenResolutionSet(t *testing.T) {
	d := &camera.Descriptor{
		Name:       "cam1",
		URL:        "rtsp://10.0.0.5/stream1",
		Resolution: &camera.Resolution{Width: 640, Height: 480},
	}

	cmd, err := DefaultTranscoder(context.Background(), d)
	if err != nil {
		t.Fatalf("DefaultTranscoder() error = %v", err)
	}
	if !strings.Contains(strings.Join(cmd.Args, " "), "-vf scale=640:480") {
		t.Errorf("command %q missing scale filter", strings.Join(cmd.Args, " "))
	}
}

func TestDefaultTranscoderAppendsOpaqueOptions(t *testing.T) {
	d := &camera.Descriptor{
		Name:              "cam1",
		URL:               "rtsp://10.0.0.5/stream1",
		TranscoderOptions: map[string]string{"crf": "23"},
	}

	cmd, err := DefaultTranscoder(context.Background(), d)
	if err != nil {
		t.Fatalf("DefaultTranscoder() error = %v", err)
	}
	if !strings.Contains(strings.Join(cmd.Args, " "), "-crf 23") {
		t.Errorf("command %q missing passthrough option", strings.Join(cmd.Args, " "))
	}
}
