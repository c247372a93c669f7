// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/chponte/libreeye/internal/camera"
)

// DefaultTranscoderPath is the binary DefaultTranscoder shells out to when
// a camera descriptor doesn't override it.
const DefaultTranscoderPath = "ffmpeg"

// DefaultTranscoder builds the transcoder command line for one camera: pull
// the RTSP source, optionally rescale, append the descriptor's opaque
// transcoder options, mux to Matroska on stdout so the byte-reader can fan
// it out to sinks. No timestamp overlay or other video filter is added.
//
// Command format:
//
//	ffmpeg -r 5 -rtsp_transport TRANSPORT -i URL -v warning \
//	  [-vf scale=W:H] \
//	  -f matroska -vcodec libx264 -preset fast -threads 1 pipe:1
//
// Reference: surveillance/camera.py's _create_ffmpeg, translated from the
// ffmpeg-python builder into a literal argv the way the source tree's
// buildFFmpegCommand constructs its own ffmpeg invocation.
func DefaultTranscoder(ctx context.Context, d *camera.Descriptor) (*exec.Cmd, error) {
	args := []string{"-r", "5"}
	if d.Transport != "" {
		args = append(args, "-rtsp_transport", d.Transport)
	}
	args = append(args, "-i", d.URL, "-v", "warning")

	if d.Resolution != nil {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", d.Resolution.Width, d.Resolution.Height))
	}

	for k, v := range d.TranscoderOptions {
		args = append(args, "-"+k, v)
	}

	args = append(args,
		"-f", "matroska",
		"-vcodec", "libx264",
		"-preset", "fast",
		"-threads", "1",
		"pipe:1",
	)

	// #nosec G204 -- args are built from validated configuration, not
	// unsanitized user input.
	return exec.CommandContext(ctx, DefaultTranscoderPath, args...), nil
}
