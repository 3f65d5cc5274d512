package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	indexName  = "airplay.m3u8"
	streamName = "airplay.ts"
)

// Segment converts the inputs into the single-file HLS rendition
// receivers accept: airplay.m3u8 plus one airplay.ts in outDir. The HLS
// muxer re-encodes to H.264/AAC by default, which is the point. An
// empty outDir means a fresh temp directory owned by the caller, a
// non-empty one must already exist; extra is spliced between the inputs
// and the output.
func (e *Encoder) Segment(ctx context.Context, paths []string, outDir string, extra ...string) (index, stream string, err error) {
	if len(paths) == 0 {
		return "", "", fmt.Errorf("encoder: no input files")
	}
	if outDir != "" {
		st, err := os.Stat(outDir)
		if err != nil {
			return "", "", fmt.Errorf("encoder: output directory: %w", err)
		}
		if !st.IsDir() {
			return "", "", fmt.Errorf("encoder: output path %s is not a directory", outDir)
		}
	}
	inputs := make([]string, 0, 2*len(paths))
	for _, p := range paths {
		inputs = append(inputs, "-i", p)
	}
	return e.segment(ctx, inputs, outDir, extra)
}

func (e *Encoder) segment(ctx context.Context, inputArgs []string, outDir string, extra []string) (index, stream string, err error) {
	if outDir == "" {
		outDir, err = os.MkdirTemp("", "aircast-hls-")
		if err != nil {
			return "", "", fmt.Errorf("encoder: %w", err)
		}
	}
	index = filepath.Join(outDir, indexName)
	stream = filepath.Join(outDir, streamName)

	args := append([]string{}, inputArgs...)
	args = append(args,
		"-hls_flags", "single_file",
		"-hls_list_size", "0",
		"-hls_allow_cache", "1",
		"-hls_segment_filename", stream,
	)
	args = append(args, extra...)
	args = append(args, index)

	e.log.Debug("running ffmpeg", "args", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		return "", "", classifyFFmpegFailure(out)
	}
	return index, stream, nil
}

// SelfTest proves the toolchain can produce a playable rendition: one
// second of synthetic video and silence, segmented and probed back.
func (e *Encoder) SelfTest(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "aircast-selftest-")
	if err != nil {
		return fmt.Errorf("encoder: %w", err)
	}
	defer os.RemoveAll(dir)

	inputs := []string{
		"-f", "lavfi", "-i", "testsrc=duration=1:size=320x240:rate=25",
		"-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
	}
	_, stream, err := e.segment(ctx, inputs, dir, []string{"-t", "1"})
	if err != nil {
		return err
	}

	info, err := e.Probe(ctx, stream)
	if err != nil {
		return err
	}
	if !strings.Contains(info.Container, "mpegts") {
		return fmt.Errorf("%w: self-test wrote %q, want mpegts", ErrNotInstalled, info.Container)
	}
	var video, audio bool
	for _, s := range info.Streams {
		switch {
		case s.Type == "video" && s.Codec == "h264":
			video = true
		case s.Type == "audio" && s.Codec == "aac":
			audio = true
		}
	}
	if !video || !audio {
		return fmt.Errorf("%w: self-test rendition lacks h264+aac", ErrNotInstalled)
	}
	return nil
}

// ffmpeg names unreadable input with this exact phrase. Anything else
// that makes it fail on these arguments is a toolchain predating the
// single-file HLS flags.
func classifyFFmpegFailure(output []byte) error {
	if bytes.Contains(output, []byte("Invalid data found when processing input")) {
		return fmt.Errorf("%w: %s", ErrMediaParse, lastLine(output))
	}
	return fmt.Errorf("%w: %s", ErrNotInstalled, lastLine(output))
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
