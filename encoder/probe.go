package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// MediaInfo describes a probed media file.
type MediaInfo struct {
	Container string  // comma-separated container tokens as ffprobe reports them
	Duration  float64 // seconds, 0 when the container does not say
	Streams   []Stream
}

// Stream is one elementary stream of a probed file.
type Stream struct {
	Type  string // "video", "audio", "subtitle", ...
	Codec string
}

var (
	playableContainers = map[string]bool{"mov": true, "mp4": true, "m4a": true, "3gp": true}
	playableVideo      = map[string]bool{"h264": true}
	playableAudio      = map[string]bool{"aac": true, "mp3": true}
)

// Compatible reports whether receivers play the file as-is: an
// MP4-family container, H.264 video and AAC or MP3 audio throughout.
func (m *MediaInfo) Compatible() bool {
	container := false
	for _, tok := range strings.Split(m.Container, ",") {
		if playableContainers[strings.TrimSpace(tok)] {
			container = true
			break
		}
	}
	if !container {
		return false
	}
	for _, s := range m.Streams {
		switch s.Type {
		case "video":
			if !playableVideo[s.Codec] {
				return false
			}
		case "audio":
			if !playableAudio[s.Codec] {
				return false
			}
		}
	}
	return true
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// Probe inspects path with ffprobe.
func (e *Encoder) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, e.ffprobe,
		"-print_format", "json",
		"-v", "quiet",
		"-show_format",
		"-show_streams",
		path)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrMediaParse, path)
	}
	return parseProbeOutput(path, out)
}

func parseProbeOutput(path string, out []byte) (*MediaInfo, error) {
	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMediaParse, path, err)
	}
	if probed.Format.FormatName == "" {
		return nil, fmt.Errorf("%w: %s", ErrMediaParse, path)
	}

	info := &MediaInfo{Container: probed.Format.FormatName}
	if probed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}
	for _, s := range probed.Streams {
		info.Streams = append(info.Streams, Stream{Type: s.CodecType, Codec: s.CodecName})
	}
	return info, nil
}
