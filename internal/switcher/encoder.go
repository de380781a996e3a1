package switcher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EncoderConfig is the fixed ffmpeg argument contract. The supervisor passes
// the result of ProcessArgs or PipeArgs to the launcher verbatim.
type EncoderConfig struct {
	Binary    string
	OutputURL string

	VideoCodec   string
	Preset       string
	Tune         string
	Profile      string
	Level        string
	FrameRate    int
	Size         string
	PixelFormat  string
	VideoBitrate string
	MaxRate      string
	BufSize      string
	GOP          int

	AudioCodec   string
	SampleRate   int
	Channels     int
	AudioBitrate string

	// Loop replays a clip until the session is terminated.
	Loop bool

	// PipeInputFormat is the demuxer forced on the named pipe. Clips fed
	// through the pipe must be concatenable in this format.
	PipeInputFormat string

	// FatalMarkers are diagnostic substrings that fail a startup outright.
	FatalMarkers []string
	// ErrorMarkers are substrings counted against the runtime error budget.
	ErrorMarkers []string
}

// DefaultEncoderConfig returns a 720x1280 30fps baseline H.264/AAC FLV profile.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Binary:          "ffmpeg",
		VideoCodec:      "libx264",
		Preset:          "ultrafast",
		Tune:            "zerolatency",
		Profile:         "baseline",
		Level:           "3.1",
		FrameRate:       30,
		Size:            "720x1280",
		PixelFormat:     "yuv420p",
		VideoBitrate:    "1200k",
		MaxRate:         "1200k",
		BufSize:         "1800k",
		GOP:             60,
		AudioCodec:      "aac",
		SampleRate:      44100,
		Channels:        2,
		AudioBitrate:    "128k",
		Loop:            true,
		PipeInputFormat: "mpegts",
		FatalMarkers: []string{
			"Connection refused",
			"Already publishing",
			"Input/output error",
			"Server returned 4",
			"Server returned 5",
			"Error opening output",
			"Failed to open",
			"No such file or directory",
			"Conversion failed!",
		},
		ErrorMarkers: []string{"error", "Error", "failed"},
	}
}

// Validate reports missing mandatory encoder settings.
func (e EncoderConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Binary) == "" {
		errs = append(errs, errors.New("encoder binary is required"))
	}
	if strings.TrimSpace(e.OutputURL) == "" {
		errs = append(errs, errors.New("encoder output url is required"))
	}
	if e.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("encoder frame rate %d must be positive", e.FrameRate))
	}
	if e.GOP <= 0 {
		errs = append(errs, fmt.Errorf("encoder gop %d must be positive", e.GOP))
	}
	return errors.Join(errs...)
}

// ProcessArgs builds the arguments for a per-clip encoder reading input.
func (e EncoderConfig) ProcessArgs(input string) []string {
	args := []string{"-hide_banner", "-re"}
	if e.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args, "-i", input)
	return append(args, e.outputArgs(time.Now())...)
}

// PipeArgs builds the arguments for the persistent encoder reading fifo.
func (e EncoderConfig) PipeArgs(fifo string) []string {
	args := []string{"-hide_banner", "-re"}
	if e.PipeInputFormat != "" {
		args = append(args, "-f", e.PipeInputFormat)
	}
	args = append(args, "-i", fifo)
	return append(args, e.outputArgs(time.Now())...)
}

func (e EncoderConfig) outputArgs(now time.Time) []string {
	gop := strconv.Itoa(e.GOP)
	return []string{
		// timestamps restart at zero for every session
		"-fflags", "+genpts+discardcorrupt",
		"-flags", "+global_header",
		"-avoid_negative_ts", "make_zero",
		"-fps_mode", "cfr",

		"-c:v", e.VideoCodec,
		"-preset", e.Preset,
		"-tune", e.Tune,
		"-profile:v", e.Profile,
		"-level", e.Level,
		"-r", strconv.Itoa(e.FrameRate),
		"-s", e.Size,
		"-pix_fmt", e.PixelFormat,
		"-b:v", e.VideoBitrate,
		"-maxrate", e.MaxRate,
		"-bufsize", e.BufSize,
		"-g", gop,
		"-keyint_min", gop,
		"-x264-params", fmt.Sprintf("scenecut=0:open_gop=0:min-keyint=%s:keyint=%s", gop, gop),

		"-c:a", e.AudioCodec,
		"-ar", strconv.Itoa(e.SampleRate),
		"-ac", strconv.Itoa(e.Channels),
		"-b:a", e.AudioBitrate,
		"-af", "aresample=async=1:min_comp=0.1:first_pts=0",

		"-f", "flv",
		"-flvflags", "no_duration_filesize+no_sequence_end",
		"-metadata", "streamId=switch_" + strconv.FormatInt(now.UnixMilli(), 10),
		e.OutputURL,
	}
}

// isFatal reports whether a diagnostic line is a hard startup failure.
func (e EncoderConfig) isFatal(line string) bool {
	return containsAny(line, e.FatalMarkers)
}

// isError reports whether a diagnostic line counts against the error budget.
func (e EncoderConfig) isError(line string) bool {
	return containsAny(line, e.ErrorMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, m) {
			return true
		}
	}
	return false
}
