package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommandContext initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it; the process is
// killed when ctx is cancelled.
func NewSafeCommandContext(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps Python logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 MOODTRACE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nPYTHON CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Capture Engine ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// GetTotalFrames uses ffprobe to read the frame count of a video file.
// It returns 0 if the count is unknown, allowing the caller to fall back to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	type ffprobeOutput struct {
		Streams []struct {
			NbFrames string `json:"nb_frames"`
		} `json:"streams"`
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	var res ffprobeOutput
	if json.Unmarshal(out, &res) != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbFrames)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// CaptureInput describes where ffmpeg reads frames from.
type CaptureInput struct {
	Device string // camera device, e.g. /dev/video0 or "0" on macOS
	File   string // video file; takes precedence over Device
	FPS    int    // requested capture rate for devices, 0 keeps the device default
}

// NewCaptureCmd creates an ffmpeg process that writes MJPEG frames to Stdout.
// Using -vcodec mjpeg ensures we get JPEGs Go can split.
func NewCaptureCmd(ctx context.Context, in CaptureInput) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if in.File != "" {
		args = append(args, "-re", "-i", in.File)
	} else {
		args = append(args, "-f", deviceFormat())
		if in.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(in.FPS))
		}
		args = append(args, "-i", in.Device)
	}
	args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
	return NewSafeCommandContext(ctx, "ffmpeg", args...)
}

func deviceFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "v4l2"
	}
}

// SnapshotID creates a deterministic hash of a log snapshot so the same
// content is never archived twice.
func SnapshotID(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
