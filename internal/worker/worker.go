// Package worker talks to the Python classification sidecar.
//
// Requests go over the child's stdin as [op:1][len:uint32][jpeg]. Responses
// come back on a side-channel pipe (FD 3 in the child) as [len:uint32][payload],
// where payload is [status:1] followed by either a JSON body (status 0) or
// [msgLen:uint32][message] (status 1).
//
// Op 'D' runs the object detector and answers with a JSON list of
// {"name","confidence","box"} in detector order. Op 'E' runs the emotion model
// with face enforcement disabled and answers {"dominant_emotion": "..."}.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/moodtrace/internal/types"
	"github.com/andresmejia3/moodtrace/internal/utils" // Using the SafeCommand wrapper
)

const (
	OpDetect  byte = 'D'
	OpEmotion byte = 'E'

	statusOK    byte = 0
	statusError byte = 1

	maxResponse = 16 * 1024 * 1024
)

// Config controls how the sidecar is launched.
type Config struct {
	Python      string // interpreter, default python3
	Script      string // default python/worker.py
	ReadTimeout time.Duration
}

type PythonWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration

	mu   sync.Mutex
	gone atomic.Bool
}

// ErrWorkerGone means the sidecar died or fell out of step with its requests
// and will not be asked again.
var ErrWorkerGone = errors.New("python worker is gone")

// Alive reports whether the sidecar is still answering.
func (w *PythonWorker) Alive() bool {
	return !w.gone.Load()
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Script == "" {
		cfg.Script = "python/worker.py"
	}

	py := utils.NewSafeCommandContext(ctx, cfg.Python, "-u", cfg.Script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// Detect implements pipeline.ObjectDetector.
func (w *PythonWorker) Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error) {
	body, err := w.Communicate(ctx, OpDetect, frame.Data)
	if err != nil {
		return nil, err
	}
	var detections []types.Detection
	if err := json.Unmarshal(body, &detections); err != nil {
		return nil, decodeFailure(body, err)
	}
	return detections, nil
}

// Classify implements pipeline.EmotionClassifier.
func (w *PythonWorker) Classify(ctx context.Context, frame types.Frame) (string, error) {
	body, err := w.Communicate(ctx, OpEmotion, frame.Data)
	if err != nil {
		return "", err
	}
	var res types.EmotionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return "", decodeFailure(body, err)
	}
	if res.DominantEmotion == "" {
		return "", decodeFailure(body, errors.New("missing dominant_emotion"))
	}
	return res.DominantEmotion, nil
}

// Communicate sends one request and returns the JSON body of a successful
// response. Calls are serialized; the sidecar handles one request at a time.
func (w *PythonWorker) Communicate(ctx context.Context, op byte, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.gone.Load() {
		return nil, ErrWorkerGone
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gone.Load() {
		return nil, ErrWorkerGone
	}

	// Protocol: [Op][Length][Data]
	var header [5]byte
	header[0] = op
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))
	if _, err := w.Stdin.Write(header[:]); err != nil {
		return nil, w.abandon(err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, w.abandon(err)
	}

	w.setDeadline(ctx)
	defer w.clearDeadline()

	// Any failure from here on leaves an unread (or half read) answer in the
	// pipe, so the next request would get this one's response.
	var lenBuf [4]byte
	if _, err := io.ReadFull(w.DataPipe, lenBuf[:]); err != nil {
		// This is where we catch the "ModuleNotFoundError" crash
		return nil, w.abandon(err)
	}
	respLen := binary.BigEndian.Uint32(lenBuf[:])
	if respLen == 0 || respLen > maxResponse {
		return nil, w.abandon(fmt.Errorf("invalid response length %d", respLen))
	}
	resp := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, resp); err != nil {
		return nil, w.abandon(err)
	}

	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusError:
		return nil, parseWorkerError(resp[1:])
	default:
		return nil, fmt.Errorf("python worker sent unknown status %d", resp[0])
	}
}

// abandon marks the worker unusable after a broken exchange and kills the
// process so a late answer can never be read as the reply to another frame.
func (w *PythonWorker) abandon(err error) error {
	if w.gone.CompareAndSwap(false, true) && w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	return fmt.Errorf("%w: %w", ErrWorkerGone, err)
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func (w *PythonWorker) setDeadline(ctx context.Context) {
	d, ok := w.DataPipe.(deadliner)
	if !ok {
		return
	}
	deadline, hasDeadline := ctx.Deadline()
	if w.ReadTimeout > 0 {
		if t := time.Now().Add(w.ReadTimeout); !hasDeadline || t.Before(deadline) {
			deadline, hasDeadline = t, true
		}
	}
	if hasDeadline {
		d.SetReadDeadline(deadline)
	}
}

func (w *PythonWorker) clearDeadline() {
	if d, ok := w.DataPipe.(deadliner); ok {
		d.SetReadDeadline(time.Time{})
	}
}

func parseWorkerError(body []byte) error {
	r := bytes.NewReader(body)
	var msgLen uint32
	if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
		return fmt.Errorf("python worker error: malformed error payload: %w", err)
	}
	if int64(msgLen) > int64(r.Len()) {
		return fmt.Errorf("python worker error: malformed error payload: message length %d exceeds %d bytes", msgLen, r.Len())
	}
	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("python worker error: malformed error payload: %w", err)
	}
	return fmt.Errorf("python worker error: %s", msg)
}

// decodeFailure checks whether the body is a Python error object (e.g.
// {"error": "..."}) before reporting a genuine unmarshal failure.
func decodeFailure(body []byte, err error) error {
	var errorResult types.ErrorResult
	if json.Unmarshal(body, &errorResult) == nil && errorResult.Error != "" {
		return fmt.Errorf("python worker logic error: %s", errorResult.Error)
	}
	return fmt.Errorf("python worker JSON malformed: %w", err)
}
