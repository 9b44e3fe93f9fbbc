// Package capture turns an ffmpeg MJPEG stream into frames for the pipeline.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/moodtrace/internal/types"
	"github.com/andresmejia3/moodtrace/internal/utils"
)

const megabyte = 1024 * 1024

// ErrNoFrame means no frame arrived within the acquisition timeout.
var ErrNoFrame = errors.New("no frame available")

// Options tune a Source.
type Options struct {
	Input          utils.CaptureInput
	AcquireTimeout time.Duration // how long Read waits for a frame, default 100ms
	MaxWidth       uint          // downscale wider frames before classification, 0 disables
}

// Source reads frames from ffmpeg. Only the newest frame is kept: a slow
// classifier sees the live picture rather than a growing backlog.
type Source struct {
	cmd      *utils.SafeCommand
	cancel   context.CancelFunc
	latest   chan types.Frame
	done     chan struct{}
	timeout  time.Duration
	maxWidth uint

	closer io.Closer

	mu      sync.Mutex
	dropped int
}

// Open starts ffmpeg and the frame splitter.
func Open(ctx context.Context, opts Options) (*Source, error) {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewCaptureCmd(ctx, opts.Input)
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &Source{
		cmd:      cmd,
		cancel:   cancel,
		latest:   make(chan types.Frame, 1),
		done:     make(chan struct{}),
		timeout:  opts.AcquireTimeout,
		maxWidth: opts.MaxWidth,
	}
	go s.split(out)
	return s, nil
}

// NewFromReader builds a Source over an existing MJPEG byte stream, such as
// stdin. If r is an io.Closer it is closed by Close.
func NewFromReader(r io.Reader, opts Options) *Source {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 100 * time.Millisecond
	}
	s := &Source{
		cancel:   func() {},
		latest:   make(chan types.Frame, 1),
		done:     make(chan struct{}),
		timeout:  opts.AcquireTimeout,
		maxWidth: opts.MaxWidth,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	go s.split(r)
	return s
}

func (s *Source) split(r io.Reader) {
	defer close(s.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	index := 0
	for scanner.Scan() {
		index++
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())
		s.offer(types.Frame{Index: index, Data: data, CapturedAt: time.Now()})
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("frame scanner failed", "err", err)
	}
}

// offer replaces any unread frame with f.
func (s *Source) offer(f types.Frame) {
	for {
		select {
		case s.latest <- f:
			return
		default:
		}
		select {
		case <-s.latest:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
	}
}

// Read implements pipeline.FrameSource. It returns ErrNoFrame when nothing
// arrives within the acquisition timeout and io.EOF once the stream has ended
// and every frame has been consumed.
func (s *Source) Read(ctx context.Context) (types.Frame, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case f := <-s.latest:
		return s.prepare(f), nil
	case <-ctx.Done():
		return types.Frame{}, ctx.Err()
	case <-timer.C:
		return types.Frame{}, ErrNoFrame
	case <-s.done:
	}

	// Stream ended; drain a frame that raced with the close.
	select {
	case f := <-s.latest:
		return s.prepare(f), nil
	default:
	}
	return types.Frame{}, io.EOF
}

func (s *Source) prepare(f types.Frame) types.Frame {
	if s.maxWidth == 0 {
		return f
	}
	data, err := Downscale(f.Data, s.maxWidth)
	if err != nil {
		slog.Debug("downscale failed, using original frame", "frame", f.Index, "err", err)
		return f
	}
	f.Data = data
	return f
}

// Dropped reports how many frames were replaced before being read.
func (s *Source) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops ffmpeg and waits for it to exit.
func (s *Source) Close() error {
	slog.Debug("closing capture source", "dropped", s.Dropped())
	s.cancel()
	if s.cmd == nil {
		if s.closer != nil {
			return s.closer.Close()
		}
		return nil
	}
	<-s.done
	err := s.cmd.Wait()
	if err == nil {
		return nil
	}
	// A kill on cancel is the normal way out.
	if s.cmd.ProcessState != nil && s.cmd.ProcessState.ExitCode() == -1 {
		return nil
	}
	if s.cmd.Stderr.Len() > 0 {
		return fmt.Errorf("ffmpeg: %w: %s", err, s.cmd.Stderr.String())
	}
	return err
}
