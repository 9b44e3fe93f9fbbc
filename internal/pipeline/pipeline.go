// Package pipeline drives the fixed-cadence capture → classify → log loop.
//
// Each tick acquires one frame, resolves an object label and an emotion label
// and appends exactly one event to the log. Classifier failures fall back to
// fallback labels; a missing frame only skips the tick.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/moodtrace/internal/types"
)

// DefaultInterval matches the ~30ms refresh of a live preview.
const DefaultInterval = 30 * time.Millisecond

// DefaultInterestSet is the set of detector classes the pipeline reports.
var DefaultInterestSet = []string{"cell phone", "book"}

// ErrRunning is returned by operations that require a stopped pipeline.
var ErrRunning = errors.New("pipeline is running")

// ObjectDetector returns the regions found in a frame in detector order.
type ObjectDetector interface {
	Detect(ctx context.Context, frame types.Frame) ([]types.Detection, error)
}

// EmotionClassifier returns the dominant emotion for a frame. It must not fail
// just because no face was found.
type EmotionClassifier interface {
	Classify(ctx context.Context, frame types.Frame) (string, error)
}

// FrameSource yields frames from a capture device. Read returns io.EOF when the
// stream has ended for good; any other error only means no frame this tick.
type FrameSource interface {
	Read(ctx context.Context) (types.Frame, error)
	Close() error
}

// SourceOpener acquires a capture source when the pipeline starts.
type SourceOpener func(ctx context.Context) (FrameSource, error)

// EventLog is the narrow view of the event store the pipeline writes to.
type EventLog interface {
	Append(ev types.Event) error
	Reset() error
	Ensure() error
}

// Observer is notified after an event has been appended. Overlay rendering
// and progress reporting hook in here.
type Observer func(ev types.Event, frame types.Frame)

// Config tunes the loop.
type Config struct {
	Interval       time.Duration
	InterestSet    []string
	AppendExisting bool // keep a valid existing log instead of rewriting the header
	Parallel       bool // run both classifiers concurrently
	Now            func() time.Time
}

// Stats are running totals since the pipeline was created.
type Stats struct {
	Processed       int64
	Skipped         int64
	DetectFailures  int64
	EmotionFailures int64
	AppendFailures  int64
}

// Pipeline owns the capture loop. It is safe to call Start, Stop and Reset
// from different goroutines.
type Pipeline struct {
	detector   ObjectDetector
	classifier EmotionClassifier
	open       SourceOpener
	log        EventLog
	interval   time.Duration
	interest   map[string]bool
	appendLog  bool
	parallel   bool
	now        func() time.Time

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	cancelAcq context.CancelFunc
	done      chan struct{}
	closeErr  error
	observers []Observer

	processed, skipped, detectFails, emotionFails, appendFails atomic.Int64
}

// New wires a Pipeline. Zero-valued Config fields take their defaults.
func New(det ObjectDetector, cls EmotionClassifier, open SourceOpener, log EventLog, cfg Config) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if len(cfg.InterestSet) == 0 {
		cfg.InterestSet = DefaultInterestSet
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	interest := make(map[string]bool, len(cfg.InterestSet))
	for _, name := range cfg.InterestSet {
		interest[types.NormalizeLabel(name)] = true
	}

	done := make(chan struct{})
	close(done)
	return &Pipeline{
		detector:   det,
		classifier: cls,
		open:       open,
		log:        log,
		interval:   cfg.Interval,
		interest:   interest,
		appendLog:  cfg.AppendExisting,
		parallel:   cfg.Parallel,
		now:        cfg.Now,
		done:       done,
	}
}

// Observe registers fn to be called after every emitted event.
func (p *Pipeline) Observe(fn Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Running reports whether the loop is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed when the current run ends, either through Stop, context
// cancellation or the source reaching end of stream.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stats returns the running totals.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:       p.processed.Load(),
		Skipped:         p.skipped.Load(),
		DetectFailures:  p.detectFails.Load(),
		EmotionFailures: p.emotionFails.Load(),
		AppendFailures:  p.appendFails.Load(),
	}
}

// Start prepares the log, acquires the capture source and launches the loop.
// It is a no-op when already running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	// The log is only touched once a source is in hand, so a busy camera
	// leaves the previous session's events in place.
	src, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("open capture source: %w", err)
	}

	prepare := p.log.Reset
	if p.appendLog {
		prepare = p.log.Ensure
	}
	if err := prepare(); err != nil {
		src.Close()
		return fmt.Errorf("prepare event log: %w", err)
	}

	acqCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.stop = make(chan struct{})
	p.cancelAcq = cancel
	p.done = make(chan struct{})
	p.closeErr = nil

	go p.run(ctx, acqCtx, src, p.stop, p.done)
	slog.Info("pipeline started", "interval", p.interval)
	return nil
}

// Stop asks the loop to end after the current tick and waits for it to
// release the capture source. It is a no-op when already stopped.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	// A Stop already in progress cleared p.stop; later callers just wait.
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
		p.cancelAcq()
	}
	done := p.done
	p.mu.Unlock()

	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

// Reset truncates the log to its header. The pipeline must be stopped.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrRunning
	}
	return p.log.Reset()
}

func (p *Pipeline) run(ctx, acqCtx context.Context, src FrameSource, stop <-chan struct{}, done chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer func() {
		ticker.Stop()
		err := src.Close()

		p.mu.Lock()
		p.running = false
		p.cancelAcq()
		p.closeErr = err
		p.mu.Unlock()

		close(done)
		slog.Info("pipeline stopped", "processed", p.processed.Load(), "skipped", p.skipped.Load())
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := src.Read(acqCtx)
		switch {
		case errors.Is(err, io.EOF):
			slog.Info("capture source exhausted")
			return
		case err != nil:
			p.skipped.Add(1)
			slog.Debug("no frame this tick", "err", err)
		default:
			p.Process(ctx, frame)
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Process classifies one frame and appends the resulting event. It never
// fails: classifier errors resolve to fallback labels and append errors are
// logged and counted.
func (p *Pipeline) Process(ctx context.Context, frame types.Frame) types.Event {
	var object, emotion string
	if p.parallel {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); object = p.resolveObject(ctx, frame) }()
		go func() { defer wg.Done(); emotion = p.resolveEmotion(ctx, frame) }()
		wg.Wait()
	} else {
		object = p.resolveObject(ctx, frame)
		emotion = p.resolveEmotion(ctx, frame)
	}

	ev := types.Event{Timestamp: p.now(), Object: object, Emotion: emotion}
	if err := p.log.Append(ev); err != nil {
		p.appendFails.Add(1)
		slog.Warn("event append failed", "frame", frame.Index, "err", err)
	}
	p.processed.Add(1)

	p.mu.Lock()
	observers := p.observers
	p.mu.Unlock()
	for _, fn := range observers {
		fn(ev, frame)
	}
	return ev
}

func (p *Pipeline) resolveObject(ctx context.Context, frame types.Frame) string {
	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		p.detectFails.Add(1)
		slog.Debug("object detection failed", "frame", frame.Index, "err", err)
		return types.UnclassifiedObject
	}
	return SelectObject(detections, p.interest)
}

func (p *Pipeline) resolveEmotion(ctx context.Context, frame types.Frame) string {
	label, err := p.classifier.Classify(ctx, frame)
	if err != nil {
		p.emotionFails.Add(1)
		slog.Debug("emotion classification failed", "frame", frame.Index, "err", err)
	}
	return ResolveEmotion(label, err)
}

// SelectObject returns the first detection, in detector order, whose class is
// in the interest set. Confidence plays no part. No match yields "other".
func SelectObject(detections []types.Detection, interest map[string]bool) string {
	for _, d := range detections {
		if name := types.NormalizeLabel(d.Name); interest[name] {
			return name
		}
	}
	return types.UnclassifiedObject
}

// ResolveEmotion maps a classifier answer to a log label: any error or a blank
// label becomes "neutral".
func ResolveEmotion(label string, err error) string {
	if err != nil {
		return types.NeutralEmotion
	}
	if label = types.NormalizeLabel(label); label == "" {
		return types.NeutralEmotion
	}
	return label
}
