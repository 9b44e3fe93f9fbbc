package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/andresmejia3/moodtrace/internal/aggregate"
	"github.com/andresmejia3/moodtrace/internal/capture"
	"github.com/andresmejia3/moodtrace/internal/config"
	"github.com/andresmejia3/moodtrace/internal/pipeline"
	"github.com/andresmejia3/moodtrace/internal/report"
	"github.com/andresmejia3/moodtrace/internal/types"
	"github.com/andresmejia3/moodtrace/internal/utils"
	"github.com/andresmejia3/moodtrace/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// watchFlags holds the watch command's overrides of the loaded config.
type watchFlags struct {
	Device      string
	Input       string
	FPS         int
	Interval    time.Duration
	Append      bool
	MaxWidth    uint
	ReportEvery string
	Parallel    bool
	Worker      string
}

var watchOpts watchFlags

var watchCmd = &cobra.Command{
	Use:          "watch",
	Short:        "Classify frames from a camera or video and log each one",
	Long:         "Captures frames at a fixed interval, records the first object of interest and the dominant emotion for each, and appends them to the event log until interrupted or the input ends.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyWatchFlags(cmd, watchOpts, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runWatch(cmd.Context())
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&watchOpts.Device, "device", "d", "", "Capture device (default: /dev/video0)")
	f.StringVarP(&watchOpts.Input, "input", "i", "", "Video file to read instead of a device, or - for an MJPEG stream on stdin")
	f.IntVar(&watchOpts.FPS, "fps", 0, "Requested device frame rate (0 keeps the device default)")
	f.DurationVar(&watchOpts.Interval, "interval", 30*time.Millisecond, "Time between processed frames")
	f.BoolVarP(&watchOpts.Append, "append", "a", false, "Keep the existing log instead of starting a new one")
	f.UintVar(&watchOpts.MaxWidth, "max-width", 0, "Downscale frames wider than this before classification (0 disables)")
	f.StringVar(&watchOpts.ReportEvery, "report-every", "", "Cron schedule for a live summary table, e.g. \"@every 1m\"")
	f.BoolVarP(&watchOpts.Parallel, "parallel", "p", false, "Run object detection and emotion classification concurrently")
	f.StringVarP(&watchOpts.Worker, "worker", "w", "", "Path to the Python classification worker (default: python/worker.py)")
	rootCmd.AddCommand(watchCmd)
}

// applyWatchFlags copies only the flags the user set onto c.
func applyWatchFlags(cmd *cobra.Command, o watchFlags, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("device") {
		c.Capture.Device = o.Device
	}
	if flags.Changed("input") {
		c.Capture.Input = o.Input
	}
	if flags.Changed("fps") {
		c.Capture.FPS = o.FPS
	}
	if flags.Changed("interval") {
		c.Pipeline.Interval = o.Interval
	}
	if flags.Changed("append") {
		c.Pipeline.Append = o.Append
	}
	if flags.Changed("max-width") {
		c.Capture.MaxWidth = o.MaxWidth
	}
	if flags.Changed("report-every") {
		c.Pipeline.ReportEvery = o.ReportEvery
	}
	if flags.Changed("parallel") {
		c.Pipeline.Parallel = o.Parallel
	}
	if flags.Changed("worker") {
		c.Worker.Script = o.Worker
	}
}

// runWatch wires the worker, capture source, event log and reporter into a
// pipeline and runs it until interrupted or the input is exhausted.
func runWatch(ctx context.Context) error {
	// The worker must outlive Ctrl+C so the frame in flight still gets real labels.
	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()

	fmt.Fprintf(os.Stderr, "⚙️  Starting classification worker (%s)...\n", cfg.Worker.Script)
	py, err := worker.NewPythonWorker(workerCtx, 0, worker.Config{
		Python:      cfg.Worker.Python,
		Script:      cfg.Worker.Script,
		ReadTimeout: cfg.Worker.Timeout,
	})
	if err != nil {
		return fail("Worker startup failed", err, nil)
	}
	defer py.Close()

	log := openLog()
	p := pipeline.New(py, py, sourceOpener(), log, pipeline.Config{
		Interval:       cfg.Pipeline.Interval,
		InterestSet:    cfg.Pipeline.InterestSet,
		AppendExisting: cfg.Pipeline.Append,
		Parallel:       cfg.Pipeline.Parallel,
	})

	bar := newWatchBar(workerCtx)
	crashed := make(chan struct{}, 1)
	p.Observe(func(ev types.Event, frame types.Frame) {
		slog.Debug("event logged", "frame", frame.Index, "object", ev.Object, "emotion", ev.Emotion)
		if bar.GetMax() > 0 {
			bar.Set(frame.Index)
		} else {
			bar.Add(1)
		}
		if !py.Alive() {
			select {
			case crashed <- struct{}{}:
			default:
			}
		}
	})

	var sched *report.Scheduler
	if cfg.Pipeline.ReportEvery != "" {
		sched, err = report.NewScheduler(cfg.Pipeline.ReportEvery, log.Snapshot, aggregate.New(cfg.Analysis.Whitelist), os.Stdout)
		if err != nil {
			return err
		}
	}

	// The pipeline gets its own lifetime; Ctrl+C is turned into Stop below.
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		return fail("Failed to start pipeline", err, py.Cmd)
	}
	fmt.Fprintf(os.Stderr, "🎥 Watching %s, logging to %s (Ctrl+C to stop)\n", sourceName(), log.Path())
	if sched != nil {
		sched.Start()
	}

	select {
	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "\n🛑 Stopping...\n")
	case <-p.Done():
	case <-crashed:
	}
	stopErr := p.Stop()
	if sched != nil {
		sched.Stop()
	}
	bar.Finish()

	printWatchSummary(p.Stats(), log.Path())
	if !py.Alive() {
		// DRAIN: Wait for process to exit and capture final stderr logs
		py.Close()
		return fail("Python crashed", worker.ErrWorkerGone, py.Cmd)
	}
	if stopErr != nil {
		return fail("Capture ended with an error", stopErr, nil)
	}
	return nil
}

// sourceOpener builds the capture source the pipeline acquires on Start.
func sourceOpener() pipeline.SourceOpener {
	opts := capture.Options{
		AcquireTimeout: cfg.Capture.AcquireTimeout,
		MaxWidth:       cfg.Capture.MaxWidth,
		Input: utils.CaptureInput{
			Device: cfg.Capture.Device,
			File:   cfg.Capture.Input,
			FPS:    cfg.Capture.FPS,
		},
	}
	return func(ctx context.Context) (pipeline.FrameSource, error) {
		if cfg.Capture.Input == "-" {
			return capture.NewFromReader(os.Stdin, opts), nil
		}
		src, err := capture.Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

func sourceName() string {
	switch cfg.Capture.Input {
	case "":
		return cfg.Capture.Device
	case "-":
		return "stdin"
	default:
		return cfg.Capture.Input
	}
}

// newWatchBar shows position in the file for video input and a spinner for
// live sources, where the length is unknown.
func newWatchBar(ctx context.Context) *progressbar.ProgressBar {
	total := -1
	if in := cfg.Capture.Input; in != "" && in != "-" {
		if n := utils.GetTotalFrames(ctx, in); n > 0 {
			total = n
		}
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 MoodTrace Watching"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)
}

func printWatchSummary(st pipeline.Stats, path string) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 WATCH SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🖼️  Frames logged:           %d\n", st.Processed)
	fmt.Fprintf(os.Stderr, "⏭️  Ticks without a frame:   %d\n", st.Skipped)
	if st.DetectFailures+st.EmotionFailures > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Classifier fallbacks:    %d object, %d emotion\n", st.DetectFailures, st.EmotionFailures)
	}
	if st.AppendFailures > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  Failed log writes:       %d\n", st.AppendFailures)
	}
	fmt.Fprintf(os.Stderr, "📄 Event log:               %s\n", path)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	if st.Processed > 0 {
		fmt.Fprintf(os.Stderr, "Run `moodtrace analyze` to see how objects and emotions relate.\n")
	}
}
