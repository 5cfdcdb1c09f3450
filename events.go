package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Outcome values carried by events.
const (
	OutcomeStarted      = "started"
	OutcomeOK           = "ok"
	OutcomeFailed       = "failed"
	OutcomeSkipped      = "skipped"
	OutcomeStale        = "stale"
	OutcomeNotFound     = "not_found"
	OutcomeRejected     = "rejected"
	OutcomeConfirmed    = "confirmed"
	OutcomeInconclusive = "inconclusive"
	OutcomeAvailable    = "available"
	OutcomeUnavailable  = "unavailable"
	OutcomeTransient    = "transient_error"
	OutcomeAborted      = "aborted"
	OutcomeCompleted    = "completed"
)

// Event is one entry of the progress stream. Core components emit events and
// never print directly.
type Event struct {
	At      time.Time
	RunID   string
	Stage   string
	Step    string
	Attempt int
	Method  string
	Locator string
	Outcome string
	Detail  string
	Err     error
}

// Observer consumes events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans an event out to every member.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}

func emit(obs Observer, e Event) {
	if obs == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	obs.Observe(e)
}

// newLogger builds the zap logger. Debug mode logs human-readable output to
// stderr; otherwise JSON lines go to logPath.
func newLogger(debug bool, logPath string) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
		if logPath != "" {
			cfg.OutputPaths = []string{logPath}
			cfg.ErrorOutputPaths = []string{logPath, "stderr"}
		}
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

type zapObserver struct {
	logger *zap.Logger
}

func newZapObserver(logger *zap.Logger) *zapObserver {
	return &zapObserver{logger: logger.Named("events")}
}

func (z *zapObserver) Observe(e Event) {
	fields := []zap.Field{
		zap.Time("at", e.At),
		zap.String("stage", e.Stage),
		zap.String("step", e.Step),
		zap.String("outcome", e.Outcome),
	}
	if e.RunID != "" {
		fields = append(fields, zap.String("run_id", e.RunID))
	}
	if e.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", e.Attempt))
	}
	if e.Method != "" {
		fields = append(fields, zap.String("method", e.Method))
	}
	if e.Locator != "" {
		fields = append(fields, zap.String("locator", e.Locator))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}

	switch e.Outcome {
	case OutcomeFailed, OutcomeAborted:
		z.logger.Warn("event", fields...)
	case OutcomeStale, OutcomeRejected, OutcomeNotFound, OutcomeSkipped, OutcomeTransient:
		z.logger.Debug("event", fields...)
	default:
		z.logger.Info("event", fields...)
	}
}

// consoleObserver renders the stream as localized progress lines.
// Attempt-level steps only show in debug mode.
type consoleObserver struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool
}

func newConsoleObserver(out io.Writer, debug bool) *consoleObserver {
	return &consoleObserver{out: out, debug: debug}
}

var attemptSteps = map[string]bool{
	"locator": true,
	"method":  true,
	"verify":  true,
	"ready":   true,
}

func (c *consoleObserver) Observe(e Event) {
	if attemptSteps[e.Step] && !c.debug {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("%s %s", outcomeIcon(e.Outcome), stageLabel(e.Stage))
	if e.Attempt > 0 {
		line += fmt.Sprintf(" #%d", e.Attempt)
	}
	if e.Method != "" {
		line += " " + T("method_"+e.Method)
	}
	if e.Detail != "" {
		line += " - " + e.Detail
	}
	if e.Err != nil {
		line += fmt.Sprintf(" (%v)", truncate(e.Err.Error(), 80))
	}
	fmt.Fprintln(c.out, line)
}

func stageLabel(stage string) string {
	if stage == "" {
		return T("stage_run")
	}
	return T("stage_" + stage)
}

func outcomeIcon(outcome string) string {
	switch outcome {
	case OutcomeOK, OutcomeConfirmed, OutcomeAvailable, OutcomeCompleted:
		return "✅"
	case OutcomeStarted:
		return "🔄"
	case OutcomeInconclusive, OutcomeSkipped, OutcomeStale:
		return "⚠️ "
	case OutcomeUnavailable:
		return "❌"
	case OutcomeTransient:
		return "📡"
	default:
		return "❌"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tracer stamps run and stage onto events emitted by a component.
type tracer struct {
	obs   Observer
	runID string
	stage string
}

func (t tracer) emit(e Event) {
	if e.RunID == "" {
		e.RunID = t.runID
	}
	if e.Stage == "" {
		e.Stage = t.stage
	}
	emit(t.obs, e)
}
