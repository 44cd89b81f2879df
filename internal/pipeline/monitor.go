package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/sandbox"
)

// execFunc runs one shell command in the sandbox under watch. It is
// bound to a handle and workdir by the controller.
type execFunc func(ctx context.Context, command string) (sandbox.ExecResult, error)

// Monitor follows an agent's log file until the agent finishes, dies,
// or exceeds the time ceiling. Each poll reads the whole log and
// processes only the suffix beyond what was already seen, so a
// restarted read never double-reports a line.
type Monitor struct {
	exec       execFunc
	sink       Sink
	markers    MarkerSet
	requestID  string
	logPath    string
	pidPattern string

	poll    time.Duration
	ceiling time.Duration
	grace   time.Duration
}

// MonitorResult is the terminal verdict of one watch.
type MonitorResult struct {
	Completed   bool
	ExitCode    int
	TimedOut    bool
	Synthesized bool
}

// NewMonitor creates a monitor for one agent run. pidPattern is the
// pgrep -f pattern that identifies the agent process.
func NewMonitor(exec execFunc, sink Sink, markers MarkerSet, requestID, logPath, pidPattern string) *Monitor {
	return &Monitor{
		exec:       exec,
		sink:       sink,
		markers:    markers,
		requestID:  requestID,
		logPath:    logPath,
		pidPattern: pidPattern,
		poll:       2 * time.Second,
		ceiling:    300 * time.Second,
		grace:      2 * time.Second,
	}
}

// SetTimings overrides the poll interval, ceiling and liveness grace.
// Zero values keep the current setting.
func (m *Monitor) SetTimings(poll, ceiling, grace time.Duration) {
	if poll > 0 {
		m.poll = poll
	}
	if ceiling > 0 {
		m.ceiling = ceiling
	}
	if grace > 0 {
		m.grace = grace
	}
}

// Wait blocks until the agent run reaches a terminal state. Errors are
// returned only for context cancellation; sandbox hiccups during a
// poll are tolerated and retried on the next tick.
func (m *Monitor) Wait(ctx context.Context) (MonitorResult, error) {
	deadline := time.Now().Add(m.ceiling)
	lastSeen := 0

	for {
		if log, ok := m.readLog(ctx); ok {
			suffix := log[min(lastSeen, len(log)):]
			lastSeen = len(log)
			if result, done := m.scan(suffix); done {
				return result, nil
			}
		}

		if !m.processAlive(ctx) {
			// The log can trail the process by a moment. Give the
			// final lines time to land before judging.
			if err := sleepCtx(ctx, m.grace); err != nil {
				return MonitorResult{}, err
			}
			if log, ok := m.readLog(ctx); ok {
				suffix := log[min(lastSeen, len(log)):]
				if result, done := m.scan(suffix); done {
					return result, nil
				}
			}
			m.sink.Emit(domain.WarningEvent(m.requestID,
				"agent process ended without a completion marker"))
			return MonitorResult{Completed: true, ExitCode: 0, Synthesized: true}, nil
		}

		if time.Now().After(deadline) {
			m.sink.Emit(domain.WarningEvent(m.requestID,
				"agent execution exceeded the time limit"))
			return MonitorResult{TimedOut: true}, nil
		}

		if err := sleepCtx(ctx, m.poll); err != nil {
			return MonitorResult{}, err
		}
	}
}

// scan processes new log lines, emitting events for tool activity, and
// reports whether a completion marker was found.
func (m *Monitor) scan(suffix string) (MonitorResult, bool) {
	for _, line := range strings.Split(suffix, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		kind, detail := m.markers.Classify(line)
		switch kind {
		case LineCompletion:
			code, ok := m.markers.ExitCode(line)
			if !ok {
				code = 0
			}
			return MonitorResult{Completed: true, ExitCode: code}, true
		case LineFileCreate:
			m.sink.Emit(domain.ToolEvent(m.requestID, "create_file", detail))
		case LineFileEdit:
			m.sink.Emit(domain.ToolEvent(m.requestID, "edit_file", detail))
		case LineFileRead:
			m.sink.Emit(domain.ToolEvent(m.requestID, "read_file", detail))
		case LineCommand:
			m.sink.Emit(domain.ToolEvent(m.requestID, "run_command", detail))
		default:
			m.sink.Emit(domain.MessageEvent(m.requestID, detail))
		}
	}
	return MonitorResult{}, false
}

// readLog returns the full log so far. A missing file reads as empty;
// a transport failure skips this poll.
func (m *Monitor) readLog(ctx context.Context) (string, bool) {
	result, err := m.exec(ctx, "cat "+shellQuote(m.logPath)+" 2>/dev/null || true")
	if err != nil {
		return "", false
	}
	return result.Output, true
}

// processAlive probes for the agent process. A transport failure
// counts as alive so a flaky poll cannot end the run early.
func (m *Monitor) processAlive(ctx context.Context) bool {
	result, err := m.exec(ctx, "pgrep -f "+shellQuote(m.pidPattern)+" || true")
	if err != nil {
		return true
	}
	return strings.TrimSpace(result.Output) != ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
