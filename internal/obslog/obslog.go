// Package obslog is the structured-logging replacement for the teacher's
// hand-rolled internal/logger (console-only progress banners): it keeps the
// same phase/task-progress vocabulary but emits logrus structured records
// so orchestrator runs can be piped to log aggregation instead of only a
// terminal. Grounded on teacher's internal/logger/logger.go (SetPhase,
// StartTask, CompleteTask, FailTask) and internal/logger/multi_progress.go
// (per-task summary at the end of a batch).
package obslog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger with the orchestrator's fixed vocabulary of
// events (phase, step, task outcome) so call sites don't build their own
// field sets ad hoc.
type Logger struct {
	*logrus.Logger

	mu          sync.Mutex
	startTime   time.Time
	total       int
	completed   int
	failed      int
}

// New creates a Logger writing structured (JSON) records to w. Pass
// os.Stdout for CLI use; a file handle for batch runs that also want a
// durable log.
func New(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	return &Logger{Logger: l, startTime: time.Now()}
}

// NewConsole creates a Logger writing a human-readable text format to
// stdout, for interactive CLI use.
func NewConsole() *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{Logger: l, startTime: time.Now()}
}

// Phase announces the start of a named processing phase (e.g. "loading
// schema", "running orchestrator").
func (l *Logger) Phase(name string) {
	l.WithField("phase", name).Info("phase started")
}

// StepStart logs the dispatch of one orchestrator step.
func (l *Logger) StepStart(taskID, nodeID, agentName string, step int) {
	l.WithFields(logrus.Fields{
		"taskId": taskID, "nodeId": nodeID, "agent": agentName, "step": step,
	}).Info("step dispatched")
}

// StepDone logs the outcome of one orchestrator step.
func (l *Logger) StepDone(taskID, nodeID, agentName string, step int, dur time.Duration, err error) {
	fields := logrus.Fields{
		"taskId": taskID, "nodeId": nodeID, "agent": agentName, "step": step,
		"durationMs": dur.Milliseconds(),
	}
	if err != nil {
		l.WithFields(fields).WithError(err).Warn("step failed")
		return
	}
	l.WithFields(fields).Info("step completed")
}

// TaskStarted records the beginning of a batch task, for SetTotal-style
// progress reporting across a dataset run.
func (l *Logger) TaskStarted(taskID string) {
	l.mu.Lock()
	l.total++
	l.mu.Unlock()
	l.WithField("taskId", taskID).Info("task started")
}

// TaskCompleted records a successful task and logs overall batch progress.
func (l *Logger) TaskCompleted(taskID string, elapsed time.Duration) {
	l.mu.Lock()
	l.completed++
	completed, total := l.completed, l.total
	l.mu.Unlock()
	l.WithFields(logrus.Fields{
		"taskId": taskID, "elapsedMs": elapsed.Milliseconds(),
		"progress": progressFraction(completed, total),
	}).Info("task completed")
}

// TaskFailed records a failed task and logs overall batch progress.
func (l *Logger) TaskFailed(taskID string, err error) {
	l.mu.Lock()
	l.failed++
	completed, total := l.completed+l.failed, l.total
	l.mu.Unlock()
	l.WithFields(logrus.Fields{
		"taskId": taskID, "progress": progressFraction(completed, total),
	}).WithError(err).Warn("task failed")
}

func progressFraction(completed, total int) string {
	if total == 0 {
		return "0/0"
	}
	return itoa(completed) + "/" + itoa(total)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
