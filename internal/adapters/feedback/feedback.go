// Package feedback provides output.Feedback implementations for the CLI and
// the HTTP API.
package feedback

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// Logger reports run feedback through slog. Progress is logged at debug
// level and only when the percentage changes.
type Logger struct {
	logger *slog.Logger

	mu   sync.Mutex
	last int
}

// NewLogger creates a feedback channel writing to logger.
func NewLogger(logger *slog.Logger, attrs ...any) *Logger {
	return &Logger{logger: logger.With(attrs...), last: -1}
}

// SetProgress implements output.Feedback.
func (l *Logger) SetProgress(percent int) {
	l.mu.Lock()
	changed := percent != l.last
	l.last = percent
	l.mu.Unlock()

	if changed {
		l.logger.Debug("progress", "percent", percent)
	}
}

// PushInfo implements output.Feedback.
func (l *Logger) PushInfo(msg string) {
	l.logger.Info(msg)
}

// Recorder keeps messages and the latest progress value of a run.
type Recorder struct {
	mu       sync.Mutex
	messages []string
	progress int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// SetProgress implements output.Feedback.
func (r *Recorder) SetProgress(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = percent
}

// PushInfo implements output.Feedback.
func (r *Recorder) PushInfo(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// Progress returns the latest progress value.
func (r *Recorder) Progress() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Tee forwards feedback to every channel.
type Tee []output.Feedback

// SetProgress implements output.Feedback.
func (t Tee) SetProgress(percent int) {
	for _, fb := range t {
		fb.SetProgress(percent)
	}
}

// PushInfo implements output.Feedback.
func (t Tee) PushInfo(msg string) {
	for _, fb := range t {
		fb.PushInfo(msg)
	}
}

// Console prints info messages as plain lines, the way a user reads them in
// a terminal. Progress is left to the other channels.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console channel writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// SetProgress implements output.Feedback.
func (c *Console) SetProgress(int) {}

// PushInfo implements output.Feedback.
func (c *Console) PushInfo(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, msg)
}
