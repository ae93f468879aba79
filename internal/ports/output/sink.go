package output

import "context"

// RowSink defines the secondary port for writing tabular results.
type RowSink interface {
	// WriteRows writes the header followed by all rows to path. Conditions
	// the caller can resolve, such as the file being open elsewhere, are
	// reported through fb.
	WriteRows(ctx context.Context, path string, header []string, rows [][]string, fb Feedback) error
}

// Feedback is the channel through which a run reports progress and messages
// to its caller.
type Feedback interface {
	// SetProgress reports the percentage of work done.
	SetProgress(percent int)

	// PushInfo reports a human-readable message.
	PushInfo(msg string)
}

// NoOpFeedback discards all feedback.
type NoOpFeedback struct{}

// SetProgress implements Feedback.
func (NoOpFeedback) SetProgress(_ int) {}

// PushInfo implements Feedback.
func (NoOpFeedback) PushInfo(_ string) {}
