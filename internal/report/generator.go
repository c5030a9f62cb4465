// Package report defines the analysis generator contract and its Gemini
// implementation. The worker depends only on the Generator interface.
package report

import (
	"context"
	"errors"
	"time"

	"example.com/ridereport/internal/domain"
)

// Prompt versions are recorded on every report so regenerated artifacts can
// be told apart from originals.
const (
	RidePromptVersion     = "ride_v1"
	ProgressPromptVersion = "progress_v1"
)

// ErrContentRejected reports that the model refused to produce content for
// this input. Non-retryable: the same input will be refused again.
var ErrContentRejected = errors.New("generator rejected the content request")

// Generated is the output of one generator call.
type Generated struct {
	Content       string
	Model         string
	PromptVersion string
	CreatedAt     time.Time
}

// Generator produces analysis artifacts from fetched metrics. Transient
// failures are retried by the queue; ErrContentRejected is terminal.
type Generator interface {
	// GenerateRideReport narrates a single ride from its raw document and
	// whatever stream channels are present.
	GenerateRideReport(ctx context.Context, activity domain.ActivityRecord, streams domain.StreamBundle) (*Generated, error)

	// GenerateProgressSummary summarises the athlete's trajectory across all
	// prior ride reports, oldest first.
	GenerateProgressSummary(ctx context.Context, history []domain.Report) (*Generated, error)
}
