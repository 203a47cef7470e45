package pipeline

import (
	"context"
	"time"

	"auto_telegram_post_publisher/backlog"
	"auto_telegram_post_publisher/publisher"
)

// State is where a cycle currently is.
type State string

const (
	StateIdle       State = "idle"
	StateFetchIdea  State = "fetch_idea"
	StateGenerating State = "generating"
	StateCorrecting State = "correcting"
	StateImaging    State = "imaging"
	StatePublishing State = "publishing"
	StateRecording  State = "recording"
	StateNotifying  State = "notifying"
)

// Step names one external call of the cycle; failures are attributed to steps.
type Step string

const (
	StepFetch     Step = "fetch_idea"
	StepDraft     Step = "draft"
	StepHeadline  Step = "headline"
	StepCorrect   Step = "correct"
	StepFactCheck Step = "fact_check"
	StepImage     Step = "image"
	StepPublish   Step = "publish"
	StepMarkDone  Step = "mark_done"
	StepArchive   Step = "archive"
	StepNotify    Step = "notify_owner"
)

// Outcome classifies a finished cycle.
type Outcome string

const (
	// OutcomeIdle means nothing was pending; no side effects happened.
	OutcomeIdle      Outcome = "idle"
	OutcomePublished Outcome = "published"
	OutcomeFailed    Outcome = "failed"
)

// Result describes one cycle.
type Result struct {
	CycleID    string              `json:"cycle_id"`
	Outcome    Outcome             `json:"outcome"`
	Row        int                 `json:"row,omitempty"`
	Headline   string              `json:"headline,omitempty"`
	ImageURL   string              `json:"image_url,omitempty"`
	Delivery   *publisher.Delivery `json:"delivery,omitempty"`
	Degraded   []Step              `json:"degraded,omitempty"`
	FailedStep Step                `json:"failed_step,omitempty"`
	Err        error               `json:"-"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Failure returns the failure text, or "" for a successful cycle.
func (r Result) Failure() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Published reports whether the post went live in this cycle, even if a later
// bookkeeping step failed.
func (r Result) Published() bool {
	return r.Delivery != nil
}

// Backlog is the idea source.
type Backlog interface {
	NextIdea(ctx context.Context) (backlog.Idea, bool, error)
	MarkDone(ctx context.Context, row int) error
}

// Writer drafts post bodies and headlines.
type Writer interface {
	GeneratePost(ctx context.Context, idea, examples string) (string, error)
	GenerateHeadline(ctx context.Context, text string) (string, error)
}

// Corrector proofreads and fact-checks.
type Corrector interface {
	Correct(ctx context.Context, text string) (string, error)
	FactCheck(ctx context.Context, text string) error
}

// ImageGenerator returns an image URL for a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Notifier delivers the channel post and the owner notification.
type Notifier interface {
	SendPhoto(ctx context.Context, chatID, imageRef, caption string) (publisher.Delivery, error)
	SendMessage(ctx context.Context, chatID, text string) (publisher.Delivery, error)
}

// Archive stores published text.
type Archive interface {
	Add(ctx context.Context, text string, metadata map[string]any) error
}

// Observer is told about every finished cycle.
type Observer interface {
	CycleFinished(ctx context.Context, r Result)
}
