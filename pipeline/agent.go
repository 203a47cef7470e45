// Package pipeline runs one publishing cycle end to end: fetch an idea,
// write and proofread the post, illustrate it, publish it, then record the
// result. Each step's failure is either fatal for the cycle or degrades it;
// the policy lives in Execute.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"auto_telegram_post_publisher/generator"
	"auto_telegram_post_publisher/logging"
	"auto_telegram_post_publisher/publisher"
)

// Destinations says where posts and notifications go.
type Destinations struct {
	ChannelChatID string
	ChannelHandle string
	OwnerChatID   string
}

// Deps are the collaborators of a cycle. Observers may be empty.
type Deps struct {
	Backlog   Backlog
	Writer    Writer
	Corrector Corrector
	Images    ImageGenerator
	Notifier  Notifier
	Archive   Archive
	Observers []Observer
}

// Options tunes an Agent.
type Options struct {
	// ImagePrompt may contain {headline}.
	ImagePrompt string
	Logger      *logging.Logger
	Now         func() time.Time
}

// Agent 负责按步骤完成一次发布。
type Agent struct {
	deps        Deps
	dest        Destinations
	imagePrompt string
	logger      *logging.Logger
	now         func() time.Time

	flight  singleflight.Group
	waiting atomic.Int32

	mu    sync.Mutex
	state State
	last  *Result
}

func NewAgent(deps Deps, dest Destinations, opts Options) (*Agent, error) {
	switch {
	case deps.Backlog == nil:
		return nil, errors.New("pipeline: backlog is required")
	case deps.Writer == nil:
		return nil, errors.New("pipeline: writer is required")
	case deps.Corrector == nil:
		return nil, errors.New("pipeline: corrector is required")
	case deps.Images == nil:
		return nil, errors.New("pipeline: image generator is required")
	case deps.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	case deps.Archive == nil:
		return nil, errors.New("pipeline: archive is required")
	}
	if dest.ChannelChatID == "" {
		return nil, errors.New("pipeline: channel chat id is required")
	}
	a := &Agent{
		deps:        deps,
		dest:        dest,
		imagePrompt: opts.ImagePrompt,
		logger:      opts.Logger.With("pipeline"),
		now:         opts.Now,
		state:       StateIdle,
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// State returns the step the running cycle is in, or StateIdle.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastResult returns the most recent finished cycle.
func (a *Agent) LastResult() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Result{}, false
	}
	return *a.last, true
}

func (a *Agent) enter(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Execute runs one cycle. Calls that overlap a running cycle wait for it and
// receive its result instead of starting a second one, so a pending row can
// never be published twice by this process.
func (a *Agent) Execute(ctx context.Context) (Result, error) {
	ch := a.flight.DoChan("cycle", func() (any, error) {
		return a.run(ctx), nil
	})
	// DoChan 返回时调用方已登记到当前周期
	a.waiting.Add(1)
	defer a.waiting.Add(-1)

	r := <-ch
	res := r.Val.(Result)
	if r.Shared {
		a.logger.Infof("cycle %s shared with a concurrent caller", res.CycleID)
	}
	return res, res.Err
}

// Waiting reports how many Execute calls are waiting on the current cycle.
func (a *Agent) Waiting() int {
	return int(a.waiting.Load())
}

func (a *Agent) run(ctx context.Context) Result {
	res := Result{CycleID: uuid.NewString(), StartedAt: a.now()}
	log := a.logger.With(res.CycleID[:8])
	log.Printf("Start publishing cycle")

	a.cycle(ctx, log, &res)

	res.FinishedAt = a.now()
	a.mu.Lock()
	a.state = StateIdle
	last := res
	a.last = &last
	a.mu.Unlock()

	for _, o := range a.deps.Observers {
		o.CycleFinished(ctx, res)
	}
	return res
}

func fail(res *Result, step Step, err error) {
	res.Outcome = OutcomeFailed
	res.FailedStep = step
	res.Err = fmt.Errorf("%s: %w", step, err)
}

func (a *Agent) cycle(ctx context.Context, log *logging.Logger, res *Result) {
	a.enter(StateFetchIdea)
	idea, ok, err := a.deps.Backlog.NextIdea(ctx)
	if err != nil {
		fail(res, StepFetch, err)
		log.Errorf("Error reading backlog: %v", err)
		return
	}
	if !ok {
		res.Outcome = OutcomeIdle
		log.Printf("No ideas to process.")
		return
	}
	res.Row = idea.Row

	a.enter(StateGenerating)
	draft, err := a.deps.Writer.GeneratePost(ctx, idea.Text, idea.Examples)
	if err != nil {
		fail(res, StepDraft, err)
		log.Errorf("Error generating post for row %d: %v", idea.Row, err)
		return
	}

	a.enter(StateCorrecting)
	body := draft
	if corrected, err := a.deps.Corrector.Correct(ctx, draft); err != nil {
		res.Degraded = append(res.Degraded, StepCorrect)
		log.Warnf("Grammar correction failed, publishing uncorrected text: %v", err)
	} else {
		body = corrected
	}
	if err := a.deps.Corrector.FactCheck(ctx, body); err != nil {
		res.Degraded = append(res.Degraded, StepFactCheck)
		log.Warnf("Fact check failed: %v", err)
	}

	a.enter(StateGenerating)
	headline, err := a.deps.Writer.GenerateHeadline(ctx, body)
	if err != nil {
		fail(res, StepHeadline, err)
		log.Errorf("Error generating headline for row %d: %v", idea.Row, err)
		return
	}
	res.Headline = headline

	a.enter(StateImaging)
	imageURL, err := a.deps.Images.Generate(ctx, imagePrompt(a.imagePrompt, headline))
	if err != nil {
		res.Degraded = append(res.Degraded, StepImage)
		log.Errorf("Error generating image: %v", err)
		imageURL = ""
	} else {
		res.ImageURL = imageURL
		log.Infof("Image generated: %s", imageURL)
	}

	a.enter(StatePublishing)
	caption, err := publisher.BuildCaption(headline, body)
	if err != nil {
		fail(res, StepPublish, err)
		log.Errorf("Error rendering caption: %v", err)
		return
	}
	delivery, err := a.deps.Notifier.SendPhoto(ctx, a.dest.ChannelChatID, imageURL, caption)
	if err != nil {
		fail(res, StepPublish, err)
		log.Errorf("Error publishing to Telegram: %v", err)
		return
	}
	if delivery.Permalink == "" && a.dest.ChannelHandle != "" {
		delivery.Permalink = publisher.Permalink(a.dest.ChannelHandle, delivery.MessageID)
	}
	res.Delivery = &delivery
	log.Printf("Published row %d to channel, message_id=%d", idea.Row, delivery.MessageID)

	// 帖子已公开：以下步骤失败不会撤回发布。
	a.enter(StateRecording)
	if err := a.deps.Backlog.MarkDone(ctx, idea.Row); err != nil {
		fail(res, StepMarkDone, err)
		log.Errorf("Post %s is live but row %d could not be marked done: %v", delivery.Permalink, idea.Row, err)
		return
	}
	log.Infof("Marked idea as done in backlog")

	if err := a.deps.Archive.Add(ctx, body, map[string]any{"row": idea.Row, "headline": headline}); err != nil {
		fail(res, StepArchive, err)
		log.Errorf("Post %s is live but was not archived: %v", delivery.Permalink, err)
		return
	}
	log.Infof("Saved publication to archive")

	a.enter(StateNotifying)
	res.Outcome = OutcomePublished
	if a.dest.OwnerChatID == "" {
		return
	}
	note := publisher.OwnerNotification(a.dest.ChannelHandle, headline, delivery)
	if _, err := a.deps.Notifier.SendMessage(ctx, a.dest.OwnerChatID, note); err != nil {
		res.Degraded = append(res.Degraded, StepNotify)
		log.Warnf("Owner notification failed: %v", err)
		return
	}
	log.Infof("Owner notification sent")
}

func imagePrompt(tpl, headline string) string {
	if tpl == "" {
		return headline
	}
	return generator.ImagePrompt(tpl, headline)
}
