package pipeline

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_telegram_post_publisher/backlog"
	"auto_telegram_post_publisher/logging"
	"auto_telegram_post_publisher/publisher"
)

type fakeWriter struct {
	mu          sync.Mutex
	draft       string
	draftErr    error
	headline    string
	headlineErr error
	drafts      int
	started     chan struct{}
	release     chan struct{}
}

func (w *fakeWriter) GeneratePost(_ context.Context, idea, _ string) (string, error) {
	w.mu.Lock()
	w.drafts++
	w.mu.Unlock()
	if w.started != nil {
		close(w.started)
		<-w.release
	}
	if w.draftErr != nil {
		return "", w.draftErr
	}
	return w.draft, nil
}

func (w *fakeWriter) GenerateHeadline(context.Context, string) (string, error) {
	return w.headline, w.headlineErr
}

func (w *fakeWriter) Drafts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.drafts
}

type fakeCorrector struct {
	fixed      string
	correctErr error
	checkErr   error
	checked    []string
}

func (c *fakeCorrector) Correct(context.Context, string) (string, error) {
	if c.correctErr != nil {
		return "", c.correctErr
	}
	return c.fixed, nil
}

func (c *fakeCorrector) FactCheck(_ context.Context, text string) error {
	c.checked = append(c.checked, text)
	return c.checkErr
}

type fakeImages struct {
	url    string
	err    error
	prompt string
}

func (f *fakeImages) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.url, f.err
}

type sent struct {
	ChatID, Image, Text string
}

type fakeNotifier struct {
	photoErr   error
	messageErr error
	photos     []sent
	messages   []sent
}

func (n *fakeNotifier) SendPhoto(_ context.Context, chatID, imageRef, caption string) (publisher.Delivery, error) {
	if n.photoErr != nil {
		return publisher.Delivery{}, n.photoErr
	}
	n.photos = append(n.photos, sent{chatID, imageRef, caption})
	return publisher.Delivery{
		MessageID: 321,
		ChatID:    chatID,
		Date:      time.Date(2026, 6, 1, 10, 0, 5, 0, time.Local),
	}, nil
}

func (n *fakeNotifier) SendMessage(_ context.Context, chatID, text string) (publisher.Delivery, error) {
	if n.messageErr != nil {
		return publisher.Delivery{}, n.messageErr
	}
	n.messages = append(n.messages, sent{ChatID: chatID, Text: text})
	return publisher.Delivery{MessageID: 9, ChatID: chatID, Date: time.Now()}, nil
}

type archived struct {
	Text string
	Meta map[string]any
}

type fakeArchive struct {
	err  error
	docs []archived
}

func (a *fakeArchive) Add(_ context.Context, text string, meta map[string]any) error {
	if a.err != nil {
		return a.err
	}
	a.docs = append(a.docs, archived{text, meta})
	return nil
}

type recordingObserver struct {
	results []Result
}

func (o *recordingObserver) CycleFinished(_ context.Context, r Result) {
	o.results = append(o.results, r)
}

type harness struct {
	table     *backlog.MemoryTable
	writer    *fakeWriter
	corrector *fakeCorrector
	images    *fakeImages
	notifier  *fakeNotifier
	archive   *fakeArchive
	observer  *recordingObserver
	agent     *Agent
}

var scheduledRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

func defaultRows() [][]string {
	return [][]string{
		{"idea", "examples", "status", "scheduled"},
		{"X", "", "pending", ""},
	}
}

func newHarness(t *testing.T, rows [][]string) *harness {
	t.Helper()
	h := &harness{
		table:     backlog.NewMemoryTable(rows),
		writer:    &fakeWriter{draft: "Draft **body**", headline: "Headline"},
		corrector: &fakeCorrector{fixed: "Corrected **body**"},
		images:    &fakeImages{url: "https://img.example/x.png"},
		notifier:  &fakeNotifier{},
		archive:   &fakeArchive{},
		observer:  &recordingObserver{},
	}
	agent, err := NewAgent(Deps{
		Backlog:   backlog.New(h.table, backlog.Options{}),
		Writer:    h.writer,
		Corrector: h.corrector,
		Images:    h.images,
		Notifier:  h.notifier,
		Archive:   h.archive,
		Observers: []Observer{h.observer},
	}, Destinations{
		ChannelChatID: "-100500",
		ChannelHandle: "daily_notes",
		OwnerChatID:   "42",
	}, Options{ImagePrompt: "Illustration for {headline}", Logger: logging.Discard()})
	require.NoError(t, err)
	h.agent = agent
	return h
}

func TestScenarioFullCycle(t *testing.T) {
	h := newHarness(t, defaultRows())

	res, err := h.agent.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, 2, res.Row)
	assert.Empty(t, res.Degraded)
	assert.Equal(t, "done", h.table.Cell(2, 3))
	assert.Regexp(t, scheduledRe, h.table.Cell(2, 4))
	assert.Equal(t, "X", h.table.Cell(2, 1))

	require.Len(t, h.notifier.photos, 1)
	photo := h.notifier.photos[0]
	assert.Equal(t, "-100500", photo.ChatID)
	assert.Equal(t, "https://img.example/x.png", photo.Image)
	want, err := publisher.BuildCaption("Headline", "Corrected **body**")
	require.NoError(t, err)
	assert.Equal(t, want, photo.Text)
	assert.Equal(t, "Illustration for Headline", h.images.prompt)

	require.Len(t, h.archive.docs, 1)
	assert.Equal(t, "Corrected **body**", h.archive.docs[0].Text)
	assert.Equal(t, map[string]any{"row": 2, "headline": "Headline"}, h.archive.docs[0].Meta)

	require.NotNil(t, res.Delivery)
	assert.Equal(t, "https://t.me/daily_notes/321", res.Delivery.Permalink)

	require.Len(t, h.notifier.messages, 1)
	assert.Equal(t, "42", h.notifier.messages[0].ChatID)
	n, err := publisher.ParseNotification(h.notifier.messages[0].Text)
	require.NoError(t, err)
	assert.Equal(t, res.Delivery.Permalink, publisher.Permalink(n.Handle, n.MessageID))
	assert.Equal(t, "Headline", n.Headline)

	assert.Equal(t, []string{"Corrected **body**"}, h.corrector.checked)
	require.Len(t, h.observer.results, 1)
	assert.Equal(t, res.CycleID, h.observer.results[0].CycleID)
	assert.Equal(t, StateIdle, h.agent.State())
	last, ok := h.agent.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.CycleID, last.CycleID)
}

func TestScenarioNothingPending(t *testing.T) {
	h := newHarness(t, [][]string{
		{"idea", "status", "scheduled"},
		{"old", "done", "2026-01-01 00:00:00"},
	})

	res, err := h.agent.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeIdle, res.Outcome)
	assert.Zero(t, h.table.Writes())
	assert.Zero(t, h.writer.Drafts())
	assert.Empty(t, h.notifier.photos)
	assert.Empty(t, h.notifier.messages)
	assert.Empty(t, h.archive.docs)
}

func TestScenarioImageFailure(t *testing.T) {
	h := newHarness(t, defaultRows())
	h.images.err = errors.New("content policy violation")

	res, err := h.agent.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, []Step{StepImage}, res.Degraded)
	assert.Empty(t, res.ImageURL)
	require.NotNil(t, res.Delivery)
	require.Len(t, h.notifier.photos, 1)
	assert.Empty(t, h.notifier.photos[0].Image)
	assert.Equal(t, "done", h.table.Cell(2, 3))
}

func TestScenarioPublishFailure(t *testing.T) {
	h := newHarness(t, defaultRows())
	h.notifier.photoErr = errors.New("chat not found")

	res, err := h.agent.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, h.notifier.photoErr)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, StepPublish, res.FailedStep)
	assert.False(t, res.Published())
	assert.Equal(t, "pending", h.table.Cell(2, 3))
	assert.Zero(t, h.table.Writes())
	assert.Empty(t, h.archive.docs)
	assert.Empty(t, h.notifier.messages)
}

func TestCorrectionFailurePublishesDraft(t *testing.T) {
	h := newHarness(t, defaultRows())
	h.corrector.correctErr = errors.New("timeout")

	res, err := h.agent.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Step{StepCorrect}, res.Degraded)
	want, err := publisher.BuildCaption("Headline", "Draft **body**")
	require.NoError(t, err)
	assert.Equal(t, want, h.notifier.photos[0].Text)
	assert.Equal(t, "Draft **body**", h.archive.docs[0].Text)
}

func TestFactCheckFailureIsIgnored(t *testing.T) {
	h := newHarness(t, defaultRows())
	h.corrector.checkErr = errors.New("serpapi quota")

	res, err := h.agent.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, []Step{StepFactCheck}, res.Degraded)
	assert.Equal(t, "Corrected **body**", h.archive.docs[0].Text)
}

func TestGenerationFailuresAbortBeforePublishing(t *testing.T) {
	for name, mutate := range map[string]func(*harness){
		"draft":    func(h *harness) { h.writer.draftErr = errors.New("model down") },
		"headline": func(h *harness) { h.writer.headlineErr = errors.New("model down") },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, defaultRows())
			mutate(h)

			res, err := h.agent.Execute(context.Background())
			require.Error(t, err)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, Step(name), res.FailedStep)
			assert.Empty(t, h.notifier.photos)
			assert.Zero(t, h.table.Writes())
			assert.Empty(t, h.archive.docs)
		})
	}
}

func TestFetchFailure(t *testing.T) {
	h := newHarness(t, defaultRows())
	boom := errors.New("sheets 503")
	agent, err := NewAgent(Deps{
		Backlog:   errBacklog{err: boom},
		Writer:    h.writer,
		Corrector: h.corrector,
		Images:    h.images,
		Notifier:  h.notifier,
		Archive:   h.archive,
	}, Destinations{ChannelChatID: "-1"}, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	res, err := agent.Execute(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StepFetch, res.FailedStep)
	assert.Zero(t, h.writer.Drafts())
}

type errBacklog struct{ err error }

func (b errBacklog) NextIdea(context.Context) (backlog.Idea, bool, error) {
	return backlog.Idea{}, false, b.err
}
func (b errBacklog) MarkDone(context.Context, int) error { return b.err }

func TestMarkDoneFailureAfterPublish(t *testing.T) {
	h := newHarness(t, [][]string{
		{"idea", "status"},
		{"X", "pending"},
	})

	res, err := h.agent.Execute(context.Background())
	require.Error(t, err)

	assert.True(t, res.Published())
	assert.Equal(t, StepMarkDone, res.FailedStep)
	assert.Len(t, h.notifier.photos, 1)
	assert.Empty(t, h.archive.docs)
	assert.Empty(t, h.notifier.messages)
}

func TestArchiveFailureAfterMarkDone(t *testing.T) {
	h := newHarness(t, defaultRows())
	h.archive.err = errors.New("disk full")

	res, err := h.agent.Execute(context.Background())
	require.ErrorIs(t, err, h.archive.err)

	assert.Equal(t, StepArchive, res.FailedStep)
	assert.True(t, res.Published())
	assert.Equal(t, "done", h.table.Cell(2, 3))
	assert.Empty(t, h.notifier.messages)
}

func TestOwnerNotificationFailureStillSucceeds(t *testing.T) {
	h := newHarness(t, defaultRows())
	h.notifier.messageErr = errors.New("blocked by user")

	res, err := h.agent.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePublished, res.Outcome)
	assert.Equal(t, []Step{StepNotify}, res.Degraded)
	assert.Len(t, h.archive.docs, 1)
}

func TestOverlappingCyclesShareOneRun(t *testing.T) {
	h := newHarness(t, defaultRows())
	h.writer.started = make(chan struct{})
	h.writer.release = make(chan struct{})

	results := make(chan Result, 2)
	go func() {
		res, _ := h.agent.Execute(context.Background())
		results <- res
	}()
	<-h.writer.started
	assert.Equal(t, StateGenerating, h.agent.State())

	go func() {
		res, _ := h.agent.Execute(context.Background())
		results <- res
	}()
	require.Eventually(t, func() bool { return h.agent.Waiting() == 2 }, 5*time.Second, time.Millisecond)
	close(h.writer.release)

	first, second := <-results, <-results
	assert.Equal(t, first.CycleID, second.CycleID)
	assert.Equal(t, 1, h.writer.Drafts())
	assert.Len(t, h.notifier.photos, 1)
	assert.Len(t, h.observer.results, 1)
	assert.Zero(t, h.agent.Waiting())
}

func TestNewAgentValidation(t *testing.T) {
	_, err := NewAgent(Deps{}, Destinations{}, Options{})
	assert.Error(t, err)
}
