package scheduler

import (
	"bytes"
	"context"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_telegram_post_publisher/errs"
	"auto_telegram_post_publisher/logging"
)

func noop(context.Context) {}

func TestUnknownZoneFallsBackToLocal(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(log.New(&buf, "", 0), false)

	s, err := New("Mars/Phobos", []string{"0 9 * * *"}, noop, logger)
	require.NoError(t, err)

	assert.Equal(t, time.Local, s.Location())
	assert.Equal(t, 1, strings.Count(buf.String(), "Unknown time zone"))
	assert.Contains(t, buf.String(), "Mars/Phobos")
}

func TestEmptyZoneIsLocal(t *testing.T) {
	assert.Equal(t, time.Local, ResolveLocation("  ", logging.Discard()))
}

func TestNamedZone(t *testing.T) {
	s, err := New("Europe/Berlin", []string{"30 8 * * 1-5"}, noop, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", s.Location().String())

	// Friday evening in Berlin, next firing is Monday 08:30 local time.
	from := time.Date(2026, 3, 13, 20, 0, 0, 0, s.Location())
	next := s.NextAfter(from)
	assert.Equal(t, time.Date(2026, 3, 16, 8, 30, 0, 0, s.Location()), next)
}

func TestEarliestOfSeveralSpecs(t *testing.T) {
	s, err := New("UTC", []string{"0 18 * * *", "0 9 * * *"}, noop, logging.Discard())
	require.NoError(t, err)

	from := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC), s.NextAfter(from))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "0 18 * * *", entries[0].Spec)
	assert.Equal(t, "0 9 * * *", entries[1].Spec)
}

func TestInvalidExpression(t *testing.T) {
	_, err := New("UTC", []string{"0 9 * *"}, noop, logging.Discard())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
	assert.Contains(t, err.Error(), "0 9 * *")
}

func TestNoSpecs(t *testing.T) {
	_, err := New("UTC", nil, noop, logging.Discard())
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestFiresAndStopWaits(t *testing.T) {
	var runs atomic.Int32
	finished := make(chan struct{})
	job := func(ctx context.Context) {
		if runs.Add(1) == 1 {
			time.Sleep(50 * time.Millisecond)
			close(finished)
		}
	}
	s, err := New("UTC", []string{"@every 1s"}, job, logging.Discard())
	require.NoError(t, err)
	s.Start()

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before the running job finished")
	}
}
