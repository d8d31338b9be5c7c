package dry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/mergetrain/internal/event"
	"github.com/simplesurance/mergetrain/internal/mergereq"
)

type chanPublisher chan *event.Event

func (c chanPublisher) Publish(ev *event.Event) error {
	c <- ev
	return nil
}

func TestTriggerBuildPublishesOutcome(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	cfg, err := NewConfigFromMap(map[string]any{"outcome": "failed", "delay": "10ms"})
	require.NoError(t, err)

	pub := make(chanPublisher, 1)
	repo := event.RepositoryID{Owner: "simplesurance", Name: "mergetrain"}

	w := New(cfg, pub)
	require.NoError(t, w.TriggerBuild(context.Background(), repo, mergereq.Fingerprint{ID: 3, SHA: "abc"}))

	select {
	case ev := <-pub:
		assert.Equal(t, repo, ev.Repository)
		assert.Equal(t, &event.BuildResult{
			ID:          3,
			SHA:         "abc",
			Outcome:     event.BuildFailed,
			Description: "dry-run build",
		}, ev.Payload)

	case <-time.After(5 * time.Second):
		t.Fatal("build result was not published")
	}
}

func TestNewConfigFromMap(t *testing.T) {
	cfg, err := NewConfigFromMap(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, event.BuildPassed, cfg.Outcome)
	assert.Equal(t, DefaultDelay, cfg.Delay)

	_, err = NewConfigFromMap(map[string]any{"outcome": "maybe"})
	assert.Error(t, err)

	_, err = NewConfigFromMap(map[string]any{"delay": "later"})
	assert.Error(t, err)
}

func TestStopCancelsPendingBuilds(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	cfg, err := NewConfigFromMap(map[string]any{"delay": "50ms"})
	require.NoError(t, err)

	pub := make(chanPublisher, 2)
	repo := event.RepositoryID{Owner: "simplesurance", Name: "mergetrain"}

	w := New(cfg, pub)
	require.NoError(t, w.TriggerBuild(context.Background(), repo, mergereq.Fingerprint{ID: 1, SHA: "abc"}))
	require.NoError(t, w.TriggerBuild(context.Background(), repo, mergereq.Fingerprint{ID: 2, SHA: "def"}))

	w.Stop()

	err = w.TriggerBuild(context.Background(), repo, mergereq.Fingerprint{ID: 3, SHA: "ghi"})
	assert.ErrorIs(t, err, ErrStopped)

	select {
	case ev := <-pub:
		t.Fatalf("build result was published after Stop: %+v", ev.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopWithoutPendingBuilds(t *testing.T) {
	cfg, err := NewConfigFromMap(map[string]any{})
	require.NoError(t, err)

	w := New(cfg, make(chanPublisher))
	w.Stop()
	w.Stop()
}
