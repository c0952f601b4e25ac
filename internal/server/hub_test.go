package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHub_FollowSeesHistoryAndLiveEvents(t *testing.T) {
	h := newRunHub()
	h.open("r1")
	h.publish("r1", Event{Name: EventProgress, Data: 1})

	got := make(chan []string, 1)
	started := make(chan struct{})
	go func() {
		var names []string
		first := true
		err := h.follow(context.Background(), "r1", func(ev Event) error {
			names = append(names, ev.Name)
			if first {
				first = false
				close(started)
			}
			return nil
		})
		assert.NoError(t, err)
		got <- names
	}()

	<-started
	h.publish("r1", Event{Name: EventProgress, Data: 2})
	h.finish("r1", completeEvent("r1", "SUCCESS", "completed"))
	h.publish("r1", Event{Name: EventProgress, Data: 3})

	select {
	case names := <-got:
		assert.Equal(t, []string{EventProgress, EventProgress, EventComplete}, names)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not return after the run finished")
	}
}

func TestRunHub_FollowStopsOnCancel(t *testing.T) {
	h := newRunHub()
	h.open("r1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.follow(ctx, "r1", func(Event) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunHub_UnknownRun(t *testing.T) {
	h := newRunHub()

	err := h.follow(context.Background(), "missing", func(Event) error { return nil })

	var notFound *ErrRunNotFound
	require.ErrorAs(t, err, &notFound)
	assert.False(t, h.has("missing"))
}

func TestRunHub_PublishBeforeOpenIsIgnored(t *testing.T) {
	h := newRunHub()
	h.publish("r1", Event{Name: EventProgress})
	h.open("r1")
	h.finish("r1", completeEvent("r1", "FAILED", ""))

	var names []string
	require.NoError(t, h.follow(context.Background(), "r1", func(ev Event) error {
		names = append(names, ev.Name)
		return nil
	}))
	assert.Equal(t, []string{EventComplete}, names)
}
