package server

import (
	"context"
	"sync"
)

// Event is one server-sent event of a run
type Event struct {
	Name string
	Data any
}

// runStream is the event history of one run started by this server
type runStream struct {
	history []Event
	done    bool
	// changed is closed and replaced on every publish
	changed chan struct{}
}

// runHub records the progress of live runs so that any number of clients can
// follow a run from its first event, including clients that connect late.
type runHub struct {
	mu   sync.Mutex
	runs map[string]*runStream
}

func newRunHub() *runHub {
	return &runHub{runs: make(map[string]*runStream)}
}

func (h *runHub) open(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.runs[runID]; !ok {
		h.runs[runID] = &runStream{changed: make(chan struct{})}
	}
}

func (h *runHub) publish(runID string, ev Event) {
	h.append(runID, ev, false)
}

// finish publishes the last event of a run; later publishes are ignored
func (h *runHub) finish(runID string, ev Event) {
	h.append(runID, ev, true)
}

func (h *runHub) append(runID string, ev Event, last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.runs[runID]
	if !ok || rs.done {
		return
	}
	rs.history = append(rs.history, ev)
	rs.done = last
	close(rs.changed)
	rs.changed = make(chan struct{})
}

func (h *runHub) has(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.runs[runID]
	return ok
}

// follow calls fn for every event of the run in order, blocking for new events
// until the run finishes or ctx is cancelled.
func (h *runHub) follow(ctx context.Context, runID string, fn func(Event) error) error {
	next := 0
	for {
		h.mu.Lock()
		rs, ok := h.runs[runID]
		if !ok {
			h.mu.Unlock()
			return &ErrRunNotFound{RunID: runID}
		}
		pending := append([]Event(nil), rs.history[next:]...)
		done := rs.done
		changed := rs.changed
		h.mu.Unlock()

		for _, ev := range pending {
			if err := fn(ev); err != nil {
				return err
			}
		}
		next += len(pending)
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
