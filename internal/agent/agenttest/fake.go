// Package agenttest provides a scripted agent runner for tests.
package agenttest

import (
	"context"
	"sync"

	"github.com/seralo/bridgebot/internal/agent"
)

// Turn scripts the events one Start call delivers.
type Turn struct {
	Events []agent.Event

	// WaitErr is returned from Stream.Wait after the events drain.
	WaitErr error

	// Block keeps the stream open (after delivering Events) until the
	// stream is interrupted or the context ends. Used to test interrupt
	// and lock-hold behavior.
	Block bool
}

// FakeRunner returns scripted turns in order. A call beyond the script
// replays the last turn.
type FakeRunner struct {
	mu     sync.Mutex
	turns  []Turn
	calls  []agent.Options
	nCalls int
}

var _ agent.Runner = (*FakeRunner)(nil)

// NewFakeRunner scripts the given turns.
func NewFakeRunner(turns ...Turn) *FakeRunner {
	return &FakeRunner{turns: turns}
}

// Calls returns the options of every Start call so far.
func (f *FakeRunner) Calls() []agent.Options {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Options(nil), f.calls...)
}

func (f *FakeRunner) Start(ctx context.Context, opts agent.Options) (agent.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	idx := f.nCalls
	if idx >= len(f.turns) {
		idx = len(f.turns) - 1
	}
	turn := f.turns[idx]
	f.nCalls++
	f.mu.Unlock()

	s := &fakeStream{
		events:      make(chan agent.Event, len(turn.Events)+1),
		interrupted: make(chan struct{}),
		waitErr:     turn.WaitErr,
		done:        make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.events)
		for _, ev := range turn.Events {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if turn.Block {
			select {
			case <-s.interrupted:
				s.events <- agent.Event{
					Kind:    agent.EventCompletion,
					IsError: true,
					Subtype: "interrupted",
				}
			case <-ctx.Done():
			}
		}
	}()

	return s, nil
}

type fakeStream struct {
	events      chan agent.Event
	interrupted chan struct{}
	waitErr     error
	done        chan struct{}
	once        sync.Once
}

func (s *fakeStream) Events() <-chan agent.Event {
	return s.events
}

func (s *fakeStream) Interrupt() error {
	s.once.Do(func() { close(s.interrupted) })
	return nil
}

func (s *fakeStream) Wait() error {
	<-s.done
	return s.waitErr
}
