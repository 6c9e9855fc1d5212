package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/seralo/bridgebot/internal/agent"
	"github.com/seralo/bridgebot/internal/chat"
	"github.com/seralo/bridgebot/internal/config"
	"github.com/seralo/bridgebot/internal/logging"
	"github.com/seralo/bridgebot/internal/session"
	"github.com/seralo/bridgebot/internal/text"
)

// systemPreamble is appended to the agent's system prompt on a session's
// first turn only. Resumed sessions already carry it.
const systemPreamble = "You are working through a chat bridge. Keep replies compact: " +
	"short paragraphs, plain markdown, no HTML. Long command output belongs in " +
	"files, not inline. The user cannot see your terminal."

// reactionRetries bounds best-effort reaction updates.
const reactionRetries = 3

// stopKeywords interrupt the conversation's in-flight turn instead of
// queuing a new one.
var stopKeywords = map[string]bool{
	"stop":   true,
	"cancel": true,
}

// Messenger is the throttled outbound post path. Satisfied by *chat.Poster.
type Messenger interface {
	Post(ctx context.Context, channel, threadTS, text string) (chat.PostResult, error)
}

// Dispatcher owns the orchestration loop: one inbound chat event in, one
// agent turn driven, outbound chat operations out.
type Dispatcher struct {
	cfg       *config.Config
	client    chat.Client
	poster    Messenger
	runner    agent.Runner
	store     *session.Store
	dedup     *Deduper
	limiter   *RateLimiter
	verbosity Verbosity
	log       *logging.Logger

	mu     sync.Mutex
	active map[string]agent.Stream

	wg sync.WaitGroup
}

// New wires a dispatcher. The dedup sets and rate-limit counters are owned
// here, not process-wide.
func New(cfg *config.Config, client chat.Client, poster Messenger, runner agent.Runner, store *session.Store) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		client:    client,
		poster:    poster,
		runner:    runner,
		store:     store,
		dedup:     NewDeduper(),
		limiter:   NewRateLimiter(cfg.RateLimitPerMinute),
		verbosity: ParseVerbosity(cfg.Verbosity),
		log:       logging.New("dispatcher"),
		active:    make(map[string]agent.Stream),
	}
}

// Dispatch handles the event on its own goroutine with panic recovery.
// Steady-state per-conversation failures never take the process down.
func (d *Dispatcher) Dispatch(ctx context.Context, ev chat.Event) {
	d.wg.Add(1)
	log := d.log.WithConversation(ev.Channel, ev.ThreadTS)
	go func() {
		defer d.wg.Done()
		logging.NewRecoveryHandler(log).Wrap(func() {
			d.HandleEvent(ctx, ev)
		})
	}()
}

// Drain waits for in-flight turns to finish, bounded by ctx.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InterruptAll interrupts every in-flight turn. Used at shutdown before
// Drain.
func (d *Dispatcher) InterruptAll() {
	d.mu.Lock()
	streams := make([]agent.Stream, 0, len(d.active))
	for _, s := range d.active {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	for _, s := range streams {
		if err := s.Interrupt(); err != nil {
			d.log.Warn("interrupt_failed", nil, err)
		}
	}
}

// HandleEvent runs the full pipeline for one inbound event synchronously.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev chat.Event) {
	log := d.log.WithConversation(ev.Channel, ev.ThreadTS).WithUser(ev.UserID)

	if d.dedup.Duplicate(ev.Kind, ev.EventID) {
		log.Debug("event_deduped", map[string]interface{}{"event_id": ev.EventID, "kind": string(ev.Kind)})
		return
	}

	if !d.cfg.UserAllowed(ev.UserID) {
		log.Info("user_denied", nil)
		d.react(ctx, ev.Channel, ev.TS, reactionDenied)
		d.post(ctx, ev, denialMessage())
		return
	}

	if stopKeywords[strings.ToLower(strings.TrimSpace(ev.Text))] {
		d.handleStop(ctx, ev, log)
		return
	}

	if !d.limiter.Allow(ev.UserID) {
		log.Info("rate_limited", nil)
		d.post(ctx, ev, rateLimitMessage(d.cfg.RateLimitPerMinute))
		return
	}

	workingDir, err := d.cfg.ResolveDir(ev.Channel)
	if err != nil {
		log.Warn("no_directory_mapping", nil, err)
		d.post(ctx, ev, "This channel isn't mapped to a working directory; ask an admin to configure it.")
		return
	}

	info := d.store.GetOrCreate(ctx, ev.Channel, ev.ThreadTS, workingDir)

	d.react(ctx, ev.Channel, ev.TS, reactionReceived)

	// Queued turns in one thread proceed in arrival order; unrelated
	// threads are untouched by this wait.
	if err := info.Acquire(ctx); err != nil {
		log.Warn("acquire_aborted", nil, err)
		return
	}
	defer info.Release()

	d.runTurn(ctx, ev, info, log)
}

// handleStop interrupts the conversation's in-flight turn, if any.
func (d *Dispatcher) handleStop(ctx context.Context, ev chat.Event, log *logging.Logger) {
	info, ok := d.store.Get(ev.Channel, ev.ThreadTS)
	if !ok || !info.Busy() {
		d.post(ctx, ev, "Nothing running in this thread.")
		return
	}

	d.mu.Lock()
	stream := d.active[info.ConversationKey]
	d.mu.Unlock()

	if stream == nil {
		d.post(ctx, ev, "Nothing running in this thread.")
		return
	}

	log.Info("turn_interrupt_requested", nil)
	if err := stream.Interrupt(); err != nil {
		log.Warn("interrupt_failed", nil, err)
		d.post(ctx, ev, "Couldn't interrupt the running turn.")
		return
	}
	d.react(ctx, ev.Channel, ev.TS, reactionInterrupted)
}

// turnOutcome collects what the stream delivered.
type turnOutcome struct {
	completion    agent.Event
	gotCompletion bool
	sawInit       bool
	postedText    bool
	streamErr     string
}

// runTurn drives one agent turn under the conversation's held lock.
func (d *Dispatcher) runTurn(ctx context.Context, ev chat.Event, info *session.Info, log *logging.Logger) {
	log = log.WithTurn(ulid.Make().String())
	start := time.Now()

	turnCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.TurnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, d.cfg.TurnTimeout)
		defer cancel()
	}

	resumeID := info.SessionID()
	opts := agent.Options{
		Prompt:          ev.Text,
		WorkingDir:      info.WorkingDir,
		ResumeSessionID: resumeID,
	}
	if resumeID == "" {
		opts.SystemPreamble = systemPreamble
	}

	stream, err := d.runner.Start(turnCtx, opts)
	if err != nil {
		log.Error("agent_start_failed", nil, err)
		d.finishReaction(ctx, ev, reactionFailure)
		d.post(ctx, ev, "Couldn't start the agent: "+err.Error())
		return
	}

	d.mu.Lock()
	d.active[info.ConversationKey] = stream
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.active, info.ConversationKey)
		d.mu.Unlock()
	}()

	outcome := d.consumeStream(turnCtx, ev, info, stream, resumeID)
	waitErr := stream.Wait()
	timedOut := errors.Is(turnCtx.Err(), context.DeadlineExceeded)

	d.settleTurn(ctx, ev, info, outcome, waitErr, timedOut, resumeID, log, start)
}

// consumeStream renders agent events per the verbosity tier until the
// stream closes.
func (d *Dispatcher) consumeStream(ctx context.Context, ev chat.Event, info *session.Info, stream agent.Stream, resumeID string) turnOutcome {
	var out turnOutcome

	for evnt := range stream.Events() {
		switch evnt.Kind {
		case agent.EventInit:
			out.sawInit = true
			if resumeID != "" && evnt.SessionID != "" && evnt.SessionID != resumeID {
				// The runtime could not resume and spun a fresh session;
				// adopt the new identity.
				d.log.Warn("stale_session_replaced", map[string]interface{}{
					"requested": resumeID,
					"assigned":  evnt.SessionID,
				}, nil)
				info.ClearSession()
			}
			info.BindSession(evnt.SessionID)

		case agent.EventText:
			d.postChunked(ctx, ev, evnt.Text)
			out.postedText = true

		case agent.EventToolUse:
			if d.verbosity.showToolActivity() {
				d.post(ctx, ev, formatToolActivity(evnt))
			}

		case agent.EventToolResult:
			if evnt.ToolErrored {
				if d.verbosity.showToolErrors() {
					d.post(ctx, ev, formatToolError(evnt))
				}
			} else if d.verbosity.showToolResults() {
				d.postToolResult(ctx, ev, evnt.ToolOutput)
			}

		case agent.EventCompaction:
			if d.verbosity.showCompaction() {
				d.post(ctx, ev, "(conversation context compacted)")
			}

		case agent.EventError:
			out.streamErr = evnt.Text
			d.post(ctx, ev, "Agent error: "+evnt.Text)

		case agent.EventCompletion:
			out.completion = evnt
			out.gotCompletion = true
		}
	}

	return out
}

// settleTurn posts the turn's ending, updates bookkeeping, and sets the
// final reaction.
func (d *Dispatcher) settleTurn(ctx context.Context, ev chat.Event, info *session.Info, out turnOutcome, waitErr error, timedOut bool, resumeID string, log *logging.Logger, start time.Time) {
	switch {
	case out.gotCompletion && !out.completion.IsError:
		info.BindSession(out.completion.SessionID)
		info.RecordTurn(out.completion.CostUSD)
		if !out.postedText {
			if out.completion.Text != "" {
				d.postChunked(ctx, ev, out.completion.Text)
			} else {
				d.post(ctx, ev, "(the agent finished without producing a reply)")
			}
		}
		turns, cost := info.Stats()
		d.post(ctx, ev, formatCompletionSummary(out.completion, turns, cost))
		d.finishReaction(ctx, ev, reactionSuccess)
		log.TimedEvent("turn_complete", start, map[string]interface{}{
			"cost_usd": out.completion.CostUSD,
		})

	case out.gotCompletion:
		// Failed completion: keep the session so a retry resumes.
		info.Touch()
		turns, cost := info.Stats()
		d.post(ctx, ev, formatCompletionSummary(out.completion, turns, cost))
		if out.completion.Subtype == "interrupted" {
			d.finishReaction(ctx, ev, reactionInterrupted)
		} else {
			d.finishReaction(ctx, ev, reactionFailure)
		}
		log.Warn("turn_failed", map[string]interface{}{
			"subtype": out.completion.Subtype,
		}, nil)

	case timedOut:
		info.Touch()
		d.post(ctx, ev, fmt.Sprintf("Turn timed out after %s and was stopped. Reply to pick up where it left off.",
			roundDuration(d.cfg.TurnTimeout)))
		d.finishReaction(ctx, ev, reactionFailure)
		log.Warn("turn_timeout", nil, nil)

	default:
		// Stream ended with no completion: abnormal subprocess exit.
		info.Touch()
		msg := "The agent exited unexpectedly."
		if out.streamErr != "" {
			msg = "The agent exited unexpectedly: " + out.streamErr
		}
		d.post(ctx, ev, msg)
		d.finishReaction(ctx, ev, reactionFailure)

		// A resume that died before init means the underlying session is
		// gone; clear it so the next message starts fresh.
		if resumeID != "" && !out.sawInit {
			info.ClearSession()
			log.Warn("session_unrecoverable", map[string]interface{}{
				"session": resumeID,
			}, waitErr)
		} else {
			log.Error("turn_aborted", nil, waitErr)
		}
	}
}

// post sends one message to the event's thread. A failed post is logged,
// not escalated: there is no other channel to report through.
func (d *Dispatcher) post(ctx context.Context, ev chat.Event, body string) {
	if body == "" {
		return
	}
	if _, err := d.poster.Post(ctx, ev.Channel, ev.ThreadTS, body); err != nil {
		d.log.Error("post_failed", map[string]interface{}{
			"channel": ev.Channel,
			"thread":  ev.ThreadTS,
		}, err)
	}
}

// postChunked splits body at the transport limit and posts the chunks in
// order.
func (d *Dispatcher) postChunked(ctx context.Context, ev chat.Event, body string) {
	for _, chunk := range text.SplitChunks(body, d.cfg.MessageLimit) {
		d.post(ctx, ev, chunk)
	}
}

// postToolResult posts a tool result body, uploading it as a file when a
// single result exceeds the transport limit.
func (d *Dispatcher) postToolResult(ctx context.Context, ev chat.Event, body string) {
	if body == "" {
		return
	}
	if len(body) <= d.cfg.MessageLimit {
		d.post(ctx, ev, body)
		return
	}
	if err := d.client.UploadFile(ctx, ev.Channel, ev.ThreadTS, "tool-output.txt", []byte(body)); err != nil {
		d.log.Warn("upload_failed", nil, err)
		d.post(ctx, ev, "(tool produced oversized output; attaching it failed)")
	}
}

// react applies a reaction with bounded retries. Best-effort throughout.
func (d *Dispatcher) react(ctx context.Context, channel, ts, name string) {
	var err error
	for attempt := 1; attempt <= reactionRetries; attempt++ {
		if err = d.client.AddReaction(ctx, channel, ts, name); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	d.log.Warn("reaction_failed", map[string]interface{}{"reaction": name}, err)
}

// finishReaction replaces the received indicator with the turn's outcome.
func (d *Dispatcher) finishReaction(ctx context.Context, ev chat.Event, name string) {
	if err := d.client.RemoveReaction(ctx, ev.Channel, ev.TS, reactionReceived); err != nil {
		d.log.Debug("reaction_remove_failed", map[string]interface{}{"reaction": reactionReceived})
	}
	d.react(ctx, ev.Channel, ev.TS, name)
}
