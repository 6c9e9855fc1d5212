package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seralo/bridgebot/internal/agent"
	"github.com/seralo/bridgebot/internal/agent/agenttest"
	"github.com/seralo/bridgebot/internal/chat"
	"github.com/seralo/bridgebot/internal/chat/chattest"
	"github.com/seralo/bridgebot/internal/config"
	"github.com/seralo/bridgebot/internal/session"
)

// directPoster bypasses the outbound throttle for tests.
type directPoster struct {
	client chat.Client
}

func (p *directPoster) Post(ctx context.Context, channel, threadTS, text string) (chat.PostResult, error) {
	return p.client.PostMessage(ctx, channel, threadTS, text)
}

func testConfig() *config.Config {
	return &config.Config{
		RateLimitPerMinute: 10,
		ChannelDirs:        map[string]string{"proj-api": "/srv/api"},
		MessageLimit:       3900,
		Verbosity:          "normal",
		TurnTimeout:        5 * time.Second,
	}
}

func newTestDispatcher(cfg *config.Config, runner agent.Runner) (*Dispatcher, *chattest.FakeClient, *session.Store) {
	client := chattest.NewFakeClient()
	store := session.NewStore(nil)
	d := New(cfg, client, &directPoster{client: client}, runner, store)
	return d, client, store
}

func inboundEvent(id, text string) chat.Event {
	return chat.Event{
		Channel:  "proj-api",
		ThreadTS: "100.0",
		TS:       "101.0",
		UserID:   "U1",
		Text:     text,
		EventID:  id,
		Kind:     chat.KindMention,
	}
}

func successTurn(sessionID, reply string) agenttest.Turn {
	return agenttest.Turn{Events: []agent.Event{
		{Kind: agent.EventInit, SessionID: sessionID},
		{Kind: agent.EventText, Text: reply},
		{Kind: agent.EventCompletion, SessionID: sessionID, CostUSD: 0.10, NumTurns: 2,
			Duration: 3 * time.Second, Subtype: "success"},
	}}
}

func postTexts(client *chattest.FakeClient) []string {
	var out []string
	for _, p := range client.Posts() {
		out = append(out, p.Text)
	}
	return out
}

func TestNewThreadEndToEnd(t *testing.T) {
	runner := agenttest.NewFakeRunner(successTurn("abc123", "health check endpoint added"))
	d, client, store := newTestDispatcher(testConfig(), runner)

	d.HandleEvent(context.Background(), inboundEvent("E1", "add a health check endpoint"))

	// Session created with no prior identifier, bound on completion.
	info, ok := store.Get("proj-api", "100.0")
	require.True(t, ok)
	assert.Equal(t, "abc123", info.SessionID())
	turns, cost := info.Stats()
	assert.Equal(t, 1, turns)
	assert.InDelta(t, 0.10, cost, 0.001)

	// First turn carries the system preamble and no resume target.
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].ResumeSessionID)
	assert.NotEmpty(t, calls[0].SystemPreamble)
	assert.Equal(t, "/srv/api", calls[0].WorkingDir)

	posts := postTexts(client)
	require.GreaterOrEqual(t, len(posts), 2)
	assert.Equal(t, "health check endpoint added", posts[0])
	assert.Contains(t, posts[len(posts)-1], "done in")

	// Received indicator applied, then replaced with success.
	reactions := client.Reactions()
	require.GreaterOrEqual(t, len(reactions), 3)
	assert.Equal(t, reactionReceived, reactions[0].Name)
	last := reactions[len(reactions)-1]
	assert.Equal(t, reactionSuccess, last.Name)
	assert.False(t, last.Removed)
}

func TestFollowUpResumesSession(t *testing.T) {
	runner := agenttest.NewFakeRunner(
		successTurn("abc123", "done"),
		successTurn("abc123", "also done"),
	)
	d, _, _ := newTestDispatcher(testConfig(), runner)
	ctx := context.Background()

	d.HandleEvent(ctx, inboundEvent("E1", "first ask"))
	d.HandleEvent(ctx, inboundEvent("E2", "second ask"))

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "abc123", calls[1].ResumeSessionID)
	assert.Empty(t, calls[1].SystemPreamble, "preamble only goes out on the first turn")
}

func TestDuplicateEventDropped(t *testing.T) {
	runner := agenttest.NewFakeRunner(successTurn("abc123", "done"))
	d, client, _ := newTestDispatcher(testConfig(), runner)
	ctx := context.Background()

	ev := inboundEvent("E1", "do the thing")
	d.HandleEvent(ctx, ev)
	postsAfterFirst := len(client.Posts())

	d.HandleEvent(ctx, ev)
	assert.Len(t, runner.Calls(), 1, "replayed event id is dropped with no side effect")
	assert.Len(t, client.Posts(), postsAfterFirst)
}

func TestDisallowedUserDenied(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedUsers = []string{"U99"}
	runner := agenttest.NewFakeRunner(successTurn("abc123", "done"))
	d, client, store := newTestDispatcher(cfg, runner)

	d.HandleEvent(context.Background(), inboundEvent("E1", "hi"))

	assert.Empty(t, runner.Calls())
	assert.Equal(t, 0, store.Len(), "admission failures never touch the session store")
	require.NotEmpty(t, client.Posts())
	require.NotEmpty(t, client.Reactions())
	assert.Equal(t, reactionDenied, client.Reactions()[0].Name)
}

func TestRateLimitDenies(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 1
	runner := agenttest.NewFakeRunner(successTurn("abc123", "done"))
	d, client, _ := newTestDispatcher(cfg, runner)
	ctx := context.Background()

	d.HandleEvent(ctx, inboundEvent("E1", "first"))
	d.HandleEvent(ctx, inboundEvent("E2", "second"))

	assert.Len(t, runner.Calls(), 1)
	posts := postTexts(client)
	assert.Contains(t, posts[len(posts)-1], "over 1 messages in the last minute")
}

func TestUnmappedChannelSurfacesConfigError(t *testing.T) {
	cfg := testConfig()
	cfg.ChannelDirs = nil
	runner := agenttest.NewFakeRunner(successTurn("abc123", "done"))
	d, client, store := newTestDispatcher(cfg, runner)

	d.HandleEvent(context.Background(), inboundEvent("E1", "hi"))

	assert.Empty(t, runner.Calls())
	assert.Equal(t, 0, store.Len())
	posts := postTexts(client)
	require.NotEmpty(t, posts)
	assert.Contains(t, posts[0], "isn't mapped to a working directory")
}

func TestMinimalTierHidesToolActivity(t *testing.T) {
	turn := agenttest.Turn{Events: []agent.Event{
		{Kind: agent.EventInit, SessionID: "abc123"},
		{Kind: agent.EventToolUse, ToolName: "Bash", ToolInput: "command=ls"},
		{Kind: agent.EventText, Text: "all done"},
		{Kind: agent.EventCompletion, SessionID: "abc123", Subtype: "success"},
	}}

	cfg := testConfig()
	cfg.Verbosity = "minimal"
	d, client, _ := newTestDispatcher(cfg, agenttest.NewFakeRunner(turn))

	d.HandleEvent(context.Background(), inboundEvent("E1", "run it"))

	for _, p := range client.Posts() {
		assert.NotContains(t, p.Text, "Bash")
	}
}

func TestNormalTierShowsToolActivityAndErrors(t *testing.T) {
	turn := agenttest.Turn{Events: []agent.Event{
		{Kind: agent.EventInit, SessionID: "abc123"},
		{Kind: agent.EventToolUse, ToolName: "Bash", ToolInput: "command=go test"},
		{Kind: agent.EventToolResult, ToolOutput: "compile failed", ToolErrored: true},
		{Kind: agent.EventText, Text: "fixing"},
		{Kind: agent.EventCompletion, SessionID: "abc123", Subtype: "success"},
	}}

	d, client, _ := newTestDispatcher(testConfig(), agenttest.NewFakeRunner(turn))
	d.HandleEvent(context.Background(), inboundEvent("E1", "run tests"))

	joined := strings.Join(postTexts(client), "\n")
	assert.Contains(t, joined, "`Bash` command=go test")
	assert.Contains(t, joined, "tool error: compile failed")
}

func TestVerboseTierUploadsOversizedToolResult(t *testing.T) {
	big := strings.Repeat("log line\n", 1000)
	turn := agenttest.Turn{Events: []agent.Event{
		{Kind: agent.EventInit, SessionID: "abc123"},
		{Kind: agent.EventToolResult, ToolOutput: big},
		{Kind: agent.EventCompletion, SessionID: "abc123", Subtype: "success"},
	}}

	cfg := testConfig()
	cfg.Verbosity = "verbose"
	cfg.MessageLimit = 100
	d, client, _ := newTestDispatcher(cfg, agenttest.NewFakeRunner(turn))

	d.HandleEvent(context.Background(), inboundEvent("E1", "show me everything"))

	uploads := client.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "tool-output.txt", uploads[0].Filename)
	assert.Equal(t, big, string(uploads[0].Content))
}

func TestLongReplyChunkedInOrder(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString(strings.Repeat("x", 50))
		sb.WriteString("\n")
	}
	reply := sb.String()

	cfg := testConfig()
	cfg.MessageLimit = 300
	d, client, _ := newTestDispatcher(cfg, agenttest.NewFakeRunner(successTurn("abc123", reply)))

	d.HandleEvent(context.Background(), inboundEvent("E1", "write a lot"))

	posts := client.Posts()
	require.Greater(t, len(posts), 2)
	for _, p := range posts {
		assert.LessOrEqual(t, len(p.Text), 300)
	}
}

func TestFailedCompletionKeepsSession(t *testing.T) {
	failed := agenttest.Turn{Events: []agent.Event{
		{Kind: agent.EventInit, SessionID: "abc123"},
		{Kind: agent.EventCompletion, SessionID: "abc123", IsError: true, Subtype: "error_max_turns",
			Duration: time.Minute},
	}}

	d, client, store := newTestDispatcher(testConfig(), agenttest.NewFakeRunner(failed))
	d.HandleEvent(context.Background(), inboundEvent("E1", "hard task"))

	info, ok := store.Get("proj-api", "100.0")
	require.True(t, ok)
	assert.Equal(t, "abc123", info.SessionID(), "failed turn preserves the session for retry")

	joined := strings.Join(postTexts(client), "\n")
	assert.Contains(t, joined, "turn limit reached")
}

func TestDeadResumeClearsSession(t *testing.T) {
	runner := agenttest.NewFakeRunner(
		successTurn("abc123", "done"),
		agenttest.Turn{Events: nil}, // stream dies before init
	)
	d, _, store := newTestDispatcher(testConfig(), runner)
	ctx := context.Background()

	d.HandleEvent(ctx, inboundEvent("E1", "first"))
	d.HandleEvent(ctx, inboundEvent("E2", "second"))

	info, ok := store.Get("proj-api", "100.0")
	require.True(t, ok)
	assert.Empty(t, info.SessionID(), "dead resume target is cleared so the next message starts fresh")
}

func TestStaleResumeAdoptsNewIdentity(t *testing.T) {
	runner := agenttest.NewFakeRunner(
		successTurn("abc123", "done"),
		successTurn("fresh99", "continued elsewhere"),
	)
	d, _, store := newTestDispatcher(testConfig(), runner)
	ctx := context.Background()

	d.HandleEvent(ctx, inboundEvent("E1", "first"))
	d.HandleEvent(ctx, inboundEvent("E2", "second"))

	info, ok := store.Get("proj-api", "100.0")
	require.True(t, ok)
	assert.Equal(t, "fresh99", info.SessionID())
}

func TestTurnTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TurnTimeout = 50 * time.Millisecond

	blocked := agenttest.Turn{
		Events: []agent.Event{{Kind: agent.EventInit, SessionID: "abc123"}},
		Block:  true,
	}
	d, client, _ := newTestDispatcher(cfg, agenttest.NewFakeRunner(blocked))

	d.HandleEvent(context.Background(), inboundEvent("E1", "never finishes"))

	joined := strings.Join(postTexts(client), "\n")
	assert.Contains(t, joined, "timed out")
}

func TestStopCommandInterruptsInFlightTurn(t *testing.T) {
	blocked := agenttest.Turn{
		Events: []agent.Event{{Kind: agent.EventInit, SessionID: "abc123"}},
		Block:  true,
	}
	d, client, store := newTestDispatcher(testConfig(), agenttest.NewFakeRunner(blocked))
	ctx := context.Background()

	d.Dispatch(ctx, inboundEvent("E1", "long task"))

	// Wait for the turn to be in flight.
	require.Eventually(t, func() bool {
		info, ok := store.Get("proj-api", "100.0")
		if !ok || !info.Busy() {
			return false
		}
		d.mu.Lock()
		_, active := d.active[info.ConversationKey]
		d.mu.Unlock()
		return active
	}, 2*time.Second, 5*time.Millisecond)

	stop := inboundEvent("E2", "stop")
	stop.TS = "102.0"
	d.HandleEvent(ctx, stop)

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(drainCtx))

	var sawInterrupted bool
	for _, r := range client.Reactions() {
		if r.Name == reactionInterrupted && !r.Removed {
			sawInterrupted = true
		}
	}
	assert.True(t, sawInterrupted)

	// Lock released after the interrupted turn.
	info, _ := store.Get("proj-api", "100.0")
	assert.False(t, info.Busy())
}

func TestStopWithNothingRunning(t *testing.T) {
	d, client, _ := newTestDispatcher(testConfig(), agenttest.NewFakeRunner(successTurn("abc123", "done")))

	d.HandleEvent(context.Background(), inboundEvent("E1", "stop"))

	posts := postTexts(client)
	require.NotEmpty(t, posts)
	assert.Contains(t, posts[0], "Nothing running")
}

func TestEmptyReplyGetsFallbackNote(t *testing.T) {
	quiet := agenttest.Turn{Events: []agent.Event{
		{Kind: agent.EventInit, SessionID: "abc123"},
		{Kind: agent.EventCompletion, SessionID: "abc123", Subtype: "success"},
	}}

	d, client, _ := newTestDispatcher(testConfig(), agenttest.NewFakeRunner(quiet))
	d.HandleEvent(context.Background(), inboundEvent("E1", "say nothing"))

	joined := strings.Join(postTexts(client), "\n")
	assert.Contains(t, joined, "finished without producing a reply")
}

func TestRecoveredSessionDrivesResume(t *testing.T) {
	client := chattest.NewFakeClient()
	recoverer := recovererFunc(func(ctx context.Context, channel, threadTS string) (session.Recovered, bool) {
		return session.Recovered{SessionID: "abc123", Alias: "quiet-neon-fox"}, true
	})
	store := session.NewStore(recoverer)
	runner := agenttest.NewFakeRunner(successTurn("abc123", "resumed fine"))
	d := New(testConfig(), client, &directPoster{client: client}, runner, store)

	d.HandleEvent(context.Background(), inboundEvent("E1", "follow-up after restart"))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "abc123", calls[0].ResumeSessionID, "recovered identity drives a resume, not a fresh start")
}

type recovererFunc func(ctx context.Context, channel, threadTS string) (session.Recovered, bool)

func (f recovererFunc) Recover(ctx context.Context, channel, threadTS string) (session.Recovered, bool) {
	return f(ctx, channel, threadTS)
}
