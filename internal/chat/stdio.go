package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/seralo/bridgebot/internal/logging"
)

// StdioClient is a development transport binding: inbound events arrive as
// JSON lines on a reader, outbound operations go out as JSON lines on a
// writer. Production deployments implement Client against their platform
// SDK; this binding exists so the bridge can run end to end without one.
type StdioClient struct {
	events chan Event
	log    *logging.Logger
	botID  string

	mu  sync.Mutex
	enc *json.Encoder
	ts  int
	r   io.Reader
}

var _ Client = (*StdioClient)(nil)

// inboundLine is one event on the reader.
type inboundLine struct {
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts"`
	TS       string `json:"ts"`
	UserID   string `json:"user"`
	Text     string `json:"text"`
	EventID  string `json:"event_id"`
	Kind     string `json:"kind"`
}

// outboundLine is one operation on the writer.
type outboundLine struct {
	Op       string `json:"op"`
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts,omitempty"`
	TS       string `json:"ts,omitempty"`
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// NewStdioClient builds a stdio transport over r and w.
func NewStdioClient(r io.Reader, w io.Writer) *StdioClient {
	return &StdioClient{
		events: make(chan Event, 16),
		log:    logging.New("stdio-transport"),
		botID:  "BBRIDGE",
		enc:    json.NewEncoder(w),
		r:      r,
	}
}

// Events returns the inbound event channel. Closed when Run returns.
func (c *StdioClient) Events() <-chan Event {
	return c.events
}

// Run reads inbound events until EOF or ctx ends.
func (c *StdioClient) Run(ctx context.Context) error {
	defer close(c.events)

	scanner := bufio.NewScanner(c.r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var in inboundLine
		if err := json.Unmarshal(line, &in); err != nil {
			c.log.Warn("bad_event_line", nil, err)
			continue
		}

		ev := Event{
			Channel:  in.Channel,
			ThreadTS: in.ThreadTS,
			TS:       in.TS,
			UserID:   in.UserID,
			Text:     in.Text,
			EventID:  in.EventID,
			Kind:     EventKind(in.Kind),
		}
		if ev.Kind == "" {
			ev.Kind = KindMessage
		}
		if ev.ThreadTS == "" {
			ev.ThreadTS = ev.TS
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func (c *StdioClient) write(line outboundLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(line)
}

func (c *StdioClient) PostMessage(ctx context.Context, channel, threadTS, text string) (PostResult, error) {
	c.mu.Lock()
	c.ts++
	ts := fmt.Sprintf("%d.000000", c.ts)
	err := c.enc.Encode(outboundLine{Op: "post", Channel: channel, ThreadTS: threadTS, TS: ts, Text: text})
	c.mu.Unlock()
	if err != nil {
		return PostResult{}, err
	}
	return PostResult{Channel: channel, TS: ts}, nil
}

func (c *StdioClient) AddReaction(ctx context.Context, channel, ts, name string) error {
	return c.write(outboundLine{Op: "react", Channel: channel, TS: ts, Name: name})
}

func (c *StdioClient) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	return c.write(outboundLine{Op: "unreact", Channel: channel, TS: ts, Name: name})
}

func (c *StdioClient) UploadFile(ctx context.Context, channel, threadTS, filename string, content []byte) error {
	return c.write(outboundLine{Op: "upload", Channel: channel, ThreadTS: threadTS, Filename: filename, Size: len(content)})
}

// History is unavailable over a one-way stdio transport; reconnection
// degrades to treating every thread as new.
func (c *StdioClient) History(ctx context.Context, channel, threadTS string) ([]Message, error) {
	return nil, nil
}

func (c *StdioClient) BotUserID() string {
	return c.botID
}
