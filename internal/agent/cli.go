package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/seralo/bridgebot/internal/logging"
	"github.com/seralo/bridgebot/internal/text"
)

// maxLineSize bounds one stream-json line. Tool results can be large.
const maxLineSize = 10 * 1024 * 1024

// toolInputPreview caps the tool input summary attached to tool_use events.
const toolInputPreview = 200

// CLIRunner drives the agent CLI in non-interactive streaming mode.
type CLIRunner struct {
	bin string
	log *logging.Logger
}

var _ Runner = (*CLIRunner)(nil)

// NewCLIRunner creates a runner for the given agent binary.
func NewCLIRunner(bin string) *CLIRunner {
	return &CLIRunner{
		bin: bin,
		log: logging.New("agent"),
	}
}

// Start spawns one agent turn as a subprocess and decodes its line-delimited
// JSON stream into normalized events. Cancelling ctx kills the subprocess.
func (r *CLIRunner) Start(ctx context.Context, opts Options) (Stream, error) {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	if opts.SystemPreamble != "" {
		args = append(args, "--append-system-prompt", opts.SystemPreamble)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	args = append(args, opts.Prompt)

	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = opts.WorkingDir
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent: %w", err)
	}

	r.log.Debug("agent_started", map[string]interface{}{
		"pid":    cmd.Process.Pid,
		"dir":    opts.WorkingDir,
		"resume": opts.ResumeSessionID != "",
	})

	s := &cliStream{
		cmd:    cmd,
		events: make(chan Event, 64),
	}
	go s.decode(stdout)
	return s, nil
}

type cliStream struct {
	cmd    *exec.Cmd
	events chan Event
}

func (s *cliStream) Events() <-chan Event {
	return s.events
}

// Interrupt signals the subprocess; the runtime flushes its terminal events
// and exits, which closes the event channel.
func (s *cliStream) Interrupt() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(os.Interrupt)
}

func (s *cliStream) Wait() error {
	return s.cmd.Wait()
}

// decode reads stream-json lines until EOF, emitting normalized events.
func (s *cliStream) decode(stdout io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		for _, ev := range DecodeLine(line) {
			s.events <- ev
		}
	}

	if err := scanner.Err(); err != nil {
		s.events <- Event{Kind: EventError, Text: fmt.Sprintf("stream read: %v", err)}
	}
}

// wireMessage mirrors the agent CLI's stream-json envelope.
type wireMessage struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype"`
	SessionID  string          `json:"session_id"`
	Message    *wireInner      `json:"message"`
	Result     string          `json:"result"`
	TotalCost  float64         `json:"total_cost_usd"`
	NumTurns   int             `json:"num_turns"`
	DurationMS int64           `json:"duration_ms"`
	IsError    bool            `json:"is_error"`
	Error      json.RawMessage `json:"error"`
}

type wireInner struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   map[string]any  `json:"input"`
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"is_error"`
}

// DecodeLine turns one stream-json line into zero or more normalized
// events. Unknown message types are skipped.
func DecodeLine(line []byte) []Event {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case "system":
		switch msg.Subtype {
		case "init":
			return []Event{{Kind: EventInit, SessionID: msg.SessionID}}
		case "compact_boundary":
			return []Event{{Kind: EventCompaction}}
		}

	case "assistant":
		if msg.Message == nil {
			return nil
		}
		var out []Event
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					out = append(out, Event{Kind: EventText, Text: block.Text})
				}
			case "tool_use":
				out = append(out, Event{
					Kind:      EventToolUse,
					ToolName:  block.Name,
					ToolInput: text.TruncateMap(block.Input, toolInputPreview),
				})
			}
		}
		return out

	case "user":
		if msg.Message == nil {
			return nil
		}
		var out []Event
		for _, block := range msg.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			out = append(out, Event{
				Kind:        EventToolResult,
				ToolOutput:  blockContentText(block.Content),
				ToolErrored: block.IsError,
			})
		}
		return out

	case "result":
		return []Event{{
			Kind:      EventCompletion,
			SessionID: msg.SessionID,
			Text:      msg.Result,
			CostUSD:   msg.TotalCost,
			NumTurns:  msg.NumTurns,
			Duration:  time.Duration(msg.DurationMS) * time.Millisecond,
			IsError:   msg.IsError,
			Subtype:   msg.Subtype,
		}}
	}

	return nil
}

// blockContentText extracts text from a tool_result content field, which is
// either a plain string or a list of text blocks.
func blockContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			if b.Type == "text" {
				out += b.Text
			}
		}
		return out
	}

	return string(raw)
}
