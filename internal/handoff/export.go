package handoff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/seralo/bridgebot/internal/chat"
	"github.com/seralo/bridgebot/internal/config"
	"github.com/seralo/bridgebot/internal/logging"
	"github.com/seralo/bridgebot/internal/recovery"
)

// ErrNoLocalSession is returned when no agent session history exists for
// the working directory.
var ErrNoLocalSession = errors.New("no agent session found for directory")

// ErrNoDestination is returned when no channel maps to the working
// directory, so there is nowhere to post the handoff.
var ErrNoDestination = errors.New("no channel mapped to directory")

// Messenger posts the handoff message. Satisfied by *chat.Poster.
type Messenger interface {
	Post(ctx context.Context, channel, threadTS, text string) (chat.PostResult, error)
}

// Exporter performs the CLI-side handoff: derive the current session
// identifier from the agent's local history, record an alias for it, and
// post a marker message to the channel mapped to the working directory.
type Exporter struct {
	registry *Registry
	cfg      *config.Config
	poster   Messenger
	log      *logging.Logger
}

// ExportResult describes a completed handoff.
type ExportResult struct {
	SessionID string
	Alias     string
	Channel   string
	ThreadTS  string
}

// NewExporter wires an exporter.
func NewExporter(registry *Registry, cfg *config.Config, poster Messenger) *Exporter {
	return &Exporter{
		registry: registry,
		cfg:      cfg,
		poster:   poster,
		log:      logging.New("handoff"),
	}
}

// Export hands the directory's newest agent session off to chat.
func (e *Exporter) Export(ctx context.Context, workingDir string) (*ExportResult, error) {
	sessionID, err := LatestSessionID(e.cfg.AgentConfigDir, workingDir)
	if err != nil {
		return nil, err
	}

	channel, ok := e.cfg.ChannelForDir(workingDir)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDestination, workingDir)
	}

	alias, err := Generate(ctx, e.registry.Exists)
	if err != nil {
		return nil, err
	}

	if err := e.registry.Record(ctx, sessionID, alias, ""); err != nil {
		return nil, err
	}

	text := fmt.Sprintf(
		"Picking up the CLI session `%s` here. Close the terminal session before replying, then continue in this thread. %s",
		alias, recovery.AliasMarker(alias),
	)
	res, err := e.poster.Post(ctx, channel, "", text)
	if err != nil {
		return nil, fmt.Errorf("post handoff message: %w", err)
	}

	e.log.Info("handoff_exported", map[string]interface{}{
		"alias":   alias,
		"channel": channel,
	})

	return &ExportResult{
		SessionID: sessionID,
		Alias:     alias,
		Channel:   channel,
		ThreadTS:  res.TS,
	}, nil
}

var projectDirSanitizer = regexp.MustCompile(`[\\/.:]`)

// LatestSessionID finds the most recently modified session history file
// for workingDir under the agent's config root and returns its session
// identifier (the file's base name, a UUID).
func LatestSessionID(agentConfigDir, workingDir string) (string, error) {
	projectID := projectDirSanitizer.ReplaceAllString(filepath.Clean(workingDir), "-")
	projectDir := filepath.Join(agentConfigDir, "projects", projectID)

	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoLocalSession, workingDir)
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(name, ".jsonl")
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := fi.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest = id
			newestMod = mod
		}
	}

	if newest == "" {
		return "", fmt.Errorf("%w: %s", ErrNoLocalSession, workingDir)
	}
	return newest, nil
}
