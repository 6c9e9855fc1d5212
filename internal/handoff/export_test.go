package handoff

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seralo/bridgebot/internal/chat"
	"github.com/seralo/bridgebot/internal/config"
	"github.com/seralo/bridgebot/internal/recovery"
)

type capturingPoster struct {
	posts []struct{ channel, threadTS, text string }
}

func (p *capturingPoster) Post(ctx context.Context, channel, threadTS, text string) (chat.PostResult, error) {
	p.posts = append(p.posts, struct{ channel, threadTS, text string }{channel, threadTS, text})
	return chat.PostResult{Channel: channel, TS: "1.0000"}, nil
}

// writeSessionFile creates an agent history file for workingDir under root.
func writeSessionFile(t *testing.T, root, workingDir, sessionID string, mod time.Time) {
	t.Helper()
	projectID := projectDirSanitizer.ReplaceAllString(filepath.Clean(workingDir), "-")
	dir := filepath.Join(root, "projects", projectID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, sessionID+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestLatestSessionIDPicksNewest(t *testing.T) {
	root := t.TempDir()
	workDir := "/srv/api"

	older := "11111111-1111-1111-1111-111111111111"
	newer := "22222222-2222-2222-2222-222222222222"
	writeSessionFile(t, root, workDir, older, time.Now().Add(-time.Hour))
	writeSessionFile(t, root, workDir, newer, time.Now())

	id, err := LatestSessionID(root, workDir)
	require.NoError(t, err)
	assert.Equal(t, newer, id)
}

func TestLatestSessionIDIgnoresNonSessionFiles(t *testing.T) {
	root := t.TempDir()
	workDir := "/srv/api"

	projectID := projectDirSanitizer.ReplaceAllString(filepath.Clean(workDir), "-")
	dir := filepath.Join(root, "projects", projectID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.jsonl"), []byte("x"), 0644))

	_, err := LatestSessionID(root, workDir)
	require.ErrorIs(t, err, ErrNoLocalSession)
}

func TestLatestSessionIDMissingProject(t *testing.T) {
	_, err := LatestSessionID(t.TempDir(), "/srv/never-used")
	require.ErrorIs(t, err, ErrNoLocalSession)
}

func TestExportPostsRoundTrippableMarker(t *testing.T) {
	root := t.TempDir()
	workDir := "/srv/api"
	sessionID := "33333333-3333-3333-3333-333333333333"
	writeSessionFile(t, root, workDir, sessionID, time.Now())

	reg := openTestRegistry(t)
	cfg := &config.Config{
		ChannelDirs:    map[string]string{"proj-api": workDir},
		AgentConfigDir: root,
	}
	poster := &capturingPoster{}

	exporter := NewExporter(reg, cfg, poster)
	res, err := exporter.Export(context.Background(), workDir)
	require.NoError(t, err)

	assert.Equal(t, sessionID, res.SessionID)
	assert.Equal(t, "proj-api", res.Channel)
	assert.NotEmpty(t, res.Alias)

	// The recorded alias resolves back to the session.
	resolved, err := reg.Resolve(context.Background(), res.Alias)
	require.NoError(t, err)
	assert.Equal(t, sessionID, resolved)

	// The posted message carries a marker the scanner can parse.
	require.Len(t, poster.posts, 1)
	marker, ok := recovery.ExtractMarker(poster.posts[0].text)
	require.True(t, ok)
	assert.Equal(t, res.Alias, marker.Alias)
}

func TestExportFailsWithoutDestinationChannel(t *testing.T) {
	root := t.TempDir()
	workDir := "/srv/api"
	writeSessionFile(t, root, workDir, "44444444-4444-4444-4444-444444444444", time.Now())

	reg := openTestRegistry(t)
	cfg := &config.Config{AgentConfigDir: root}

	exporter := NewExporter(reg, cfg, &capturingPoster{})
	_, err := exporter.Export(context.Background(), workDir)
	require.ErrorIs(t, err, ErrNoDestination)
}
