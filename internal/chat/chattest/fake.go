// Package chattest provides an in-memory chat client for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/seralo/bridgebot/internal/chat"
)

// Post records one outbound message.
type Post struct {
	Channel  string
	ThreadTS string
	Text     string
}

// Reaction records one reaction change.
type Reaction struct {
	Channel string
	TS      string
	Name    string
	Removed bool
}

// Upload records one file upload.
type Upload struct {
	Channel  string
	ThreadTS string
	Filename string
	Content  []byte
}

// FakeClient is an in-memory chat.Client that records every call and lets
// tests script failures.
type FakeClient struct {
	mu        sync.Mutex
	posts     []Post
	reactions []Reaction
	uploads   []Upload
	ts        int

	// HistoryByThread maps "channel:threadTS" to scripted history.
	HistoryByThread map[string][]chat.Message

	// PostErrs is consumed one error per PostMessage call; nil entries
	// mean success.
	PostErrs []error

	// HistoryErr fails every History call when set.
	HistoryErr error

	// ReactionErr fails every reaction call when set.
	ReactionErr error

	// BotID is returned by BotUserID.
	BotID string
}

var _ chat.Client = (*FakeClient)(nil)

// NewFakeClient returns an empty fake with bot id "BBOT".
func NewFakeClient() *FakeClient {
	return &FakeClient{
		HistoryByThread: make(map[string][]chat.Message),
		BotID:           "BBOT",
	}
}

func (f *FakeClient) PostMessage(ctx context.Context, channel, threadTS, text string) (chat.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.PostErrs) > 0 {
		err := f.PostErrs[0]
		f.PostErrs = f.PostErrs[1:]
		if err != nil {
			return chat.PostResult{}, err
		}
	}

	f.ts++
	f.posts = append(f.posts, Post{Channel: channel, ThreadTS: threadTS, Text: text})
	return chat.PostResult{Channel: channel, TS: fmt.Sprintf("%d.0000", f.ts)}, nil
}

func (f *FakeClient) AddReaction(ctx context.Context, channel, ts, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReactionErr != nil {
		return f.ReactionErr
	}
	f.reactions = append(f.reactions, Reaction{Channel: channel, TS: ts, Name: name})
	return nil
}

func (f *FakeClient) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReactionErr != nil {
		return f.ReactionErr
	}
	f.reactions = append(f.reactions, Reaction{Channel: channel, TS: ts, Name: name, Removed: true})
	return nil
}

func (f *FakeClient) UploadFile(ctx context.Context, channel, threadTS, filename string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, Upload{Channel: channel, ThreadTS: threadTS, Filename: filename, Content: content})
	return nil
}

func (f *FakeClient) History(ctx context.Context, channel, threadTS string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return f.HistoryByThread[channel+":"+threadTS], nil
}

func (f *FakeClient) BotUserID() string {
	return f.BotID
}

// Posts returns a copy of recorded posts.
func (f *FakeClient) Posts() []Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Post(nil), f.posts...)
}

// Reactions returns a copy of recorded reaction changes.
func (f *FakeClient) Reactions() []Reaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reaction(nil), f.reactions...)
}

// Uploads returns a copy of recorded uploads.
func (f *FakeClient) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}
