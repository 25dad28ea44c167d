package sorter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikey/sortana/internal/adapters/mailstore"
	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/settings"
)

// fakeCompleter matches any prompt mentioning one of its criteria
type fakeCompleter struct {
	mu      sync.Mutex
	match   []string
	prompts []string
}

func (f *fakeCompleter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	for _, m := range f.match {
		if strings.Contains(req.Prompt, m) {
			return "<think>looks like " + m + "</think>\n{\"match\": true}", nil
		}
	}
	return `{"match": false}`, nil
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fixture struct {
	svc       *Service
	mail      *mailstore.MemoryStore
	store     *store.MemoryStore
	completer *fakeCompleter
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		mail:      mailstore.NewMemoryStore(nil, mailstore.MemoryOptions{PageSize: 2, Folders: []string{"Newsletters"}}),
		store:     store.NewMemoryStore(nil),
		completer: &fakeCompleter{match: []string{"newsletter"}},
	}
	opts.Defaults = settings.Defaults(config.NewFromViper(config.NewEmptyViper()))
	f.svc = New(f.mail, f.store, f.completer, nil, opts)
	require.NoError(t, f.svc.Start(context.Background()))
	t.Cleanup(func() { _ = f.svc.Close(context.Background()) })
	return f
}

func (f *fixture) deliver(t *testing.T, n int) []core.MessageID {
	t.Helper()
	var ids []core.MessageID
	for i := 0; i < n; i++ {
		raw := fmt.Sprintf("From: news@example.org\r\nSubject: Issue %d\r\n\r\nWeekly digest %d\r\n", i, i)
		id, err := f.mail.Deliver(context.Background(), []byte(raw), "INBOX")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for queue")
	}
}

var twoRules = []core.Rule{
	{Criterion: "is a newsletter", Enabled: true, Actions: core.ActionList{core.TagAction{TagKey: "news"}}},
	{Criterion: "is an invoice", Enabled: true},
}

func TestClearCacheForcesFreshClassification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.NoError(t, f.svc.SaveRules(ctx, twoRules))
	id := f.deliver(t, 42)[41]
	require.Equal(t, core.MessageID("42"), id)

	wait(t, f.svc.ApplyRules(id))
	assert.Equal(t, 2, f.completer.Calls())

	wait(t, f.svc.ApplyRules(id))
	assert.Equal(t, 2, f.completer.Calls(), "cached verdicts short-circuit")

	removed, err := f.svc.ClearCache(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	wait(t, f.svc.ApplyRules(id))
	assert.Equal(t, 4, f.completer.Calls())
}

func TestApplyTagsMatchingMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.NoError(t, f.svc.SaveRules(ctx, twoRules))
	ids := f.deliver(t, 1)

	wait(t, f.svc.ApplyRules(ids...))

	h, err := f.mail.GetHeader(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"news"}, h.Tags)
	assert.Equal(t, int64(1), f.svc.Stats(ctx).Count)
}

func TestApplyToFolderQueuesEveryPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.NoError(t, f.svc.SaveRules(ctx, []core.Rule{
		{Criterion: "is a newsletter", Enabled: true, Actions: core.ActionList{core.MoveAction{Folder: "Newsletters"}}},
	}))
	f.deliver(t, 5)

	queued, err := f.svc.ApplyToFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.Equal(t, 5, queued)

	require.NoError(t, f.svc.Close(ctx))
	page, err := f.mail.List(ctx, "INBOX", "")
	require.NoError(t, err)
	assert.Empty(t, page.IDs)

	_, err = f.svc.ApplyToFolder(ctx, "Nowhere")
	assert.ErrorIs(t, err, mailstore.ErrUnknownFolder)
}

func TestDetailsReportsCachedVerdicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	require.NoError(t, f.svc.SaveRules(ctx, twoRules))
	id := f.deliver(t, 1)[0]

	before, err := f.svc.Details(ctx, id)
	require.NoError(t, err)
	require.Len(t, before.Results, 2)
	assert.Nil(t, before.Results[0].Matched)

	wait(t, f.svc.ApplyRules(id))

	details, err := f.svc.Details(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Issue 0", details.Subject)
	require.Len(t, details.Results, 2)
	assert.Equal(t, "is a newsletter", details.Results[0].Criterion)
	require.NotNil(t, details.Results[0].Matched)
	assert.True(t, *details.Results[0].Matched)
	assert.Equal(t, "looks like newsletter", details.Results[0].Reason)
	require.NotNil(t, details.Results[1].Matched)
	assert.False(t, *details.Results[1].Matched)
}

func TestTestClassify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	v, err := f.svc.TestClassify(ctx, "Weekly digest", "is a newsletter")
	require.NoError(t, err)
	assert.True(t, v.Matched)
	assert.Equal(t, "looks like newsletter", v.Reason)

	_, err = f.svc.TestClassify(ctx, "text", "  ")
	assert.ErrorIs(t, err, core.ErrEmptyCriterion)
	assert.Equal(t, 1, f.completer.Calls())
}

func TestQueueStatusIdle(t *testing.T) {
	f := newFixture(t, Options{})
	assert.Equal(t, QueueStatus{State: "idle"}, f.svc.QueueStatus())
}

func TestReloadSettingsFollowsDebugToggle(t *testing.T) {
	ctx := context.Background()
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	f := newFixture(t, Options{Level: &level})

	require.NoError(t, core.SaveJSON(ctx, f.store, settings.KeyDebugLogging, true))
	require.NoError(t, core.SaveJSON(ctx, f.store, settings.KeyTemplateName, "mistral"))
	got := f.svc.ReloadSettings(ctx)
	assert.True(t, got.Debug)
	assert.Equal(t, zapcore.DebugLevel, level.Level())
	assert.Equal(t, "mistral", f.svc.classifier.Settings().TemplateName)

	require.NoError(t, core.SaveJSON(ctx, f.store, settings.KeyDebugLogging, false))
	f.svc.ReloadSettings(ctx)
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}

func TestSaveRulesRejectsEmptyCriterion(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.svc.SaveRules(context.Background(), []core.Rule{{Criterion: ""}})
	assert.ErrorIs(t, err, core.ErrEmptyCriterion)
}

func TestExtractText(t *testing.T) {
	f := newFixture(t, Options{})
	text, err := f.svc.ExtractText([]byte("From: a@example.org\r\nSubject: Hi\r\nContent-Type: text/plain\r\n\r\nhello there\r\n"))
	require.NoError(t, err)
	assert.Contains(t, text, "hello there")
}
