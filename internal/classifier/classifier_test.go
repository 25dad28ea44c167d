package classifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/classcache"
	"github.com/mikey/sortana/internal/core"
)

type fakeCompleter struct {
	mu       sync.Mutex
	calls    int
	requests []core.CompletionRequest
	reply    string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newClient(t *testing.T, completer core.Completer) (*Client, *classcache.Cache) {
	t.Helper()
	cache := classcache.New(store.NewMemoryStore(nil), nil)
	return New(completer, cache, nil, BreakerSettings{MaxFailures: 3, OpenTimeout: time.Hour}), cache
}

func TestBuildCacheKey(t *testing.T) {
	k := BuildCacheKey("42", "is spam")
	assert.Len(t, k, 64)
	assert.Equal(t, k, BuildCacheKey("42", "is spam"))
	assert.NotEqual(t, k, BuildCacheKey("43", "is spam"))
	assert.NotEqual(t, k, BuildCacheKey("42", "is ham"))
	// sha256("42|is spam")
	assert.Equal(t, "25af60f17e73123196bc30f926455218d90911fcc7de2ddfc310259ca0b11bd4", k)
}

func TestClassifyIsCachedAfterFirstCall(t *testing.T) {
	completer := &fakeCompleter{reply: `{"match": true}`}
	c, _ := newClient(t, completer)
	ctx := context.Background()
	key := BuildCacheKey("1", "is a newsletter")

	assert.True(t, c.Classify(ctx, "body", "is a newsletter", key))
	assert.True(t, c.Classify(ctx, "body", "is a newsletter", key))
	assert.Equal(t, 1, completer.Calls())
}

func TestClassifyFailuresAreNotCached(t *testing.T) {
	completer := &fakeCompleter{err: &core.StatusError{StatusCode: 500, Status: "500 Internal Server Error"}}
	c, cache := newClient(t, completer)
	ctx := context.Background()
	key := BuildCacheKey("1", "c")

	assert.False(t, c.Classify(ctx, "body", "c", key))
	_, ok := cache.Lookup(ctx, key)
	assert.False(t, ok)

	completer.err = nil
	completer.reply = `{"match": true}`
	assert.True(t, c.Classify(ctx, "body", "c", key))
	assert.Equal(t, 2, completer.Calls())
}

func TestClassifyInvalidResponseFailsClosed(t *testing.T) {
	completer := &fakeCompleter{reply: `Sure! The answer is yes.`}
	c, cache := newClient(t, completer)
	ctx := context.Background()

	assert.False(t, c.Classify(ctx, "body", "c", "k"))
	_, ok := cache.Lookup(ctx, "k")
	assert.False(t, ok)
}

func TestClassifyRecordsReason(t *testing.T) {
	completer := &fakeCompleter{reply: "<think>\nmentions unsubscribe\n</think>\n{\"match\": true}"}
	c, cache := newClient(t, completer)
	ctx := context.Background()

	require.True(t, c.Classify(ctx, "body", "c", "k"))
	reason, ok := cache.Reason(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "mentions unsubscribe", reason)
}

func TestTestBypassesCache(t *testing.T) {
	completer := &fakeCompleter{reply: `{"match": false}`}
	c, cache := newClient(t, completer)
	ctx := context.Background()

	v, err := c.Test(ctx, "text", "c")
	require.NoError(t, err)
	assert.False(t, v.Matched)

	_, err = c.Test(ctx, "text", "c")
	require.NoError(t, err)
	assert.Equal(t, 2, completer.Calls())
	assert.Equal(t, 0, cache.Len(ctx))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("connection refused")}
	c, _ := newClient(t, completer)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.False(t, c.Classify(ctx, "body", "c", ""))
	}
	assert.Equal(t, 3, completer.Calls())

	// open: no further network calls
	assert.False(t, c.Classify(ctx, "body", "c", ""))
	assert.Equal(t, 3, completer.Calls())
}

func TestParseFailuresDoNotTripBreaker(t *testing.T) {
	completer := &fakeCompleter{reply: "garbage"}
	c, _ := newClient(t, completer)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Classify(ctx, "body", "c", "")
	}
	assert.Equal(t, 5, completer.Calls())
}

func TestRequestRendersPrompt(t *testing.T) {
	completer := &fakeCompleter{reply: `{"match": true}`}
	c, _ := newClient(t, completer)
	c.Configure(Settings{
		Endpoint:       "http://llm.local/v1/completions",
		TemplateName:   CustomTemplate,
		CustomTemplate: "S={{ system }}|E={{email}}|Q={{query}}|X={{unknown}}",
		SystemPrompt:   "Be strict.",
		Params:         core.DefaultGenerationParams(),
	})

	_, err := c.Test(context.Background(), "the email", "the query")
	require.NoError(t, err)
	require.Len(t, completer.requests, 1)

	req := completer.requests[0]
	assert.Equal(t, "http://llm.local/v1/completions", req.Endpoint)
	assert.True(t, strings.HasPrefix(req.Prompt, "S=You are an email-classification assistant.\n"))
	assert.Contains(t, req.Prompt, "Be strict.\nReturn ONLY a JSON object")
	assert.True(t, strings.HasSuffix(req.Prompt, "|E=the email|Q=the query|X="))
}

func TestConfigureUnknownTemplateFallsBack(t *testing.T) {
	c, _ := newClient(t, &fakeCompleter{})
	c.Configure(Settings{TemplateName: "llama-99"})

	s := c.Settings()
	assert.Equal(t, DefaultTemplate, s.TemplateName)
	assert.Equal(t, DefaultEndpoint, s.Endpoint)
	assert.Equal(t, DefaultSystemPrompt, s.SystemPrompt)
}

func TestBuiltinTemplates(t *testing.T) {
	assert.ElementsMatch(t, []string{"mistral", "openai", "qwen"}, TemplateNames())
	for _, name := range TemplateNames() {
		text, ok := BuiltinTemplate(name)
		require.True(t, ok)
		assert.Contains(t, text, "{{system}}")
		assert.Contains(t, text, "{{email}}")
		assert.Contains(t, text, "{{query}}")
	}
	_, ok := BuiltinTemplate("../prompt")
	assert.False(t, ok)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		matched bool
		reason  string
		wantErr bool
	}{
		{name: "match true", in: `{"match": true}`, matched: true},
		{name: "match false", in: `{"match": false}`},
		{name: "legacy matched", in: `{"matched": true}`, matched: true},
		{name: "string true is not a match", in: `{"match": "true"}`},
		{name: "think blocks", in: "<think>a</think>\n<THINK>b</THINK> {\"match\":true}", matched: true, reason: "a\nb"},
		{name: "not json", in: `yes`, wantErr: true},
		{name: "empty", in: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseResponse(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.matched, v.Matched)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}
