package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
)

func defaults() Settings {
	return Defaults(config.NewFromViper(config.NewEmptyViper()))
}

func TestLoadWithoutStoredValuesReturnsDefaults(t *testing.T) {
	l := NewLoader(store.NewMemoryStore(nil), defaults(), nil)
	assert.Equal(t, defaults(), l.Load(context.Background()))
}

func TestLoadOverridesDefaults(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	require.NoError(t, core.SaveJSON(ctx, s, KeyEndpoint, "http://llm:9000/v1/completions"))
	require.NoError(t, core.SaveJSON(ctx, s, KeyTemplateName, "qwen"))
	require.NoError(t, core.SaveJSON(ctx, s, KeyCustomSystemPrompt, "Only say yes for invoices."))
	require.NoError(t, core.SaveJSON(ctx, s, KeyDebugLogging, true))
	require.NoError(t, core.SaveJSON(ctx, s, KeyHTMLToMarkdown, true))
	require.NoError(t, core.SaveJSON(ctx, s, KeyCollapseWhitespace, true))

	got := NewLoader(s, defaults(), nil).Load(ctx)
	assert.Equal(t, "http://llm:9000/v1/completions", got.Classifier.Endpoint)
	assert.Equal(t, "qwen", got.Classifier.TemplateName)
	assert.Equal(t, "Only say yes for invoices.", got.Classifier.SystemPrompt)
	assert.True(t, got.Debug)
	assert.True(t, got.Extract.HTMLToMarkdown)
	assert.True(t, got.Extract.CollapseWhitespace)
	assert.False(t, got.Extract.StripURLParams)
}

func TestLoadParamsHonoursOnlyKnownKeys(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	require.NoError(t, s.Set(ctx, KeyAIParams, []byte(`{
		"temperature": 0.2,
		"max_tokens": 128,
		"mirostat": 2,
		"top_k": "lots"
	}`)))

	got := NewLoader(s, defaults(), nil).Load(ctx).Classifier.Params
	want := core.DefaultGenerationParams()
	want.Temperature = 0.2
	want.MaxTokens = 128
	assert.Equal(t, want, got)
}

func TestInvalidValueKeepsDefault(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	require.NoError(t, s.Set(ctx, KeyHTMLToMarkdown, []byte(`"yes"`)))
	require.NoError(t, s.Set(ctx, KeyEndpoint, []byte(`42`)))

	got := NewLoader(s, defaults(), nil).Load(ctx)
	assert.False(t, got.Extract.HTMLToMarkdown)
	assert.Equal(t, defaults().Classifier.Endpoint, got.Classifier.Endpoint)
}
