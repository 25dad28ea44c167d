package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/adapters/completions"
	"github.com/mikey/sortana/internal/adapters/ingest"
	"github.com/mikey/sortana/internal/adapters/mailstore"
	"github.com/mikey/sortana/internal/adapters/openai"
	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/config"
)

func newConfig(t *testing.T, values map[string]any) *config.Config {
	t.Helper()
	v := config.NewEmptyViper()
	for k, val := range values {
		v.Set(k, val)
	}
	return config.NewFromViper(v)
}

func TestCreateStore(t *testing.T) {
	ctx := context.Background()

	s, err := NewStoreFactory(newConfig(t, map[string]any{"storage.type": "memory"}), zap.NewNop()).CreateStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	path := filepath.Join(t.TempDir(), "nested", "sortana.db")
	s, err = NewStoreFactory(newConfig(t, map[string]any{"storage.type": "sqlite", "storage.sqlite_path": path}), zap.NewNop()).CreateStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, s)
	require.NoError(t, s.(*store.SQLiteStore).Close())

	_, err = NewStoreFactory(newConfig(t, map[string]any{"storage.type": "etcd"}), zap.NewNop()).CreateStore(ctx)
	assert.EqualError(t, err, "unsupported storage type: etcd")
}

func TestCreateCompleter(t *testing.T) {
	ctx := context.Background()

	c, err := NewLLMFactory(newConfig(t, nil), zap.NewNop()).CreateCompleter(ctx)
	require.NoError(t, err)
	assert.IsType(t, &completions.Client{}, c)

	_, err = NewLLMFactory(newConfig(t, map[string]any{"llm.provider": "openai"}), zap.NewNop()).CreateCompleter(ctx)
	assert.Error(t, err, "missing API key")

	c, err = NewLLMFactory(newConfig(t, map[string]any{"llm.provider": "openai", "openai.api_key": "sk-test"}), zap.NewNop()).CreateCompleter(ctx)
	require.NoError(t, err)
	assert.IsType(t, &openai.OpenAIClient{}, c)

	_, err = NewLLMFactory(newConfig(t, map[string]any{"llm.provider": "gemini"}), zap.NewNop()).CreateCompleter(ctx)
	assert.Error(t, err)

	_, err = NewLLMFactory(newConfig(t, map[string]any{"llm.provider": "llama.cpp"}), zap.NewNop()).CreateCompleter(ctx)
	assert.EqualError(t, err, "unsupported LLM provider: llama.cpp")
}

func TestCreateMailStore(t *testing.T) {
	m, err := NewMailStoreFactory(newConfig(t, nil), zap.NewNop()).CreateMailStore()
	require.NoError(t, err)
	assert.IsType(t, &mailstore.MemoryStore{}, m)

	m, err = NewMailStoreFactory(newConfig(t, map[string]any{"mail.store": "imap", "imap.username": "me"}), zap.NewNop()).CreateMailStore()
	require.NoError(t, err)
	assert.IsType(t, &mailstore.IMAPStore{}, m)

	_, err = NewMailStoreFactory(newConfig(t, map[string]any{"mail.store": "imap"}), zap.NewNop()).CreateMailStore()
	assert.Error(t, err)
}

func TestCreateIngestors(t *testing.T) {
	mail := mailstore.NewMemoryStore(nil, mailstore.MemoryOptions{})

	assert.Empty(t, NewIngestFactory(newConfig(t, nil), zap.NewNop()).CreateIngestors(mail, nil, nil))

	cfg := newConfig(t, map[string]any{"ingest.smtp.enabled": true, "ingest.amqp.enabled": true})
	sources := NewIngestFactory(cfg, zap.NewNop()).CreateIngestors(mail, nil, nil)
	require.Len(t, sources, 2)
	assert.IsType(t, &ingest.SMTPListener{}, sources[0])
	assert.IsType(t, &ingest.AMQPConsumer{}, sources[1])
}

