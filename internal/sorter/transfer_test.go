package sorter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/settings"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t, Options{})
	require.NoError(t, src.svc.SaveRules(ctx, twoRules))
	require.NoError(t, core.SaveJSON(ctx, src.store, settings.KeyEndpoint, "http://llm:9000/v1/completions"))
	id := src.deliver(t, 1)[0]
	wait(t, src.svc.ApplyRules(id))

	doc, err := src.svc.Export(ctx, []string{GroupSettings, GroupRules})
	require.NoError(t, err)
	assert.Contains(t, doc, "aiRules")
	assert.Contains(t, doc, "endpoint")
	assert.NotContains(t, doc, "aiCache")

	dst := newFixture(t, Options{})
	written, err := dst.svc.Import(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	assert.Equal(t, src.svc.Rules(ctx), dst.svc.Rules(ctx))
	assert.Equal(t, "http://llm:9000/v1/completions", dst.svc.classifier.Settings().Endpoint)
}

func TestImportOnlyWritesSelectedGroups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	doc := Document{
		"aiRules":   []byte(`{"version": 2, "rules": [{"criterion": "x", "enabled": true, "actions": []}]}`),
		"endpoint":  []byte(`"http://elsewhere"`),
		"unrelated": []byte(`1`),
	}

	written, err := f.svc.Import(ctx, doc, []string{GroupRules})
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Len(t, f.svc.Rules(ctx), 1)

	_, ok, err := f.store.Get(ctx, "endpoint")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransferRejectsUnknownGroup(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Export(context.Background(), []string{"passwords"})
	assert.ErrorIs(t, err, ErrUnknownGroup)
	assert.Equal(t, []string{"cache", "rules", "settings"}, Groups())
}

func TestImportRejectsUnloadableValues(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		doc  Document
	}{
		{name: "future rule schema", doc: Document{"aiRules": []byte(`{"version": 9, "rules": []}`)}},
		{name: "bare number rules", doc: Document{"aiRules": []byte(`42`)}},
		{name: "cache not an object", doc: Document{"aiCache": []byte(`[true]`)}},
		{name: "valid settings before bad rules", doc: Document{
			"endpoint": []byte(`"http://elsewhere"`),
			"aiRules":  []byte(`"rules"`),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			require.NoError(t, f.svc.SaveRules(ctx, twoRules))
			rulesBefore := f.svc.Rules(ctx)
			before, _, err := f.store.Get(ctx, "aiRules")
			require.NoError(t, err)

			written, err := f.svc.Import(ctx, tt.doc, nil)
			assert.ErrorIs(t, err, ErrInvalidDocument)
			assert.Equal(t, 0, written)

			after, _, err := f.store.Get(ctx, "aiRules")
			require.NoError(t, err)
			assert.Equal(t, before, after)
			_, ok, err := f.store.Get(ctx, "endpoint")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, rulesBefore, f.svc.Rules(ctx))
		})
	}
}
