package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/sortana/internal/adapters/store"
	"github.com/mikey/sortana/internal/core"
)

func TestUpgradeLegacyList(t *testing.T) {
	raw := []byte(`[
		{"criterion": "is a newsletter", "tag": "$label4", "moveTo": "Newsletters"},
		{"criterion": "from my boss", "enabled": false, "actions": [{"type": "flag", "flagged": true}]},
		{"criterion": "   "},
		{"criterion": "is spam", "actions": [{"type": "junk", "junk": true}, {"type": "bogus"}], "stopProcessing": true}
	]`)

	rules, upgraded, err := Upgrade(raw)
	require.NoError(t, err)
	assert.True(t, upgraded)
	require.Len(t, rules, 3)

	assert.Equal(t, core.Rule{
		Criterion: "is a newsletter",
		Enabled:   true,
		Actions:   core.ActionList{core.TagAction{TagKey: "$label4"}, core.MoveAction{Folder: "Newsletters"}},
	}, rules[0])
	assert.False(t, rules[1].Enabled)
	assert.Equal(t, core.ActionList{core.FlagAction{Flagged: true}}, rules[1].Actions)
	assert.True(t, rules[2].StopProcessing)
	assert.Equal(t, core.ActionList{core.JunkAction{Junk: true}}, rules[2].Actions)
}

func TestUpgradeCurrentEnvelope(t *testing.T) {
	raw, err := Encode([]core.Rule{{Criterion: "c", Enabled: true, Actions: core.ActionList{core.ArchiveAction{}}}})
	require.NoError(t, err)

	rules, upgraded, err := Upgrade(raw)
	require.NoError(t, err)
	assert.False(t, upgraded)
	assert.Equal(t, []core.Rule{{Criterion: "c", Enabled: true, Actions: core.ActionList{core.ArchiveAction{}}}}, rules)
}

func TestUpgradeRejectsFutureVersion(t *testing.T) {
	_, _, err := Upgrade([]byte(`{"version": 99, "rules": []}`))
	assert.Error(t, err)
}

func TestRepositoryRewritesLegacyRules(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	require.NoError(t, s.Set(ctx, StoreKey, []byte(`[{"criterion": "x", "tag": "t"}]`)))

	repo := NewRepository(s, nil)
	rules := repo.Rules(ctx)
	require.Len(t, rules, 1)

	raw, _, err := s.Get(ctx, StoreKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": 2, "rules": [{
		"criterion": "x", "enabled": true, "actions": [{"type": "tag", "tagKey": "t"}],
		"stopProcessing": false, "unreadOnly": false
	}]}`, string(raw))
}

func TestRepositorySaveValidates(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(store.NewMemoryStore(nil), nil)

	err := repo.Save(ctx, []core.Rule{{Criterion: "ok"}, {Criterion: ""}})
	assert.ErrorIs(t, err, core.ErrEmptyCriterion)
	assert.Empty(t, repo.Rules(ctx))

	require.NoError(t, repo.Save(ctx, []core.Rule{{Criterion: "ok", Enabled: true}}))
	assert.Len(t, repo.Rules(ctx), 1)

	reloaded := NewRepository(repo.store, nil)
	assert.Equal(t, repo.Rules(ctx), reloaded.Rules(ctx))
}
