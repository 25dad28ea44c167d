package rules

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

// StoreKey is the persistence key of the rule document
const StoreKey = "aiRules"

// Repository owns the ordered rule list
type Repository struct {
	store  core.Store
	logger *zap.Logger

	mu     sync.RWMutex
	loaded bool
	rules  []core.Rule
}

// NewRepository creates a rule repository backed by store
func NewRepository(store core.Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: store, logger: logger}
}

// Load reads the stored rules, upgrading and rewriting older schemas
func (r *Repository) Load(ctx context.Context) error {
	raw, ok, err := r.store.Get(ctx, StoreKey)
	if err != nil {
		return fmt.Errorf("failed to read rules: %w", err)
	}

	var rules []core.Rule
	if ok {
		var upgraded bool
		rules, upgraded, err = Upgrade(raw)
		if err != nil {
			return err
		}
		if upgraded {
			if err := r.persist(ctx, rules); err != nil {
				return err
			}
			r.logger.Info("Upgraded stored rules", zap.Int("rules", len(rules)), zap.Int("version", SchemaVersion))
		}
	}

	r.mu.Lock()
	r.rules = rules
	r.loaded = true
	r.mu.Unlock()

	r.logger.Debug("Rules loaded", zap.Int("rules", len(rules)))
	return nil
}

// Rules returns a copy of the current rules in evaluation order
func (r *Repository) Rules(ctx context.Context) []core.Rule {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		if err := r.Load(ctx); err != nil {
			r.logger.Error("Failed to load rules", zap.Error(err))
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Rule(nil), r.rules...)
}

// Save validates and replaces the whole rule list
func (r *Repository) Save(ctx context.Context, rules []core.Rule) error {
	rules = append([]core.Rule(nil), rules...)
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		if rule.Actions == nil {
			rules[i].Actions = core.ActionList{}
		}
	}
	if err := r.persist(ctx, rules); err != nil {
		return err
	}

	r.mu.Lock()
	r.rules = rules
	r.loaded = true
	r.mu.Unlock()
	return nil
}

func (r *Repository) persist(ctx context.Context, rules []core.Rule) error {
	raw, err := Encode(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	if err := r.store.Set(ctx, StoreKey, raw); err != nil {
		return fmt.Errorf("failed to write rules: %w", err)
	}
	return nil
}
