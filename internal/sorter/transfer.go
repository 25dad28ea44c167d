package sorter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/classcache"
	"github.com/mikey/sortana/internal/rules"
	"github.com/mikey/sortana/internal/settings"
)

// Transfer groups
const (
	GroupSettings = "settings"
	GroupRules    = "rules"
	GroupCache    = "cache"
)

var (
	// ErrUnknownGroup is returned for a transfer group that does not exist
	ErrUnknownGroup = errors.New("unknown transfer group")
	// ErrInvalidDocument is returned when an imported value cannot be loaded
	ErrInvalidDocument = errors.New("invalid transfer document")
)

// keyGroups maps each transfer group to its persistence keys
var keyGroups = map[string][]string{
	GroupSettings: settings.Keys,
	GroupRules:    {rules.StoreKey},
	GroupCache:    {classcache.StoreKey},
}

// Document is an exported set of persisted values keyed by persistence key
type Document map[string]json.RawMessage

// Groups lists the known transfer groups
func Groups() []string {
	groups := lo.Keys(keyGroups)
	sort.Strings(groups)
	return groups
}

func collectKeys(groups []string) ([]string, error) {
	if len(groups) == 0 {
		groups = Groups()
	}
	var keys []string
	for _, g := range groups {
		k, ok := keyGroups[g]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownGroup, g)
		}
		keys = append(keys, k...)
	}
	return keys, nil
}

// Export reads the persisted values of groups. An empty group list exports everything.
func (s *Service) Export(ctx context.Context, groups []string) (Document, error) {
	keys, err := collectKeys(groups)
	if err != nil {
		return nil, err
	}

	doc := Document{}
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", key, err)
		}
		if ok {
			doc[key] = raw
		}
	}
	return doc, nil
}

// Import writes the values of groups present in doc, then reloads every
// component that caches persisted state. Keys outside groups are ignored.
// Every value is checked before the first write, so a rejected document
// leaves the store untouched.
func (s *Service) Import(ctx context.Context, doc Document, groups []string) (int, error) {
	keys, err := collectKeys(groups)
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		if raw, ok := doc[key]; ok {
			if err := validateValue(key, raw); err != nil {
				return 0, err
			}
		}
	}

	var written int
	for _, key := range keys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if err := s.store.Set(ctx, key, raw); err != nil {
			return written, fmt.Errorf("failed to import %s: %w", key, err)
		}
		written++
	}

	s.cache.Reset()
	if err := s.repo.Load(ctx); err != nil {
		return written, fmt.Errorf("failed to reload rules: %w", err)
	}
	s.ReloadSettings(ctx)

	s.logger.Info("Data imported", zap.Strings("groups", groups), zap.Int("keys", written))
	return written, nil
}

// validateValue rejects values the owning component could not load
func validateValue(key string, raw json.RawMessage) error {
	if !json.Valid(raw) {
		return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidDocument, key)
	}
	switch key {
	case rules.StoreKey:
		if _, _, err := rules.Upgrade(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, key, err)
		}
	case classcache.StoreKey:
		if _, err := classcache.Decode(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, key, err)
		}
	}
	return nil
}
