// Package settings resolves the user-level settings persisted in the key-value store.
package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/classifier"
	"github.com/mikey/sortana/internal/config"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/extract"
)

// Persistence keys of the user-level settings
const (
	KeyEndpoint           = "endpoint"
	KeyTemplateName       = "templateName"
	KeyCustomTemplate     = "customTemplate"
	KeyCustomSystemPrompt = "customSystemPrompt"
	KeyAIParams           = "aiParams"
	KeyDebugLogging       = "debugLogging"
	KeyHTMLToMarkdown     = "htmlToMarkdown"
	KeyStripURLParams     = "stripUrlParams"
	KeyAltTextImages      = "altTextImages"
	KeyCollapseWhitespace = "collapseWhitespace"
)

// Keys lists every settings key in export order
var Keys = []string{
	KeyEndpoint,
	KeyTemplateName,
	KeyCustomTemplate,
	KeyCustomSystemPrompt,
	KeyAIParams,
	KeyDebugLogging,
	KeyHTMLToMarkdown,
	KeyStripURLParams,
	KeyAltTextImages,
	KeyCollapseWhitespace,
}

// Settings is the resolved runtime configuration of the pipeline
type Settings struct {
	Classifier classifier.Settings
	Extract    extract.Options
	Debug      bool
}

// Defaults builds the fallback settings from process configuration
func Defaults(cfg *config.Config) Settings {
	cls := cfg.GetClassifier()
	ext := cfg.GetExtract()
	return Settings{
		Classifier: classifier.Settings{
			Endpoint:       cls.Endpoint,
			TemplateName:   cls.Template,
			CustomTemplate: cls.CustomTemplate,
			SystemPrompt:   cls.SystemPrompt,
			Params:         cls.Params,
		},
		Extract: extract.Options{
			HTMLToMarkdown:     ext.HTMLToMarkdown,
			StripURLParams:     ext.StripURLParams,
			AltTextImages:      ext.AltTextImages,
			CollapseWhitespace: ext.CollapseWhitespace,
			MaxBodySize:        ext.MaxBodySize,
		},
		Debug: cfg.GetString("logging.level") == "debug",
	}
}

// Loader reads persisted settings over a set of defaults
type Loader struct {
	store    core.Store
	defaults Settings
	logger   *zap.Logger
}

// NewLoader creates a Loader
func NewLoader(store core.Store, defaults Settings, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, defaults: defaults, logger: logger}
}

// Load resolves the current settings. Missing or invalid values keep their
// default and log a warning; Load itself never fails.
func (l *Loader) Load(ctx context.Context) Settings {
	s := l.defaults

	l.loadString(ctx, KeyEndpoint, &s.Classifier.Endpoint)
	l.loadString(ctx, KeyTemplateName, &s.Classifier.TemplateName)
	l.loadString(ctx, KeyCustomTemplate, &s.Classifier.CustomTemplate)
	l.loadString(ctx, KeyCustomSystemPrompt, &s.Classifier.SystemPrompt)
	s.Classifier.Params = l.loadParams(ctx, s.Classifier.Params)

	l.loadBool(ctx, KeyDebugLogging, &s.Debug)
	l.loadBool(ctx, KeyHTMLToMarkdown, &s.Extract.HTMLToMarkdown)
	l.loadBool(ctx, KeyStripURLParams, &s.Extract.StripURLParams)
	l.loadBool(ctx, KeyAltTextImages, &s.Extract.AltTextImages)
	l.loadBool(ctx, KeyCollapseWhitespace, &s.Extract.CollapseWhitespace)

	return s
}

func (l *Loader) loadString(ctx context.Context, key string, dst *string) {
	var v string
	ok, err := core.LoadJSON(ctx, l.store, key, &v)
	if err != nil {
		l.logger.Warn("Invalid setting, using default", zap.String("key", key), zap.Error(err))
		return
	}
	if ok && v != "" {
		*dst = v
	}
}

func (l *Loader) loadBool(ctx context.Context, key string, dst *bool) {
	var v bool
	ok, err := core.LoadJSON(ctx, l.store, key, &v)
	if err != nil {
		l.logger.Warn("Invalid setting, using default", zap.String("key", key), zap.Error(err))
		return
	}
	if ok {
		*dst = v
	}
}

// loadParams overlays stored generation parameters on base. Only keys
// present in the default parameter set are honoured.
func (l *Loader) loadParams(ctx context.Context, base core.GenerationParams) core.GenerationParams {
	var stored map[string]json.RawMessage
	ok, err := core.LoadJSON(ctx, l.store, KeyAIParams, &stored)
	if err != nil {
		l.logger.Warn("Invalid setting, using default", zap.String("key", KeyAIParams), zap.Error(err))
		return base
	}
	if !ok {
		return base
	}

	known, err := paramKeys()
	if err != nil {
		l.logger.Error("Failed to enumerate generation parameters", zap.Error(err))
		return base
	}

	for key, raw := range stored {
		if _, ok := known[key]; !ok {
			l.logger.Debug("Ignoring unknown generation parameter", zap.String("param", key))
			continue
		}
		next := base
		if err := json.Unmarshal(mustField(key, raw), &next); err != nil {
			l.logger.Warn("Invalid generation parameter, using default",
				zap.String("param", key), zap.Error(err))
			continue
		}
		base = next
	}
	return base
}

func paramKeys() (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(core.DefaultGenerationParams())
	if err != nil {
		return nil, fmt.Errorf("failed to encode default parameters: %w", err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("failed to decode default parameters: %w", err)
	}
	return keys, nil
}

func mustField(key string, value json.RawMessage) []byte {
	raw, _ := json.Marshal(map[string]json.RawMessage{key: value})
	return raw
}
