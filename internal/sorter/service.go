// Package sorter owns one pipeline session: rules, cache, classifier, extractor and queue.
package sorter

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikey/sortana/internal/classcache"
	"github.com/mikey/sortana/internal/classifier"
	"github.com/mikey/sortana/internal/core"
	"github.com/mikey/sortana/internal/extract"
	"github.com/mikey/sortana/internal/metrics"
	"github.com/mikey/sortana/internal/queue"
	"github.com/mikey/sortana/internal/rules"
	"github.com/mikey/sortana/internal/settings"
	"github.com/mikey/sortana/internal/utils"
)

// Options configures a Service
type Options struct {
	Defaults  settings.Settings
	Breaker   classifier.BreakerSettings
	ErrorHold time.Duration
	// Level, when set, follows the persisted debug toggle
	Level   *zap.AtomicLevel
	Metrics *metrics.Metrics
}

// QueueStatus reports the queue's backlog and activity
type QueueStatus struct {
	Depth      int         `json:"depth"`
	Processing bool        `json:"processing"`
	State      queue.State `json:"state"`
}

// RuleDetail is the cached outcome of one rule for a message
type RuleDetail struct {
	Criterion string `json:"criterion"`
	Matched   *bool  `json:"matched"`
	Reason    string `json:"reason"`
}

// Details is the per-message report of cached verdicts
type Details struct {
	Subject string       `json:"subject"`
	Results []RuleDetail `json:"results"`
}

// Service is the controller behind every inbound command
type Service struct {
	mail       core.MailStore
	store      core.Store
	logger     *zap.Logger
	level      *zap.AtomicLevel
	baseLevel  zapcore.Level
	loader     *settings.Loader
	repo       *rules.Repository
	cache      *classcache.Cache
	classifier *classifier.Client
	extractor  *extract.Extractor
	engine     *rules.Engine
	queue      *queue.Queue
}

// New wires a Service and starts its queue worker
func New(mail core.MailStore, store core.Store, completer core.Completer, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		clsOpts  []classifier.Option
		ruleObs  rules.Observer
		queueObs queue.Observer
	)
	if opts.Metrics != nil {
		clsOpts = append(clsOpts, classifier.WithObserver(opts.Metrics))
		ruleObs = opts.Metrics
		queueObs = opts.Metrics
	}

	s := &Service{
		mail:   mail,
		store:  store,
		logger: logger,
		level:  opts.Level,
		loader: settings.NewLoader(store, opts.Defaults, logger.Named("settings")),
		repo:   rules.NewRepository(store, logger.Named("rules")),
		cache:  classcache.New(store, logger.Named("cache")),
	}
	if opts.Level != nil {
		s.baseLevel = opts.Level.Level()
	}
	s.classifier = classifier.New(completer, s.cache, logger.Named("classifier"), opts.Breaker, clsOpts...)
	s.extractor = extract.New(logger.Named("extract"), utils.NewTextProcessor(logger), opts.Defaults.Extract)
	s.engine = rules.NewEngine(s.repo, mail, s.extractor, s.classifier, ruleObs, logger.Named("engine"))
	s.queue = queue.New(s.process, store, logger.Named("queue"), queue.Options{
		ErrorHold: opts.ErrorHold,
		Observer:  queueObs,
	})
	return s
}

// Start loads persisted state ahead of the first job
func (s *Service) Start(ctx context.Context) error {
	s.ReloadSettings(ctx)
	if err := s.repo.Load(ctx); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if err := s.cache.Load(ctx); err != nil {
		s.logger.Warn("Classification cache unavailable, retrying on next access", zap.Error(err))
	}
	s.logger.Info("Sorter started", zap.Int("rules", len(s.repo.Rules(ctx))))
	return nil
}

// Close stops intake and waits for queued work to finish
func (s *Service) Close(ctx context.Context) error {
	return s.queue.Close(ctx)
}

// process is the queue handler for one message
func (s *Service) process(ctx context.Context, id core.MessageID) error {
	res, err := s.engine.Apply(ctx, id)
	if res != nil {
		s.logger.Info("Rules applied",
			zap.String("message_id", string(id)),
			zap.Int("evaluated", res.Evaluated),
			zap.Strings("matched", res.Matched),
			zap.Int("actions", res.Actions),
			zap.Bool("stopped", res.Stopped))
	}
	return err
}

// TestClassify classifies text against criterion without touching the cache
func (s *Service) TestClassify(ctx context.Context, text, criterion string) (core.Verdict, error) {
	if strings.TrimSpace(criterion) == "" {
		return core.Verdict{}, core.ErrEmptyCriterion
	}
	return s.classifier.Test(ctx, text, criterion)
}

// ExtractText parses a raw RFC 822 message and renders it as classifier input
// using the current extraction settings
func (s *Service) ExtractText(raw []byte) (string, error) {
	msg, err := extract.ParseMessage("", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}
	return s.extractor.Extract(msg), nil
}

// ApplyRules queues ids behind any pending work. The returned channel is
// closed once every id has been processed.
func (s *Service) ApplyRules(ids ...core.MessageID) <-chan struct{} {
	return s.queue.Enqueue(lo.Uniq(lo.Compact(ids))...)
}

// ApplyToFolder enumerates folder page by page, then queues every message as
// one batch. Nothing is queued until enumeration completes. It returns the
// number of messages queued.
func (s *Service) ApplyToFolder(ctx context.Context, folder string) (int, error) {
	var ids []core.MessageID
	cursor := ""
	for {
		page, err := s.mail.List(ctx, folder, cursor)
		if err != nil {
			return 0, fmt.Errorf("failed to list %s: %w", folder, err)
		}
		ids = append(ids, page.IDs...)
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	s.queue.Enqueue(ids...)
	s.logger.Info("Folder queued", zap.String("folder", folder), zap.Int("messages", len(ids)))
	return len(ids), nil
}

// ClearCache removes the cached verdict of every configured rule for each id.
// It returns the number of entries removed.
func (s *Service) ClearCache(ctx context.Context, ids ...core.MessageID) (int, error) {
	criteria := lo.Uniq(lo.Map(s.repo.Rules(ctx), func(r core.Rule, _ int) string { return r.Criterion }))

	keys := make([]string, 0, len(ids)*len(criteria))
	for _, id := range ids {
		for _, criterion := range criteria {
			keys = append(keys, classifier.BuildCacheKey(id, criterion))
		}
	}

	removed, err := s.cache.Invalidate(ctx, keys...)
	if err != nil {
		return removed, fmt.Errorf("failed to clear cache: %w", err)
	}
	s.logger.Info("Cache cleared", zap.Int("messages", len(ids)), zap.Int("removed", removed))
	return removed, nil
}

// QueueStatus reports the queue's current backlog
func (s *Service) QueueStatus() QueueStatus {
	return QueueStatus{
		Depth:      s.queue.Depth(),
		Processing: s.queue.Processing(),
		State:      s.queue.State(),
	}
}

// Stats reports job timing statistics in milliseconds
func (s *Service) Stats(ctx context.Context) queue.Stats {
	return s.queue.Stats(ctx)
}

// Details reports the cached verdict and rationale of every rule for id
func (s *Service) Details(ctx context.Context, id core.MessageID) (*Details, error) {
	header, err := s.mail.GetHeader(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch header for %s: %w", id, err)
	}

	details := &Details{Subject: header.Subject, Results: []RuleDetail{}}
	for _, rule := range s.repo.Rules(ctx) {
		entry, _ := s.cache.Entry(ctx, classifier.BuildCacheKey(id, rule.Criterion))
		details.Results = append(details.Results, RuleDetail{
			Criterion: rule.Criterion,
			Matched:   entry.Matched,
			Reason:    entry.Reason,
		})
	}
	return details, nil
}

// Rules returns the configured rules in evaluation order
func (s *Service) Rules(ctx context.Context) []core.Rule {
	return s.repo.Rules(ctx)
}

// SaveRules replaces the rule set
func (s *Service) SaveRules(ctx context.Context, rs []core.Rule) error {
	if err := s.repo.Save(ctx, rs); err != nil {
		return err
	}
	s.logger.Info("Rules saved", zap.Int("rules", len(rs)))
	return nil
}

// ReloadSettings re-reads persisted settings and applies them to every component
func (s *Service) ReloadSettings(ctx context.Context) settings.Settings {
	current := s.loader.Load(ctx)

	s.classifier.Configure(current.Classifier)
	s.extractor.SetOptions(current.Extract)
	if s.level != nil {
		if current.Debug {
			s.level.SetLevel(zapcore.DebugLevel)
		} else {
			s.level.SetLevel(s.baseLevel)
		}
	}

	s.logger.Info("Settings reloaded",
		zap.String("endpoint", current.Classifier.Endpoint),
		zap.String("template", current.Classifier.TemplateName),
		zap.Bool("debug", current.Debug))
	return current
}
