// Package rules evaluates the user's ordered rules against a message and applies matched actions.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/classifier"
	"github.com/mikey/sortana/internal/core"
)

// RuleSource provides the current rules in evaluation order
type RuleSource interface {
	Rules(ctx context.Context) []core.Rule
}

// Classifier decides whether text satisfies a criterion, consulting the cache under cacheKey
type Classifier interface {
	Classify(ctx context.Context, text, criterion, cacheKey string) bool
}

// Extractor turns a full message into classifier input
type Extractor interface {
	Extract(msg *core.Message) string
}

// Observer receives rule engine telemetry
type Observer interface {
	RuleEvaluated(matched bool)
	ActionApplied(kind string, err error)
}

// Result summarizes one Apply call
type Result struct {
	MessageID core.MessageID
	// Evaluated counts the rules that passed their scope filters and were classified
	Evaluated int
	// Matched lists the criteria of matched rules in evaluation order
	Matched []string
	// Actions counts the actions that completed without error
	Actions int
	// Stopped is set when a matched rule ended evaluation
	Stopped bool
}

// Engine applies rules to messages
type Engine struct {
	rules      RuleSource
	mail       core.MailStore
	extractor  Extractor
	classifier Classifier
	observer   Observer
	logger     *zap.Logger
	now        func() time.Time
}

// NewEngine creates a rule engine
func NewEngine(rules RuleSource, mail core.MailStore, extractor Extractor, classifier Classifier, observer Observer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{
		rules:      rules,
		mail:       mail,
		extractor:  extractor,
		classifier: classifier,
		observer:   observer,
		logger:     logger,
		now:        time.Now,
	}
}

// Apply evaluates every enabled, in-scope rule against message id in stored
// order. A failing action is logged and does not stop later actions or rules;
// all action failures are returned together once evaluation finishes.
func (e *Engine) Apply(ctx context.Context, id core.MessageID) (*Result, error) {
	header, err := e.mail.GetHeader(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch header for %s: %w", id, err)
	}

	result := &Result{MessageID: id}
	logger := e.logger.With(zap.String("message_id", string(id)))
	tags := append([]string(nil), header.Tags...)

	var text string
	var textReady bool
	var actionErrs error

	for _, rule := range e.rules.Rules(ctx) {
		if !rule.Enabled {
			continue
		}
		if reason, ok := e.inScope(rule, header); !ok {
			logger.Debug("Rule out of scope", zap.String("criterion", rule.Criterion), zap.String("filter", reason))
			continue
		}

		if !textReady {
			msg, err := e.mail.GetFull(ctx, id)
			if err != nil {
				return result, multierr.Append(actionErrs, fmt.Errorf("failed to fetch message %s: %w", id, err))
			}
			text = e.extractor.Extract(msg)
			textReady = true
		}

		result.Evaluated++
		matched := e.classifier.Classify(ctx, text, rule.Criterion, classifier.BuildCacheKey(id, rule.Criterion))
		e.observer.RuleEvaluated(matched)
		if !matched {
			continue
		}

		logger.Info("Rule matched", zap.String("criterion", rule.Criterion), zap.Int("actions", len(rule.Actions)))
		result.Matched = append(result.Matched, rule.Criterion)

		for _, action := range rule.Actions {
			err := e.execute(ctx, id, action, &tags)
			e.observer.ActionApplied(action.Kind(), err)
			if err != nil {
				logger.Error("Failed to apply action",
					zap.String("criterion", rule.Criterion),
					zap.String("action", action.Kind()),
					zap.Error(err))
				actionErrs = multierr.Append(actionErrs, fmt.Errorf("%s: %w", action.Kind(), err))
				continue
			}
			result.Actions++
		}

		if rule.StopProcessing {
			result.Stopped = true
			break
		}
	}

	return result, actionErrs
}

// inScope evaluates the rule's scope filters; reason names the first failing filter
func (e *Engine) inScope(rule core.Rule, h *core.MessageHeader) (reason string, ok bool) {
	if len(rule.Accounts) > 0 && !lo.Contains(rule.Accounts, h.Account) {
		return "account", false
	}
	if len(rule.Folders) > 0 && !lo.Contains(rule.Folders, h.Folder) {
		return "folder", false
	}
	if rule.UnreadOnly && h.Read {
		return "unread", false
	}
	if !h.Date.IsZero() && (rule.MinAgeDays != nil || rule.MaxAgeDays != nil) {
		age := e.now().Sub(h.Date).Hours() / 24
		if rule.MinAgeDays != nil && age < *rule.MinAgeDays {
			return "min_age", false
		}
		if rule.MaxAgeDays != nil && age > *rule.MaxAgeDays {
			return "max_age", false
		}
	}
	return "", true
}

// execute performs one action. tags tracks the message's tag set across the
// whole Apply call so a tag is only written when it changes the set.
func (e *Engine) execute(ctx context.Context, id core.MessageID, action core.Action, tags *[]string) error {
	switch a := action.(type) {
	case core.TagAction:
		if lo.Contains(*tags, a.TagKey) {
			return nil
		}
		next := append(append([]string(nil), *tags...), a.TagKey)
		if err := e.mail.Update(ctx, id, core.MessageUpdate{Tags: next}); err != nil {
			return err
		}
		*tags = next
		return nil
	case core.MoveAction:
		return e.mail.Move(ctx, id, a.Folder)
	case core.CopyAction:
		return e.mail.Copy(ctx, id, a.Folder)
	case core.JunkAction:
		return e.mail.Update(ctx, id, core.MessageUpdate{Junk: lo.ToPtr(a.Junk)})
	case core.ReadAction:
		return e.mail.Update(ctx, id, core.MessageUpdate{Read: lo.ToPtr(a.Read)})
	case core.FlagAction:
		return e.mail.Update(ctx, id, core.MessageUpdate{Flagged: lo.ToPtr(a.Flagged)})
	case core.DeleteAction:
		return e.mail.Delete(ctx, id)
	case core.ArchiveAction:
		return e.mail.Archive(ctx, id)
	case core.ForwardAction:
		return e.mail.Forward(ctx, id, a.Address)
	case core.ReplyAction:
		return e.mail.Reply(ctx, id, a.ReplyType)
	default:
		return fmt.Errorf("unsupported action %q", action.Kind())
	}
}

type nopObserver struct{}

func (nopObserver) RuleEvaluated(bool)          {}
func (nopObserver) ActionApplied(string, error) {}
