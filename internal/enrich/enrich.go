// Package enrich attaches tags to newly stored events: user-defined regex
// rules and a fixed set of heuristic classifications. Neither touches the
// identity fields of an event.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	gosync "sync"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// Tag sources.
const (
	SourceRule       = "rule"
	SourceClassifier = "classifier"
)

// Rule fields.
const (
	FieldSubject = "subject"
	FieldBody    = "body"
	FieldSender  = "sender"
	FieldAny     = "any"
)

// Store is what the enrichers read events and rules from and write tags to.
type Store interface {
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]domain.Rule, error)
	AddTag(ctx context.Context, tag domain.Tag) (bool, error)
}

// ValidateRule checks that a rule can be applied.
func ValidateRule(r domain.Rule) error {
	switch r.Field {
	case FieldSubject, FieldBody, FieldSender, FieldAny:
	default:
		return fmt.Errorf("unknown rule field %q", r.Field)
	}
	if strings.TrimSpace(r.Tag) == "" {
		return fmt.Errorf("rule %q has no tag", r.Name)
	}
	if _, err := regexp.Compile(r.Pattern); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	return nil
}

// RuleTagger applies enabled user rules to an event.
type RuleTagger struct {
	store  Store
	logger *slog.Logger

	mu       gosync.Mutex
	compiled map[string]*regexp.Regexp
}

// NewRuleTagger creates a rule tagger.
func NewRuleTagger(store Store, logger *slog.Logger) *RuleTagger {
	return &RuleTagger{store: store, logger: logger, compiled: make(map[string]*regexp.Regexp)}
}

// Handle tags the job's event with every matching rule.
func (t *RuleTagger) Handle(ctx context.Context, job domain.Job) error {
	ev, err := t.store.GetEvent(ctx, job.EventID)
	if err != nil {
		return err
	}
	rules, err := t.store.ListRules(ctx, true)
	if err != nil {
		return err
	}

	for _, r := range rules {
		re, err := t.regexp(r.Pattern)
		if err != nil {
			t.logger.Warn("skipping rule with invalid pattern", "rule", r.Name, "error", err)
			continue
		}
		if !matches(re, r.Field, ev) {
			continue
		}
		if _, err := t.store.AddTag(ctx, domain.Tag{EventID: ev.ID, Tag: r.Tag, Source: SourceRule}); err != nil {
			return err
		}
		t.logger.Debug("rule matched", "rule", r.Name, "event_id", ev.ID, "tag", r.Tag)
	}
	return nil
}

func (t *RuleTagger) regexp(pattern string) (*regexp.Regexp, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if re, ok := t.compiled[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	t.compiled[pattern] = re
	return re, nil
}

func matches(re *regexp.Regexp, field string, ev domain.Event) bool {
	switch field {
	case FieldSubject:
		return re.MatchString(ev.Subject)
	case FieldBody:
		return re.MatchString(ev.Body)
	case FieldSender:
		return re.MatchString(ev.MetaString("from")) || re.MatchString(ev.MetaString("organizer"))
	case FieldAny:
		return re.MatchString(ev.Subject) || re.MatchString(ev.Body) ||
			re.MatchString(ev.MetaString("from")) || re.MatchString(ev.MetaString("organizer"))
	default:
		return false
	}
}

// Classifier adds heuristic tags derived from the canonical metadata.
type Classifier struct {
	store  Store
	logger *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(store Store, logger *slog.Logger) *Classifier {
	return &Classifier{store: store, logger: logger}
}

// Handle tags the job's event with its heuristic classes.
func (c *Classifier) Handle(ctx context.Context, job domain.Job) error {
	ev, err := c.store.GetEvent(ctx, job.EventID)
	if err != nil {
		return err
	}
	for _, tag := range Classify(ev) {
		if _, err := c.store.AddTag(ctx, domain.Tag{EventID: ev.ID, Tag: tag, Source: SourceClassifier}); err != nil {
			return err
		}
	}
	return nil
}

var automatedSenders = []string{"noreply", "no-reply", "donotreply", "do-not-reply", "notifications", "mailer-daemon", "postmaster"}

var invitePrefixes = []string{"invitation:", "updated invitation:", "accepted:", "declined:", "tentatively accepted:", "canceled event:", "cancelled event:"}

// Classify returns the heuristic tags for an event.
func Classify(ev domain.Event) []string {
	var tags []string
	if ev.MetaBool("needs_review") {
		tags = append(tags, "needs-review")
	}

	switch ev.Type {
	case domain.EventEmail:
		from := strings.ToLower(ev.MetaString("from"))
		local := from
		if i := strings.Index(from, "@"); i >= 0 {
			local = from[:i]
		}
		if ev.MetaString("list_unsubscribe") != "" || strings.Contains(local, "newsletter") {
			tags = append(tags, "newsletter")
		}
		for _, s := range automatedSenders {
			if strings.Contains(local, s) {
				tags = append(tags, "automated")
				break
			}
		}
		if ev.MetaString("importance") == "high" {
			tags = append(tags, "important")
		}
		if ev.MetaBool("has_attachments") {
			tags = append(tags, "has-attachments")
		}
		subject := strings.ToLower(strings.TrimSpace(ev.Subject))
		for _, p := range invitePrefixes {
			if strings.HasPrefix(subject, p) {
				tags = append(tags, "calendar-invite")
				break
			}
		}
	case domain.EventMeeting:
		if ev.MetaBool("all_day") {
			tags = append(tags, "all-day")
		}
		if ev.MetaBool("cancelled") {
			tags = append(tags, "cancelled")
		}
		if ev.MetaBool("online") {
			tags = append(tags, "online")
		}
	}
	return tags
}
