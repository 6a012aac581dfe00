// Package canonical converts raw provider records into canonical events.
// Everything here is pure: no I/O, no clock other than the overridable Now.
package canonical

import (
	"fmt"
	"strings"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// Now is used only when a record carries no usable timestamp at all.
var Now = time.Now

// Content types understood by Body.
const (
	ContentText = "text"
	ContentHTML = "html"
)

// ToCanonicalEvent maps one raw provider record into the canonical event shape.
// The complete original payload is always retained on the event.
func ToCanonicalEvent(raw domain.RawRecord, eventType domain.EventType) (domain.Event, error) {
	if len(raw.Payload) == 0 {
		return domain.Event{}, fmt.Errorf("empty %s payload", raw.Provider)
	}

	var (
		ev  domain.Event
		err error
	)
	switch {
	case raw.Provider == domain.ProviderOutlook && eventType == domain.EventEmail:
		ev, err = fromGraphMessage(raw.Payload)
	case raw.Provider == domain.ProviderOutlook && eventType == domain.EventMeeting:
		ev, err = fromGraphEvent(raw.Payload)
	case raw.Provider == domain.ProviderGmail && eventType == domain.EventEmail:
		ev, err = fromGmailMessage(raw.Payload)
	case raw.Provider == domain.ProviderGmail && eventType == domain.EventMeeting:
		ev, err = fromGoogleEvent(raw.Payload)
	default:
		return domain.Event{}, fmt.Errorf("no canonical mapping for %s %s", raw.Provider, eventType)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("canonicalize %s %s: %w", raw.Provider, eventType, err)
	}

	ev.Type = eventType
	ev.Source = string(raw.Provider)
	ev.Raw = raw.Payload
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	ev.Metadata["identity"] = string(ev.Identity)
	if ev.Identity != domain.IdentityStable {
		ev.Metadata["needs_review"] = true
	}
	return ev, nil
}

// chooseIdentity prefers the stable cross-client identifier over the
// provider's internal one.
func chooseIdentity(stable, internal string) (string, domain.Identity) {
	if s := strings.TrimSpace(stable); s != "" {
		return s, domain.IdentityStable
	}
	if s := strings.TrimSpace(internal); s != "" {
		return s, domain.IdentityFallback
	}
	return "", domain.IdentityUnidentified
}

// Body returns plain text for a body of the given content type: text is kept
// verbatim, html is stripped and whitespace collapsed, anything else passes
// through unchanged.
func Body(contentType, content string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case ContentText, "text/plain":
		return content
	case ContentHTML, "text/html":
		return HTMLToText(content)
	default:
		return content
	}
}

// firstTime returns the first parseable timestamp, or Now when none parses.
func firstTime(candidates ...func() (time.Time, bool)) time.Time {
	for _, c := range candidates {
		if t, ok := c(); ok {
			return t.UTC()
		}
	}
	return Now().UTC()
}

func rfc3339(s string) func() (time.Time, bool) {
	return func() (time.Time, bool) {
		if s == "" {
			return time.Time{}, false
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		return t, err == nil
	}
}

// splitAddrs parses comma-separated email addresses.
func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func setIf(m map[string]any, key string, v any) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return
		}
	case []string:
		if len(val) == 0 {
			return
		}
	case []map[string]any:
		if len(val) == 0 {
			return
		}
	}
	m[key] = v
}
