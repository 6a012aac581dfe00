package canonical

import (
	"encoding/base64"
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/mailsync/internal/domain"
)

func fromGmailMessage(payload json.RawMessage) (domain.Event, error) {
	var m gmail.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return domain.Event{}, err
	}

	headers := map[string]string{}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			headers[strings.ToLower(h.Name)] = h.Value
		}
	}

	externalID, identity := chooseIdentity(headers["message-id"], m.Id)

	text, htmlBody := walkParts(m.Payload)
	body := text
	if body == "" && htmlBody != "" {
		body = Body(ContentHTML, htmlBody)
	}
	if body == "" {
		body = m.Snippet
	}

	meta := map[string]any{
		"has_attachments": hasAttachments(m.Payload),
		"is_read":         !hasLabel(m.LabelIds, "UNREAD"),
	}
	if from := headers["from"]; from != "" {
		if addr, err := mail.ParseAddress(from); err == nil {
			setIf(meta, "from", strings.ToLower(addr.Address))
			setIf(meta, "from_name", addr.Name)
		} else {
			setIf(meta, "from", strings.ToLower(from))
		}
	}
	setIf(meta, "to", gmailAddresses(headers["to"]))
	setIf(meta, "cc", gmailAddresses(headers["cc"]))
	setIf(meta, "conversation_id", m.ThreadId)
	setIf(meta, "labels", m.LabelIds)
	setIf(meta, "list_unsubscribe", headers["list-unsubscribe"])
	if hasLabel(m.LabelIds, "IMPORTANT") {
		meta["importance"] = "high"
	}
	setIf(meta, "provider_id", m.Id)

	return domain.Event{
		ExternalID: externalID,
		Identity:   identity,
		OccurredAt: firstTime(
			func() (time.Time, bool) {
				if m.InternalDate <= 0 {
					return time.Time{}, false
				}
				return time.UnixMilli(m.InternalDate), true
			},
			func() (time.Time, bool) {
				t, err := mail.ParseDate(headers["date"])
				return t, err == nil
			},
		),
		Subject:  headers["subject"],
		Body:     body,
		Metadata: meta,
	}, nil
}

func fromGoogleEvent(payload json.RawMessage) (domain.Event, error) {
	var e calendar.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return domain.Event{}, err
	}

	externalID, identity := chooseIdentity(e.ICalUID, e.Id)

	start, startOK, allDay := googleTime(e.Start)
	meta := map[string]any{
		"all_day":   allDay,
		"cancelled": e.Status == "cancelled",
		"online":    e.HangoutLink != "" || e.ConferenceData != nil,
	}
	if e.Organizer != nil {
		setIf(meta, "organizer", strings.ToLower(e.Organizer.Email))
		setIf(meta, "organizer_name", e.Organizer.DisplayName)
	}
	attendees := make([]map[string]any, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		att := map[string]any{"email": strings.ToLower(a.Email)}
		setIf(att, "name", a.DisplayName)
		setIf(att, "response", a.ResponseStatus)
		if a.Optional {
			att["type"] = "optional"
		} else {
			att["type"] = "required"
		}
		attendees = append(attendees, att)
	}
	setIf(meta, "attendees", attendees)
	setIf(meta, "location", e.Location)
	if startOK {
		meta["start"] = start.UTC().Format(time.RFC3339)
	}
	if end, ok, _ := googleTime(e.End); ok {
		meta["end"] = end.UTC().Format(time.RFC3339)
	}
	joinURL := e.HangoutLink
	if joinURL == "" && e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				joinURL = ep.Uri
				break
			}
		}
	}
	setIf(meta, "join_url", joinURL)
	setIf(meta, "series_master_id", e.RecurringEventId)
	setIf(meta, "web_link", e.HtmlLink)
	setIf(meta, "provider_id", e.Id)

	return domain.Event{
		ExternalID: externalID,
		Identity:   identity,
		OccurredAt: firstTime(
			func() (time.Time, bool) { return start, startOK },
			rfc3339(e.Created),
		),
		Subject:  e.Summary,
		Body:     Body(bodyContentType(e.Description), e.Description),
		Metadata: meta,
	}, nil
}

// walkParts returns the first text/plain and text/html bodies found in a MIME tree.
func walkParts(p *gmail.MessagePart) (text, htmlBody string) {
	if p == nil {
		return "", ""
	}
	if p.Body != nil && p.Body.Data != "" && p.Filename == "" {
		switch {
		case strings.HasPrefix(p.MimeType, "text/plain"):
			text = decodePart(p.Body.Data)
		case strings.HasPrefix(p.MimeType, "text/html"):
			htmlBody = decodePart(p.Body.Data)
		}
	}
	for _, child := range p.Parts {
		t, h := walkParts(child)
		if text == "" {
			text = t
		}
		if htmlBody == "" {
			htmlBody = h
		}
	}
	return text, htmlBody
}

func hasAttachments(p *gmail.MessagePart) bool {
	if p == nil {
		return false
	}
	if p.Filename != "" && p.Body != nil && p.Body.AttachmentId != "" {
		return true
	}
	for _, child := range p.Parts {
		if hasAttachments(child) {
			return true
		}
	}
	return false
}

func decodePart(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func gmailAddresses(h string) []string {
	if h == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(h); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}
	return splitAddrs(strings.ToLower(h))
}

// googleTime reads an EventDateTime; date-only values are all-day events.
func googleTime(v *calendar.EventDateTime) (time.Time, bool, bool) {
	if v == nil {
		return time.Time{}, false, false
	}
	if v.DateTime != "" {
		t, err := time.Parse(time.RFC3339, v.DateTime)
		return t, err == nil, false
	}
	if v.Date != "" {
		loc := time.UTC
		if v.TimeZone != "" {
			if l, err := time.LoadLocation(v.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("2006-01-02", v.Date, loc)
		return t, err == nil, true
	}
	return time.Time{}, false, false
}

// bodyContentType guesses whether a calendar description carries markup.
func bodyContentType(s string) string {
	if strings.Contains(s, "</") || strings.Contains(s, "<br") {
		return ContentHTML
	}
	return ContentText
}
