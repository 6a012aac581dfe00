package canonical

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Martian-dev/mailsync/internal/domain"
)

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphMessage struct {
	ID                     string           `json:"id"`
	InternetMessageID      string           `json:"internetMessageId"`
	ConversationID         string           `json:"conversationId"`
	Subject                string           `json:"subject"`
	Body                   *graphBody       `json:"body"`
	BodyPreview            string           `json:"bodyPreview"`
	From                   *graphRecipient  `json:"from"`
	Sender                 *graphRecipient  `json:"sender"`
	ToRecipients           []graphRecipient `json:"toRecipients"`
	CcRecipients           []graphRecipient `json:"ccRecipients"`
	ReceivedDateTime       string           `json:"receivedDateTime"`
	SentDateTime           string           `json:"sentDateTime"`
	HasAttachments         bool             `json:"hasAttachments"`
	Importance             string           `json:"importance"`
	IsRead                 bool             `json:"isRead"`
	Categories             []string         `json:"categories"`
	WebLink                string           `json:"webLink"`
	InternetMessageHeaders []graphHeader    `json:"internetMessageHeaders"`
}

type graphDateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphAttendee struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
	Type         string            `json:"type"`
	Status       *struct {
		Response string `json:"response"`
	} `json:"status"`
}

type graphEvent struct {
	ID          string             `json:"id"`
	ICalUID     string             `json:"iCalUId"`
	Subject     string             `json:"subject"`
	Body        *graphBody         `json:"body"`
	BodyPreview string             `json:"bodyPreview"`
	Start       *graphDateTimeZone `json:"start"`
	End         *graphDateTimeZone `json:"end"`
	Location    *struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Organizer       *graphRecipient `json:"organizer"`
	Attendees       []graphAttendee `json:"attendees"`
	IsAllDay        bool            `json:"isAllDay"`
	IsCancelled     bool            `json:"isCancelled"`
	IsOnlineMeeting bool            `json:"isOnlineMeeting"`
	OnlineMeeting   *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting"`
	SeriesMasterID  string `json:"seriesMasterId"`
	Type            string `json:"type"`
	CreatedDateTime string `json:"createdDateTime"`
	WebLink         string `json:"webLink"`
	ShowAs          string `json:"showAs"`
	Importance      string `json:"importance"`
}

func fromGraphMessage(payload json.RawMessage) (domain.Event, error) {
	var m graphMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return domain.Event{}, err
	}

	externalID, identity := chooseIdentity(m.InternetMessageID, m.ID)

	body := m.BodyPreview
	if m.Body != nil {
		body = Body(m.Body.ContentType, m.Body.Content)
	}

	meta := map[string]any{
		"has_attachments": m.HasAttachments,
		"is_read":         m.IsRead,
	}
	from := m.From
	if from == nil {
		from = m.Sender
	}
	if from != nil {
		setIf(meta, "from", strings.ToLower(from.EmailAddress.Address))
		setIf(meta, "from_name", from.EmailAddress.Name)
	}
	setIf(meta, "to", graphAddresses(m.ToRecipients))
	setIf(meta, "cc", graphAddresses(m.CcRecipients))
	setIf(meta, "conversation_id", m.ConversationID)
	setIf(meta, "importance", strings.ToLower(m.Importance))
	setIf(meta, "categories", m.Categories)
	setIf(meta, "web_link", m.WebLink)
	setIf(meta, "provider_id", m.ID)
	for _, h := range m.InternetMessageHeaders {
		if strings.EqualFold(h.Name, "List-Unsubscribe") {
			setIf(meta, "list_unsubscribe", h.Value)
		}
	}

	return domain.Event{
		ExternalID: externalID,
		Identity:   identity,
		OccurredAt: firstTime(rfc3339(m.ReceivedDateTime), rfc3339(m.SentDateTime)),
		Subject:    m.Subject,
		Body:       body,
		Metadata:   meta,
	}, nil
}

func fromGraphEvent(payload json.RawMessage) (domain.Event, error) {
	var e graphEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return domain.Event{}, err
	}

	externalID, identity := chooseIdentity(e.ICalUID, e.ID)

	body := e.BodyPreview
	if e.Body != nil {
		body = Body(e.Body.ContentType, e.Body.Content)
	}

	meta := map[string]any{
		"all_day":   e.IsAllDay,
		"cancelled": e.IsCancelled,
		"online":    e.IsOnlineMeeting,
	}
	if e.Organizer != nil {
		setIf(meta, "organizer", strings.ToLower(e.Organizer.EmailAddress.Address))
		setIf(meta, "organizer_name", e.Organizer.EmailAddress.Name)
	}
	attendees := make([]map[string]any, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		att := map[string]any{"email": strings.ToLower(a.EmailAddress.Address)}
		setIf(att, "name", a.EmailAddress.Name)
		setIf(att, "type", a.Type)
		if a.Status != nil {
			setIf(att, "response", a.Status.Response)
		}
		attendees = append(attendees, att)
	}
	setIf(meta, "attendees", attendees)
	if e.Location != nil {
		setIf(meta, "location", e.Location.DisplayName)
	}
	start, startOK := graphTime(e.Start)
	if startOK {
		meta["start"] = start.UTC().Format(time.RFC3339)
	}
	if end, ok := graphTime(e.End); ok {
		meta["end"] = end.UTC().Format(time.RFC3339)
	}
	if e.OnlineMeeting != nil {
		setIf(meta, "join_url", e.OnlineMeeting.JoinURL)
	}
	setIf(meta, "series_master_id", e.SeriesMasterID)
	setIf(meta, "event_kind", e.Type)
	setIf(meta, "show_as", e.ShowAs)
	setIf(meta, "importance", strings.ToLower(e.Importance))
	setIf(meta, "web_link", e.WebLink)
	setIf(meta, "provider_id", e.ID)

	return domain.Event{
		ExternalID: externalID,
		Identity:   identity,
		OccurredAt: firstTime(
			func() (time.Time, bool) { return start, startOK },
			rfc3339(e.CreatedDateTime),
		),
		Subject:  e.Subject,
		Body:     body,
		Metadata: meta,
	}, nil
}

func graphAddresses(rs []graphRecipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.EmailAddress.Address != "" {
			out = append(out, strings.ToLower(r.EmailAddress.Address))
		}
	}
	return out
}

// graphTime parses a Graph dateTimeTimeZone value, e.g.
// {"dateTime":"2024-03-05T15:00:00.0000000","timeZone":"UTC"}.
func graphTime(v *graphDateTimeZone) (time.Time, bool) {
	if v == nil || v.DateTime == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, v.DateTime); err == nil {
		return t, true
	}
	loc := time.UTC
	if v.TimeZone != "" {
		if l, err := time.LoadLocation(v.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.9999999", v.DateTime, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
