package canonical

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/mailsync/internal/domain"
)

func raw(provider domain.ProviderName, resource domain.ResourceType, payload string) domain.RawRecord {
	return domain.RawRecord{Provider: provider, Resource: resource, Payload: json.RawMessage(payload)}
}

func TestGraphMessagePrefersInternetMessageID(t *testing.T) {
	ev, err := ToCanonicalEvent(raw(domain.ProviderOutlook, domain.ResourceMessages, `{
		"id": "AAMk-1",
		"internetMessageId": "<abc@example.com>",
		"subject": "Quarterly numbers",
		"body": {"contentType": "html", "content": "<p>Hello <b>team</b></p><script>x()</script>"},
		"from": {"emailAddress": {"name": "Ann", "address": "Ann@Example.com"}},
		"toRecipients": [{"emailAddress": {"address": "bob@example.com"}}],
		"receivedDateTime": "2024-03-05T10:00:00Z",
		"hasAttachments": true,
		"importance": "High"
	}`), domain.EventEmail)
	require.NoError(t, err)

	assert.Equal(t, "<abc@example.com>", ev.ExternalID)
	assert.Equal(t, domain.IdentityStable, ev.Identity)
	assert.Equal(t, domain.EventEmail, ev.Type)
	assert.Equal(t, "outlook", ev.Source)
	assert.Equal(t, "Quarterly numbers", ev.Subject)
	assert.Equal(t, "Hello team", ev.Body)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, "ann@example.com", ev.MetaString("from"))
	assert.Equal(t, []string{"bob@example.com"}, ev.Metadata["to"])
	assert.True(t, ev.MetaBool("has_attachments"))
	assert.Equal(t, "high", ev.MetaString("importance"))
	assert.Equal(t, "AAMk-1", ev.MetaString("provider_id"))
	assert.False(t, ev.MetaBool("needs_review"))
	assert.NotEmpty(t, ev.Raw)
}

func TestGraphMessageSameInternetIDAcrossIDs(t *testing.T) {
	a, err := ToCanonicalEvent(raw(domain.ProviderOutlook, domain.ResourceMessages,
		`{"id":"one","internetMessageId":"<same@x>","receivedDateTime":"2024-01-01T00:00:00Z"}`), domain.EventEmail)
	require.NoError(t, err)
	b, err := ToCanonicalEvent(raw(domain.ProviderOutlook, domain.ResourceMessages,
		`{"id":"two","internetMessageId":"<same@x>","receivedDateTime":"2024-01-01T00:00:00Z"}`), domain.EventEmail)
	require.NoError(t, err)

	assert.Equal(t, a.ExternalID, b.ExternalID)
}

func TestGraphEventFallbackIdentity(t *testing.T) {
	ev, err := ToCanonicalEvent(raw(domain.ProviderOutlook, domain.ResourceCalendar, `{
		"id": "evt-1",
		"subject": "Standup",
		"body": {"contentType": "text", "content": "  daily  "},
		"start": {"dateTime": "2024-03-05T15:00:00.0000000", "timeZone": "UTC"},
		"end": {"dateTime": "2024-03-05T15:15:00.0000000", "timeZone": "UTC"},
		"organizer": {"emailAddress": {"address": "Lead@Example.com"}},
		"attendees": [{"emailAddress": {"address": "a@example.com"}, "type": "required"}],
		"location": {"displayName": "Room 1"},
		"isOnlineMeeting": true,
		"onlineMeeting": {"joinUrl": "https://teams.example/join"}
	}`), domain.EventMeeting)
	require.NoError(t, err)

	assert.Equal(t, "evt-1", ev.ExternalID)
	assert.Equal(t, domain.IdentityFallback, ev.Identity)
	assert.True(t, ev.MetaBool("needs_review"))
	assert.Equal(t, "  daily  ", ev.Body)
	assert.Equal(t, time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, "2024-03-05T15:15:00Z", ev.MetaString("end"))
	assert.Equal(t, "lead@example.com", ev.MetaString("organizer"))
	assert.Equal(t, "Room 1", ev.MetaString("location"))
	assert.Equal(t, "https://teams.example/join", ev.MetaString("join_url"))
	assert.True(t, ev.MetaBool("online"))
}

func TestMissingIdentifiersAreUnidentified(t *testing.T) {
	ev, err := ToCanonicalEvent(raw(domain.ProviderOutlook, domain.ResourceMessages, `{"subject":"orphan"}`), domain.EventEmail)
	require.NoError(t, err)

	assert.Empty(t, ev.ExternalID)
	assert.Equal(t, domain.IdentityUnidentified, ev.Identity)
	assert.False(t, ev.Deduplicable())
	assert.True(t, ev.MetaBool("needs_review"))
}

func TestTimestampFallsBackToNow(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	orig := Now
	Now = func() time.Time { return fixed }
	t.Cleanup(func() { Now = orig })

	ev, err := ToCanonicalEvent(raw(domain.ProviderOutlook, domain.ResourceMessages,
		`{"id":"x","receivedDateTime":"not a date"}`), domain.EventEmail)
	require.NoError(t, err)
	assert.Equal(t, fixed, ev.OccurredAt)
}

func TestUnknownMappingAndBadPayload(t *testing.T) {
	_, err := ToCanonicalEvent(raw("imap", domain.ResourceMessages, `{}`), domain.EventEmail)
	assert.Error(t, err)

	_, err = ToCanonicalEvent(raw(domain.ProviderOutlook, domain.ResourceMessages, `{not json`), domain.EventEmail)
	assert.Error(t, err)

	_, err = ToCanonicalEvent(domain.RawRecord{Provider: domain.ProviderGmail}, domain.EventEmail)
	assert.Error(t, err)
}

func TestGmailMessage(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }
	msg := &gmail.Message{
		Id:           "18c1",
		ThreadId:     "t-1",
		LabelIds:     []string{"INBOX", "UNREAD", "IMPORTANT"},
		Snippet:      "snippet",
		InternalDate: time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC).UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Message-ID", Value: "<g1@mail.example>"},
				{Name: "Subject", Value: "Invoice"},
				{Name: "From", Value: "Billing <Billing@Vendor.com>"},
				{Name: "To", Value: "me@example.com, other@example.com"},
				{Name: "List-Unsubscribe", Value: "<mailto:unsub@vendor.com>"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: enc("<div>Amount <i>due</i></div>")}},
					},
				},
				{MimeType: "application/pdf", Filename: "invoice.pdf", Body: &gmail.MessagePartBody{AttachmentId: "att-1"}},
			},
		},
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	ev, err := ToCanonicalEvent(domain.RawRecord{Provider: domain.ProviderGmail, Payload: payload}, domain.EventEmail)
	require.NoError(t, err)

	assert.Equal(t, "<g1@mail.example>", ev.ExternalID)
	assert.Equal(t, domain.IdentityStable, ev.Identity)
	assert.Equal(t, "gmail", ev.Source)
	assert.Equal(t, "Invoice", ev.Subject)
	assert.Equal(t, "Amount due", ev.Body)
	assert.Equal(t, time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC), ev.OccurredAt)
	assert.Equal(t, "billing@vendor.com", ev.MetaString("from"))
	assert.Equal(t, []string{"me@example.com", "other@example.com"}, ev.Metadata["to"])
	assert.True(t, ev.MetaBool("has_attachments"))
	assert.False(t, ev.MetaBool("is_read"))
	assert.Equal(t, "high", ev.MetaString("importance"))
	assert.Equal(t, "<mailto:unsub@vendor.com>", ev.MetaString("list_unsubscribe"))
}

func TestGmailMessageWithoutMessageIDFallsBack(t *testing.T) {
	payload, err := json.Marshal(&gmail.Message{Id: "18c2", Snippet: "hi"})
	require.NoError(t, err)

	ev, err := ToCanonicalEvent(domain.RawRecord{Provider: domain.ProviderGmail, Payload: payload}, domain.EventEmail)
	require.NoError(t, err)
	assert.Equal(t, "18c2", ev.ExternalID)
	assert.Equal(t, domain.IdentityFallback, ev.Identity)
	assert.Equal(t, "hi", ev.Body)
}

func TestGoogleEventAllDay(t *testing.T) {
	payload, err := json.Marshal(&calendar.Event{
		Id:          "gc-1",
		ICalUID:     "uid-1@google.com",
		Summary:     "Offsite",
		Description: "Bring <b>laptops</b><br>",
		Status:      "cancelled",
		Start:       &calendar.EventDateTime{Date: "2024-04-10"},
		End:         &calendar.EventDateTime{Date: "2024-04-11"},
		Organizer:   &calendar.EventOrganizer{Email: "Boss@Example.com"},
		Attendees:   []*calendar.EventAttendee{{Email: "me@example.com", ResponseStatus: "accepted"}},
		HangoutLink: "https://meet.example/abc",
	})
	require.NoError(t, err)

	ev, err := ToCanonicalEvent(domain.RawRecord{Provider: domain.ProviderGmail, Payload: payload}, domain.EventMeeting)
	require.NoError(t, err)

	assert.Equal(t, "uid-1@google.com", ev.ExternalID)
	assert.Equal(t, domain.EventMeeting, ev.Type)
	assert.Equal(t, "Offsite", ev.Subject)
	assert.Equal(t, "Bring laptops", ev.Body)
	assert.Equal(t, time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC), ev.OccurredAt)
	assert.True(t, ev.MetaBool("all_day"))
	assert.True(t, ev.MetaBool("cancelled"))
	assert.True(t, ev.MetaBool("online"))
	assert.Equal(t, "https://meet.example/abc", ev.MetaString("join_url"))
	assert.Equal(t, "boss@example.com", ev.MetaString("organizer"))
}

func TestBodyContentTypes(t *testing.T) {
	assert.Equal(t, "a  b", Body("text", "a  b"))
	assert.Equal(t, "a b", Body("HTML", "<p>a</p>\n\n<p>b</p>"))
	assert.Equal(t, "x &amp; y", Body("unknown", "x &amp; y"))
	assert.Equal(t, "x & y", HTMLToText("<span>x &amp; y</span>"))
	assert.Equal(t, "visible", HTMLToText("<html><head><title>t</title></head><body><style>p{}</style>visible</body></html>"))
}
