package attachments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/domain"
	"github.com/Martian-dev/mailsync/internal/eventstore"
)

type fakeSource struct {
	files []domain.AttachmentFile
	err   error
	calls []string
}

func (f *fakeSource) ListAttachments(ctx context.Context, accessToken, account, providerMessageID string) ([]domain.AttachmentFile, error) {
	f.calls = append(f.calls, accessToken+"|"+account+"|"+providerMessageID)
	return f.files, f.err
}

type staticTokens string

func (s staticTokens) EnsureValidToken(ctx context.Context, connectionID string) (string, error) {
	if s == "" {
		return "", domain.ErrUnauthorized
	}
	return string(s), nil
}

type harness struct {
	store  *eventstore.Store
	source *fakeSource
	p      *Pipeline
	dir    string
	connID string
}

func setup(t *testing.T, tokens staticTokens) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := eventstore.Open(ctx, eventstore.DriverSQLite, filepath.Join(t.TempDir(), "mailsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	conn, err := store.CreateConnection(ctx, domain.Connection{
		Provider:     domain.ProviderGmail,
		AccountEmail: "ana@example.com",
	})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "attachments")
	blobs, err := NewBlobStore(dir)
	require.NoError(t, err)

	source := &fakeSource{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPipeline(store, tokens, map[domain.ProviderName]Source{domain.ProviderGmail: source}, blobs, logger)
	return &harness{store: store, source: source, p: p, dir: dir, connID: conn.ID}
}

func (h *harness) email(t *testing.T, externalID string, meta map[string]any) string {
	t.Helper()
	ok, id, err := h.store.InsertEvent(context.Background(), domain.Event{
		ConnectionID: h.connID,
		Type:         domain.EventEmail,
		Source:       "gmail",
		ExternalID:   externalID,
		Identity:     domain.IdentityStable,
		OccurredAt:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Subject:      "Report",
		Metadata:     meta,
	}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	return id
}

func TestPipelineStoresNonInlineAttachments(t *testing.T) {
	h := setup(t, "tok")
	ctx := context.Background()
	eventID := h.email(t, "<r1@example.com>", map[string]any{"provider_id": "msg-1", "has_attachments": true})

	h.source.files = []domain.AttachmentFile{
		{ProviderID: "att-1", Name: "notes.txt", ContentType: "text/plain; charset=utf-8", Content: []byte("  quarterly notes  ")},
		{ProviderID: "att-2", Name: "../../escape.pdf", ContentType: "application/pdf", Size: 4, Content: []byte("%PDF")},
		{ProviderID: "att-3", Name: "logo.png", ContentType: "image/png", Inline: true, Content: []byte{0x89}},
	}

	require.NoError(t, h.p.Handle(ctx, domain.Job{Kind: domain.JobAttachments, EventID: eventID}))
	assert.Equal(t, []string{"tok|ana@example.com|msg-1"}, h.source.calls)

	stored, err := h.store.ListAttachments(ctx, eventID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	byName := map[string]domain.Attachment{}
	for _, a := range stored {
		byName[a.Name] = a
	}

	notes := byName["notes.txt"]
	assert.Equal(t, "quarterly notes", notes.ExtractedText)
	assert.Equal(t, int64(19), notes.Size)
	content, err := os.ReadFile(notes.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, "  quarterly notes  ", string(content))

	pdf := byName["../../escape.pdf"]
	assert.Empty(t, pdf.ExtractedText)
	assert.Equal(t, filepath.Join(h.dir, eventID), filepath.Dir(pdf.StoragePath))

	// A retried job records nothing twice.
	require.NoError(t, h.p.Handle(ctx, domain.Job{Kind: domain.JobAttachments, EventID: eventID}))
	stored, err = h.store.ListAttachments(ctx, eventID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestPipelineListFailureIsReturned(t *testing.T) {
	h := setup(t, "tok")
	eventID := h.email(t, "<r2@example.com>", map[string]any{"provider_id": "msg-2"})
	h.source.err = errors.New("boom")

	err := h.p.Handle(context.Background(), domain.Job{EventID: eventID})
	assert.ErrorContains(t, err, "boom")
}

func TestPipelineSavesPartialListing(t *testing.T) {
	h := setup(t, "tok")
	ctx := context.Background()
	eventID := h.email(t, "<r5@example.com>", map[string]any{"provider_id": "msg-5"})
	h.source.files = []domain.AttachmentFile{
		{ProviderID: "part-3", Name: "b.csv", ContentType: "text/csv", Content: []byte("a,b")},
	}
	h.source.err = errors.New("get attachment a.pdf: boom")

	require.NoError(t, h.p.Handle(ctx, domain.Job{EventID: eventID}))
	stored, err := h.store.ListAttachments(ctx, eventID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "b.csv", stored[0].Name)
}

func TestPipelineTokenFailure(t *testing.T) {
	h := setup(t, "")
	eventID := h.email(t, "<r3@example.com>", map[string]any{"provider_id": "msg-3"})

	err := h.p.Handle(context.Background(), domain.Job{EventID: eventID})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, h.source.calls)
}

func TestPipelineSkipsEmailWithoutProviderID(t *testing.T) {
	h := setup(t, "tok")
	eventID := h.email(t, "<r4@example.com>", map[string]any{})

	require.NoError(t, h.p.Handle(context.Background(), domain.Job{EventID: eventID}))
	assert.Empty(t, h.source.calls)
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		content     string
		want        string
	}{
		{"plain", "text/plain", " hi \n", "hi"},
		{"html", "text/html; charset=utf-8", "<p>Hello</p><p>world</p>", "Hello world"},
		{"binary", "application/octet-stream", "abc", ""},
		{"bad type", ";;", "abc", ""},
		{"invalid utf8", "text/plain", "\xff\xfe", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(tt.contentType, []byte(tt.content)))
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "escape.pdf", sanitize("../../escape.pdf"))
	assert.Equal(t, "b.txt", sanitize(`a\b.txt`))
	assert.Equal(t, "attachment", sanitize(".."))
	assert.Equal(t, "what_.txt", sanitize("what?.txt"))
}
