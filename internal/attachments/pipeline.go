// Package attachments downloads the file attachments of newly stored emails,
// keeps their content on disk and records their metadata.
package attachments

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/Martian-dev/mailsync/internal/canonical"
	"github.com/Martian-dev/mailsync/internal/domain"
)

// maxExtractedText bounds the text kept per attachment.
const maxExtractedText = 64 << 10

// Source lists the attachments of one provider message.
type Source interface {
	ListAttachments(ctx context.Context, accessToken, account, providerMessageID string) ([]domain.AttachmentFile, error)
}

// Store is the datastore surface the pipeline needs.
type Store interface {
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	GetConnection(ctx context.Context, id string) (domain.Connection, error)
	SaveAttachment(ctx context.Context, a domain.Attachment) (bool, error)
}

// TokenProvider yields a valid access token for a connection.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context, connectionID string) (string, error)
}

// Pipeline handles attachment jobs.
type Pipeline struct {
	store   Store
	tokens  TokenProvider
	sources map[domain.ProviderName]Source
	blobs   *BlobStore
	logger  *slog.Logger
}

// NewPipeline creates an attachment pipeline.
func NewPipeline(store Store, tokens TokenProvider, sources map[domain.ProviderName]Source, blobs *BlobStore, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: store, tokens: tokens, sources: sources, blobs: blobs, logger: logger}
}

// Handle stores the non-inline attachments of the job's email. A failure on
// one attachment is logged and does not stop the others; only failures that
// leave nothing to store are returned, so the job is retried.
func (p *Pipeline) Handle(ctx context.Context, job domain.Job) error {
	ev, err := p.store.GetEvent(ctx, job.EventID)
	if err != nil {
		return err
	}
	if ev.Type != domain.EventEmail {
		return nil
	}
	messageID := ev.MetaString("provider_id")
	if messageID == "" {
		p.logger.Warn("email has no provider id, skipping attachments", "event_id", ev.ID)
		return nil
	}

	conn, err := p.store.GetConnection(ctx, ev.ConnectionID)
	if err != nil {
		return err
	}
	source, ok := p.sources[conn.Provider]
	if !ok {
		return fmt.Errorf("no attachment source for provider %s", conn.Provider)
	}
	token, err := p.tokens.EnsureValidToken(ctx, conn.ID)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}

	logger := p.logger.With("event_id", ev.ID, "connection_id", conn.ID)
	files, err := source.ListAttachments(ctx, token, conn.AccountEmail, messageID)
	if err != nil {
		if len(files) == 0 {
			return fmt.Errorf("list attachments: %w", err)
		}
		logger.Warn("some attachments could not be downloaded", "error", err)
	}

	var saved int
	for _, f := range files {
		if f.Inline {
			continue
		}
		if err := p.save(ctx, ev.ID, f); err != nil {
			logger.Warn("attachment failed", "name", f.Name, "error", err)
			continue
		}
		saved++
	}
	logger.Debug("attachments stored", "saved", saved, "listed", len(files))
	return nil
}

func (p *Pipeline) save(ctx context.Context, eventID string, f domain.AttachmentFile) error {
	path, err := p.blobs.Put(eventID, f.ProviderID, f.Name, f.Content)
	if err != nil {
		return err
	}
	size := f.Size
	if size == 0 {
		size = int64(len(f.Content))
	}
	_, err = p.store.SaveAttachment(ctx, domain.Attachment{
		EventID:              eventID,
		ProviderAttachmentID: f.ProviderID,
		Name:                 f.Name,
		ContentType:          f.ContentType,
		Size:                 size,
		StoragePath:          path,
		ExtractedText:        ExtractText(f.ContentType, f.Content),
	})
	return err
}

// ExtractText returns readable text for text/* content and "" otherwise.
func ExtractText(contentType string, content []byte) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "text/") || !utf8.Valid(content) {
		return ""
	}
	text := string(content)
	if mediaType == "text/html" {
		text = canonical.HTMLToText(text)
	} else {
		text = strings.TrimSpace(text)
	}
	if len(text) > maxExtractedText {
		text = text[:maxExtractedText]
		for !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}
	return text
}
