package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// Attachments downloads message attachments through the Gmail API.
type Attachments struct {
	Options Options
}

// ListAttachments walks the MIME tree of one message and downloads every
// non-inline part that carries an attachment id. A part that fails to download
// is left out; the returned error joins those failures, so callers keep the
// files that did arrive.
func (a *Attachments) ListAttachments(ctx context.Context, accessToken, account, providerMessageID string) ([]domain.AttachmentFile, error) {
	svc, err := gmail.NewService(ctx, clientOptions(ctx, a.Options, accessToken)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	msg, err := svc.Users.Messages.Get(account, providerMessageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify("get message "+providerMessageID, err)
	}

	var files []domain.AttachmentFile
	var errs []error
	for _, part := range attachmentParts(msg.Payload) {
		if isInline(part) {
			continue
		}
		content, err := download(ctx, svc, account, providerMessageID, part)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, domain.AttachmentFile{
			ProviderID:  partKey(part),
			Name:        part.Filename,
			ContentType: part.MimeType,
			Size:        int64(len(content)),
			Content:     content,
		})
	}
	return files, errors.Join(errs...)
}

func download(ctx context.Context, svc *gmail.Service, account, messageID string, part *gmail.MessagePart) ([]byte, error) {
	body, err := svc.Users.Messages.Attachments.Get(account, messageID, part.Body.AttachmentId).Context(ctx).Do()
	if err != nil {
		return nil, classify("get attachment "+part.Filename, err)
	}
	content, err := base64.URLEncoding.DecodeString(body.Data)
	if err != nil {
		content, err = base64.RawURLEncoding.DecodeString(body.Data)
		if err != nil {
			return nil, fmt.Errorf("decode attachment %s: %w", part.Filename, err)
		}
	}
	return content, nil
}

// partKey identifies an attachment within its message. Gmail reissues
// attachment ids on every fetch, so the MIME part id is used instead.
func partKey(p *gmail.MessagePart) string {
	if p.PartId != "" {
		return "part-" + p.PartId
	}
	return fmt.Sprintf("%s-%d", p.Filename, p.Body.Size)
}

func attachmentParts(p *gmail.MessagePart) []*gmail.MessagePart {
	if p == nil {
		return nil
	}
	var parts []*gmail.MessagePart
	if p.Filename != "" && p.Body != nil && p.Body.AttachmentId != "" {
		parts = append(parts, p)
	}
	for _, child := range p.Parts {
		parts = append(parts, attachmentParts(child)...)
	}
	return parts
}

func isInline(p *gmail.MessagePart) bool {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, "Content-Disposition") {
			return strings.HasPrefix(strings.ToLower(strings.TrimSpace(h.Value)), "inline")
		}
	}
	return false
}
