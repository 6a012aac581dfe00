package eventstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// AddTag attaches a tag to an event. Re-adding an existing tag is a no-op and
// reports false.
func (s *Store) AddTag(ctx context.Context, tag domain.Tag) (bool, error) {
	createdAt := tag.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.Now()
	}
	res, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO event_tags (event_id, tag, source, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (event_id, tag) DO NOTHING
	`), tag.EventID, tag.Tag, tag.Source, createdAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to add tag: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListTags returns the tags of an event in name order.
func (s *Store) ListTags(ctx context.Context, eventID string) ([]domain.Tag, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`
		SELECT event_id, tag, source, created_at FROM event_tags WHERE event_id = ? ORDER BY tag
	`), eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		var createdAt int64
		if err := rows.Scan(&t.EventID, &t.Tag, &t.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		t.CreatedAt = fromMS(createdAt)
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// CreateRule stores a tagging rule.
func (s *Store) CreateRule(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO rules (id, name, field, pattern, tag, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), r.ID, r.Name, r.Field, r.Pattern, r.Tag, enabled, s.nowMS())
	if err != nil {
		return domain.Rule{}, fmt.Errorf("failed to insert rule: %w", err)
	}
	return r, nil
}

// ListRules returns tagging rules in creation order.
func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]domain.Rule, error) {
	query := `SELECT id, name, field, pattern, tag, enabled FROM rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var r domain.Rule
		var enabled int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Field, &r.Pattern, &r.Tag, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Enabled = enabled == 1
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveAttachment records attachment metadata once per (event, provider attachment id).
func (s *Store) SaveAttachment(ctx context.Context, a domain.Attachment) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	res, err := s.DB.ExecContext(ctx, s.q(`
		INSERT INTO attachments (id, event_id, provider_attachment_id, name, content_type, size,
			storage_path, extracted_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, provider_attachment_id) DO NOTHING
	`), a.ID, a.EventID, a.ProviderAttachmentID, a.Name, a.ContentType, a.Size, a.StoragePath,
		nullString(a.ExtractedText), s.nowMS())
	if err != nil {
		return false, fmt.Errorf("failed to save attachment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListAttachments returns the stored attachments of an event.
func (s *Store) ListAttachments(ctx context.Context, eventID string) ([]domain.Attachment, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`
		SELECT id, event_id, provider_attachment_id, name, content_type, size, storage_path,
			COALESCE(extracted_text, ''), created_at
		FROM attachments WHERE event_id = ? ORDER BY name, id
	`), eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	var out []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.EventID, &a.ProviderAttachmentID, &a.Name, &a.ContentType, &a.Size,
			&a.StoragePath, &a.ExtractedText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.CreatedAt = fromMS(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
