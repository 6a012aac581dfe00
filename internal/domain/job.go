package domain

import "time"

// JobKind names a side-pipeline run for a newly created event.
type JobKind string

const (
	JobRules       JobKind = "rules"
	JobClassify    JobKind = "classify"
	JobAttachments JobKind = "attachments"
)

// Job is one enqueued side-pipeline task.
type Job struct {
	ID           int64     `json:"id"`
	Kind         JobKind   `json:"kind"`
	EventID      string    `json:"event_id"`
	ConnectionID string    `json:"connection_id"`
	Retries      int       `json:"retries"`
	CreatedAt    time.Time `json:"created_at"`
}

// MsgID is the deduplication key used when publishing the job.
func (j Job) MsgID() string {
	return string(j.Kind) + "|" + j.EventID
}

// Rule is a user-defined tagging rule.
type Rule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
	Tag     string `json:"tag"`
	Enabled bool   `json:"enabled"`
}

// Attachment is stored attachment metadata.
type Attachment struct {
	ID                   string    `json:"id"`
	EventID              string    `json:"event_id"`
	ProviderAttachmentID string    `json:"provider_attachment_id"`
	Name                 string    `json:"name"`
	ContentType          string    `json:"content_type"`
	Size                 int64     `json:"size"`
	StoragePath          string    `json:"storage_path"`
	ExtractedText        string    `json:"extracted_text,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// AttachmentFile is one attachment as downloaded from a provider.
type AttachmentFile struct {
	ProviderID  string
	Name        string
	ContentType string
	Size        int64
	Inline      bool
	Content     []byte
}
