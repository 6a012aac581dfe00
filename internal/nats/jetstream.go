// Package natsjs carries side-pipeline jobs over NATS JetStream.
package natsjs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Martian-dev/mailsync/internal/domain"
)

const (
	// StreamName is the JetStream stream holding enqueued jobs.
	StreamName = "MAILSYNC_JOBS"
	// SubjectPrefix prefixes every job subject; the job kind follows.
	SubjectPrefix = "mailsync.jobs."
)

// Publisher wraps NATS JetStream for publishing jobs
type Publisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher creates a new NATS JetStream publisher
func NewPublisher(url string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("mailsync"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// Conn exposes the underlying connection so a consumer can share it.
func (p *Publisher) Conn() *nats.Conn {
	return p.nc
}

// EnsureStream ensures the jobs stream exists
func (p *Publisher) EnsureStream(ctx context.Context) error {
	streamInfo, err := p.js.StreamInfo(StreamName, nats.Context(ctx))
	if err == nil && streamInfo != nil {
		return nil
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ">"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Publish publishes a job with deduplication on its message id.
func (p *Publisher) Publish(ctx context.Context, job domain.Job) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(Subject(job.Kind), payload, nats.MsgId(job.MsgID()), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// Subject returns the subject a job kind is published on.
func Subject(kind domain.JobKind) string {
	return SubjectPrefix + string(kind)
}

func encodeJob(job domain.Job) ([]byte, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return b, nil
}

func decodeJob(data []byte) (domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.Kind == "" || job.EventID == "" {
		return job, fmt.Errorf("job missing kind or event id")
	}
	return job, nil
}
