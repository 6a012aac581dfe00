package natsjs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/domain"
)

func TestJobEncoding(t *testing.T) {
	job := domain.Job{ID: 7, Kind: domain.JobClassify, EventID: "ev-1", ConnectionID: "conn-1", Retries: 2}
	b, err := encodeJob(job)
	require.NoError(t, err)

	got, err := decodeJob(b)
	require.NoError(t, err)
	assert.Equal(t, job.Kind, got.Kind)
	assert.Equal(t, job.EventID, got.EventID)
	assert.Equal(t, "classify|ev-1", got.MsgID())

	_, err = decodeJob([]byte(`{"kind":"rules"}`))
	assert.Error(t, err)
	_, err = decodeJob([]byte(`nope`))
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "mailsync.jobs.attachments", Subject(domain.JobAttachments))
}

func TestRedeliveryDelay(t *testing.T) {
	assert.Equal(t, time.Second, RedeliveryDelay(1))
	assert.Equal(t, 2*time.Second, RedeliveryDelay(2))
	assert.Equal(t, 8*time.Second, RedeliveryDelay(4))
	assert.Equal(t, 5*time.Minute, RedeliveryDelay(40))
}

// Requires a JetStream-enabled server, e.g. nats-server -js.
func TestPublishConsumeRoundTrip(t *testing.T) {
	url := os.Getenv("MAILSYNC_TEST_NATS_URL")
	if url == "" {
		t.Skip("MAILSYNC_TEST_NATS_URL not set")
	}

	p, err := NewPublisher(url)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.EnsureStream(ctx))

	job := domain.Job{Kind: domain.JobRules, EventID: uuid.NewString(), ConnectionID: "conn-1"}
	got := make(chan domain.Job, 1)
	c := NewConsumer(p, "test-"+uuid.NewString()[:8], 3, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, c.Start(ctx, func(ctx context.Context, j domain.Job) error {
		if j.EventID == job.EventID {
			select {
			case got <- j:
			default:
			}
		}
		return nil
	}))
	defer func() { _ = c.Stop() }()

	require.NoError(t, p.Publish(ctx, job))

	select {
	case j := <-got:
		assert.Equal(t, job.EventID, j.EventID)
	case <-ctx.Done():
		t.Fatal("job not delivered")
	}
}
