// Package jobs drains the transactional outbox and runs the side-pipelines
// (rules, classification, attachments) enqueued for newly stored events.
package jobs

import (
	"context"
	"fmt"

	"github.com/Martian-dev/mailsync/internal/domain"
)

// Handler runs one kind of job.
type Handler func(ctx context.Context, job domain.Job) error

// Registry routes jobs to the handler registered for their kind.
type Registry struct {
	handlers map[domain.JobKind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.JobKind]Handler)}
}

// Register sets the handler for a job kind.
func (r *Registry) Register(kind domain.JobKind, h Handler) {
	r.handlers[kind] = h
}

// Handle runs the job's handler.
func (r *Registry) Handle(ctx context.Context, job domain.Job) error {
	h, ok := r.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("no handler for job kind %q", job.Kind)
	}
	return h(ctx, job)
}

// Publisher hands a job off for execution.
type Publisher interface {
	Publish(ctx context.Context, job domain.Job) error
}

// LocalPublisher runs jobs in-process, on the dispatcher goroutine.
type LocalPublisher struct {
	Registry *Registry
}

// Publish runs the job immediately.
func (p LocalPublisher) Publish(ctx context.Context, job domain.Job) error {
	return p.Registry.Handle(ctx, job)
}
