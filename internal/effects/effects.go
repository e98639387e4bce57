// Package effects runs the secondary writes that follow a primary mutation:
// audit rows, notifications, search indexing, email and blob cleanup. A
// dispatched job never reports failure to the caller; it is retried locally
// and then logged (inline) or parked on a dead-letter list (redis).
package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"taskhub/api/internal/util"
)

type Job struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

type Handler func(ctx context.Context, job Job) error

// Dispatcher accepts best-effort jobs. Callers never observe a job's failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind string, payload any)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(kind string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

func (r *Registry) handle(ctx context.Context, job Job) error {
	r.mu.RLock()
	handler, ok := r.handlers[job.Kind]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler for job kind %q", job.Kind)
	}
	return handler(ctx, job)
}

// run executes job up to attempts times and returns the last error.
func (r *Registry) run(ctx context.Context, job Job, attempts int, backoff time.Duration) (Job, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		job.Attempt++
		if err = r.handle(ctx, job); err == nil {
			return job, nil
		}
		if backoff > 0 && i < attempts-1 {
			select {
			case <-ctx.Done():
				return job, ctx.Err()
			case <-time.After(backoff * time.Duration(i+1)):
			}
		}
	}
	return job, err
}

func newJob(kind string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Job{ID: util.NewID("job"), Kind: kind, Payload: raw}, nil
}

// Decode unmarshals a job payload into T.
func Decode[T any](job Job) (T, error) {
	var out T
	if err := json.Unmarshal(job.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", job.Kind, err)
	}
	return out, nil
}

// Inline runs jobs synchronously inside the dispatching call. Retries are
// immediate: the caller is waiting on the request, so Inline never sleeps.
type Inline struct {
	registry *Registry
	attempts int
}

func NewInline(registry *Registry, attempts int) *Inline {
	return &Inline{registry: registry, attempts: attempts}
}

func (d *Inline) Dispatch(ctx context.Context, kind string, payload any) {
	job, err := newJob(kind, payload)
	if err != nil {
		log.Printf("effects: %v", err)
		return
	}
	d.execute(ctx, job)
}

func (d *Inline) execute(ctx context.Context, job Job) {
	job, err := d.registry.run(ctx, job, d.attempts, 0)
	if err != nil {
		log.Printf("effects: %s job %s failed after %d attempts: %v", job.Kind, job.ID, job.Attempt, err)
	}
}
