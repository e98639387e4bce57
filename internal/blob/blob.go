// Package blob stores attachment bytes in an S3-compatible bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"taskhub/api/internal/effects"
	"taskhub/api/internal/util"
)

const JobDelete = "blob.delete"

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// AttachmentKey builds the object key for an upload.
func AttachmentKey(issueID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return fmt.Sprintf("attachments/%s/%s/%s", issueID, util.NewID(""), name)
}

// Register installs the handler for best-effort object deletion.
func Register(registry *effects.Registry, store Store) {
	registry.Register(JobDelete, func(ctx context.Context, job effects.Job) error {
		key, err := effects.Decode[string](job)
		if err != nil {
			return err
		}
		return store.Delete(ctx, key)
	})
}

// Memory keeps objects in process. It backs local development without a
// bucket and the service tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}
