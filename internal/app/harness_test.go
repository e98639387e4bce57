package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/blob"
	"taskhub/api/internal/effects"
	"taskhub/api/internal/email"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/search"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type dispatched struct {
	Kind    string
	Payload any
}

// recordingDispatcher runs jobs inline and remembers what was dispatched.
type recordingDispatcher struct {
	inner effects.Dispatcher

	mu   sync.Mutex
	jobs []dispatched
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, kind string, payload any) {
	d.mu.Lock()
	d.jobs = append(d.jobs, dispatched{Kind: kind, Payload: payload})
	d.mu.Unlock()
	d.inner.Dispatch(ctx, kind, payload)
}

func (d *recordingDispatcher) kinds(kind string) []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []dispatched
	for _, job := range d.jobs {
		if job.Kind == kind {
			out = append(out, job)
		}
	}
	return out
}

// recordingViews is a views.Cache backed by a map.
type recordingViews struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated []string
}

func newRecordingViews() *recordingViews {
	return &recordingViews{entries: make(map[string][]byte)}
}

func (v *recordingViews) Get(_ context.Context, path string) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	payload, ok := v.entries[path]
	return payload, ok
}

func (v *recordingViews) Set(_ context.Context, path string, payload []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[path] = payload
}

func (v *recordingViews) Invalidate(_ context.Context, paths ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, path := range paths {
		delete(v.entries, path)
		v.invalidated = append(v.invalidated, path)
	}
}

func (v *recordingViews) wasInvalidated(path string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range v.invalidated {
		if p == path {
			return true
		}
	}
	return false
}

type harness struct {
	store      *fakeStore
	service    *Service
	dispatcher *recordingDispatcher
	views      *recordingViews
	blobs      *blob.Memory
	now        time.Time
}

// newHarness seeds one workspace "acme" owned by owner, with an admin, two
// developers and a project ACME. outsider is a user with no membership.
func newHarness(t *testing.T) *harness {
	t.Helper()

	fs := newFakeStore()
	fs.addUser("owner", "owner@acme.test")
	fs.addUser("admin", "admin@acme.test")
	fs.addUser("dev1", "dev1@acme.test")
	fs.addUser("dev2", "dev2@acme.test")
	fs.addUser("outsider", "outsider@other.test")
	fs.addWorkspace("ws_acme", "acme", "owner")
	fs.addMember("ws_acme", "admin", "ADMIN")
	fs.addMember("ws_acme", "dev1", "DEVELOPER")
	fs.addMember("ws_acme", "dev2", "DEVELOPER")
	fs.addProject("prj_acme", "ws_acme", "ACME")

	blobs := blob.NewMemory()
	registry := effects.NewRegistry()
	activity.Register(registry, fs)
	notify.Register(registry, fs)
	search.Register(registry, search.NewService(nil, nil))
	email.Register(registry, email.NewService(email.Config{}))
	blob.Register(registry, blobs)

	h := &harness{
		store:      fs,
		dispatcher: &recordingDispatcher{inner: effects.NewInline(registry, 1)},
		views:      newRecordingViews(),
		blobs:      blobs,
		now:        fixedNow,
	}
	h.service = New(fs, Options{
		Dispatcher: h.dispatcher,
		Views:      h.views,
		Blobs:      blobs,
		BaseURL:    "https://tracker.test/",
		Now:        func() time.Time { return h.now },
	})
	return h
}

func (h *harness) identity(userID string) auth.Identity {
	user := h.store.users[userID]
	return auth.Identity{UserID: user.ID, Email: user.Email, Name: user.Name}
}

func requireKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}
