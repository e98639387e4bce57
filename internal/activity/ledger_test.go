package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"taskhub/api/internal/effects"
	"taskhub/api/internal/store"
)

type memoryAppender struct {
	rows []store.Activity
	err  error
}

func (m *memoryAppender) InsertActivity(_ context.Context, entry store.Activity) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, entry)
	return nil
}

func strPtr(s string) *string { return &s }

func baseIssue() store.Issue {
	return store.Issue{
		ID:          "iss_1",
		Title:       "Fix login",
		Description: "It breaks",
		Status:      "TODO",
		Priority:    "MEDIUM",
		Type:        "BUG",
	}
}

func TestDiff(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*store.Issue)
		want   []Entry
	}{
		{
			name:   "no change",
			mutate: func(*store.Issue) {},
			want:   nil,
		},
		{
			name:   "status only",
			mutate: func(i *store.Issue) { i.Status = "DONE" },
			want: []Entry{{Action: ActionStatusChanged, Metadata: &store.ActivityMetadata{
				Field: "status", OldValue: strPtr("TODO"), NewValue: strPtr("DONE"),
			}}},
		},
		{
			name:   "assign from null",
			mutate: func(i *store.Issue) { i.AssigneeID = strPtr("u2") },
			want: []Entry{{Action: ActionAssigned, Metadata: &store.ActivityMetadata{
				Field: "assigneeId", OldValue: nil, NewValue: strPtr("u2"),
			}}},
		},
		{
			name: "title and description collapse to one update",
			mutate: func(i *store.Issue) {
				i.Title = "Fix logout"
				i.Description = "Different"
				i.Type = "TASK"
			},
			want: []Entry{{Action: ActionUpdated}},
		},
		{
			name: "precedence status assignee priority updated",
			mutate: func(i *store.Issue) {
				i.Title = "New"
				i.Priority = "HIGH"
				i.AssigneeID = strPtr("u3")
				i.Status = "IN_PROGRESS"
			},
			want: []Entry{
				{Action: ActionStatusChanged, Metadata: &store.ActivityMetadata{Field: "status", OldValue: strPtr("TODO"), NewValue: strPtr("IN_PROGRESS")}},
				{Action: ActionAssigned, Metadata: &store.ActivityMetadata{Field: "assigneeId", OldValue: nil, NewValue: strPtr("u3")}},
				{Action: ActionPriorityChanged, Metadata: &store.ActivityMetadata{Field: "priority", OldValue: strPtr("MEDIUM"), NewValue: strPtr("HIGH")}},
				{Action: ActionUpdated},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := baseIssue()
			after := baseIssue()
			tc.mutate(&after)
			if diff := cmp.Diff(tc.want, Diff(before, after)); diff != "" {
				t.Fatalf("Diff mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDiffUnassign(t *testing.T) {
	before := baseIssue()
	before.AssigneeID = strPtr("u2")
	after := baseIssue()

	entries := Diff(before, after)
	if len(entries) != 1 || entries[0].Action != ActionAssigned {
		t.Fatalf("expected one ASSIGNED entry, got %+v", entries)
	}
	if entries[0].Metadata.NewValue != nil || *entries[0].Metadata.OldValue != "u2" {
		t.Fatalf("unexpected metadata %+v", entries[0].Metadata)
	}
}

func TestBulkKeepsUnchangedValue(t *testing.T) {
	entry := Bulk(ActionStatusChanged, "status", strPtr("DONE"), strPtr("DONE"))
	want := Entry{
		Action:   ActionStatusChanged,
		Metadata: &store.ActivityMetadata{Field: "status", OldValue: strPtr("DONE"), NewValue: strPtr("DONE")},
	}
	if diff := cmp.Diff(want, entry); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestLedgerPersistsThroughRegistry(t *testing.T) {
	registry := effects.NewRegistry()
	appender := &memoryAppender{}
	Register(registry, appender)

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := NewLedger(effects.NewInline(registry, 1), func() time.Time { return fixed })

	before := baseIssue()
	after := baseIssue()
	after.Status = "DONE"
	after.Priority = "LOW"

	if n := ledger.DiffAndLog(context.Background(), before, after, "u1"); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	if len(appender.rows) != 2 {
		t.Fatalf("expected 2 persisted rows, got %d", len(appender.rows))
	}
	first := appender.rows[0]
	if first.Action != ActionStatusChanged || first.ActorID != "u1" || first.IssueID != "iss_1" || !first.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected first row %+v", first)
	}
	if appender.rows[1].Action != ActionPriorityChanged {
		t.Fatalf("expected PRIORITY_CHANGED second, got %s", appender.rows[1].Action)
	}
}

func TestLedgerSwallowsPersistenceFailure(t *testing.T) {
	registry := effects.NewRegistry()
	Register(registry, &memoryAppender{err: errors.New("db down")})
	ledger := NewLedger(effects.NewInline(registry, 2), nil)

	// Must return normally.
	ledger.Log(context.Background(), ActionCreated, "iss_1", "u1", nil)
}
