// Package activity records the append-only audit trail of issue changes.
package activity

import (
	"context"
	"time"

	"taskhub/api/internal/effects"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

const (
	ActionCreated         = "CREATED"
	ActionUpdated         = "UPDATED"
	ActionStatusChanged   = "STATUS_CHANGED"
	ActionAssigned        = "ASSIGNED"
	ActionPriorityChanged = "PRIORITY_CHANGED"
	ActionDeleted         = "DELETED"
	ActionCommentAdded    = "COMMENT_ADDED"
	ActionCommentUpdated  = "COMMENT_UPDATED"
	ActionCommentDeleted  = "COMMENT_DELETED"
)

const JobAppend = "activity.append"

// Entry is one row the diff wants written.
type Entry struct {
	Action   string
	Metadata *store.ActivityMetadata
}

// Diff compares two snapshots of an issue and returns at most one entry per
// category, in fixed order: status, assignee, priority, then a single UPDATED
// for any title/description/type change.
func Diff(before, after store.Issue) []Entry {
	var entries []Entry
	if before.Status != after.Status {
		entries = append(entries, Entry{
			Action:   ActionStatusChanged,
			Metadata: change("status", &before.Status, &after.Status),
		})
	}
	if !sameRef(before.AssigneeID, after.AssigneeID) {
		entries = append(entries, Entry{
			Action:   ActionAssigned,
			Metadata: change("assigneeId", before.AssigneeID, after.AssigneeID),
		})
	}
	if before.Priority != after.Priority {
		entries = append(entries, Entry{
			Action:   ActionPriorityChanged,
			Metadata: change("priority", &before.Priority, &after.Priority),
		})
	}
	if before.Title != after.Title || before.Description != after.Description || before.Type != after.Type {
		entries = append(entries, Entry{Action: ActionUpdated})
	}
	return entries
}

// Bulk is the single entry a bulk write records for one issue. It is written
// even when the value did not change, so a bulk write of n issues leaves n rows.
func Bulk(action, field string, oldValue, newValue *string) Entry {
	return Entry{Action: action, Metadata: change(field, oldValue, newValue)}
}

func change(field string, oldValue, newValue *string) *store.ActivityMetadata {
	return &store.ActivityMetadata{Field: field, OldValue: copyRef(oldValue), NewValue: copyRef(newValue)}
}

func copyRef(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Ledger hands audit rows to the effects dispatcher. Writes never fail the
// mutation that produced them.
type Ledger struct {
	dispatcher effects.Dispatcher
	now        func() time.Time
}

func NewLedger(dispatcher effects.Dispatcher, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{dispatcher: dispatcher, now: now}
}

func (l *Ledger) Log(ctx context.Context, action, issueID, actorID string, metadata *store.ActivityMetadata) {
	l.dispatcher.Dispatch(ctx, JobAppend, store.Activity{
		ID:        util.NewID("act"),
		IssueID:   issueID,
		ActorID:   actorID,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: l.now().UTC(),
	})
}

// DiffAndLog writes one row per entry Diff returns and reports how many.
func (l *Ledger) DiffAndLog(ctx context.Context, before, after store.Issue, actorID string) int {
	entries := Diff(before, after)
	for _, entry := range entries {
		l.Log(ctx, entry.Action, after.ID, actorID, entry.Metadata)
	}
	return len(entries)
}

// Appender persists a single activity row.
type Appender interface {
	InsertActivity(ctx context.Context, entry store.Activity) error
}

// Register installs the handler that persists dispatched rows.
func Register(registry *effects.Registry, appender Appender) {
	registry.Register(JobAppend, func(ctx context.Context, job effects.Job) error {
		entry, err := effects.Decode[store.Activity](job)
		if err != nil {
			return err
		}
		return appender.InsertActivity(ctx, entry)
	})
}
