// Package notify delivers in-app notifications to the users affected by a
// change. Every recipient is an independent best-effort job.
package notify

import (
	"context"
	"fmt"
	"time"

	"taskhub/api/internal/effects"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/views"
)

const (
	TypeIssueAssigned      = "ISSUE_ASSIGNED"
	TypeIssueCompleted     = "ISSUE_COMPLETED"
	TypeCommentAdded       = "COMMENT_ADDED"
	TypeInvitationAccepted = "INVITATION_ACCEPTED"
)

const JobCreate = "notification.create"

// IssueRef carries what a notification needs to title and link an issue.
type IssueRef struct {
	ID            string
	Key           string
	Title         string
	WorkspaceSlug string
}

func (r IssueRef) link() string {
	return views.IssuePath(r.WorkspaceSlug, r.Key)
}

type Fanout struct {
	dispatcher effects.Dispatcher
	now        func() time.Time
}

func NewFanout(dispatcher effects.Dispatcher, now func() time.Time) *Fanout {
	if now == nil {
		now = time.Now
	}
	return &Fanout{dispatcher: dispatcher, now: now}
}

// Create queues one notification. It is the only place that suppresses
// notifying users about their own actions; it reports whether a job was queued.
func (f *Fanout) Create(ctx context.Context, n store.Notification) bool {
	if n.UserID == "" {
		return false
	}
	if n.ActorID != nil && *n.ActorID == n.UserID {
		return false
	}
	if n.ID == "" {
		n.ID = util.NewID("ntf")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = f.now().UTC()
	}
	f.dispatcher.Dispatch(ctx, JobCreate, n)
	return true
}

func (f *Fanout) Assigned(ctx context.Context, issue IssueRef, assigneeID, actorID string) bool {
	return f.Create(ctx, store.Notification{
		Type:    TypeIssueAssigned,
		UserID:  assigneeID,
		ActorID: ref(actorID),
		IssueID: ref(issue.ID),
		Title:   fmt.Sprintf("You were assigned to %s: %s", issue.Key, issue.Title),
		Link:    issue.link(),
	})
}

func (f *Fanout) Completed(ctx context.Context, issue IssueRef, reporterID, actorID string) bool {
	return f.Create(ctx, store.Notification{
		Type:    TypeIssueCompleted,
		UserID:  reporterID,
		ActorID: ref(actorID),
		IssueID: ref(issue.ID),
		Title:   fmt.Sprintf("%s was completed: %s", issue.Key, issue.Title),
		Link:    issue.link(),
	})
}

// CommentAdded notifies the reporter and assignee, minus the author, at most
// once each. It returns the number of notifications queued.
func (f *Fanout) CommentAdded(ctx context.Context, issue IssueRef, authorID, reporterID string, assigneeID *string) int {
	recipients := []string{reporterID}
	if assigneeID != nil {
		recipients = append(recipients, *assigneeID)
	}

	sent := 0
	seen := make(map[string]struct{}, len(recipients))
	for _, userID := range recipients {
		if userID == "" || userID == authorID {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		if f.Create(ctx, store.Notification{
			Type:    TypeCommentAdded,
			UserID:  userID,
			ActorID: ref(authorID),
			IssueID: ref(issue.ID),
			Title:   fmt.Sprintf("New comment on %s: %s", issue.Key, issue.Title),
			Link:    issue.link(),
		}) {
			sent++
		}
	}
	return sent
}

func (f *Fanout) InvitationAccepted(ctx context.Context, workspace store.Workspace, inviterID, acceptorEmail, acceptorID string) bool {
	return f.Create(ctx, store.Notification{
		Type:    TypeInvitationAccepted,
		UserID:  inviterID,
		ActorID: ref(acceptorID),
		Title:   fmt.Sprintf("%s joined %s", acceptorEmail, workspace.Name),
		Link:    "/w/" + workspace.Slug,
	})
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Inserter persists a single notification.
type Inserter interface {
	InsertNotification(ctx context.Context, n store.Notification) error
}

func Register(registry *effects.Registry, inserter Inserter) {
	registry.Register(JobCreate, func(ctx context.Context, job effects.Job) error {
		n, err := effects.Decode[store.Notification](job)
		if err != nil {
			return err
		}
		return inserter.InsertNotification(ctx, n)
	})
}
