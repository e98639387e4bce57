package app

import (
	"context"
	"strings"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/views"
)

const maxCommentLength = 10000

type CommentInput struct {
	Body string `json:"body"`
}

func validateCommentBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", validation("Comment cannot be empty")
	}
	if len(body) > maxCommentLength {
		return "", validation("Comment is too long")
	}
	return body, nil
}

// loadComment resolves a comment and the issue it belongs to, checking the
// caller can see the workspace.
func (s *Service) loadComment(ctx context.Context, id auth.Identity, commentID string) (store.Comment, store.IssueScope, rbac.Access, error) {
	if id.UserID == "" {
		return store.Comment{}, store.IssueScope{}, rbac.None, unauthorized()
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, store.IssueScope{}, rbac.None, storeError(err, "Comment not found", "")
	}
	scope, access, err := s.loadIssue(ctx, id, comment.IssueID)
	if err != nil {
		return store.Comment{}, store.IssueScope{}, rbac.None, err
	}
	return comment, scope, access, nil
}

func (s *Service) CreateComment(ctx context.Context, id auth.Identity, issueID string, input CommentInput) (store.Comment, error) {
	if id.UserID == "" {
		return store.Comment{}, unauthorized()
	}
	body, err := validateCommentBody(input.Body)
	if err != nil {
		return store.Comment{}, err
	}
	scope, _, err := s.loadIssue(ctx, id, issueID)
	if err != nil {
		return store.Comment{}, err
	}

	now := s.now().UTC()
	comment := store.Comment{
		ID:        util.NewID("cmt"),
		IssueID:   scope.ID,
		AuthorID:  id.UserID,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, storeError(err, "Issue not found", "")
	}

	s.ledger.Log(ctx, activity.ActionCommentAdded, scope.ID, id.UserID, nil)
	s.fanout.CommentAdded(ctx, issueRef(scope), id.UserID, scope.ReporterID, scope.AssigneeID)
	s.invalidate(ctx, views.IssuePath(scope.WorkspaceSlug, scope.Key))
	return comment, nil
}

// UpdateComment lets authors edit their own comments only.
func (s *Service) UpdateComment(ctx context.Context, id auth.Identity, commentID string, input CommentInput) (store.Comment, error) {
	if id.UserID == "" {
		return store.Comment{}, unauthorized()
	}
	body, err := validateCommentBody(input.Body)
	if err != nil {
		return store.Comment{}, err
	}
	comment, scope, _, err := s.loadComment(ctx, id, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.AuthorID != id.UserID {
		return store.Comment{}, forbidden("You can only edit your own comments")
	}

	updated, err := s.store.UpdateComment(ctx, comment.ID, body)
	if err != nil {
		return store.Comment{}, storeError(err, "Comment not found", "")
	}
	s.ledger.Log(ctx, activity.ActionCommentUpdated, scope.ID, id.UserID, nil)
	s.invalidate(ctx, views.IssuePath(scope.WorkspaceSlug, scope.Key))
	return updated, nil
}

// DeleteComment allows the author, or an owner/admin for anyone's comment.
func (s *Service) DeleteComment(ctx context.Context, id auth.Identity, commentID string) error {
	comment, scope, access, err := s.loadComment(ctx, id, commentID)
	if err != nil {
		return err
	}
	if comment.AuthorID != id.UserID && !access.IsElevated() {
		return forbidden("Only admins can delete other people's comments")
	}
	if err := s.store.DeleteComment(ctx, comment.ID); err != nil {
		return storeError(err, "Comment not found", "")
	}
	s.ledger.Log(ctx, activity.ActionCommentDeleted, scope.ID, id.UserID, nil)
	s.invalidate(ctx, views.IssuePath(scope.WorkspaceSlug, scope.Key))
	return nil
}
