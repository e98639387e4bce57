package app

import (
	"context"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
)

const maxBulkIssues = 200

type BulkResult struct {
	Count int `json:"count"`
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateBulkIDs(ids []string) ([]string, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, validation("Select at least one issue")
	}
	if len(ids) > maxBulkIssues {
		return nil, validation("Too many issues selected")
	}
	return ids, nil
}

// validateBulkAccess loads every issue in one read and authorizes the whole
// set. Existence is checked before access, and a single inaccessible issue
// rejects the request without touching any of them.
func (s *Service) validateBulkAccess(ctx context.Context, id auth.Identity, ids []string) ([]store.IssueScope, error) {
	scopes, err := s.store.FindIssueScopes(ctx, ids)
	if err != nil {
		return nil, internal(err)
	}
	if len(scopes) < len(ids) {
		return nil, notFound("Some issues were not found")
	}

	checked := make(map[string]bool)
	for _, scope := range scopes {
		allowed, ok := checked[scope.WorkspaceID]
		if !ok {
			access, err := s.resolve(ctx, id.UserID, scope.WorkspaceID, scope.WorkspaceOwnerID)
			if err != nil {
				return nil, err
			}
			allowed = access.HasAccess()
			checked[scope.WorkspaceID] = allowed
		}
		if !allowed {
			return nil, forbidden("You do not have access to one or more of the selected issues")
		}
	}
	return scopes, nil
}

// bulkUpdate runs the batched write and then writes exactly one audit row per
// issue from its pre-update snapshot. The write and the audit rows are not one
// transaction.
func (s *Service) bulkUpdate(ctx context.Context, id auth.Identity, scopes []store.IssueScope, ids []string, update store.IssueUpdate, apply func(*store.Issue), record func(before, after store.Issue) activity.Entry) (BulkResult, error) {
	count, err := s.store.BulkUpdateIssues(ctx, ids, update)
	if err != nil {
		return BulkResult{}, internal(err)
	}

	updated := make([]store.IssueScope, 0, len(scopes))
	for _, before := range scopes {
		after := before
		apply(&after.Issue)
		entry := record(before.Issue, after.Issue)
		s.ledger.Log(ctx, entry.Action, before.ID, id.UserID, entry.Metadata)
		updated = append(updated, after)
	}
	s.invalidate(ctx, issuePaths(scopes...)...)
	s.reindex(ctx, updated...)
	return BulkResult{Count: count}, nil
}

func (s *Service) BulkUpdateStatus(ctx context.Context, id auth.Identity, issueIDs []string, status string) (BulkResult, error) {
	if id.UserID == "" {
		return BulkResult{}, unauthorized()
	}
	if !validStatus(status) {
		return BulkResult{}, validation("Invalid status")
	}
	ids, err := validateBulkIDs(issueIDs)
	if err != nil {
		return BulkResult{}, err
	}
	scopes, err := s.validateBulkAccess(ctx, id, ids)
	if err != nil {
		return BulkResult{}, err
	}
	return s.bulkUpdate(ctx, id, scopes, ids, store.IssueUpdate{Status: &status}, func(issue *store.Issue) {
		issue.Status = status
	}, func(before, after store.Issue) activity.Entry {
		return activity.Bulk(activity.ActionStatusChanged, "status", &before.Status, &after.Status)
	})
}

// BulkAssign sets or, with a nil assigneeID, clears the assignee.
func (s *Service) BulkAssign(ctx context.Context, id auth.Identity, issueIDs []string, assigneeID *string) (BulkResult, error) {
	if id.UserID == "" {
		return BulkResult{}, unauthorized()
	}
	if assigneeID != nil && *assigneeID == "" {
		assigneeID = nil
	}
	ids, err := validateBulkIDs(issueIDs)
	if err != nil {
		return BulkResult{}, err
	}
	scopes, err := s.validateBulkAccess(ctx, id, ids)
	if err != nil {
		return BulkResult{}, err
	}

	update := store.IssueUpdate{ClearAssignee: assigneeID == nil, AssigneeID: assigneeID}
	if assigneeID != nil {
		checked := make(map[string]struct{})
		for _, scope := range scopes {
			if _, ok := checked[scope.WorkspaceID]; ok {
				continue
			}
			checked[scope.WorkspaceID] = struct{}{}
			if err := s.requireAssignable(ctx, *assigneeID, scope.WorkspaceID, scope.WorkspaceOwnerID); err != nil {
				return BulkResult{}, err
			}
		}
	}
	return s.bulkUpdate(ctx, id, scopes, ids, update, func(issue *store.Issue) {
		if assigneeID == nil {
			issue.AssigneeID = nil
			return
		}
		issue.AssigneeID = ptr(*assigneeID)
	}, func(before, after store.Issue) activity.Entry {
		return activity.Bulk(activity.ActionAssigned, "assigneeId", before.AssigneeID, after.AssigneeID)
	})
}

func (s *Service) BulkUpdatePriority(ctx context.Context, id auth.Identity, issueIDs []string, priority string) (BulkResult, error) {
	if id.UserID == "" {
		return BulkResult{}, unauthorized()
	}
	if !validPriority(priority) {
		return BulkResult{}, validation("Invalid priority")
	}
	ids, err := validateBulkIDs(issueIDs)
	if err != nil {
		return BulkResult{}, err
	}
	scopes, err := s.validateBulkAccess(ctx, id, ids)
	if err != nil {
		return BulkResult{}, err
	}
	return s.bulkUpdate(ctx, id, scopes, ids, store.IssueUpdate{Priority: &priority}, func(issue *store.Issue) {
		issue.Priority = priority
	}, func(before, after store.Issue) activity.Entry {
		return activity.Bulk(activity.ActionPriorityChanged, "priority", &before.Priority, &after.Priority)
	})
}

// BulkDelete removes the issues in one statement. Deleted issues take their
// audit trail with them, so nothing is logged.
func (s *Service) BulkDelete(ctx context.Context, id auth.Identity, issueIDs []string) (BulkResult, error) {
	if id.UserID == "" {
		return BulkResult{}, unauthorized()
	}
	ids, err := validateBulkIDs(issueIDs)
	if err != nil {
		return BulkResult{}, err
	}
	scopes, err := s.validateBulkAccess(ctx, id, ids)
	if err != nil {
		return BulkResult{}, err
	}
	count, err := s.store.DeleteIssues(ctx, ids)
	if err != nil {
		return BulkResult{}, internal(err)
	}
	s.effects.Dispatch(ctx, search.JobDelete, ids)
	s.invalidate(ctx, issuePaths(scopes...)...)
	return BulkResult{Count: count}, nil
}
