package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/ordering"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/views"
)

const (
	StatusBacklog    = "BACKLOG"
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusInReview   = "IN_REVIEW"
	StatusDone       = "DONE"
	StatusCancelled  = "CANCELLED"
)

// boardStatuses is also the column order of a board.
var boardStatuses = []string{StatusBacklog, StatusTodo, StatusInProgress, StatusInReview, StatusDone, StatusCancelled}

var allowedPriorities = map[string]struct{}{
	"URGENT": {},
	"HIGH":   {},
	"MEDIUM": {},
	"LOW":    {},
	"NONE":   {},
}

var allowedTypes = map[string]struct{}{
	"TASK":  {},
	"BUG":   {},
	"STORY": {},
	"EPIC":  {},
}

func validStatus(status string) bool {
	for _, candidate := range boardStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func validPriority(priority string) bool {
	_, ok := allowedPriorities[priority]
	return ok
}

func validType(issueType string) bool {
	_, ok := allowedTypes[issueType]
	return ok
}

type CreateIssueInput struct {
	ProjectID   string  `json:"projectId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	AssigneeID  *string `json:"assigneeId"`
	ParentID    *string `json:"parentId"`
}

type UpdateIssueInput struct {
	Title       *string       `json:"title"`
	Description *string       `json:"description"`
	Status      *string       `json:"status"`
	Priority    *string       `json:"priority"`
	Type        *string       `json:"type"`
	AssigneeID  Field[string] `json:"assigneeId"`
}

type BoardColumn struct {
	Status string        `json:"status"`
	Issues []store.Issue `json:"issues"`
}

type Board struct {
	ProjectID string        `json:"projectId"`
	Key       string        `json:"key"`
	Columns   []BoardColumn `json:"columns"`
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validation("Title is required")
	}
	if len(title) > 255 {
		return "", validation("Title must be at most 255 characters")
	}
	return title, nil
}

func (in *CreateIssueInput) normalize() error {
	title, err := validateTitle(in.Title)
	if err != nil {
		return err
	}
	in.Title = title
	if in.Type == "" {
		in.Type = "TASK"
	}
	if in.Priority == "" {
		in.Priority = "MEDIUM"
	}
	if in.Status == "" {
		in.Status = StatusBacklog
	}
	switch {
	case !validType(in.Type):
		return validation("Invalid issue type")
	case !validPriority(in.Priority):
		return validation("Invalid priority")
	case !validStatus(in.Status):
		return validation("Invalid status")
	}
	if in.AssigneeID != nil && *in.AssigneeID == "" {
		in.AssigneeID = nil
	}
	if in.ParentID != nil && *in.ParentID == "" {
		in.ParentID = nil
	}
	return nil
}

func (in UpdateIssueInput) validate() error {
	if in.Title != nil {
		if _, err := validateTitle(*in.Title); err != nil {
			return err
		}
	}
	switch {
	case in.Status != nil && !validStatus(*in.Status):
		return validation("Invalid status")
	case in.Priority != nil && !validPriority(*in.Priority):
		return validation("Invalid priority")
	case in.Type != nil && !validType(*in.Type):
		return validation("Invalid issue type")
	}
	return nil
}

// requireAssignable checks that assigneeID can see the workspace.
func (s *Service) requireAssignable(ctx context.Context, assigneeID, workspaceID, ownerID string) error {
	access, err := s.resolve(ctx, assigneeID, workspaceID, ownerID)
	if err != nil {
		return err
	}
	if !access.HasAccess() {
		return validation("Assignee is not a member of this workspace")
	}
	return nil
}

func (s *Service) CreateIssue(ctx context.Context, id auth.Identity, input CreateIssueInput) (store.Issue, error) {
	if id.UserID == "" {
		return store.Issue{}, unauthorized()
	}
	if err := input.normalize(); err != nil {
		return store.Issue{}, err
	}

	project, ws, err := s.loadProject(ctx, input.ProjectID)
	if err != nil {
		return store.Issue{}, err
	}
	if _, err := s.requireAccess(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return store.Issue{}, err
	}
	if input.ParentID != nil {
		parent, err := s.store.GetIssueScope(ctx, *input.ParentID)
		if err != nil {
			return store.Issue{}, storeError(err, "Parent issue not found", "")
		}
		if parent.ProjectID != project.ID {
			return store.Issue{}, validation("A subtask must belong to its parent's project")
		}
		if parent.ParentID != nil {
			return store.Issue{}, validation("Subtasks cannot have their own subtasks")
		}
	}
	if input.AssigneeID != nil {
		if err := s.requireAssignable(ctx, *input.AssigneeID, ws.ID, ws.OwnerID); err != nil {
			return store.Issue{}, err
		}
	}

	number, err := s.store.NextIssueNumber(ctx, project.ID)
	if err != nil {
		return store.Issue{}, storeError(err, "Project not found", "")
	}
	max, found, err := s.store.MaxOrder(ctx, project.ID, input.Status)
	if err != nil {
		return store.Issue{}, internal(err)
	}

	now := s.now().UTC()
	issue := store.Issue{
		ID:          util.NewID("iss"),
		ProjectID:   project.ID,
		Key:         fmt.Sprintf("%s-%d", project.Key, number),
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		Priority:    input.Priority,
		Type:        input.Type,
		Order:       ordering.Append(max, !found),
		AssigneeID:  input.AssigneeID,
		ReporterID:  id.UserID,
		ParentID:    input.ParentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertIssue(ctx, issue); err != nil {
		return store.Issue{}, storeError(err, "", "Issue key already exists")
	}

	scope := store.IssueScope{
		Issue:            issue,
		ProjectKey:       project.Key,
		WorkspaceID:      ws.ID,
		WorkspaceSlug:    ws.Slug,
		WorkspaceOwnerID: ws.OwnerID,
	}
	s.ledger.Log(ctx, activity.ActionCreated, issue.ID, id.UserID, nil)
	if issue.AssigneeID != nil {
		s.fanout.Assigned(ctx, issueRef(scope), *issue.AssigneeID, id.UserID)
	}
	s.invalidate(ctx, views.BoardPath(ws.Slug, project.Key))
	s.reindex(ctx, scope)
	return issue, nil
}

// CreateSubtask creates an issue under parentID in the parent's project.
func (s *Service) CreateSubtask(ctx context.Context, id auth.Identity, parentID string, input CreateIssueInput) (store.Issue, error) {
	if id.UserID == "" {
		return store.Issue{}, unauthorized()
	}
	if _, err := validateTitle(input.Title); err != nil {
		return store.Issue{}, err
	}
	parent, _, err := s.loadIssue(ctx, id, parentID)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return store.Issue{}, notFound("Parent issue not found")
		}
		return store.Issue{}, err
	}
	if parent.ParentID != nil {
		return store.Issue{}, validation("Subtasks cannot have their own subtasks")
	}
	input.ProjectID = parent.ProjectID
	input.ParentID = &parent.ID
	return s.CreateIssue(ctx, id, input)
}

func (s *Service) UpdateIssue(ctx context.Context, id auth.Identity, issueID string, input UpdateIssueInput) (store.Issue, error) {
	if id.UserID == "" {
		return store.Issue{}, unauthorized()
	}
	if err := input.validate(); err != nil {
		return store.Issue{}, err
	}

	before, _, err := s.loadIssue(ctx, id, issueID)
	if err != nil {
		return store.Issue{}, err
	}

	update := store.IssueUpdate{
		Description: input.Description,
		Priority:    input.Priority,
		Type:        input.Type,
	}
	if input.Title != nil {
		update.Title = ptr(strings.TrimSpace(*input.Title))
	}
	if input.AssigneeID.Set {
		if input.AssigneeID.Value == nil || *input.AssigneeID.Value == "" {
			update.ClearAssignee = true
		} else {
			if err := s.requireAssignable(ctx, *input.AssigneeID.Value, before.WorkspaceID, before.WorkspaceOwnerID); err != nil {
				return store.Issue{}, err
			}
			update.AssigneeID = input.AssigneeID.Value
		}
	}
	if input.Status != nil && *input.Status != before.Status {
		// A status change through an edit lands at the end of the new column.
		max, found, err := s.store.MaxOrder(ctx, before.ProjectID, *input.Status)
		if err != nil {
			return store.Issue{}, internal(err)
		}
		update.Status = input.Status
		update.Order = ptr(ordering.Append(max, !found))
	}

	updated, err := s.store.UpdateIssue(ctx, before.ID, update)
	if err != nil {
		return store.Issue{}, storeError(err, "Issue not found", "")
	}

	after := before
	after.Issue = updated
	s.ledger.DiffAndLog(ctx, before.Issue, updated, id.UserID)
	s.notifyTransitions(ctx, before.Issue, after, id.UserID)
	s.invalidate(ctx, issuePaths(before, after)...)
	s.reindex(ctx, after)
	return updated, nil
}

// notifyTransitions sends the assignment and completion notifications implied
// by a before/after pair.
func (s *Service) notifyTransitions(ctx context.Context, before store.Issue, after store.IssueScope, actorID string) {
	if after.AssigneeID != nil && (before.AssigneeID == nil || *before.AssigneeID != *after.AssigneeID) {
		s.fanout.Assigned(ctx, issueRef(after), *after.AssigneeID, actorID)
	}
	if after.Status == StatusDone && before.Status != StatusDone {
		s.fanout.Completed(ctx, issueRef(after), after.ReporterID, actorID)
	}
}

// MoveIssue places an issue at an explicit position in a status column.
// Concurrent moves of the same issue resolve last-write-wins.
func (s *Service) MoveIssue(ctx context.Context, id auth.Identity, issueID, status string, order float64) (store.Issue, error) {
	if id.UserID == "" {
		return store.Issue{}, unauthorized()
	}
	if !validStatus(status) {
		return store.Issue{}, validation("Invalid status")
	}
	if math.IsNaN(order) || math.IsInf(order, 0) {
		return store.Issue{}, validation("Order must be a finite number")
	}
	scope, _, err := s.loadIssue(ctx, id, issueID)
	if err != nil {
		return store.Issue{}, err
	}
	return s.move(ctx, id, scope, status, order)
}

// MoveIssueToIndex drops an issue at index within the destination column,
// counted without the issue itself.
func (s *Service) MoveIssueToIndex(ctx context.Context, id auth.Identity, issueID, status string, index int) (store.Issue, error) {
	if id.UserID == "" {
		return store.Issue{}, unauthorized()
	}
	if !validStatus(status) {
		return store.Issue{}, validation("Invalid status")
	}
	if index < 0 {
		return store.Issue{}, validation("Index must not be negative")
	}
	scope, _, err := s.loadIssue(ctx, id, issueID)
	if err != nil {
		return store.Issue{}, err
	}
	column, err := s.store.ColumnOrders(ctx, scope.ProjectID, status, scope.ID)
	if err != nil {
		return store.Issue{}, internal(err)
	}
	order, err := ordering.InsertionOrder(column, index)
	if errors.Is(err, ordering.ErrPrecisionExhausted) {
		return store.Issue{}, conflict("This column needs to be renormalized before the issue can be placed here")
	}
	if err != nil {
		return store.Issue{}, internal(err)
	}
	return s.move(ctx, id, scope, status, order)
}

func (s *Service) move(ctx context.Context, id auth.Identity, scope store.IssueScope, status string, order float64) (store.Issue, error) {
	updated, err := s.store.UpdateIssue(ctx, scope.ID, store.IssueUpdate{Status: &status, Order: &order})
	if err != nil {
		return store.Issue{}, storeError(err, "Issue not found", "")
	}

	after := scope
	after.Issue = updated
	if scope.Status != updated.Status {
		s.ledger.Log(ctx, activity.ActionStatusChanged, scope.ID, id.UserID, &store.ActivityMetadata{
			Field:    "status",
			OldValue: ptr(scope.Status),
			NewValue: ptr(updated.Status),
		})
		if updated.Status == StatusDone {
			s.fanout.Completed(ctx, issueRef(after), updated.ReporterID, id.UserID)
		}
		s.reindex(ctx, after)
	}
	s.invalidate(ctx, issuePaths(after)...)
	return updated, nil
}

// DeleteIssue removes an issue and its subtasks. Deleting a subtask leaves a
// DELETED entry on the parent's trail.
func (s *Service) DeleteIssue(ctx context.Context, id auth.Identity, issueID string) error {
	scope, _, err := s.loadIssue(ctx, id, issueID)
	if err != nil {
		return err
	}
	n, err := s.store.DeleteIssues(ctx, []string{scope.ID})
	if err != nil {
		return internal(err)
	}
	if n == 0 {
		return notFound("Issue not found")
	}

	if scope.ParentID != nil {
		s.ledger.Log(ctx, activity.ActionDeleted, *scope.ParentID, id.UserID, &store.ActivityMetadata{
			Field:    "subtask",
			OldValue: ptr(scope.Key),
		})
	}
	s.effects.Dispatch(ctx, search.JobDelete, []string{scope.ID})
	s.invalidate(ctx, issuePaths(scope)...)
	return nil
}

// GetBoard returns a project's issues grouped by status column in order. The
// rendering is cached under the board's view path.
func (s *Service) GetBoard(ctx context.Context, id auth.Identity, projectID string) (Board, error) {
	if id.UserID == "" {
		return Board{}, unauthorized()
	}
	project, ws, err := s.loadProject(ctx, projectID)
	if err != nil {
		return Board{}, err
	}
	if _, err := s.requireAccess(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return Board{}, err
	}

	path := views.BoardPath(ws.Slug, project.Key)
	if cached, ok := s.views.Get(ctx, path); ok {
		var board Board
		if err := json.Unmarshal(cached, &board); err == nil {
			return board, nil
		}
	}

	issues, err := s.store.ListBoard(ctx, project.ID)
	if err != nil {
		return Board{}, internal(err)
	}
	board := buildBoard(project, issues)
	if payload, err := json.Marshal(board); err == nil {
		s.views.Set(ctx, path, payload)
	}
	return board, nil
}

func buildBoard(project store.Project, issues []store.Issue) Board {
	columns := make(map[string][]store.Issue, len(boardStatuses))
	for _, issue := range issues {
		columns[issue.Status] = append(columns[issue.Status], issue)
	}
	board := Board{ProjectID: project.ID, Key: project.Key, Columns: make([]BoardColumn, 0, len(boardStatuses))}
	for _, status := range boardStatuses {
		column := columns[status]
		if column == nil {
			column = []store.Issue{}
		}
		board.Columns = append(board.Columns, BoardColumn{Status: status, Issues: column})
	}
	return board
}

type SearchInput struct {
	Text   string
	Status string
	Limit  int
	Offset int
}

func (s *Service) SearchIssues(ctx context.Context, id auth.Identity, projectID string, input SearchInput) (search.Response, error) {
	if id.UserID == "" {
		return search.Response{}, unauthorized()
	}
	text := strings.TrimSpace(input.Text)
	if input.Status != "" && !validStatus(input.Status) {
		return search.Response{}, validation("Invalid status")
	}
	limit := input.Limit
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	project, ws, err := s.loadProject(ctx, projectID)
	if err != nil {
		return search.Response{}, err
	}
	if _, err := s.requireAccess(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return search.Response{}, err
	}
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:      text,
		ProjectID: project.ID,
		Status:    input.Status,
		Limit:     limit,
		Offset:    offset,
	}), nil
}
