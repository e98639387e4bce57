package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/blob"
	"taskhub/api/internal/effects"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/views"
)

type dataStore interface {
	rbac.MembershipLookup

	EnsureUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateWorkspace(context.Context, store.Workspace) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	IsMemberByEmail(context.Context, string, string) (bool, error)
	DeleteMembership(context.Context, string, string) (bool, error)
	CreateProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	DeleteProject(context.Context, string) error
	NextIssueNumber(context.Context, string) (int, error)

	InsertIssue(context.Context, store.Issue) error
	GetIssueScope(context.Context, string) (store.IssueScope, error)
	FindIssueScopes(context.Context, []string) ([]store.IssueScope, error)
	ListBoard(context.Context, string) ([]store.Issue, error)
	MaxOrder(context.Context, string, string) (float64, bool, error)
	ColumnOrders(context.Context, string, string, string) ([]float64, error)
	UpdateIssue(context.Context, string, store.IssueUpdate) (store.Issue, error)
	BulkUpdateIssues(context.Context, []string, store.IssueUpdate) (int, error)
	DeleteIssues(context.Context, []string) (int, error)

	CreateInvitation(context.Context, store.Invitation) error
	GetInvitation(context.Context, string) (store.Invitation, error)
	GetInvitationByToken(context.Context, string) (store.Invitation, error)
	HasPendingInvitation(context.Context, string, string) (bool, error)
	ListPendingInvitations(context.Context, string) ([]store.Invitation, error)
	TransitionInvitation(context.Context, string, string, string) (bool, error)
	AcceptInvitation(context.Context, store.Invitation, store.Membership) error
	DeletePendingInvitation(context.Context, string) (bool, error)

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	UpdateComment(context.Context, string, string) (store.Comment, error)
	DeleteComment(context.Context, string) error

	InsertAttachment(context.Context, store.Attachment) error
	GetAttachment(context.Context, string) (store.Attachment, error)
	DeleteAttachment(context.Context, string) error

	CreateSavedFilter(context.Context, store.SavedFilter) error
	GetSavedFilter(context.Context, string) (store.SavedFilter, error)
	UpdateSavedFilter(context.Context, store.SavedFilter) (store.SavedFilter, error)
	DeleteSavedFilter(context.Context, string) error

	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) (bool, error)
	MarkAllNotificationsRead(context.Context, string) (int, error)

	Ping(ctx context.Context) error
}

type issueSearcher interface {
	Search(q search.Query) search.Response
}

// Options wires the collaborators a Service uses besides its store. Only
// Dispatcher is required.
type Options struct {
	Dispatcher effects.Dispatcher
	Views      views.Cache
	Search     issueSearcher
	Blobs      blob.Store
	BaseURL    string
	Now        func() time.Time
}

type Service struct {
	store   dataStore
	gate    *rbac.Gate
	ledger  *activity.Ledger
	fanout  *notify.Fanout
	effects effects.Dispatcher
	views   views.Cache
	search  issueSearcher
	blobs   blob.Store
	baseURL string
	now     func() time.Time
}

func New(dataStore dataStore, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cache := opts.Views
	if cache == nil {
		cache = views.Noop{}
	}
	blobs := opts.Blobs
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	return &Service{
		store:   dataStore,
		gate:    rbac.NewGate(dataStore),
		ledger:  activity.NewLedger(opts.Dispatcher, now),
		fanout:  notify.NewFanout(opts.Dispatcher, now),
		effects: opts.Dispatcher,
		views:   cache,
		search:  opts.Search,
		blobs:   blobs,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		now:     now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Identify mirrors the caller into the users table so memberships and
// foreign keys can reference them.
func (s *Service) Identify(ctx context.Context, id auth.Identity) (auth.Identity, error) {
	if id.UserID == "" {
		return auth.Identity{}, unauthorized()
	}
	user, err := s.store.EnsureUser(ctx, store.User{ID: id.UserID, Email: id.Email, Name: id.Name})
	if err != nil {
		return auth.Identity{}, internal(err)
	}
	return auth.Identity{UserID: user.ID, Email: user.Email, Name: user.Name}, nil
}

// resolve is the single entry point for access decisions.
func (s *Service) resolve(ctx context.Context, userID, workspaceID, ownerID string) (rbac.Access, error) {
	if userID == "" {
		return rbac.None, unauthorized()
	}
	access, err := s.gate.Resolve(ctx, userID, workspaceID, ownerID)
	if err != nil {
		return rbac.None, internal(err)
	}
	return access, nil
}

func (s *Service) requireAccess(ctx context.Context, id auth.Identity, workspaceID, ownerID string) (rbac.Access, error) {
	access, err := s.resolve(ctx, id.UserID, workspaceID, ownerID)
	if err != nil {
		return access, err
	}
	if !access.HasAccess() {
		return access, forbidden("You do not have access to this workspace")
	}
	return access, nil
}

func (s *Service) requireElevated(ctx context.Context, id auth.Identity, workspaceID, ownerID string) error {
	access, err := s.resolve(ctx, id.UserID, workspaceID, ownerID)
	if err != nil {
		return err
	}
	if !access.IsElevated() {
		return forbidden("Only workspace owners and admins can do this")
	}
	return nil
}

// loadProject fetches a project with its workspace.
func (s *Service) loadProject(ctx context.Context, projectID string) (store.Project, store.Workspace, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, store.Workspace{}, storeError(err, "Project not found", "")
	}
	workspace, err := s.store.GetWorkspace(ctx, project.WorkspaceID)
	if err != nil {
		return store.Project{}, store.Workspace{}, storeError(err, "Workspace not found", "")
	}
	return project, workspace, nil
}

func (s *Service) loadIssue(ctx context.Context, id auth.Identity, issueID string) (store.IssueScope, rbac.Access, error) {
	if id.UserID == "" {
		return store.IssueScope{}, rbac.None, unauthorized()
	}
	scope, err := s.store.GetIssueScope(ctx, issueID)
	if err != nil {
		return store.IssueScope{}, rbac.None, storeError(err, "Issue not found", "")
	}
	access, err := s.requireAccess(ctx, id, scope.WorkspaceID, scope.WorkspaceOwnerID)
	if err != nil {
		return store.IssueScope{}, rbac.None, err
	}
	return scope, access, nil
}

func issueRef(scope store.IssueScope) notify.IssueRef {
	return notify.IssueRef{
		ID:            scope.ID,
		Key:           scope.Key,
		Title:         scope.Title,
		WorkspaceSlug: scope.WorkspaceSlug,
	}
}

func issuePaths(scopes ...store.IssueScope) []string {
	paths := make([]string, 0, len(scopes)*2)
	for _, scope := range scopes {
		paths = append(paths,
			views.BoardPath(scope.WorkspaceSlug, scope.ProjectKey),
			views.IssuePath(scope.WorkspaceSlug, scope.Key),
		)
	}
	return views.Distinct(paths)
}

func (s *Service) invalidate(ctx context.Context, paths ...string) {
	s.views.Invalidate(ctx, views.Distinct(paths)...)
}

func searchRecord(scope store.IssueScope) search.IssueRecord {
	return search.IssueRecord{
		ID:          scope.ID,
		Key:         scope.Key,
		Title:       scope.Title,
		Description: scope.Description,
		Status:      scope.Status,
		Priority:    scope.Priority,
		ProjectID:   scope.ProjectID,
		WorkspaceID: scope.WorkspaceID,
	}
}

func (s *Service) reindex(ctx context.Context, scopes ...store.IssueScope) {
	if len(scopes) == 0 {
		return
	}
	records := make([]search.IssueRecord, 0, len(scopes))
	for _, scope := range scopes {
		records = append(records, searchRecord(scope))
	}
	s.effects.Dispatch(ctx, search.JobIndex, records)
}

// Field is a patch value that distinguishes "absent" from an explicit null.
type Field[T any] struct {
	Set   bool
	Value *T
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if string(data) == "null" {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
