package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taskhub/api/internal/store"
)

// fakeStore is an in-memory dataStore. It also persists activity and
// notification jobs so tests can observe side effects.
type fakeStore struct {
	mu sync.Mutex

	users         map[string]store.User
	workspaces    map[string]store.Workspace
	memberships   map[string]store.Membership
	projects      map[string]store.Project
	issues        map[string]store.Issue
	invitations   map[string]store.Invitation
	comments      map[string]store.Comment
	attachments   map[string]store.Attachment
	filters       map[string]store.SavedFilter
	activities    []store.Activity
	notifications []store.Notification

	bulkUpdateCalls int
	deleteCalls     int

	membershipRoleFn     func(context.Context, string, string) (string, bool, error)
	insertActivityFn     func(context.Context, store.Activity) error
	insertNotificationFn func(context.Context, store.Notification) error
	insertAttachmentFn   func(context.Context, store.Attachment) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		workspaces:  make(map[string]store.Workspace),
		memberships: make(map[string]store.Membership),
		projects:    make(map[string]store.Project),
		issues:      make(map[string]store.Issue),
		invitations: make(map[string]store.Invitation),
		comments:    make(map[string]store.Comment),
		attachments: make(map[string]store.Attachment),
		filters:     make(map[string]store.SavedFilter),
	}
}

func membershipKey(workspaceID, userID string) string {
	return workspaceID + "|" + userID
}

func notFoundErr(op string) error {
	return fmt.Errorf("%s: %w", op, store.ErrNotFound)
}

func conflictErr(op string) error {
	return fmt.Errorf("%s: %w", op, store.ErrConflict)
}

// seeding helpers

func (f *fakeStore) addUser(id, email string) {
	f.users[id] = store.User{ID: id, Email: email, Name: strings.Split(email, "@")[0]}
}

func (f *fakeStore) addWorkspace(id, slug, ownerID string) store.Workspace {
	ws := store.Workspace{ID: id, Name: strings.ToUpper(slug[:1]) + slug[1:], Slug: slug, OwnerID: ownerID}
	f.workspaces[id] = ws
	return ws
}

func (f *fakeStore) addMember(workspaceID, userID, role string) {
	f.memberships[membershipKey(workspaceID, userID)] = store.Membership{
		ID: "mem_" + userID, WorkspaceID: workspaceID, UserID: userID, Role: role,
	}
}

func (f *fakeStore) addProject(id, workspaceID, key string) store.Project {
	p := store.Project{ID: id, WorkspaceID: workspaceID, Key: key, Name: key}
	f.projects[id] = p
	return p
}

func (f *fakeStore) addIssue(issue store.Issue) store.Issue {
	if issue.Status == "" {
		issue.Status = StatusTodo
	}
	if issue.Priority == "" {
		issue.Priority = "MEDIUM"
	}
	if issue.Type == "" {
		issue.Type = "TASK"
	}
	if issue.Key == "" {
		issue.Key = f.projects[issue.ProjectID].Key + "-" + strings.TrimPrefix(issue.ID, "iss_")
	}
	f.issues[issue.ID] = issue
	return issue
}

func (f *fakeStore) activitiesFor(issueID string) []store.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Activity
	for _, a := range f.activities {
		if a.IssueID == issueID {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeStore) notificationsFor(userID string) []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// activity / notification sinks

func (f *fakeStore) InsertActivity(ctx context.Context, entry store.Activity) error {
	if f.insertActivityFn != nil {
		if err := f.insertActivityFn(ctx, entry); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, entry)
	return nil
}

func (f *fakeStore) InsertNotification(ctx context.Context, n store.Notification) error {
	if f.insertNotificationFn != nil {
		if err := f.insertNotificationFn(ctx, n); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

// dataStore

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) MembershipRole(ctx context.Context, workspaceID, userID string) (string, bool, error) {
	if f.membershipRoleFn != nil {
		return f.membershipRoleFn(ctx, workspaceID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[membershipKey(workspaceID, userID)]
	return m.Role, ok, nil
}

func (f *fakeStore) EnsureUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[user.ID]; ok && user.Name == "" {
		user.Name = existing.Name
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, notFoundErr("get user")
	}
	return u, nil
}

func (f *fakeStore) CreateWorkspace(_ context.Context, ws store.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.workspaces {
		if existing.Slug == ws.Slug {
			return conflictErr("create workspace")
		}
	}
	f.workspaces[ws.ID] = ws
	return nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, workspaceID string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, notFoundErr("get workspace")
	}
	return ws, nil
}

func (f *fakeStore) IsMemberByEmail(_ context.Context, workspaceID, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.WorkspaceID == workspaceID && strings.EqualFold(f.users[m.UserID].Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteMembership(_ context.Context, workspaceID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := membershipKey(workspaceID, userID)
	if _, ok := f.memberships[key]; !ok {
		return false, nil
	}
	delete(f.memberships, key)
	return true, nil
}

func (f *fakeStore) CreateProject(_ context.Context, p store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.projects {
		if existing.WorkspaceID == p.WorkspaceID && existing.Key == p.Key {
			return conflictErr("create project")
		}
	}
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, notFoundErr("get project")
	}
	return p, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return notFoundErr("delete project")
	}
	delete(f.projects, projectID)
	for id, issue := range f.issues {
		if issue.ProjectID == projectID {
			delete(f.issues, id)
		}
	}
	return nil
}

func (f *fakeStore) NextIssueNumber(_ context.Context, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return 0, notFoundErr("next issue number")
	}
	p.IssueCounter++
	f.projects[projectID] = p
	return p.IssueCounter, nil
}

func (f *fakeStore) InsertIssue(_ context.Context, issue store.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues[issue.ID] = issue
	return nil
}

func (f *fakeStore) scope(issue store.Issue) store.IssueScope {
	p := f.projects[issue.ProjectID]
	ws := f.workspaces[p.WorkspaceID]
	return store.IssueScope{
		Issue:            issue,
		ProjectKey:       p.Key,
		WorkspaceID:      ws.ID,
		WorkspaceSlug:    ws.Slug,
		WorkspaceOwnerID: ws.OwnerID,
	}
}

func (f *fakeStore) GetIssueScope(_ context.Context, issueID string) (store.IssueScope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return store.IssueScope{}, notFoundErr("get issue")
	}
	return f.scope(issue), nil
}

func (f *fakeStore) FindIssueScopes(_ context.Context, ids []string) ([]store.IssueScope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.IssueScope
	for _, id := range ids {
		if issue, ok := f.issues[id]; ok {
			out = append(out, f.scope(issue))
		}
	}
	return out, nil
}

func (f *fakeStore) ListBoard(_ context.Context, projectID string) ([]store.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Issue
	for _, issue := range f.issues {
		if issue.ProjectID == projectID {
			out = append(out, issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (f *fakeStore) MaxOrder(_ context.Context, projectID, status string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max, found := 0.0, false
	for _, issue := range f.issues {
		if issue.ProjectID != projectID || issue.Status != status {
			continue
		}
		if !found || issue.Order > max {
			max, found = issue.Order, true
		}
	}
	return max, found, nil
}

func (f *fakeStore) ColumnOrders(_ context.Context, projectID, status, excludeID string) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []float64
	for _, issue := range f.issues {
		if issue.ProjectID == projectID && issue.Status == status && issue.ID != excludeID {
			orders = append(orders, issue.Order)
		}
	}
	sort.Float64s(orders)
	return orders, nil
}

func applyUpdate(issue store.Issue, update store.IssueUpdate, now time.Time) store.Issue {
	if update.Title != nil {
		issue.Title = *update.Title
	}
	if update.Description != nil {
		issue.Description = *update.Description
	}
	if update.Status != nil {
		issue.Status = *update.Status
	}
	if update.Priority != nil {
		issue.Priority = *update.Priority
	}
	if update.Type != nil {
		issue.Type = *update.Type
	}
	if update.Order != nil {
		issue.Order = *update.Order
	}
	if update.ClearAssignee {
		issue.AssigneeID = nil
	} else if update.AssigneeID != nil {
		v := *update.AssigneeID
		issue.AssigneeID = &v
	}
	issue.UpdatedAt = now
	return issue
}

func (f *fakeStore) UpdateIssue(_ context.Context, issueID string, update store.IssueUpdate) (store.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return store.Issue{}, notFoundErr("update issue")
	}
	issue = applyUpdate(issue, update, time.Now())
	f.issues[issueID] = issue
	return issue, nil
}

func (f *fakeStore) BulkUpdateIssues(_ context.Context, ids []string, update store.IssueUpdate) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkUpdateCalls++
	n := 0
	for _, id := range ids {
		if issue, ok := f.issues[id]; ok {
			f.issues[id] = applyUpdate(issue, update, time.Now())
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteIssues(_ context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	n := 0
	for _, id := range ids {
		if _, ok := f.issues[id]; ok {
			delete(f.issues, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateInvitation(_ context.Context, inv store.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invitations[inv.ID] = inv
	return nil
}

func (f *fakeStore) GetInvitation(_ context.Context, invitationID string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[invitationID]
	if !ok {
		return store.Invitation{}, notFoundErr("get invitation")
	}
	return inv, nil
}

func (f *fakeStore) GetInvitationByToken(_ context.Context, token string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Token == token {
			return inv, nil
		}
	}
	return store.Invitation{}, notFoundErr("get invitation by token")
}

func (f *fakeStore) HasPendingInvitation(_ context.Context, workspaceID, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.WorkspaceID == workspaceID && inv.Status == InvitationPending && strings.EqualFold(inv.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListPendingInvitations(_ context.Context, workspaceID string) ([]store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Invitation
	for _, inv := range f.invitations {
		if inv.WorkspaceID == workspaceID && inv.Status == InvitationPending {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionInvitation(_ context.Context, invitationID, from, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[invitationID]
	if !ok || inv.Status != from {
		return false, nil
	}
	inv.Status = to
	f.invitations[invitationID] = inv
	return true, nil
}

func (f *fakeStore) AcceptInvitation(_ context.Context, inv store.Invitation, membership store.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.invitations[inv.ID]
	if !ok || current.Status != InvitationPending {
		return conflictErr("accept invitation")
	}
	key := membershipKey(membership.WorkspaceID, membership.UserID)
	if _, exists := f.memberships[key]; exists {
		return conflictErr("insert membership")
	}
	current.Status = InvitationAccepted
	f.invitations[inv.ID] = current
	f.memberships[key] = membership
	return nil
}

func (f *fakeStore) DeletePendingInvitation(_ context.Context, invitationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[invitationID]
	if !ok || inv.Status != InvitationPending {
		return false, nil
	}
	delete(f.invitations, invitationID)
	return true, nil
}

func (f *fakeStore) InsertComment(_ context.Context, c store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[c.ID] = c
	return nil
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, notFoundErr("get comment")
	}
	return c, nil
}

func (f *fakeStore) UpdateComment(_ context.Context, commentID, body string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, notFoundErr("update comment")
	}
	c.Body = body
	f.comments[commentID] = c
	return c, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.comments, commentID)
	return nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, a store.Attachment) error {
	if f.insertAttachmentFn != nil {
		if err := f.insertAttachmentFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments[a.ID] = a
	return nil
}

func (f *fakeStore) GetAttachment(_ context.Context, attachmentID string) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attachments[attachmentID]
	if !ok {
		return store.Attachment{}, notFoundErr("get attachment")
	}
	return a, nil
}

func (f *fakeStore) DeleteAttachment(_ context.Context, attachmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.attachments, attachmentID)
	return nil
}

func (f *fakeStore) saveFilter(filter store.SavedFilter) error {
	for _, existing := range f.filters {
		if existing.ID == filter.ID || existing.ProjectID != filter.ProjectID || existing.UserID != filter.UserID {
			continue
		}
		if existing.Name == filter.Name {
			return conflictErr("save filter")
		}
	}
	if filter.IsDefault {
		for id, existing := range f.filters {
			if id != filter.ID && existing.ProjectID == filter.ProjectID && existing.UserID == filter.UserID {
				existing.IsDefault = false
				f.filters[id] = existing
			}
		}
	}
	f.filters[filter.ID] = filter
	return nil
}

func (f *fakeStore) CreateSavedFilter(_ context.Context, filter store.SavedFilter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveFilter(filter)
}

func (f *fakeStore) GetSavedFilter(_ context.Context, filterID string) (store.SavedFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	filter, ok := f.filters[filterID]
	if !ok {
		return store.SavedFilter{}, notFoundErr("get saved filter")
	}
	return filter, nil
}

func (f *fakeStore) UpdateSavedFilter(_ context.Context, filter store.SavedFilter) (store.SavedFilter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.filters[filter.ID]; !ok {
		return store.SavedFilter{}, notFoundErr("update saved filter")
	}
	if err := f.saveFilter(filter); err != nil {
		return store.SavedFilter{}, err
	}
	return filter, nil
}

func (f *fakeStore) DeleteSavedFilter(_ context.Context, filterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.filters, filterID)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID string, limit int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Notification
	for _, n := range f.notifications {
		if n.UserID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, notificationID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.notifications {
		if n.ID == notificationID && n.UserID == userID {
			f.notifications[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for i, n := range f.notifications {
		if n.UserID == userID && !n.IsRead {
			f.notifications[i].IsRead = true
			count++
		}
	}
	return count, nil
}
