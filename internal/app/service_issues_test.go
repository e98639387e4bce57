package app

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"taskhub/api/internal/activity"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/views"
)

func actions(entries []store.Activity) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestCreateIssueAssignsKeyAndAppendsToColumn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_existing", ProjectID: "prj_acme", Status: StatusBacklog, Order: 4})

	issue, err := h.service.CreateIssue(ctx, h.identity("dev1"), CreateIssueInput{
		ProjectID:  "prj_acme",
		Title:      "  Ship the board  ",
		AssigneeID: ptr("dev2"),
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	if issue.Key != "ACME-1" {
		t.Fatalf("expected key ACME-1, got %s", issue.Key)
	}
	if issue.Title != "Ship the board" || issue.Status != StatusBacklog || issue.Priority != "MEDIUM" || issue.Type != "TASK" {
		t.Fatalf("unexpected defaults: %+v", issue)
	}
	if issue.Order != 5 {
		t.Fatalf("expected order 5 after max 4, got %v", issue.Order)
	}
	if issue.ReporterID != "dev1" {
		t.Fatalf("expected reporter dev1, got %s", issue.ReporterID)
	}

	if got := actions(h.store.activitiesFor(issue.ID)); !cmp.Equal(got, []string{activity.ActionCreated}) {
		t.Fatalf("unexpected activity: %v", got)
	}
	notes := h.store.notificationsFor("dev2")
	if len(notes) != 1 || notes[0].Type != notify.TypeIssueAssigned {
		t.Fatalf("expected one assignment notification, got %+v", notes)
	}
	if !h.views.wasInvalidated(views.BoardPath("acme", "ACME")) {
		t.Fatal("expected board view to be invalidated")
	}
	if len(h.dispatcher.kinds(search.JobIndex)) != 1 {
		t.Fatal("expected one search index job")
	}
}

func TestCreateIssueValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		user  string
		input CreateIssueInput
		kind  ErrorKind
	}{
		{name: "missing title", user: "dev1", input: CreateIssueInput{ProjectID: "prj_acme", Title: "   "}, kind: KindValidation},
		{name: "bad status", user: "dev1", input: CreateIssueInput{ProjectID: "prj_acme", Title: "x", Status: "WAITING"}, kind: KindValidation},
		{name: "bad priority", user: "dev1", input: CreateIssueInput{ProjectID: "prj_acme", Title: "x", Priority: "P0"}, kind: KindValidation},
		{name: "unknown project", user: "dev1", input: CreateIssueInput{ProjectID: "prj_missing", Title: "x"}, kind: KindNotFound},
		{name: "outsider", user: "outsider", input: CreateIssueInput{ProjectID: "prj_acme", Title: "x"}, kind: KindForbidden},
		{name: "assignee outside workspace", user: "dev1", input: CreateIssueInput{ProjectID: "prj_acme", Title: "x", AssigneeID: ptr("outsider")}, kind: KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.service.CreateIssue(ctx, h.identity(tt.user), tt.input)
			requireKind(t, err, tt.kind)
		})
	}
}

func TestCreateSubtaskRejectsNesting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_parent", ProjectID: "prj_acme", ReporterID: "dev1"})

	child, err := h.service.CreateSubtask(ctx, h.identity("dev1"), "iss_parent", CreateIssueInput{Title: "child"})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != "iss_parent" || child.ProjectID != "prj_acme" {
		t.Fatalf("subtask not linked to parent: %+v", child)
	}

	_, err = h.service.CreateSubtask(ctx, h.identity("dev1"), child.ID, CreateIssueInput{Title: "grandchild"})
	requireKind(t, err, KindValidation)

	_, err = h.service.CreateSubtask(ctx, h.identity("dev1"), "iss_missing", CreateIssueInput{Title: "orphan"})
	requireKind(t, err, KindNotFound)
}

func TestUpdateIssueToDoneWithNewAssignee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_1", ProjectID: "prj_acme", Status: StatusTodo, ReporterID: "admin"})

	updated, err := h.service.UpdateIssue(ctx, h.identity("dev1"), "iss_1", UpdateIssueInput{
		Status:     ptr(StatusDone),
		AssigneeID: Field[string]{Set: true, Value: ptr("dev2")},
	})
	if err != nil {
		t.Fatalf("update issue: %v", err)
	}
	if updated.Status != StatusDone || updated.AssigneeID == nil || *updated.AssigneeID != "dev2" {
		t.Fatalf("unexpected issue after update: %+v", updated)
	}

	got := actions(h.store.activitiesFor("iss_1"))
	want := []string{activity.ActionStatusChanged, activity.ActionAssigned}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("activity mismatch (-want +got):\n%s", diff)
	}

	assigned := h.store.notificationsFor("dev2")
	if len(assigned) != 1 || assigned[0].Type != notify.TypeIssueAssigned {
		t.Fatalf("expected assignment notification for dev2, got %+v", assigned)
	}
	completed := h.store.notificationsFor("admin")
	if len(completed) != 1 || completed[0].Type != notify.TypeIssueCompleted {
		t.Fatalf("expected completion notification for reporter, got %+v", completed)
	}
	if len(h.store.notificationsFor("dev1")) != 0 {
		t.Fatal("actor must not be notified about their own change")
	}
}

func TestUpdateIssueStatusChangeAppendsToColumn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_1", ProjectID: "prj_acme", Status: StatusTodo, Order: 0})
	h.store.addIssue(store.Issue{ID: "iss_2", ProjectID: "prj_acme", Status: StatusInProgress, Order: 7})

	updated, err := h.service.UpdateIssue(ctx, h.identity("dev1"), "iss_1", UpdateIssueInput{Status: ptr(StatusInProgress)})
	if err != nil {
		t.Fatalf("update issue: %v", err)
	}
	if updated.Order != 8 {
		t.Fatalf("expected order 8, got %v", updated.Order)
	}
}

func TestUpdateIssueClearsAssignee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_1", ProjectID: "prj_acme", AssigneeID: ptr("dev2")})

	updated, err := h.service.UpdateIssue(ctx, h.identity("dev1"), "iss_1", UpdateIssueInput{
		AssigneeID: Field[string]{Set: true},
	})
	if err != nil {
		t.Fatalf("update issue: %v", err)
	}
	if updated.AssigneeID != nil {
		t.Fatalf("expected assignee cleared, got %v", *updated.AssigneeID)
	}
	if got := actions(h.store.activitiesFor("iss_1")); !cmp.Equal(got, []string{activity.ActionAssigned}) {
		t.Fatalf("unexpected activity: %v", got)
	}
	if len(h.store.notifications) != 0 {
		t.Fatalf("clearing an assignee should not notify, got %+v", h.store.notifications)
	}
}

func TestUpdateIssueWithoutChangesWritesNoActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_1", ProjectID: "prj_acme", Title: "same"})

	if _, err := h.service.UpdateIssue(ctx, h.identity("dev1"), "iss_1", UpdateIssueInput{Title: ptr("same")}); err != nil {
		t.Fatalf("update issue: %v", err)
	}
	if got := h.store.activitiesFor("iss_1"); len(got) != 0 {
		t.Fatalf("expected no activity, got %+v", got)
	}
}

func TestMoveIssueToIndexBisectsNeighbours(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_a", ProjectID: "prj_acme", Status: StatusTodo, Order: 0})
	h.store.addIssue(store.Issue{ID: "iss_b", ProjectID: "prj_acme", Status: StatusTodo, Order: 1})
	h.store.addIssue(store.Issue{ID: "iss_c", ProjectID: "prj_acme", Status: StatusTodo, Order: 2})
	h.store.addIssue(store.Issue{ID: "iss_x", ProjectID: "prj_acme", Status: StatusBacklog, Order: 0, ReporterID: "admin"})

	moved, err := h.service.MoveIssueToIndex(ctx, h.identity("dev1"), "iss_x", StatusTodo, 1)
	if err != nil {
		t.Fatalf("move issue: %v", err)
	}
	if moved.Order != 0.5 || moved.Status != StatusTodo {
		t.Fatalf("expected TODO at 0.5, got %s at %v", moved.Status, moved.Order)
	}

	entries := h.store.activitiesFor("iss_x")
	if len(entries) != 1 || entries[0].Action != activity.ActionStatusChanged {
		t.Fatalf("expected one STATUS_CHANGED entry, got %+v", entries)
	}
	meta := entries[0].Metadata
	if meta == nil || *meta.OldValue != StatusBacklog || *meta.NewValue != StatusTodo {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	for _, id := range []string{"iss_a", "iss_b", "iss_c"} {
		if h.store.issues[id].UpdatedAt != (store.Issue{}).UpdatedAt {
			t.Fatalf("neighbour %s was rewritten", id)
		}
	}
}

func TestMoveIssueWithinColumnLogsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_a", ProjectID: "prj_acme", Status: StatusTodo, Order: 0})
	h.store.addIssue(store.Issue{ID: "iss_b", ProjectID: "prj_acme", Status: StatusTodo, Order: 1})

	moved, err := h.service.MoveIssueToIndex(ctx, h.identity("dev1"), "iss_b", StatusTodo, 0)
	if err != nil {
		t.Fatalf("move issue: %v", err)
	}
	if moved.Order != -1 {
		t.Fatalf("expected order -1 ahead of the column, got %v", moved.Order)
	}
	if got := h.store.activitiesFor("iss_b"); len(got) != 0 {
		t.Fatalf("reordering inside a column should not be audited, got %+v", got)
	}
	if !h.views.wasInvalidated(views.BoardPath("acme", "ACME")) {
		t.Fatal("expected board view to be invalidated")
	}
}

func TestMoveIssueToDoneNotifiesReporter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_1", ProjectID: "prj_acme", Status: StatusInReview, ReporterID: "dev2"})

	if _, err := h.service.MoveIssue(ctx, h.identity("dev1"), "iss_1", StatusDone, 3); err != nil {
		t.Fatalf("move issue: %v", err)
	}
	notes := h.store.notificationsFor("dev2")
	if len(notes) != 1 || notes[0].Type != notify.TypeIssueCompleted {
		t.Fatalf("expected completion notification, got %+v", notes)
	}
}

func TestMoveIssueToIndexReportsExhaustedPrecision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_a", ProjectID: "prj_acme", Status: StatusTodo, Order: 1})
	h.store.addIssue(store.Issue{ID: "iss_b", ProjectID: "prj_acme", Status: StatusTodo, Order: 1})
	h.store.addIssue(store.Issue{ID: "iss_x", ProjectID: "prj_acme", Status: StatusBacklog})

	_, err := h.service.MoveIssueToIndex(ctx, h.identity("dev1"), "iss_x", StatusTodo, 1)
	requireKind(t, err, KindConflict)
	if h.store.issues["iss_x"].Status != StatusBacklog {
		t.Fatal("issue must not move when no position is available")
	}
}

func TestMoveIssueValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_1", ProjectID: "prj_acme"})

	_, err := h.service.MoveIssue(ctx, h.identity("dev1"), "iss_1", "SHIPPED", 1)
	requireKind(t, err, KindValidation)
	_, err = h.service.MoveIssueToIndex(ctx, h.identity("dev1"), "iss_1", StatusTodo, -1)
	requireKind(t, err, KindValidation)
	_, err = h.service.MoveIssue(ctx, h.identity("outsider"), "iss_1", StatusTodo, 1)
	requireKind(t, err, KindForbidden)
}

func TestDeleteSubtaskLogsOnParent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_parent", ProjectID: "prj_acme"})
	h.store.addIssue(store.Issue{ID: "iss_child", Key: "ACME-2", ProjectID: "prj_acme", ParentID: ptr("iss_parent")})

	if err := h.service.DeleteIssue(ctx, h.identity("dev1"), "iss_child"); err != nil {
		t.Fatalf("delete issue: %v", err)
	}
	if _, ok := h.store.issues["iss_child"]; ok {
		t.Fatal("subtask still present")
	}
	entries := h.store.activitiesFor("iss_parent")
	if len(entries) != 1 || entries[0].Action != activity.ActionDeleted {
		t.Fatalf("expected DELETED on parent, got %+v", entries)
	}
	if meta := entries[0].Metadata; meta == nil || meta.Field != "subtask" || *meta.OldValue != "ACME-2" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if len(h.dispatcher.kinds(search.JobDelete)) != 1 {
		t.Fatal("expected search delete job")
	}
}

func TestGetBoardCachesUntilInvalidated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.addIssue(store.Issue{ID: "iss_b", ProjectID: "prj_acme", Status: StatusTodo, Order: 2})
	h.store.addIssue(store.Issue{ID: "iss_a", ProjectID: "prj_acme", Status: StatusTodo, Order: 1})

	board, err := h.service.GetBoard(ctx, h.identity("dev1"), "prj_acme")
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if len(board.Columns) != len(boardStatuses) {
		t.Fatalf("expected %d columns, got %d", len(boardStatuses), len(board.Columns))
	}
	todo := board.Columns[1]
	if todo.Status != StatusTodo || len(todo.Issues) != 2 || todo.Issues[0].ID != "iss_a" {
		t.Fatalf("unexpected TODO column: %+v", todo)
	}
	path := views.BoardPath("acme", "ACME")
	if _, ok := h.views.Get(ctx, path); !ok {
		t.Fatal("expected board to be cached")
	}

	if _, err := h.service.MoveIssue(ctx, h.identity("dev1"), "iss_a", StatusDone, 0); err != nil {
		t.Fatalf("move issue: %v", err)
	}
	if _, ok := h.views.Get(ctx, path); ok {
		t.Fatal("expected cached board to be dropped after a move")
	}
}

func TestSearchIssuesWithoutEngineReturnsEmpty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.service.SearchIssues(ctx, h.identity("dev1"), "prj_acme", SearchInput{Text: "board"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty results, got %+v", resp)
	}

	_, err = h.service.SearchIssues(ctx, h.identity("outsider"), "prj_acme", SearchInput{Text: "board"})
	requireKind(t, err, KindForbidden)
}
