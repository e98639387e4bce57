package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskhub/api/internal/ordering"
)

const issueColumns = `i.id, i.project_id, i.key, i.title, i.description, i.status, i.priority, i.type,
	i.sort_order, i.assignee_id, i.reporter_id, i.parent_id, i.created_at, i.updated_at`

const scopeColumns = issueColumns + `, p.key, w.id, w.slug, w.owner_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner, extra ...any) (Issue, error) {
	var issue Issue
	dest := []any{
		&issue.ID, &issue.ProjectID, &issue.Key, &issue.Title, &issue.Description,
		&issue.Status, &issue.Priority, &issue.Type, &issue.Order,
		&issue.AssigneeID, &issue.ReporterID, &issue.ParentID,
		&issue.CreatedAt, &issue.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return issue, err
}

func scanScope(row rowScanner) (IssueScope, error) {
	var scope IssueScope
	issue, err := scanIssue(row, &scope.ProjectKey, &scope.WorkspaceID, &scope.WorkspaceSlug, &scope.WorkspaceOwnerID)
	if err != nil {
		return IssueScope{}, err
	}
	scope.Issue = issue
	return scope, nil
}

func (s *PostgresStore) InsertIssue(ctx context.Context, issue Issue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (
			id, project_id, key, title, description, status, priority, type,
			sort_order, assignee_id, reporter_id, parent_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, issue.ID, issue.ProjectID, issue.Key, issue.Title, issue.Description, issue.Status,
		issue.Priority, issue.Type, issue.Order, issue.AssigneeID, issue.ReporterID,
		issue.ParentID, issue.CreatedAt, issue.UpdatedAt)
	return wrap("insert issue", err)
}

func (s *PostgresStore) GetIssueScope(ctx context.Context, issueID string) (IssueScope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scopeColumns+`
		FROM issues i
		JOIN projects p ON p.id = i.project_id
		JOIN workspaces w ON w.id = p.workspace_id
		WHERE i.id = $1
	`, issueID)
	scope, err := scanScope(row)
	if err != nil {
		return IssueScope{}, wrap("get issue", err)
	}
	return scope, nil
}

// FindIssueScopes loads every issue in ids in one query. Missing ids are
// simply absent from the result.
func (s *PostgresStore) FindIssueScopes(ctx context.Context, ids []string) ([]IssueScope, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scopeColumns+`
		FROM issues i
		JOIN projects p ON p.id = i.project_id
		JOIN workspaces w ON w.id = p.workspace_id
		WHERE i.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("find issues: %w", err)
	}
	defer rows.Close()

	var scopes []IssueScope
	for rows.Next() {
		scope, err := scanScope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

func (s *PostgresStore) ListBoard(ctx context.Context, projectID string) ([]Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+`
		FROM issues i
		WHERE i.project_id = $1
		ORDER BY i.status, i.sort_order ASC, i.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list board: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// MaxOrder returns the largest position in a column; ok is false when the
// column is empty.
func (s *PostgresStore) MaxOrder(ctx context.Context, projectID, status string) (float64, bool, error) {
	var max sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sort_order) FROM issues WHERE project_id=$1 AND status=$2
	`, projectID, status).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("max order: %w", err)
	}
	return max.Float64, max.Valid, nil
}

// ColumnOrders returns the ascending positions of a column, excluding one issue.
func (s *PostgresStore) ColumnOrders(ctx context.Context, projectID, status, excludeID string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sort_order FROM issues
		WHERE project_id=$1 AND status=$2 AND id <> $3
		ORDER BY sort_order ASC, created_at ASC
	`, projectID, status, excludeID)
	if err != nil {
		return nil, fmt.Errorf("column orders: %w", err)
	}
	defer rows.Close()

	var orders []float64
	for rows.Next() {
		var order float64
		if err := rows.Scan(&order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func buildIssueSet(update IssueUpdate, args []any) (string, []any) {
	var sets []string
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Title != nil {
		add("title", *update.Title)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.Priority != nil {
		add("priority", *update.Priority)
	}
	if update.Type != nil {
		add("type", *update.Type)
	}
	if update.Order != nil {
		add("sort_order", *update.Order)
	}
	if update.ClearAssignee {
		sets = append(sets, "assignee_id = NULL")
	} else if update.AssigneeID != nil {
		add("assignee_id", *update.AssigneeID)
	}
	sets = append(sets, "updated_at = NOW()")
	return strings.Join(sets, ", "), args
}

func (s *PostgresStore) UpdateIssue(ctx context.Context, issueID string, update IssueUpdate) (Issue, error) {
	set, args := buildIssueSet(update, []any{issueID})
	row := s.db.QueryRowContext(ctx, `
		UPDATE issues i SET `+set+`
		WHERE i.id = $1
		RETURNING `+issueColumns, args...)
	issue, err := scanIssue(row)
	if err != nil {
		return Issue{}, wrap("update issue", err)
	}
	return issue, nil
}

// BulkUpdateIssues applies one update to every id in a single statement.
func (s *PostgresStore) BulkUpdateIssues(ctx context.Context, ids []string, update IssueUpdate) (int, error) {
	set, args := buildIssueSet(update, []any{ids})
	res, err := s.db.ExecContext(ctx, `UPDATE issues SET `+set+` WHERE id = ANY($1)`, args...)
	if err != nil {
		return 0, wrap("bulk update issues", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk update rows: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) DeleteIssues(ctx context.Context, ids []string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete issues: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete issues rows: %w", err)
	}
	return int(n), nil
}

// RenormalizeColumn rewrites a column's positions to 0..n-1 in one
// transaction, keeping the current order.
func (s *PostgresStore) RenormalizeColumn(ctx context.Context, projectID, status string) (int, error) {
	var count int
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM issues
			WHERE project_id=$1 AND status=$2
			ORDER BY sort_order ASC, created_at ASC
			FOR UPDATE
		`, projectID, status)
		if err != nil {
			return fmt.Errorf("lock column: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan column id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("read column: %w", err)
		}
		rows.Close()

		for i, order := range ordering.Renormalize(len(ids)) {
			if _, err := tx.ExecContext(ctx, `UPDATE issues SET sort_order=$1 WHERE id=$2`, order, ids[i]); err != nil {
				return fmt.Errorf("renormalize %s: %w", ids[i], err)
			}
		}
		count = len(ids)
		return nil
	})
	return count, err
}
