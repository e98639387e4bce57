package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser mirrors an identity from the session provider into users.
func (s *PostgresStore) EnsureUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = CASE WHEN EXCLUDED.name = '' THEN users.name ELSE EXCLUDED.name END
		RETURNING id, email, name, created_at
	`, user.ID, user.Email, user.Name).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		return User{}, wrap("ensure user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		return User{}, wrap("get user", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, slug, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ws.ID, ws.Name, ws.Slug, ws.OwnerID, ws.CreatedAt)
	return wrap("create workspace", err)
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, owner_id, created_at FROM workspaces WHERE id=$1
	`, workspaceID).Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.OwnerID, &ws.CreatedAt)
	if err != nil {
		return Workspace{}, wrap("get workspace", err)
	}
	return ws, nil
}

// MembershipRole satisfies rbac.MembershipLookup.
func (s *PostgresStore) MembershipRole(ctx context.Context, workspaceID, userID string) (string, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM memberships WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read membership: %w", err)
	}
	return role, true, nil
}

func (s *PostgresStore) IsMemberByEmail(ctx context.Context, workspaceID, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM memberships m
			JOIN users u ON u.id = m.user_id
			WHERE m.workspace_id = $1 AND LOWER(u.email) = LOWER($2)
		)
	`, workspaceID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check member email: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, workspaceID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.workspace_id, m.user_id, m.role, m.created_at, u.email, u.name
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1
		ORDER BY m.created_at ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt, &m.Email, &m.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, workspaceID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memberships WHERE workspace_id=$1 AND user_id=$2`, workspaceID, userID)
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete membership rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, workspace_id, key, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.WorkspaceID, p.Key, p.Name, p.CreatedAt)
	return wrap("create project", err)
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, key, name, issue_counter, created_at FROM projects WHERE id=$1
	`, projectID).Scan(&p.ID, &p.WorkspaceID, &p.Key, &p.Name, &p.IssueCounter, &p.CreatedAt)
	if err != nil {
		return Project{}, wrap("get project", err)
	}
	return p, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete project: %w", sql.ErrNoRows)
	}
	return nil
}

// NextIssueNumber increments the project counter under the row lock and
// returns the new value, so concurrent creates never share a number.
func (s *PostgresStore) NextIssueNumber(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects SET issue_counter = issue_counter + 1 WHERE id=$1 RETURNING issue_counter
	`, projectID).Scan(&n)
	if err != nil {
		return 0, wrap("next issue number", err)
	}
	return n, nil
}
