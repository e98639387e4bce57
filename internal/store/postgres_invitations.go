package store

import (
	"context"
	"database/sql"
	"fmt"
)

const invitationColumns = `id, token, email, role, workspace_id, invited_by_id, status, expires_at, created_at`

func scanInvitation(row rowScanner) (Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.Token, &inv.Email, &inv.Role, &inv.WorkspaceID,
		&inv.InvitedByID, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt)
	return inv, err
}

func (s *PostgresStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, inv.ID, inv.Token, inv.Email, inv.Role, inv.WorkspaceID, inv.InvitedByID,
		inv.Status, inv.ExpiresAt, inv.CreatedAt)
	return wrap("create invitation", err)
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id=$1`, invitationID))
	if err != nil {
		return Invitation{}, wrap("get invitation", err)
	}
	return inv, nil
}

func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token=$1`, token))
	if err != nil {
		return Invitation{}, wrap("get invitation by token", err)
	}
	return inv, nil
}

func (s *PostgresStore) HasPendingInvitation(ctx context.Context, workspaceID, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM invitations
			WHERE workspace_id=$1 AND LOWER(email)=LOWER($2) AND status='PENDING'
		)
	`, workspaceID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending invitation: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListPendingInvitations(ctx context.Context, workspaceID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE workspace_id=$1 AND status='PENDING'
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// TransitionInvitation moves an invitation from one status to another. It
// reports false when the invitation is no longer in the from status.
func (s *PostgresStore) TransitionInvitation(ctx context.Context, invitationID, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invitations SET status=$3 WHERE id=$1 AND status=$2
	`, invitationID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition invitation rows: %w", err)
	}
	return n > 0, nil
}

// AcceptInvitation creates the membership and marks the invitation ACCEPTED
// in one transaction. Either both happen or neither does.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, inv Invitation, membership Membership) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE invitations SET status='ACCEPTED' WHERE id=$1 AND status='PENDING'
		`, inv.ID)
		if err != nil {
			return fmt.Errorf("accept invitation: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("accept invitation rows: %w", err)
		} else if n == 0 {
			return fmt.Errorf("accept invitation: %w", ErrConflict)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO memberships (id, workspace_id, user_id, role, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, membership.ID, membership.WorkspaceID, membership.UserID, membership.Role, membership.CreatedAt)
		return wrap("insert membership", err)
	})
}

// DeletePendingInvitation removes a PENDING invitation; false means there was
// no pending row with that id.
func (s *PostgresStore) DeletePendingInvitation(ctx context.Context, invitationID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invitations WHERE id=$1 AND status='PENDING'`, invitationID)
	if err != nil {
		return false, fmt.Errorf("delete invitation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete invitation rows: %w", err)
	}
	return n > 0, nil
}
