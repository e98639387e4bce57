package app

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/email"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

const (
	InvitationPending  = "PENDING"
	InvitationAccepted = "ACCEPTED"
	InvitationRejected = "REJECTED"
	InvitationExpired  = "EXPIRED"
)

const invitationTTL = 7 * 24 * time.Hour

type CreateInvitationInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type InvitationResponse struct {
	Status        string `json:"status"`
	WorkspaceSlug string `json:"workspaceSlug,omitempty"`
}

func normalizeEmail(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return "", validation("Invalid email address")
	}
	return strings.ToLower(value), nil
}

// CreateInvitation invites email into a workspace with role. Existing members
// (the owner included) and emails with a pending invitation are rejected.
func (s *Service) CreateInvitation(ctx context.Context, id auth.Identity, workspaceID string, input CreateInvitationInput) (store.Invitation, error) {
	if id.UserID == "" {
		return store.Invitation{}, unauthorized()
	}
	address, err := normalizeEmail(input.Email)
	if err != nil {
		return store.Invitation{}, err
	}
	role, ok := rbac.Parse(strings.ToUpper(strings.TrimSpace(input.Role)))
	if !ok {
		return store.Invitation{}, validation("Invalid role")
	}

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Invitation{}, storeError(err, "Workspace not found", "")
	}
	if err := s.requireElevated(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return store.Invitation{}, err
	}

	owner, err := s.store.GetUserByID(ctx, ws.OwnerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Invitation{}, internal(err)
	}
	if strings.EqualFold(owner.Email, address) {
		return store.Invitation{}, conflict("This user is already a member of the workspace")
	}
	member, err := s.store.IsMemberByEmail(ctx, ws.ID, address)
	if err != nil {
		return store.Invitation{}, internal(err)
	}
	if member {
		return store.Invitation{}, conflict("This user is already a member of the workspace")
	}
	pending, err := s.store.HasPendingInvitation(ctx, ws.ID, address)
	if err != nil {
		return store.Invitation{}, internal(err)
	}
	if pending {
		return store.Invitation{}, conflict("An invitation is already pending for this email")
	}

	token, err := util.NewToken()
	if err != nil {
		return store.Invitation{}, internal(err)
	}
	now := s.now().UTC()
	inv := store.Invitation{
		ID:          util.NewID("inv"),
		Token:       token,
		Email:       address,
		Role:        string(role),
		WorkspaceID: ws.ID,
		InvitedByID: id.UserID,
		Status:      InvitationPending,
		ExpiresAt:   now.Add(invitationTTL),
		CreatedAt:   now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return store.Invitation{}, storeError(err, "", "An invitation is already pending for this email")
	}

	inviter := id.Name
	if inviter == "" {
		inviter = id.Email
	}
	s.effects.Dispatch(ctx, email.JobInvitation, email.InvitationMessage{
		To:            inv.Email,
		WorkspaceName: ws.Name,
		InviterName:   inviter,
		Role:          inv.Role,
		AcceptURL:     s.baseURL + "/invitations/" + inv.Token,
		ExpiresAt:     inv.ExpiresAt,
	})
	return inv, nil
}

// RespondToInvitation accepts or rejects a pending invitation. Expiry is
// detected here: an overdue invitation is marked EXPIRED before the error is
// returned.
func (s *Service) RespondToInvitation(ctx context.Context, id auth.Identity, token string, accept bool) (InvitationResponse, error) {
	if id.UserID == "" {
		return InvitationResponse{}, unauthorized()
	}
	if strings.TrimSpace(token) == "" {
		return InvitationResponse{}, validation("Invitation token is required")
	}

	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		return InvitationResponse{}, storeError(err, "Invitation not found", "")
	}
	if inv.Status != InvitationPending {
		return InvitationResponse{}, conflict("This invitation is no longer valid")
	}
	if s.now().After(inv.ExpiresAt) {
		if _, err := s.store.TransitionInvitation(ctx, inv.ID, InvitationPending, InvitationExpired); err != nil {
			log.Printf("app: expire invitation %s: %v", inv.ID, err)
		}
		return InvitationResponse{}, conflict("This invitation has expired")
	}
	if !strings.EqualFold(strings.TrimSpace(id.Email), inv.Email) {
		return InvitationResponse{}, forbidden("This invitation was sent to a different email address")
	}

	if !accept {
		moved, err := s.store.TransitionInvitation(ctx, inv.ID, InvitationPending, InvitationRejected)
		if err != nil {
			return InvitationResponse{}, internal(err)
		}
		if !moved {
			return InvitationResponse{}, conflict("This invitation is no longer valid")
		}
		return InvitationResponse{Status: InvitationRejected}, nil
	}

	ws, err := s.store.GetWorkspace(ctx, inv.WorkspaceID)
	if err != nil {
		return InvitationResponse{}, storeError(err, "Workspace not found", "")
	}
	membership := store.Membership{
		ID:          util.NewID("mem"),
		WorkspaceID: inv.WorkspaceID,
		UserID:      id.UserID,
		Role:        inv.Role,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.AcceptInvitation(ctx, inv, membership); err != nil {
		return InvitationResponse{}, storeError(err, "", "This invitation is no longer valid")
	}

	s.fanout.InvitationAccepted(ctx, ws, inv.InvitedByID, inv.Email, id.UserID)
	return InvitationResponse{Status: InvitationAccepted, WorkspaceSlug: ws.Slug}, nil
}

// CancelInvitation withdraws a pending invitation by deleting it.
func (s *Service) CancelInvitation(ctx context.Context, id auth.Identity, invitationID string) error {
	if id.UserID == "" {
		return unauthorized()
	}
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return storeError(err, "Invitation not found", "")
	}
	ws, err := s.store.GetWorkspace(ctx, inv.WorkspaceID)
	if err != nil {
		return storeError(err, "Workspace not found", "")
	}
	if err := s.requireElevated(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return err
	}
	deleted, err := s.store.DeletePendingInvitation(ctx, inv.ID)
	if err != nil {
		return internal(err)
	}
	if !deleted {
		return conflict("Only pending invitations can be cancelled")
	}
	return nil
}

func (s *Service) ListInvitations(ctx context.Context, id auth.Identity, workspaceID string) ([]store.Invitation, error) {
	if id.UserID == "" {
		return nil, unauthorized()
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, storeError(err, "Workspace not found", "")
	}
	if err := s.requireElevated(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return nil, err
	}
	invitations, err := s.store.ListPendingInvitations(ctx, ws.ID)
	if err != nil {
		return nil, internal(err)
	}
	if invitations == nil {
		invitations = []store.Invitation{}
	}
	return invitations, nil
}
