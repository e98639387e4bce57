package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Membership struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Member is a membership joined with the user's identity.
type Member struct {
	Membership
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Project struct {
	ID           string    `json:"id"`
	WorkspaceID  string    `json:"workspaceId"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	IssueCounter int       `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Issue struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	Type        string    `json:"type"`
	Order       float64   `json:"order"`
	AssigneeID  *string   `json:"assigneeId"`
	ReporterID  string    `json:"reporterId"`
	ParentID    *string   `json:"parentId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IssueScope is an issue together with the workspace it belongs to. Access
// checks and view paths both need the workspace, so batched reads return it.
type IssueScope struct {
	Issue
	ProjectKey       string
	WorkspaceID      string
	WorkspaceSlug    string
	WorkspaceOwnerID string
}

// IssueUpdate carries the fields an update writes. Nil pointers are left
// unchanged; ClearAssignee sets assignee_id to NULL.
type IssueUpdate struct {
	Title         *string
	Description   *string
	Status        *string
	Priority      *string
	Type          *string
	Order         *float64
	AssigneeID    *string
	ClearAssignee bool
}

type ActivityMetadata struct {
	Field    string  `json:"field"`
	OldValue *string `json:"oldValue"`
	NewValue *string `json:"newValue"`
}

type Activity struct {
	ID        string            `json:"id"`
	IssueID   string            `json:"issueId"`
	ActorID   string            `json:"actorId"`
	Action    string            `json:"action"`
	Metadata  *ActivityMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	ActorID   *string   `json:"actorId"`
	IssueID   *string   `json:"issueId"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type Invitation struct {
	ID          string    `json:"id"`
	Token       string    `json:"-"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	WorkspaceID string    `json:"workspaceId"`
	InvitedByID string    `json:"invitedById"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type SavedFilter struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Filters   json.RawMessage `json:"filters"`
	IsDefault bool            `json:"isDefault"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issueId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Attachment struct {
	ID          string    `json:"id"`
	IssueID     string    `json:"issueId"`
	UploaderID  string    `json:"uploaderId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	BlobKey     string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}
