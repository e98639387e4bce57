package app

import (
	"context"
	"regexp"
	"strings"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/views"
)

var (
	slugPattern       = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugStrip         = regexp.MustCompile(`[^a-z0-9]+`)
	projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,9}$`)
)

type CreateWorkspaceInput struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type CreateProjectInput struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

func slugify(name string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// CreateWorkspace makes the caller the owner of a new workspace. The owner is
// never stored as a membership.
func (s *Service) CreateWorkspace(ctx context.Context, id auth.Identity, input CreateWorkspaceInput) (store.Workspace, error) {
	if id.UserID == "" {
		return store.Workspace{}, unauthorized()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > 100 {
		return store.Workspace{}, validation("Name must be between 1 and 100 characters")
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	if len(slug) < 3 || len(slug) > 48 || !slugPattern.MatchString(slug) {
		return store.Workspace{}, validation("Slug must be 3-48 lowercase letters, digits or dashes")
	}

	ws := store.Workspace{
		ID:        util.NewID("ws"),
		Name:      name,
		Slug:      slug,
		OwnerID:   id.UserID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		return store.Workspace{}, storeError(err, "", "Workspace slug is already taken")
	}
	return ws, nil
}

func (s *Service) CreateProject(ctx context.Context, id auth.Identity, workspaceID string, input CreateProjectInput) (store.Project, error) {
	if id.UserID == "" {
		return store.Project{}, unauthorized()
	}
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > 100 {
		return store.Project{}, validation("Name must be between 1 and 100 characters")
	}
	key := strings.ToUpper(strings.TrimSpace(input.Key))
	if !projectKeyPattern.MatchString(key) {
		return store.Project{}, validation("Key must be 2-10 uppercase letters or digits, starting with a letter")
	}

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return store.Project{}, storeError(err, "Workspace not found", "")
	}
	if _, err := s.requireAccess(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return store.Project{}, err
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		WorkspaceID: ws.ID,
		Key:         key,
		Name:        name,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return store.Project{}, storeError(err, "", "Project key already exists in this workspace")
	}
	return project, nil
}

// DeleteProject removes a project and, by cascade, its issues.
func (s *Service) DeleteProject(ctx context.Context, id auth.Identity, projectID string) error {
	if id.UserID == "" {
		return unauthorized()
	}
	project, ws, err := s.loadProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := s.requireElevated(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		return storeError(err, "Project not found", "")
	}
	s.invalidate(ctx, views.BoardPath(ws.Slug, project.Key))
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, id auth.Identity, workspaceID, userID string) error {
	if id.UserID == "" {
		return unauthorized()
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return storeError(err, "Workspace not found", "")
	}
	if err := s.requireElevated(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return err
	}
	if userID == ws.OwnerID {
		return validation("The workspace owner cannot be removed")
	}
	removed, err := s.store.DeleteMembership(ctx, ws.ID, userID)
	if err != nil {
		return internal(err)
	}
	if !removed {
		return notFound("Member not found")
	}
	return nil
}
