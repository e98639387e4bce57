package app

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

type SavedFilterInput struct {
	Name      string          `json:"name"`
	Filters   json.RawMessage `json:"filters"`
	IsDefault bool            `json:"isDefault"`
}

type UpdateSavedFilterInput struct {
	Name      *string         `json:"name"`
	Filters   json.RawMessage `json:"filters"`
	IsDefault *bool           `json:"isDefault"`
}

const filterNameTaken = "A filter with this name already exists"

func validateFilterName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return "", validation("Name must be between 1 and 100 characters")
	}
	return name, nil
}

// validateFilters accepts an absent document or a JSON object.
func validateFilters(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if !json.Valid(trimmed) || trimmed[0] != '{' {
		return validation("Filters must be a JSON object")
	}
	return nil
}

func (s *Service) CreateSavedFilter(ctx context.Context, id auth.Identity, projectID string, input SavedFilterInput) (store.SavedFilter, error) {
	if id.UserID == "" {
		return store.SavedFilter{}, unauthorized()
	}
	name, err := validateFilterName(input.Name)
	if err != nil {
		return store.SavedFilter{}, err
	}
	if err := validateFilters(input.Filters); err != nil {
		return store.SavedFilter{}, err
	}

	project, ws, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.SavedFilter{}, err
	}
	if _, err := s.requireAccess(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return store.SavedFilter{}, err
	}

	now := s.now().UTC()
	filter := store.SavedFilter{
		ID:        util.NewID("flt"),
		ProjectID: project.ID,
		UserID:    id.UserID,
		Name:      name,
		Filters:   input.Filters,
		IsDefault: input.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(bytes.TrimSpace(filter.Filters)) == 0 {
		filter.Filters = json.RawMessage("{}")
	}
	if err := s.store.CreateSavedFilter(ctx, filter); err != nil {
		return store.SavedFilter{}, storeError(err, "", filterNameTaken)
	}
	return filter, nil
}

// loadOwnFilter returns a filter that belongs to the caller in a workspace
// they can still access.
func (s *Service) loadOwnFilter(ctx context.Context, id auth.Identity, filterID string) (store.SavedFilter, error) {
	filter, err := s.store.GetSavedFilter(ctx, filterID)
	if err != nil {
		return store.SavedFilter{}, storeError(err, "Filter not found", "")
	}
	_, ws, err := s.loadProject(ctx, filter.ProjectID)
	if err != nil {
		return store.SavedFilter{}, err
	}
	if _, err := s.requireAccess(ctx, id, ws.ID, ws.OwnerID); err != nil {
		return store.SavedFilter{}, err
	}
	if filter.UserID != id.UserID {
		return store.SavedFilter{}, forbidden("You can only change your own filters")
	}
	return filter, nil
}

func (s *Service) UpdateSavedFilter(ctx context.Context, id auth.Identity, filterID string, input UpdateSavedFilterInput) (store.SavedFilter, error) {
	if id.UserID == "" {
		return store.SavedFilter{}, unauthorized()
	}
	var name string
	if input.Name != nil {
		validated, err := validateFilterName(*input.Name)
		if err != nil {
			return store.SavedFilter{}, err
		}
		name = validated
	}
	if err := validateFilters(input.Filters); err != nil {
		return store.SavedFilter{}, err
	}

	filter, err := s.loadOwnFilter(ctx, id, filterID)
	if err != nil {
		return store.SavedFilter{}, err
	}
	if input.Name != nil {
		filter.Name = name
	}
	if len(bytes.TrimSpace(input.Filters)) > 0 {
		filter.Filters = input.Filters
	}
	if input.IsDefault != nil {
		filter.IsDefault = *input.IsDefault
	}

	updated, err := s.store.UpdateSavedFilter(ctx, filter)
	if err != nil {
		return store.SavedFilter{}, storeError(err, "Filter not found", filterNameTaken)
	}
	return updated, nil
}

func (s *Service) DeleteSavedFilter(ctx context.Context, id auth.Identity, filterID string) error {
	if id.UserID == "" {
		return unauthorized()
	}
	filter, err := s.loadOwnFilter(ctx, id, filterID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSavedFilter(ctx, filter.ID); err != nil {
		return storeError(err, "Filter not found", "")
	}
	return nil
}
