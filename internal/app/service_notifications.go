package app

import (
	"context"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/store"
)

func (s *Service) ListNotifications(ctx context.Context, id auth.Identity, limit int) ([]store.Notification, error) {
	if id.UserID == "" {
		return nil, unauthorized()
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	items, err := s.store.ListNotifications(ctx, id.UserID, limit)
	if err != nil {
		return nil, internal(err)
	}
	if items == nil {
		items = []store.Notification{}
	}
	return items, nil
}

// MarkNotificationRead only affects the caller's own notifications; anyone
// else's reads as not found.
func (s *Service) MarkNotificationRead(ctx context.Context, id auth.Identity, notificationID string) error {
	if id.UserID == "" {
		return unauthorized()
	}
	marked, err := s.store.MarkNotificationRead(ctx, notificationID, id.UserID)
	if err != nil {
		return internal(err)
	}
	if !marked {
		return notFound("Notification not found")
	}
	return nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, id auth.Identity) (int, error) {
	if id.UserID == "" {
		return 0, unauthorized()
	}
	count, err := s.store.MarkAllNotificationsRead(ctx, id.UserID)
	if err != nil {
		return 0, internal(err)
	}
	return count, nil
}
