package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertActivity(ctx context.Context, entry Activity) error {
	var metadata []byte
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal activity metadata: %w", err)
		}
		metadata = raw
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, issue_id, actor_id, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.IssueID, entry.ActorID, entry.Action, metadata, entry.CreatedAt)
	return wrap("insert activity", err)
}

func (s *PostgresStore) ListActivity(ctx context.Context, issueID string) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, actor_id, action, metadata, created_at
		FROM activities WHERE issue_id=$1
		ORDER BY created_at ASC, id ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []Activity
	for rows.Next() {
		var entry Activity
		var metadata []byte
		if err := rows.Scan(&entry.ID, &entry.IssueID, &entry.ActorID, &entry.Action, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if len(metadata) > 0 {
			entry.Metadata = &ActivityMetadata{}
			if err := json.Unmarshal(metadata, entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, type, user_id, actor_id, issue_id, title, link, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.Type, n.UserID, n.ActorID, n.IssueID, n.Title, n.Link, n.IsRead, n.CreatedAt)
	return wrap("insert notification", err)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, user_id, actor_id, issue_id, title, link, is_read, created_at
		FROM notifications WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.UserID, &n.ActorID, &n.IssueID, &n.Title, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead only touches rows owned by userID.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification rows: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE user_id=$1 AND is_read=FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications rows: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, issue_id, author_id, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.IssueID, c.AuthorID, c.Body, c.CreatedAt, c.UpdatedAt)
	return wrap("insert comment", err)
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, author_id, body, created_at, updated_at FROM comments WHERE id=$1
	`, commentID).Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Comment{}, wrap("get comment", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, body string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		UPDATE comments SET body=$2, updated_at=NOW() WHERE id=$1
		RETURNING id, issue_id, author_id, body, created_at, updated_at
	`, commentID, body).Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Comment{}, wrap("update comment", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	return wrap("delete comment", err)
}

func (s *PostgresStore) ListComments(ctx context.Context, issueID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, issue_id, author_id, body, created_at, updated_at
		FROM comments WHERE issue_id=$1 ORDER BY created_at ASC
	`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, a Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, issue_id, uploader_id, filename, content_type, size, blob_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.IssueID, a.UploaderID, a.Filename, a.ContentType, a.Size, a.BlobKey, a.CreatedAt)
	return wrap("insert attachment", err)
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var a Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, issue_id, uploader_id, filename, content_type, size, blob_key, created_at
		FROM attachments WHERE id=$1
	`, attachmentID).Scan(&a.ID, &a.IssueID, &a.UploaderID, &a.Filename, &a.ContentType, &a.Size, &a.BlobKey, &a.CreatedAt)
	if err != nil {
		return Attachment{}, wrap("get attachment", err)
	}
	return a, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	return wrap("delete attachment", err)
}

const savedFilterColumns = `id, project_id, user_id, name, filters, is_default, created_at, updated_at`

func scanSavedFilter(row rowScanner) (SavedFilter, error) {
	var f SavedFilter
	var filters []byte
	err := row.Scan(&f.ID, &f.ProjectID, &f.UserID, &f.Name, &filters, &f.IsDefault, &f.CreatedAt, &f.UpdatedAt)
	f.Filters = json.RawMessage(filters)
	return f, err
}

func clearDefaultFilter(ctx context.Context, tx *sql.Tx, projectID, userID, keepID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE saved_filters SET is_default=FALSE
		WHERE project_id=$1 AND user_id=$2 AND id <> $3 AND is_default
	`, projectID, userID, keepID)
	if err != nil {
		return fmt.Errorf("clear default filter: %w", err)
	}
	return nil
}

func filtersJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// CreateSavedFilter inserts f, first clearing any other default for the same
// (project, user) when f is a default.
func (s *PostgresStore) CreateSavedFilter(ctx context.Context, f SavedFilter) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if f.IsDefault {
			if err := clearDefaultFilter(ctx, tx, f.ProjectID, f.UserID, f.ID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO saved_filters (`+savedFilterColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, f.ID, f.ProjectID, f.UserID, f.Name, filtersJSON(f.Filters), f.IsDefault, f.CreatedAt, f.UpdatedAt)
		return wrap("insert saved filter", err)
	})
}

func (s *PostgresStore) GetSavedFilter(ctx context.Context, filterID string) (SavedFilter, error) {
	f, err := scanSavedFilter(s.db.QueryRowContext(ctx,
		`SELECT `+savedFilterColumns+` FROM saved_filters WHERE id=$1`, filterID))
	if err != nil {
		return SavedFilter{}, wrap("get saved filter", err)
	}
	return f, nil
}

func (s *PostgresStore) UpdateSavedFilter(ctx context.Context, f SavedFilter) (SavedFilter, error) {
	var out SavedFilter
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if f.IsDefault {
			if err := clearDefaultFilter(ctx, tx, f.ProjectID, f.UserID, f.ID); err != nil {
				return err
			}
		}
		updated, err := scanSavedFilter(tx.QueryRowContext(ctx, `
			UPDATE saved_filters SET name=$2, filters=$3, is_default=$4, updated_at=NOW()
			WHERE id=$1
			RETURNING `+savedFilterColumns,
			f.ID, f.Name, filtersJSON(f.Filters), f.IsDefault))
		if err != nil {
			return wrap("update saved filter", err)
		}
		out = updated
		return nil
	})
	return out, err
}

func (s *PostgresStore) DeleteSavedFilter(ctx context.Context, filterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saved_filters WHERE id=$1`, filterID)
	return wrap("delete saved filter", err)
}
