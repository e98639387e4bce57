package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/blob"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/views"
)

const MaxAttachmentSize = 10 << 20

type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadAttachment stores the bytes first and then the row. If the row cannot
// be written the object is queued for deletion.
func (s *Service) UploadAttachment(ctx context.Context, id auth.Identity, issueID string, input UploadInput) (store.Attachment, error) {
	if id.UserID == "" {
		return store.Attachment{}, unauthorized()
	}
	filename := strings.TrimSpace(input.Filename)
	switch {
	case filename == "" || len(filename) > 255:
		return store.Attachment{}, validation("Filename must be between 1 and 255 characters")
	case input.Size <= 0:
		return store.Attachment{}, validation("File is empty")
	case input.Size > MaxAttachmentSize:
		return store.Attachment{}, validation(fmt.Sprintf("File must be at most %d MB", MaxAttachmentSize>>20))
	case input.Body == nil:
		return store.Attachment{}, validation("File is required")
	}
	contentType := input.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	scope, _, err := s.loadIssue(ctx, id, issueID)
	if err != nil {
		return store.Attachment{}, err
	}

	key := blob.AttachmentKey(scope.ID, filename)
	if err := s.blobs.Put(ctx, key, io.LimitReader(input.Body, input.Size), input.Size, contentType); err != nil {
		return store.Attachment{}, internal(err)
	}

	attachment := store.Attachment{
		ID:          util.NewID("att"),
		IssueID:     scope.ID,
		UploaderID:  id.UserID,
		Filename:    filename,
		ContentType: contentType,
		Size:        input.Size,
		BlobKey:     key,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertAttachment(ctx, attachment); err != nil {
		s.effects.Dispatch(ctx, blob.JobDelete, key)
		return store.Attachment{}, storeError(err, "Issue not found", "")
	}
	s.invalidate(ctx, views.IssuePath(scope.WorkspaceSlug, scope.Key))
	return attachment, nil
}

// DeleteAttachment allows the uploader, or an owner/admin for anyone's file.
// The object itself is removed by a best-effort job.
func (s *Service) DeleteAttachment(ctx context.Context, id auth.Identity, attachmentID string) error {
	if id.UserID == "" {
		return unauthorized()
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return storeError(err, "Attachment not found", "")
	}
	scope, access, err := s.loadIssue(ctx, id, attachment.IssueID)
	if err != nil {
		return err
	}
	if attachment.UploaderID != id.UserID && !access.IsElevated() {
		return forbidden("Only admins can delete other people's attachments")
	}
	if err := s.store.DeleteAttachment(ctx, attachment.ID); err != nil {
		return storeError(err, "Attachment not found", "")
	}
	if attachment.BlobKey != "" {
		s.effects.Dispatch(ctx, blob.JobDelete, attachment.BlobKey)
	}
	s.invalidate(ctx, views.IssuePath(scope.WorkspaceSlug, scope.Key))
	return nil
}
