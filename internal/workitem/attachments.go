package workitem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/rpattn/replay/internal/domain"
	"github.com/rpattn/replay/internal/notify"
	"github.com/rpattn/replay/internal/repository"
)

// ListAttachments returns the attachments of a work item.
func (s *Service) ListAttachments(ctx context.Context, entityID int64) ([]domain.Attachment, error) {
	attachments, err := s.attachments.ListByContainer(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("list attachments of work item %d: %w", entityID, err)
	}
	return attachments, nil
}

// ListTemplates returns the files available for import by name.
func (s *Service) ListTemplates(ctx context.Context) ([]domain.Attachment, error) {
	templates, err := s.attachments.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Content reads the stored bytes of an attachment.
func (s *Service) Content(ctx context.Context, attachment domain.Attachment) ([]byte, error) {
	return s.blobs.Get(ctx, attachment.StorageKey)
}

// Attach stores data as a new attachment of the work item.
func (s *Service) Attach(ctx context.Context, actor domain.Actor, entityID int64, filename string, data []byte) (domain.Attachment, error) {
	attachment, err := s.store(ctx, actor, &entityID, filename, data)
	if err != nil {
		return domain.Attachment{}, err
	}
	s.announce(ctx, notify.AttachmentAdded, entityID, actor.ID, map[string]any{"attachment_id": attachment.ID})
	return attachment, nil
}

// UploadTemplate stores data in the template pool.
func (s *Service) UploadTemplate(ctx context.Context, actor domain.Actor, filename string, data []byte) (domain.Attachment, error) {
	return s.store(ctx, actor, nil, filename, data)
}

// Detach removes an attachment and its content.
func (s *Service) Detach(ctx context.Context, actor domain.Actor, attachment domain.Attachment) error {
	if err := s.attachments.Delete(ctx, attachment.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete attachment %d: %w", attachment.ID, err)
	}
	if err := s.blobs.Delete(ctx, attachment.StorageKey); err != nil {
		s.logger.WithError(err).WithField("attachment_id", attachment.ID).Warn("failed to remove attachment content")
	}

	if attachment.ContainerID != nil {
		s.announce(ctx, notify.AttachmentRemoved, *attachment.ContainerID, actor.ID, map[string]any{"attachment_id": attachment.ID})
	}
	return nil
}

func (s *Service) store(ctx context.Context, actor domain.Actor, containerID *int64, filename string, data []byte) (domain.Attachment, error) {
	filename = strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if filename == "" || filename == "." || filename == "/" {
		return domain.Attachment{}, invalid("Filename can't be blank.")
	}
	if len(data) == 0 {
		return domain.Attachment{}, invalid(fmt.Sprintf("The attachment '%s' is empty.", filename))
	}

	digest := sha256.Sum256(data)
	key := path.Join("attachments", uuid.NewString(), filename)
	contentType := mimetype.Detect(data).String()

	if err := s.blobs.Put(ctx, key, data, contentType); err != nil {
		return domain.Attachment{}, fmt.Errorf("store attachment content: %w", err)
	}

	attachment, err := s.attachments.Create(ctx, domain.Attachment{
		ContainerID: containerID,
		Filename:    filename,
		StorageKey:  key,
		ContentType: contentType,
		Filesize:    int64(len(data)),
		Digest:      hex.EncodeToString(digest[:]),
		AuthorID:    actor.ID,
	})
	if err != nil {
		if cleanupErr := s.blobs.Delete(ctx, key); cleanupErr != nil {
			s.logger.WithError(cleanupErr).WithField("storage_key", key).Warn("failed to remove orphaned content")
		}
		return domain.Attachment{}, fmt.Errorf("create attachment: %w", err)
	}
	return attachment, nil
}
