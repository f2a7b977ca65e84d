package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"mime"
	"path"
	"strings"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/storage"
)

const MaxFileBytes = 25 * 1024 * 1024

// Upload is a file received from a client, before storage.
type Upload struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// AttachmentService normalizes uploads and puts them in the blob store.
type AttachmentService struct {
	store storage.BlobStore
}

// NewAttachmentService accepts a nil store; uploads then fail with a
// validation error and text-only messages keep working.
func NewAttachmentService(store storage.BlobStore) *AttachmentService {
	return &AttachmentService{store: store}
}

func (s *AttachmentService) enabled() error {
	if s == nil || s.store == nil {
		return apperr.Validation("attachments are not enabled on this server")
	}
	return nil
}

func (s *AttachmentService) StoreImage(ctx context.Context, folder string, up Upload) (models.Attachment, storage.Blob, error) {
	blob, err := s.storeImage(ctx, folder, up, storage.AttachmentImageOptions())
	if err != nil {
		return models.Attachment{}, storage.Blob{}, err
	}
	return models.ImageAttachment(blob.URL), blob, nil
}

func (s *AttachmentService) StoreGroupPic(ctx context.Context, up Upload) (storage.Blob, error) {
	return s.storeImage(ctx, storage.FolderGroupPics, up, storage.GroupPicOptions())
}

// StoreFile keeps the bytes as sent. The extension comes from the file name
// and falls back to the content type.
func (s *AttachmentService) StoreFile(ctx context.Context, folder string, up Upload) (models.Attachment, storage.Blob, error) {
	if err := s.enabled(); err != nil {
		return models.Attachment{}, storage.Blob{}, err
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, MaxFileBytes+1))
	if err != nil {
		return models.Attachment{}, storage.Blob{}, apperr.Validation("failed to read file")
	}
	if len(data) == 0 {
		return models.Attachment{}, storage.Blob{}, apperr.Validation("file is empty")
	}
	if len(data) > MaxFileBytes {
		return models.Attachment{}, storage.Blob{}, apperr.Validation("file too large")
	}

	name := displayName(up.Name)
	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ext := FileExtension(name, contentType)

	blob, err := s.store.Upload(ctx, folder, name, contentType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return models.Attachment{}, storage.Blob{}, apperr.Store("failed to store file", err)
	}
	return models.FileAttachment(blob.URL, contentType, int64(len(data)), name, ext), blob, nil
}

// Discard removes a blob that ended up unused, e.g. when saving the message failed.
func (s *AttachmentService) Discard(ctx context.Context, blob storage.Blob) {
	if s == nil || s.store == nil || blob.Key == "" {
		return
	}
	if err := s.store.Delete(ctx, blob.Key); err != nil {
		log.Printf("[attachments] failed to delete orphan %s: %v", blob.Key, err)
	}
}

func (s *AttachmentService) storeImage(ctx context.Context, folder string, up Upload, opts storage.ImageOptions) (storage.Blob, error) {
	if err := s.enabled(); err != nil {
		return storage.Blob{}, err
	}

	img, err := storage.Normalize(up.Body, opts)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			return storage.Blob{}, apperr.Validation("image too large")
		case errors.Is(err, storage.ErrUnsupported):
			return storage.Blob{}, apperr.Validation("unsupported image type")
		default:
			return storage.Blob{}, apperr.Validation("invalid image")
		}
	}

	blob, err := s.store.Upload(ctx, folder, "image.jpg", img.ContentType(), bytes.NewReader(img.Data), img.Size())
	if err != nil {
		return storage.Blob{}, apperr.Store("failed to store image", err)
	}
	return blob, nil
}

func displayName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

// FileExtension returns the lower-case extension without the dot.
func FileExtension(name, contentType string) string {
	if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	if i := strings.LastIndex(contentType, "/"); i >= 0 && i < len(contentType)-1 {
		return strings.ToLower(contentType[i+1:])
	}
	return ""
}
