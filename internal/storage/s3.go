package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/noteduco342/OMChat-backend/internal/config"
)

// Upload folders.
const (
	FolderChatImages  = "chat-images"
	FolderChatFiles   = "chat-files"
	FolderGroupImages = "group-images"
	FolderGroupFiles  = "group-files"
	FolderGroupPics   = "group-pics"
)

var (
	ErrUploadsDisabled = errors.New("uploads are not configured")
	ErrObjectNotFound  = errors.New("object not found")
)

// Blob describes a stored object.
type Blob struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

type BlobStore interface {
	Upload(ctx context.Context, folder, name, contentType string, body io.Reader, size int64) (Blob, error)
	Delete(ctx context.Context, key string) error
}

// ObjectInfo is what the media proxy needs to answer conditional requests.
type ObjectInfo struct {
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// BlobReader streams stored objects back to clients.
type BlobReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
}

type S3Storage struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

func NewS3Storage(cfg config.S3Config) (*S3Storage, error) {
	if !cfg.Enabled() {
		return nil, ErrUploadsDisabled
	}
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	base := cfg.PublicURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &S3Storage{client: cl, bucket: cfg.Bucket, baseURL: base}, nil
}

// Upload stores body under folder with a random key that keeps the
// extension of name.
func (s *S3Storage) Upload(ctx context.Context, folder, name, contentType string, body io.Reader, size int64) (Blob, error) {
	key, err := ObjectKey(folder, uuid.NewString()+path.Ext(name))
	if err != nil {
		return Blob{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Blob{}, err
	}
	return Blob{
		Key:         key,
		URL:         s.baseURL + "/" + key,
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

// Open returns the object body and its metadata. A missing key yields
// ErrObjectNotFound.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, mapMinioError(err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ObjectInfo{}, mapMinioError(err)
	}
	return obj, ObjectInfo{
		Size:         st.Size,
		ETag:         st.ETag,
		ContentType:  st.ContentType,
		LastModified: st.LastModified,
	}, nil
}

func mapMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 404 || resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
		return ErrObjectNotFound
	}
	return err
}

// ObjectKey joins folder and name, rejecting path traversal.
func ObjectKey(folder string, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("empty key")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "\\") {
		return "", errors.New("invalid key")
	}
	name = strings.TrimLeft(name, "/")
	if folder != "" {
		name = strings.Trim(folder, "/") + "/" + name
	}
	for strings.Contains(name, "//") {
		name = strings.ReplaceAll(name, "//", "/")
	}
	if _, err := url.Parse("https://example.com/" + name); err != nil {
		return "", errors.New("invalid key")
	}
	return name, nil
}
