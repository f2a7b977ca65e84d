package handlers

import (
	"bufio"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noteduco342/OMChat-backend/internal/httpx"
	"github.com/noteduco342/OMChat-backend/internal/storage"
)

var mediaFolders = []string{
	storage.FolderChatImages,
	storage.FolderChatFiles,
	storage.FolderGroupImages,
	storage.FolderGroupFiles,
	storage.FolderGroupPics,
}

// MediaHandler proxies attachments and group pictures out of the blob store
// for deployments where the bucket is private.
type MediaHandler struct {
	blobs storage.BlobReader
}

func NewMediaHandler(blobs storage.BlobReader) *MediaHandler {
	return &MediaHandler{blobs: blobs}
}

func normalizeETag(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, "\"")
	return v
}

func mediaKey(raw string) (string, error) {
	folder, name, ok := strings.Cut(strings.TrimLeft(raw, "/"), "/")
	if !ok {
		return "", errors.New("missing folder")
	}
	for _, f := range mediaFolders {
		if f == folder {
			return storage.ObjectKey(folder, name)
		}
	}
	return "", errors.New("unknown folder")
}

func (h *MediaHandler) GetMedia(c *fiber.Ctx) error {
	if h.blobs == nil {
		return httpx.Error(c, fiber.StatusServiceUnavailable, "storage_not_configured", "Storage not configured")
	}

	key, err := mediaKey(c.Params("*"))
	if err != nil {
		return httpx.NotFound(c, "not_found", "Not found")
	}

	obj, st, err := h.blobs.Open(c.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return httpx.NotFound(c, "not_found", "Not found")
		}
		log.Printf("[media] get error key=%q err=%v", key, err)
		return httpx.Internal(c, "media_fetch_failed")
	}

	if st.ETag != "" {
		c.Set("ETag", "\""+st.ETag+"\"")
		if inm := normalizeETag(c.Get("If-None-Match")); inm != "" && inm == normalizeETag(st.ETag) {
			_ = obj.Close()
			return c.SendStatus(fiber.StatusNotModified)
		}
	}
	if !st.LastModified.IsZero() {
		c.Set("Last-Modified", st.LastModified.UTC().Format(time.RFC1123))
	}

	// Keys are random per upload, so objects never change.
	c.Set("Cache-Control", "private, max-age=31536000, immutable")
	contentType := st.ContentType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	if st.Size > 0 {
		c.Set("Content-Length", strconv.FormatInt(st.Size, 10))
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			_ = obj.Close()
		}()

		n, copyErr := io.Copy(w, obj)
		if copyErr != nil {
			log.Printf("[media] stream error key=%q copied=%d err=%v", key, n, copyErr)
			return
		}
		if err := w.Flush(); err != nil {
			log.Printf("[media] stream flush error key=%q copied=%d err=%v", key, n, err)
		}
	})
	return nil
}
