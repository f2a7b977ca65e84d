package handlers

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/service"
)

func paramID(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || v == 0 {
		return 0, apperr.Validation("invalid " + name)
	}
	return uint(v), nil
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

// sendRequest is the JSON form of a send. Image and File are data URLs or
// bare base64.
type sendRequest struct {
	Text     string `json:"text"`
	Image    string `json:"image"`
	File     string `json:"file"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	ReplyTo  *uint  `json:"replyTo"`
}

// parsedSend holds the uploads of one send request. Close releases any
// multipart files.
type parsedSend struct {
	Text    string
	ReplyTo *uint
	Image   *service.Upload
	File    *service.Upload
	closers []io.Closer
}

func (p *parsedSend) Close() {
	for _, c := range p.closers {
		_ = c.Close()
	}
}

func parseSend(c *fiber.Ctx) (*parsedSend, error) {
	if isMultipart(c) {
		return parseMultipartSend(c)
	}

	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, apperr.Validation("invalid request body")
	}
	out := &parsedSend{Text: req.Text, ReplyTo: req.ReplyTo}
	if req.Image != "" {
		data, contentType, err := decodeDataURL(req.Image)
		if err != nil {
			return nil, err
		}
		out.Image = &service.Upload{Name: "image", ContentType: contentType, Body: bytes.NewReader(data)}
	}
	if req.File != "" {
		data, contentType, err := decodeDataURL(req.File)
		if err != nil {
			return nil, err
		}
		if req.FileType != "" {
			contentType = req.FileType
		}
		out.File = &service.Upload{Name: req.FileName, ContentType: contentType, Body: bytes.NewReader(data)}
	}
	return out, nil
}

func parseMultipartSend(c *fiber.Ctx) (*parsedSend, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperr.Validation("invalid multipart form")
	}
	out := &parsedSend{Text: formValue(form, "text")}
	if raw := formValue(form, "replyTo"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return nil, apperr.Validation("invalid replyTo")
		}
		replyTo := uint(id)
		out.ReplyTo = &replyTo
	}

	if up, err := out.openFile(form, "image", ""); err != nil {
		out.Close()
		return nil, err
	} else if up != nil {
		out.Image = up
	}
	if up, err := out.openFile(form, "file", formValue(form, "fileName")); err != nil {
		out.Close()
		return nil, err
	} else if up != nil {
		if t := formValue(form, "fileType"); t != "" {
			up.ContentType = t
		}
		out.File = up
	}
	return out, nil
}

func (p *parsedSend) openFile(form *multipart.Form, field, name string) (*service.Upload, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	fh := headers[0]
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Validation("failed to read " + field)
	}
	p.closers = append(p.closers, f)
	if name == "" {
		name = fh.Filename
	}
	return &service.Upload{Name: name, ContentType: fh.Header.Get("Content-Type"), Body: f}, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// decodeDataURL accepts "data:<type>;base64,<data>" or bare base64.
func decodeDataURL(s string) ([]byte, string, error) {
	contentType := ""
	if strings.HasPrefix(s, "data:") {
		meta, payload, ok := strings.Cut(s[len("data:"):], ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, "", apperr.Validation("invalid data url")
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", apperr.Validation("invalid base64 payload")
	}
	return data, contentType, nil
}
