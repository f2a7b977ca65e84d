package httpx

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
	})
}

func BadRequest(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

func NotFound(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusNotFound, code, message)
}

// FromError maps an apperr code to its status. Internal causes are logged
// with the request id and never sent to the client.
func FromError(c *fiber.Ctx, err error) error {
	code := apperr.CodeOf(err)
	switch code {
	case apperr.CodeValidation:
		return BadRequest(c, string(code), apperr.MessageOf(err))
	case apperr.CodeNotFound:
		return NotFound(c, string(code), apperr.MessageOf(err))
	case apperr.CodeForbidden:
		return Forbidden(c, string(code), apperr.MessageOf(err))
	default:
		log.Printf("[http] %s %s request_id=%s: %v", c.Method(), c.Path(), requestID(c), err)
		return Internal(c, string(code))
	}
}

func LocalUint(c *fiber.Ctx, key string) (uint, error) {
	v := c.Locals(key)
	if v == nil {
		return 0, fmt.Errorf("missing local %s", key)
	}
	u, ok := v.(uint)
	if !ok {
		return 0, fmt.Errorf("invalid local %s", key)
	}
	return u, nil
}
