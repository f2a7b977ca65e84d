package httpx

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"Validation", apperr.Validation("messageIds must not be empty"), fiber.StatusBadRequest, "VALIDATION", "messageIds must not be empty"},
		{"Not found", apperr.NotFound("group not found"), fiber.StatusNotFound, "NOT_FOUND", "group not found"},
		{"Forbidden", apperr.Forbidden("not a member of this group"), fiber.StatusForbidden, "FORBIDDEN", "not a member of this group"},
		{"Store failure hides cause", apperr.Store("failed to save message", errors.New("pq: connection refused")), fiber.StatusInternalServerError, "INTERNAL", "Internal server error"},
		{"Unclassified", errors.New("boom"), fiber.StatusInternalServerError, "INTERNAL", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return FromError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantCode || body.Error != tt.wantMsg {
				t.Errorf("body = %+v, want code %q error %q", body, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestLocalUint(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		c.Locals("userID", uint(7))
		c.Locals("bad", "7")
		id, err := LocalUint(c, "userID")
		if err != nil || id != 7 {
			t.Errorf("LocalUint(userID) = %d, %v", id, err)
		}
		if _, err := LocalUint(c, "bad"); err == nil {
			t.Errorf("LocalUint(bad) expected error")
		}
		if _, err := LocalUint(c, "missing"); err == nil {
			t.Errorf("LocalUint(missing) expected error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	if _, err := app.Test(httptest.NewRequest("GET", "/", nil)); err != nil {
		t.Fatalf("app.Test: %v", err)
	}
}
