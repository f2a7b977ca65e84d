package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

// TestJWTSecret signs tokens in handler and middleware tests.
const TestJWTSecret = "test-secret-key-for-testing-only"

// TestHelper provides utility functions for tests
type TestHelper struct {
	t *testing.T
}

func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTestUser creates a test user with default values
func (h *TestHelper) CreateTestUser(id uint, username string) *models.User {
	if id == 0 {
		id = 1
	}
	if username == "" {
		username = "testuser"
	}

	return &models.User{
		ID:         id,
		Username:   username,
		FullName:   "Test User",
		ProfilePic: "https://example.com/avatar.jpg",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// CreateTestMessage creates a direct text message from senderID to recipientID.
func (h *TestHelper) CreateTestMessage(senderID, recipientID uint, text string) *models.Message {
	if text == "" {
		text = "Test message"
	}
	return &models.Message{
		SenderID:    senderID,
		RecipientID: &recipientID,
		Text:        text,
	}
}

// CreateTestGroupMessage creates a group text message.
func (h *TestHelper) CreateTestGroupMessage(senderID, groupID uint, text string) *models.Message {
	if text == "" {
		text = "Test message"
	}
	return &models.Message{
		SenderID: senderID,
		GroupID:  &groupID,
		Text:     text,
	}
}

// SetupTestEnv sets the variables config.Load requires, restored after the test.
func (h *TestHelper) SetupTestEnv() {
	h.t.Setenv("JWT_SECRET", TestJWTSecret)
	h.t.Setenv("BUS_DRIVER", "local")
}

// AccessToken signs an HS256 access token for userID with TestJWTSecret.
func (h *TestHelper) AccessToken(userID uint, ttl time.Duration) string {
	h.t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TestJWTSecret))
	if err != nil {
		h.t.Fatalf("sign token: %v", err)
	}
	return token
}
