package models

import (
	"errors"
	"testing"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
)

func uintPtr(v uint) *uint { return &v }

func TestUserToResponse(t *testing.T) {
	user := &User{
		ID:         1,
		Username:   "john_doe",
		FullName:   "John Doe",
		ProfilePic: "https://example.com/avatar.jpg",
	}

	response := user.ToResponse()

	if response.ID != user.ID {
		t.Errorf("ToResponse ID = %d, want %d", response.ID, user.ID)
	}
	if response.Username != user.Username {
		t.Errorf("ToResponse Username = %q, want %q", response.Username, user.Username)
	}
	if response.FullName != user.FullName {
		t.Errorf("ToResponse FullName = %q, want %q", response.FullName, user.FullName)
	}
	if response.ProfilePic != user.ProfilePic {
		t.Errorf("ToResponse ProfilePic = %q, want %q", response.ProfilePic, user.ProfilePic)
	}
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name      string
		target    Target
		shouldErr bool
	}{
		{"Receiver only", Target{ReceiverID: uintPtr(2)}, false},
		{"Group only", Target{GroupID: uintPtr(7)}, false},
		{"Both set", Target{ReceiverID: uintPtr(2), GroupID: uintPtr(7)}, true},
		{"Neither set", Target{}, true},
		{"Zero receiver", Target{ReceiverID: uintPtr(0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if (err != nil) != tt.shouldErr {
				t.Fatalf("Validate error = %v, wantErr %v", err, tt.shouldErr)
			}
			if err != nil && !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Validate error = %v, want validation error", err)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name      string
		message   Message
		shouldErr bool
	}{
		{"Text message", Message{SenderID: 1, RecipientID: uintPtr(2), Text: "hi"}, false},
		{"Image only", Message{SenderID: 1, GroupID: uintPtr(3), Attachment: ImageAttachment("https://cdn/x.jpg")}, false},
		{"File only", Message{SenderID: 1, GroupID: uintPtr(3), Attachment: FileAttachment("https://cdn/a.pdf", "application/pdf", 10, "a.pdf", "pdf")}, false},
		{"Blank text no attachment", Message{SenderID: 1, RecipientID: uintPtr(2), Text: "   "}, true},
		{"File without name", Message{SenderID: 1, RecipientID: uintPtr(2), Attachment: Attachment{Kind: AttachmentFile, URL: "u"}}, true},
		{"Both targets", Message{SenderID: 1, RecipientID: uintPtr(2), GroupID: uintPtr(3), Text: "hi"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.message.Validate()
			if (err != nil) != tt.shouldErr {
				t.Errorf("Validate error = %v, wantErr %v", err, tt.shouldErr)
			}
		})
	}
}

func TestMessageConversationFor(t *testing.T) {
	direct := &Message{SenderID: 1, RecipientID: uintPtr(2)}
	if got := direct.ConversationFor(1); got != DirectConversation(2) {
		t.Errorf("sender view = %v, want user:2", got)
	}
	if got := direct.ConversationFor(2); got != DirectConversation(1) {
		t.Errorf("receiver view = %v, want user:1", got)
	}

	group := &Message{SenderID: 1, GroupID: uintPtr(9)}
	if got := group.ConversationFor(5); got != GroupConversation(9) {
		t.Errorf("group view = %v, want group:9", got)
	}
}

func TestConversationKeyContains(t *testing.T) {
	msg := &Message{SenderID: 1, RecipientID: uintPtr(2)}

	if !DirectConversation(2).Contains(msg, 1) {
		t.Errorf("sender should see message in user:2")
	}
	if !DirectConversation(1).Contains(msg, 2) {
		t.Errorf("receiver should see message in user:1")
	}
	if DirectConversation(3).Contains(msg, 2) {
		t.Errorf("unrelated peer should not contain message")
	}
	if GroupConversation(2).Contains(msg, 1) {
		t.Errorf("group key should not contain direct message")
	}
}

func TestParseConversationKey(t *testing.T) {
	for _, key := range []ConversationKey{DirectConversation(4), GroupConversation(12)} {
		parsed, err := ParseConversationKey(key.String())
		if err != nil {
			t.Fatalf("ParseConversationKey(%q): %v", key.String(), err)
		}
		if parsed != key {
			t.Errorf("ParseConversationKey(%q) = %v, want %v", key.String(), parsed, key)
		}
	}

	for _, bad := range []string{"", "user", "user:0", "room:1", "group:x"} {
		if _, err := ParseConversationKey(bad); err == nil {
			t.Errorf("ParseConversationKey(%q) expected error", bad)
		}
	}
}

func TestMessageToResponse(t *testing.T) {
	createdAt := time.Now()
	readAt := createdAt.Add(time.Minute)

	parent := &Message{ID: 1, SenderID: 2, Text: "original", ReplyToID: uintPtr(99)}
	message := &Message{
		ID:          2,
		CreatedAt:   createdAt,
		SenderID:    1,
		RecipientID: uintPtr(2),
		Text:        "see attached",
		Attachment:  FileAttachment("https://cdn/r.pdf", "application/pdf", 2048, "report.pdf", "pdf"),
		ReplyToID:   uintPtr(1),
		ReplyTo:     parent,
		ReadBy:      []MessageRead{{MessageID: 2, UserID: 2, ReadAt: readAt}},
		Sender:      User{ID: 1, Username: "john_doe"},
	}

	response := message.ToResponse()

	if response.File == nil || response.File.Name != "report.pdf" || response.File.Size != 2048 {
		t.Errorf("ToResponse File = %+v, want report.pdf with size 2048", response.File)
	}
	if response.Image != "" {
		t.Errorf("ToResponse Image = %q, want empty for file attachment", response.Image)
	}
	if response.ReplyTo == nil || response.ReplyTo.Text != "original" {
		t.Fatalf("ToResponse ReplyTo = %+v, want preview of message 1", response.ReplyTo)
	}
	if !response.IsRead || len(response.ReadBy) != 1 || response.ReadBy[0].User != 2 {
		t.Errorf("ToResponse ReadBy = %+v, want one receipt for user 2", response.ReadBy)
	}
	if !response.CreatedAt.Equal(createdAt) {
		t.Errorf("ToResponse CreatedAt = %v, want %v", response.CreatedAt, createdAt)
	}
}

func TestAttachmentKindConstants(t *testing.T) {
	tests := []struct {
		name     string
		kind     AttachmentKind
		expected string
	}{
		{"None", AttachmentNone, ""},
		{"Image", AttachmentImage, "image"},
		{"File", AttachmentFile, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.kind) != tt.expected {
				t.Errorf("AttachmentKind = %q, want %q", string(tt.kind), tt.expected)
			}
		})
	}
}

func TestGroupMembership(t *testing.T) {
	group := &Group{
		ID:      1,
		AdminID: 10,
		Members: []GroupMember{{GroupID: 1, UserID: 10}, {GroupID: 1, UserID: 11}},
	}

	if !group.HasMember(11) {
		t.Errorf("HasMember(11) = false, want true")
	}
	if group.HasMember(12) {
		t.Errorf("HasMember(12) = true, want false")
	}
	if !group.IsAdmin(10) || group.IsAdmin(11) {
		t.Errorf("IsAdmin mismatch")
	}
	if ids := group.MemberIDs(); len(ids) != 2 {
		t.Errorf("MemberIDs = %v, want 2 entries", ids)
	}
}
