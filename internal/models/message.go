package models

import (
	"strings"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
)

type AttachmentKind string

const (
	AttachmentNone  AttachmentKind = ""
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a tagged union: Kind selects which of the fields are meaningful.
// Image uses only URL; File uses every field.
type Attachment struct {
	Kind        AttachmentKind `gorm:"column:attachment_kind;type:varchar(10);default:''" json:"kind,omitempty" msgpack:"kind"`
	URL         string         `gorm:"column:attachment_url" json:"url,omitempty" msgpack:"url"`
	ContentType string         `gorm:"column:attachment_type;size:128" json:"type,omitempty" msgpack:"type"`
	Size        int64          `gorm:"column:attachment_size" json:"size,omitempty" msgpack:"size"`
	Name        string         `gorm:"column:attachment_name;size:255" json:"name,omitempty" msgpack:"name"`
	Extension   string         `gorm:"column:attachment_ext;size:32" json:"extension,omitempty" msgpack:"extension"`
}

func NoAttachment() Attachment {
	return Attachment{Kind: AttachmentNone}
}

func ImageAttachment(url string) Attachment {
	return Attachment{Kind: AttachmentImage, URL: url}
}

func FileAttachment(url, contentType string, size int64, name, extension string) Attachment {
	return Attachment{
		Kind:        AttachmentFile,
		URL:         url,
		ContentType: contentType,
		Size:        size,
		Name:        name,
		Extension:   extension,
	}
}

func (a Attachment) IsZero() bool {
	return a.Kind == AttachmentNone
}

func (a Attachment) Validate() error {
	switch a.Kind {
	case AttachmentNone:
		return nil
	case AttachmentImage:
		if a.URL == "" {
			return apperr.Validation("image attachment requires a url")
		}
	case AttachmentFile:
		if a.URL == "" || a.Name == "" {
			return apperr.Validation("file attachment requires a url and a name")
		}
	default:
		return apperr.Validation("unknown attachment kind")
	}
	return nil
}

// Target addresses a message to exactly one of a user or a group.
type Target struct {
	ReceiverID *uint `json:"receiver_id,omitempty"`
	GroupID    *uint `json:"group_id,omitempty"`
}

func DirectTarget(receiverID uint) Target {
	return Target{ReceiverID: &receiverID}
}

func GroupTarget(groupID uint) Target {
	return Target{GroupID: &groupID}
}

func (t Target) Validate() error {
	hasReceiver := t.ReceiverID != nil && *t.ReceiverID != 0
	hasGroup := t.GroupID != nil && *t.GroupID != 0
	if hasReceiver == hasGroup {
		return apperr.Validation("message must have either receiverId or groupId, but not both")
	}
	return nil
}

func (t Target) IsGroup() bool {
	return t.GroupID != nil && *t.GroupID != 0
}

type Message struct {
	ID        uint      `gorm:"primarykey" json:"id" msgpack:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`

	SenderID    uint   `gorm:"not null;index" json:"sender_id" msgpack:"sender_id"`
	Sender      User   `gorm:"foreignKey:SenderID" json:"sender" msgpack:"sender"`
	RecipientID *uint  `gorm:"index" json:"recipient_id" msgpack:"recipient_id"` // null for group messages
	GroupID     *uint  `gorm:"index" json:"group_id" msgpack:"group_id"`         // null for direct messages
	Group       *Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-" msgpack:"-"`

	Text       string     `gorm:"type:text" json:"text" msgpack:"text"`
	Attachment Attachment `gorm:"embedded" json:"attachment" msgpack:"attachment"`

	ReplyToID *uint    `gorm:"index" json:"reply_to_id" msgpack:"reply_to_id"`
	ReplyTo   *Message `gorm:"foreignKey:ReplyToID;constraint:OnDelete:SET NULL" json:"-" msgpack:"reply_to"`

	ReadBy []MessageRead `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"read_by" msgpack:"read_by"`
}

// MessageRead is one (principal, readAt) pair. The composite key makes a
// principal appear at most once per message.
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"-" msgpack:"message_id"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user" msgpack:"user_id"`
	ReadAt    time.Time `gorm:"not null" json:"read_at" msgpack:"read_at"`
}

func (m *Message) Target() Target {
	return Target{ReceiverID: m.RecipientID, GroupID: m.GroupID}
}

// Validate checks target exclusivity and that the message carries some content.
func (m *Message) Validate() error {
	if err := m.Target().Validate(); err != nil {
		return err
	}
	if err := m.Attachment.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(m.Text) == "" && m.Attachment.IsZero() {
		return apperr.Validation("message must contain text, an image or a file")
	}
	return nil
}

// ConversationFor returns the conversation key as seen by principal.
// For direct messages that is the other party.
func (m *Message) ConversationFor(principal uint) ConversationKey {
	if m.GroupID != nil {
		return GroupConversation(*m.GroupID)
	}
	if m.SenderID == principal && m.RecipientID != nil {
		return DirectConversation(*m.RecipientID)
	}
	return DirectConversation(m.SenderID)
}

func (m *Message) IsReadBy(userID uint) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

type ReplyPreview struct {
	ID             uint           `json:"id"`
	SenderID       uint           `json:"sender_id"`
	Text           string         `json:"text"`
	AttachmentKind AttachmentKind `json:"attachment_kind,omitempty"`
}

type ReadReceipt struct {
	User   uint      `json:"user"`
	ReadAt time.Time `json:"read_at"`
}

type MessageResponse struct {
	ID          uint          `json:"id"`
	SenderID    uint          `json:"sender_id"`
	Sender      UserResponse  `json:"sender"`
	RecipientID *uint         `json:"recipient_id"`
	GroupID     *uint         `json:"group_id"`
	Text        string        `json:"text"`
	Image       string        `json:"image,omitempty"`
	File        *Attachment   `json:"file,omitempty"`
	ReplyTo     *ReplyPreview `json:"reply_to"`
	ReadBy      []ReadReceipt `json:"read_by"`
	IsRead      bool          `json:"is_read"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ToResponse flattens the attachment union into the image/file shape clients render.
// ReplyTo is resolved one level only.
func (m *Message) ToResponse() MessageResponse {
	resp := MessageResponse{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Sender:      m.Sender.ToResponse(),
		RecipientID: m.RecipientID,
		GroupID:     m.GroupID,
		Text:        m.Text,
		ReadBy:      make([]ReadReceipt, 0, len(m.ReadBy)),
		IsRead:      len(m.ReadBy) > 0,
		CreatedAt:   m.CreatedAt,
	}

	switch m.Attachment.Kind {
	case AttachmentImage:
		resp.Image = m.Attachment.URL
	case AttachmentFile:
		file := m.Attachment
		resp.File = &file
	}

	for _, r := range m.ReadBy {
		resp.ReadBy = append(resp.ReadBy, ReadReceipt{User: r.UserID, ReadAt: r.ReadAt})
	}

	if m.ReplyTo != nil {
		resp.ReplyTo = &ReplyPreview{
			ID:             m.ReplyTo.ID,
			SenderID:       m.ReplyTo.SenderID,
			Text:           m.ReplyTo.Text,
			AttachmentKind: m.ReplyTo.Attachment.Kind,
		}
	}
	return resp
}

func ToResponses(messages []Message) []MessageResponse {
	out := make([]MessageResponse, len(messages))
	for i := range messages {
		out[i] = messages[i].ToResponse()
	}
	return out
}
