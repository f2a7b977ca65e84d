package ws

import (
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/service"
)

// MessageChatOpen marks the newest unread messages of a chat as read when
// the client opens it.
type MessageChatOpen struct {
	ConversationID uint `json:"conversationId"`
	IsGroup        bool `json:"isGroup"`
}

func (msg *MessageChatOpen) GetType() string {
	return "chat:open"
}

func (msg *MessageChatOpen) Process(ctx *MessageContext) error {
	key := models.ConversationKey{ID: msg.ConversationID, IsGroup: msg.IsGroup}
	_, err := ctx.Reconciler.OpenConversation(ctx.Ctx, ctx.UserID, key)
	return err
}

// MessageRead marks explicit message ids as read.
type MessageRead struct {
	MessageIDs     []uint `json:"messageIds"`
	ConversationID uint   `json:"conversationId"`
	IsGroup        bool   `json:"isGroup"`
}

func (msg *MessageRead) GetType() string {
	return "messages:read"
}

func (msg *MessageRead) Process(ctx *MessageContext) error {
	_, err := ctx.Reconciler.Reconcile(ctx.Ctx, service.ReadRequest{
		Reader:       ctx.UserID,
		Conversation: models.ConversationKey{ID: msg.ConversationID, IsGroup: msg.IsGroup},
		MessageIDs:   msg.MessageIDs,
	})
	return err
}
