package service

import (
	"encoding/json"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

// Server to client event types.
const (
	EventNewMessage      = "newMessage"
	EventNewGroupMessage = "newGroupMessage"
	EventReadUpdate      = "messages:read:update"
	EventOnlineUsers     = "getOnlineUsers"
	EventGroupUpdated    = "groupUpdated"
	EventGroupDeleted    = "groupDeleted"
)

type frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// EncodeEvent builds the {"type","payload"} frame written to sockets.
func EncodeEvent(eventType string, payload interface{}) ([]byte, error) {
	return json.Marshal(frame{Type: eventType, Payload: payload})
}

type GroupMessageEvent struct {
	GroupID uint                   `json:"groupId"`
	Message models.MessageResponse `json:"message"`
}

// ReadUpdateEvent is what a sender sees when someone reads their messages.
// ConversationID is expressed from the sender's side: the reader for direct
// chats, the group otherwise.
type ReadUpdateEvent struct {
	MessageIDs     []uint    `json:"messageIds"`
	ReadBy         uint      `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
	ConversationID uint      `json:"conversationId"`
	IsGroup        bool      `json:"isGroup"`
}

type OnlineUsersEvent struct {
	UserIDs []uint `json:"userIds"`
}

type GroupDeletedEvent struct {
	GroupID uint `json:"groupId"`
}
