package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
)

// ConversationKey identifies a conversation from one principal's point of view.
// For direct chats ID is the other party's user id; for groups it is the group id.
type ConversationKey struct {
	ID      uint `json:"conversation_id" msgpack:"id"`
	IsGroup bool `json:"is_group" msgpack:"is_group"`
}

func DirectConversation(peerID uint) ConversationKey {
	return ConversationKey{ID: peerID}
}

func GroupConversation(groupID uint) ConversationKey {
	return ConversationKey{ID: groupID, IsGroup: true}
}

func (k ConversationKey) String() string {
	if k.IsGroup {
		return fmt.Sprintf("group:%d", k.ID)
	}
	return fmt.Sprintf("user:%d", k.ID)
}

func (k ConversationKey) Validate() error {
	if k.ID == 0 {
		return apperr.Validation("conversationId is required")
	}
	return nil
}

// ParseConversationKey is the inverse of String.
func ParseConversationKey(s string) (ConversationKey, error) {
	kind, rawID, ok := strings.Cut(s, ":")
	if !ok {
		return ConversationKey{}, fmt.Errorf("invalid conversation key %q", s)
	}
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil || id == 0 {
		return ConversationKey{}, fmt.Errorf("invalid conversation key %q", s)
	}
	switch kind {
	case "user":
		return DirectConversation(uint(id)), nil
	case "group":
		return GroupConversation(uint(id)), nil
	}
	return ConversationKey{}, fmt.Errorf("invalid conversation key %q", s)
}

// Contains reports whether msg belongs to the conversation as seen by principal.
func (k ConversationKey) Contains(msg *Message, principal uint) bool {
	if k.IsGroup {
		return msg.GroupID != nil && *msg.GroupID == k.ID
	}
	if msg.GroupID != nil || msg.RecipientID == nil {
		return false
	}
	return (msg.SenderID == principal && *msg.RecipientID == k.ID) ||
		(msg.SenderID == k.ID && *msg.RecipientID == principal)
}
