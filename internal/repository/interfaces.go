package repository

import (
	"context"
	"time"

	"github.com/noteduco342/OMChat-backend/internal/models"
)

// UserRepositoryInterface defines the contract for user repository operations
type UserRepositoryInterface interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	ListExcept(ctx context.Context, userID uint) ([]models.User, error)
}

// MessageRepositoryInterface is the message store adapter. Every query is
// scoped by a ConversationKey as seen from the reading principal.
type MessageRepositoryInterface interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uint) (*models.Message, error)
	FindByIDs(ctx context.Context, ids []uint) ([]models.Message, error)
	FindConversation(ctx context.Context, reader uint, key models.ConversationKey) ([]models.Message, error)
	FindUnread(ctx context.Context, reader uint, key models.ConversationKey, limit int) ([]models.Message, error)
	CountUnread(ctx context.Context, reader uint, key models.ConversationKey) (int64, error)
	// MarkRead adds reader to readBy of every listed message not authored by
	// reader and returns the ids that actually changed.
	MarkRead(ctx context.Context, ids []uint, reader uint, readAt time.Time) ([]uint, error)
}

// GroupRepositoryInterface defines the contract for group repository operations
type GroupRepositoryInterface interface {
	Create(ctx context.Context, group *models.Group) error
	FindByID(ctx context.Context, id uint) (*models.Group, error)
	ListForUser(ctx context.Context, userID uint) ([]models.Group, error)
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
	MemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	AddMembers(ctx context.Context, groupID uint, userIDs []uint) error
	RemoveMember(ctx context.Context, groupID, userID uint) error
	Update(ctx context.Context, group *models.Group) error
	// DeleteCascade removes the group with its members, messages and read markers.
	DeleteCascade(ctx context.Context, groupID uint) error
}
