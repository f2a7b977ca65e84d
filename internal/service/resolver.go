package service

import (
	"context"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/repository"
	"github.com/noteduco342/OMChat-backend/internal/validation"
)

// Resolution is who receives a message and which conversation it lands in,
// as seen by the sender.
type Resolution struct {
	Recipients   []uint
	Conversation models.ConversationKey
}

// ConversationResolver maps message targets to recipients and checks that a
// principal may act on a conversation. It never writes.
type ConversationResolver struct {
	users  repository.UserRepositoryInterface
	groups repository.GroupRepositoryInterface
}

func NewConversationResolver(users repository.UserRepositoryInterface, groups repository.GroupRepositoryInterface) *ConversationResolver {
	return &ConversationResolver{users: users, groups: groups}
}

func (r *ConversationResolver) ResolveRecipients(ctx context.Context, target models.Target, actor uint) (Resolution, error) {
	if err := target.Validate(); err != nil {
		return Resolution{}, err
	}

	if target.IsGroup() {
		group, err := r.memberGroup(ctx, *target.GroupID, actor)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{
			Recipients:   validation.Without(group.MemberIDs(), actor),
			Conversation: models.GroupConversation(group.ID),
		}, nil
	}

	receiverID := *target.ReceiverID
	if err := r.checkPeer(ctx, receiverID, actor); err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Recipients:   []uint{receiverID},
		Conversation: models.DirectConversation(receiverID),
	}, nil
}

// Authorize checks that actor may read key: group membership, or an existing
// peer for direct chats.
func (r *ConversationResolver) Authorize(ctx context.Context, key models.ConversationKey, actor uint) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if key.IsGroup {
		_, err := r.memberGroup(ctx, key.ID, actor)
		return err
	}
	return r.checkPeer(ctx, key.ID, actor)
}

func (r *ConversationResolver) memberGroup(ctx context.Context, groupID, actor uint) (*models.Group, error) {
	group, err := r.groups.FindByID(ctx, groupID)
	if err != nil {
		return nil, apperr.Store("failed to load group", err)
	}
	if !group.HasMember(actor) {
		return nil, apperr.Forbidden("not a member of this group")
	}
	return group, nil
}

func (r *ConversationResolver) checkPeer(ctx context.Context, peerID, actor uint) error {
	if peerID == actor {
		return apperr.Validation("cannot message yourself")
	}
	if _, err := r.users.FindByID(ctx, peerID); err != nil {
		return apperr.Store("failed to load user", err)
	}
	return nil
}
