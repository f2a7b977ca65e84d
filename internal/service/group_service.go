package service

import (
	"context"
	"log"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/repository"
	"github.com/noteduco342/OMChat-backend/internal/storage"
	"github.com/noteduco342/OMChat-backend/internal/validation"
)

type GroupService struct {
	groupRepo   repository.GroupRepositoryInterface
	userRepo    repository.UserRepositoryInterface
	messageRepo repository.MessageRepositoryInterface
	router      *DeliveryRouter
	counter     *cache.UnreadCounter
	convCache   *cache.ConversationCache
	attachments *AttachmentService
}

func NewGroupService(
	groupRepo repository.GroupRepositoryInterface,
	userRepo repository.UserRepositoryInterface,
	messageRepo repository.MessageRepositoryInterface,
	router *DeliveryRouter,
	counter *cache.UnreadCounter,
	convCache *cache.ConversationCache,
	attachments *AttachmentService,
) *GroupService {
	return &GroupService{
		groupRepo:   groupRepo,
		userRepo:    userRepo,
		messageRepo: messageRepo,
		router:      router,
		counter:     counter,
		convCache:   convCache,
		attachments: attachments,
	}
}

type CreateGroupInput struct {
	Name        string
	Description string
	Members     []uint
	GroupPic    *Upload
}

type UpdateGroupInput struct {
	Name        *string
	Description *string
	GroupPic    *Upload
}

// Create makes adminID the admin and first member. At least one other member
// is required.
func (s *GroupService) Create(ctx context.Context, adminID uint, in CreateGroupInput) (*models.Group, error) {
	if !validation.ValidateGroupName(in.Name) {
		return nil, apperr.Validation("group name is required")
	}
	members := validation.Without(validation.UniqueIDs(in.Members), adminID)
	if len(members) == 0 {
		return nil, apperr.Validation("at least one member is required")
	}
	if err := s.checkUsersExist(ctx, members); err != nil {
		return nil, err
	}

	group := &models.Group{
		Name:        validation.NormalizeGroupName(in.Name),
		Description: validation.NormalizeGroupDescription(in.Description),
		AdminID:     adminID,
		Members:     []models.GroupMember{{UserID: adminID}},
	}
	for _, id := range members {
		group.Members = append(group.Members, models.GroupMember{UserID: id})
	}

	var pic storage.Blob
	if in.GroupPic != nil {
		blob, err := s.attachments.StoreGroupPic(ctx, *in.GroupPic)
		if err != nil {
			return nil, err
		}
		pic = blob
		group.GroupPic = blob.URL
	}

	if err := s.groupRepo.Create(ctx, group); err != nil {
		s.attachments.Discard(ctx, pic)
		return nil, apperr.Store("failed to create group", err)
	}

	created := s.reload(ctx, group)
	s.router.DeliverGroupEvent(ctx, created.ID, EventGroupUpdated, created.ToResponse(), members, false)
	return created, nil
}

// List returns the user's groups, most recently updated first, with the
// user's unread count for each.
func (s *GroupService) List(ctx context.Context, userID uint) ([]models.GroupResponse, error) {
	groups, err := s.groupRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Store("failed to load groups", err)
	}

	out := make([]models.GroupResponse, 0, len(groups))
	for i := range groups {
		resp := groups[i].ToResponse()
		count, err := unreadCount(ctx, s.counter, s.messageRepo, userID, models.GroupConversation(groups[i].ID), false)
		if err != nil {
			return nil, err
		}
		resp.UnreadCount = count
		out = append(out, resp)
	}
	return out, nil
}

func (s *GroupService) AddMembers(ctx context.Context, actorID, groupID uint, userIDs []uint) (*models.Group, error) {
	group, err := s.adminGroup(ctx, actorID, groupID, "only the admin can add members")
	if err != nil {
		return nil, err
	}

	var added []uint
	for _, id := range validation.UniqueIDs(userIDs) {
		if !group.HasMember(id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil, apperr.Validation("no new members to add")
	}
	if err := s.checkUsersExist(ctx, added); err != nil {
		return nil, err
	}

	if err := s.groupRepo.AddMembers(ctx, groupID, added); err != nil {
		return nil, apperr.Store("failed to add members", err)
	}

	updated := s.reload(ctx, group)
	s.router.DeliverGroupEvent(ctx, groupID, EventGroupUpdated, updated.ToResponse(), added, false)
	return updated, nil
}

// RemoveMember lets the admin remove anyone but themselves, and lets a
// member leave. The admin can never be removed; the group must be deleted
// instead.
func (s *GroupService) RemoveMember(ctx context.Context, actorID, groupID, memberID uint) (*models.Group, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		return nil, apperr.Store("failed to load group", err)
	}
	if !group.HasMember(actorID) {
		return nil, apperr.Forbidden("not a member of this group")
	}
	if group.IsAdmin(memberID) {
		return nil, apperr.Forbidden("admin cannot leave the group; delete it instead")
	}
	if !group.IsAdmin(actorID) && actorID != memberID {
		return nil, apperr.Forbidden("only the admin can remove members")
	}
	if !group.HasMember(memberID) {
		return nil, apperr.NotFound("user is not a member of this group")
	}

	if err := s.groupRepo.RemoveMember(ctx, groupID, memberID); err != nil {
		return nil, apperr.Store("failed to remove member", err)
	}

	updated := s.reload(ctx, group)
	s.router.DeliverGroupEvent(ctx, groupID, EventGroupUpdated, updated.ToResponse(), []uint{memberID}, true)
	return updated, nil
}

func (s *GroupService) Update(ctx context.Context, actorID, groupID uint, in UpdateGroupInput) (*models.Group, error) {
	group, err := s.adminGroup(ctx, actorID, groupID, "only the admin can update the group")
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if !validation.ValidateGroupName(*in.Name) {
			return nil, apperr.Validation("group name is required")
		}
		group.Name = validation.NormalizeGroupName(*in.Name)
	}
	if in.Description != nil {
		group.Description = validation.NormalizeGroupDescription(*in.Description)
	}

	var pic storage.Blob
	if in.GroupPic != nil {
		blob, err := s.attachments.StoreGroupPic(ctx, *in.GroupPic)
		if err != nil {
			return nil, err
		}
		pic = blob
		group.GroupPic = blob.URL
	}

	if err := s.groupRepo.Update(ctx, group); err != nil {
		s.attachments.Discard(ctx, pic)
		return nil, apperr.Store("failed to update group", err)
	}

	updated := s.reload(ctx, group)
	s.router.DeliverGroupEvent(ctx, groupID, EventGroupUpdated, updated.ToResponse(), nil, false)
	return updated, nil
}

// Delete removes the group with all its messages and read markers.
func (s *GroupService) Delete(ctx context.Context, actorID, groupID uint) error {
	group, err := s.adminGroup(ctx, actorID, groupID, "only the admin can delete the group")
	if err != nil {
		return err
	}
	members := group.MemberIDs()

	if err := s.groupRepo.DeleteCascade(ctx, groupID); err != nil {
		return apperr.Store("failed to delete group", err)
	}

	key := models.GroupConversation(groupID)
	if err := s.convCache.Invalidate(ctx, actorID, key); err != nil {
		log.Printf("[groups] cache invalidate %s failed: %v", key, err)
	}
	s.router.DeliverGroupEvent(ctx, groupID, EventGroupDeleted, GroupDeletedEvent{GroupID: groupID}, members, true)
	return nil
}

// CanJoinRoom reports whether userID may subscribe to the group's room.
func (s *GroupService) CanJoinRoom(ctx context.Context, userID, groupID uint) error {
	ok, err := s.groupRepo.IsMember(ctx, groupID, userID)
	if err != nil {
		return apperr.Store("failed to check membership", err)
	}
	if !ok {
		return apperr.Forbidden("not a member of this group")
	}
	return nil
}

func (s *GroupService) adminGroup(ctx context.Context, actorID, groupID uint, msg string) (*models.Group, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if err != nil {
		return nil, apperr.Store("failed to load group", err)
	}
	if !group.IsAdmin(actorID) {
		return nil, apperr.Forbidden(msg)
	}
	return group, nil
}

func (s *GroupService) checkUsersExist(ctx context.Context, ids []uint) error {
	users, err := s.userRepo.FindByIDs(ctx, ids)
	if err != nil {
		return apperr.Store("failed to load users", err)
	}
	if len(users) != len(ids) {
		return apperr.Validation("unknown member id")
	}
	return nil
}

// reload returns the stored group with members, or fallback if that fails.
func (s *GroupService) reload(ctx context.Context, fallback *models.Group) *models.Group {
	group, err := s.groupRepo.FindByID(ctx, fallback.ID)
	if err != nil {
		log.Printf("[groups] reload of %d failed: %v", fallback.ID, err)
		return fallback
	}
	return group
}
