package service

import (
	"context"
	"errors"
	"log"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/cache"
	"github.com/noteduco342/OMChat-backend/internal/metrics"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/repository"
	"github.com/noteduco342/OMChat-backend/internal/storage"
	"github.com/noteduco342/OMChat-backend/internal/validation"
)

type MessageService struct {
	messageRepo repository.MessageRepositoryInterface
	userRepo    repository.UserRepositoryInterface
	resolver    *ConversationResolver
	router      *DeliveryRouter
	counter     *cache.UnreadCounter
	convCache   *cache.ConversationCache
	attachments *AttachmentService
	maxLength   int
}

func NewMessageService(
	messageRepo repository.MessageRepositoryInterface,
	userRepo repository.UserRepositoryInterface,
	resolver *ConversationResolver,
	router *DeliveryRouter,
	counter *cache.UnreadCounter,
	convCache *cache.ConversationCache,
	attachments *AttachmentService,
	maxLength int,
) *MessageService {
	if maxLength <= 0 {
		maxLength = validation.DefaultMaxMessageLength
	}
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		resolver:    resolver,
		router:      router,
		counter:     counter,
		convCache:   convCache,
		attachments: attachments,
		maxLength:   maxLength,
	}
}

type SendMessageInput struct {
	Target    models.Target
	Text      string
	ReplyToID *uint
	Image     *Upload
	File      *Upload
}

// Send resolves, persists and then delivers a message. Delivery problems
// never fail the send.
func (s *MessageService) Send(ctx context.Context, senderID uint, in SendMessageInput) (*models.Message, error) {
	if err := in.Target.Validate(); err != nil {
		return nil, err
	}
	text := validation.TrimAndLimit(in.Text, s.maxLength)
	if in.Image != nil && in.File != nil {
		return nil, apperr.Validation("send an image or a file, not both")
	}
	if text == "" && in.Image == nil && in.File == nil {
		return nil, apperr.Validation("message must contain text, an image or a file")
	}

	res, err := s.resolver.ResolveRecipients(ctx, in.Target, senderID)
	if err != nil {
		return nil, err
	}

	if in.ReplyToID != nil {
		if err := s.checkReply(ctx, *in.ReplyToID, res.Conversation, senderID); err != nil {
			return nil, err
		}
	}

	attachment, blob, err := s.storeAttachment(ctx, res.Conversation.IsGroup, in)
	if err != nil {
		return nil, err
	}

	message := &models.Message{
		SenderID:    senderID,
		RecipientID: in.Target.ReceiverID,
		GroupID:     in.Target.GroupID,
		Text:        text,
		Attachment:  attachment,
		ReplyToID:   in.ReplyToID,
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		s.attachments.Discard(ctx, blob)
		return nil, apperr.Store("failed to save message", err)
	}

	kind := "direct"
	if res.Conversation.IsGroup {
		kind = "group"
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	// Load sender and reply preview
	if full, err := s.messageRepo.FindByID(ctx, message.ID); err == nil {
		message = full
	} else {
		log.Printf("[messages] reload of %d failed, delivering bare message: %v", message.ID, err)
	}

	if err := s.convCache.Invalidate(ctx, senderID, res.Conversation); err != nil {
		log.Printf("[messages] cache invalidate %s failed: %v", res.Conversation, err)
	}
	s.router.DeliverMessage(ctx, message, res)
	return message, nil
}

// Fetch returns the whole conversation with current read state, oldest first.
func (s *MessageService) Fetch(ctx context.Context, reader uint, key models.ConversationKey) ([]models.Message, error) {
	if err := s.resolver.Authorize(ctx, key, reader); err != nil {
		return nil, err
	}
	if cached, ok := s.convCache.Get(ctx, reader, key); ok {
		return cached, nil
	}

	gen := s.convCache.Generation(ctx, reader, key)
	messages, err := s.messageRepo.FindConversation(ctx, reader, key)
	if err != nil {
		return nil, apperr.Store("failed to load conversation", err)
	}
	if _, err := s.convCache.Set(ctx, reader, key, gen, messages); err != nil {
		log.Printf("[messages] cache set %s failed: %v", key, err)
	}
	return messages, nil
}

// UnreadCount answers from the counter cache, seeding it from the store on a
// miss. With resync the store count replaces the cached one.
func (s *MessageService) UnreadCount(ctx context.Context, reader uint, key models.ConversationKey, resync bool) (int64, error) {
	if err := s.resolver.Authorize(ctx, key, reader); err != nil {
		return 0, err
	}
	return unreadCount(ctx, s.counter, s.messageRepo, reader, key, resync)
}

// Sidebar lists every other user with online state and my unread count for them.
func (s *MessageService) Sidebar(ctx context.Context, userID uint) ([]models.SidebarUser, error) {
	users, err := s.userRepo.ListExcept(ctx, userID)
	if err != nil {
		return nil, apperr.Store("failed to load users", err)
	}

	online := make(map[uint]bool)
	for _, id := range s.router.OnlineUsers(ctx) {
		online[id] = true
	}

	out := make([]models.SidebarUser, 0, len(users))
	for i := range users {
		count, err := unreadCount(ctx, s.counter, s.messageRepo, userID, models.DirectConversation(users[i].ID), false)
		if err != nil {
			return nil, err
		}
		resp := users[i].ToResponse()
		resp.IsOnline = online[users[i].ID]
		out = append(out, models.SidebarUser{UserResponse: resp, UnreadCount: count})
	}
	return out, nil
}

func (s *MessageService) checkReply(ctx context.Context, replyToID uint, key models.ConversationKey, senderID uint) error {
	parent, err := s.messageRepo.FindByID(ctx, replyToID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Validation("replyTo must reference an existing message")
	}
	if err != nil {
		return apperr.Store("failed to load reply target", err)
	}
	if !key.Contains(parent, senderID) {
		return apperr.Validation("replyTo must reference a message in the same conversation")
	}
	return nil
}

func (s *MessageService) storeAttachment(ctx context.Context, isGroup bool, in SendMessageInput) (models.Attachment, storage.Blob, error) {
	switch {
	case in.Image != nil:
		folder := storage.FolderChatImages
		if isGroup {
			folder = storage.FolderGroupImages
		}
		return s.attachments.StoreImage(ctx, folder, *in.Image)
	case in.File != nil:
		folder := storage.FolderChatFiles
		if isGroup {
			folder = storage.FolderGroupFiles
		}
		return s.attachments.StoreFile(ctx, folder, *in.File)
	}
	return models.NoAttachment(), storage.Blob{}, nil
}

func unreadCount(
	ctx context.Context,
	counter *cache.UnreadCounter,
	messages repository.MessageRepositoryInterface,
	reader uint,
	key models.ConversationKey,
	resync bool,
) (int64, error) {
	if resync {
		count, err := counter.Recompute(ctx, reader, key, messages)
		if err != nil {
			return 0, apperr.Store("failed to count unread messages", err)
		}
		return count, nil
	}
	if count, ok := counter.Get(ctx, reader, key); ok {
		return count, nil
	}

	snap := counter.Snapshot(ctx, reader, key)
	count, err := messages.CountUnread(ctx, reader, key)
	if err != nil {
		return 0, apperr.Store("failed to count unread messages", err)
	}
	counter.Seed(ctx, reader, key, snap, count)
	return count, nil
}
