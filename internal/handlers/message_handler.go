package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noteduco342/OMChat-backend/internal/httpx"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/service"
)

type MessageHandler struct {
	messageService *service.MessageService
	reconciler     *service.ReadReconciler
}

func NewMessageHandler(messageService *service.MessageService, reconciler *service.ReadReconciler) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
		reconciler:     reconciler,
	}
}

func (h *MessageHandler) GetSidebarUsers(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	users, err := h.messageService.Sidebar(c.UserContext(), userID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(users)
}

// GetMessages returns the whole direct conversation with :id, oldest first.
func (h *MessageHandler) GetMessages(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	peerID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}

	messages, err := h.messageService.Fetch(c.UserContext(), userID, models.DirectConversation(peerID))
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(models.ToResponses(messages))
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	receiverID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	return sendMessage(c, h.messageService, userID, models.DirectTarget(receiverID))
}

type markReadRequest struct {
	MessageIDs     []uint `json:"messageIds"`
	IsGroup        bool   `json:"isGroup"`
	ConversationID uint   `json:"conversationId"`
}

func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	result, err := h.reconciler.Reconcile(c.UserContext(), service.ReadRequest{
		Reader:       userID,
		Conversation: models.ConversationKey{ID: req.ConversationID, IsGroup: req.IsGroup},
		MessageIDs:   req.MessageIDs,
	})
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(result)
}

// GetUnreadCount answers for the direct chat with :userId. ?resync=1 forces
// a recount from the store.
func (h *MessageHandler) GetUnreadCount(c *fiber.Ctx) error {
	return unreadCount(c, h.messageService, "userId", false)
}

func sendMessage(c *fiber.Ctx, svc *service.MessageService, senderID uint, target models.Target) error {
	parsed, err := parseSend(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	defer parsed.Close()

	message, err := svc.Send(c.UserContext(), senderID, service.SendMessageInput{
		Target:    target,
		Text:      parsed.Text,
		ReplyToID: parsed.ReplyTo,
		Image:     parsed.Image,
		File:      parsed.File,
	})
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(message.ToResponse())
}

func unreadCount(c *fiber.Ctx, svc *service.MessageService, param string, isGroup bool) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	id, err := paramID(c, param)
	if err != nil {
		return httpx.FromError(c, err)
	}

	key := models.ConversationKey{ID: id, IsGroup: isGroup}
	resync := c.Query("resync") == "1" || c.Query("resync") == "true"
	count, err := svc.UnreadCount(c.UserContext(), userID, key, resync)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(fiber.Map{"unreadCount": count})
}
