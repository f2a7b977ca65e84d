package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noteduco342/OMChat-backend/internal/apperr"
	"github.com/noteduco342/OMChat-backend/internal/httpx"
	"github.com/noteduco342/OMChat-backend/internal/models"
	"github.com/noteduco342/OMChat-backend/internal/service"
)

type GroupHandler struct {
	groupService   *service.GroupService
	messageService *service.MessageService
}

func NewGroupHandler(groupService *service.GroupService, messageService *service.MessageService) *GroupHandler {
	return &GroupHandler{groupService: groupService, messageService: messageService}
}

type groupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Members     []uint  `json:"members"`
	GroupPic    string  `json:"groupPic"`
}

// parseGroupRequest reads JSON, or multipart with a groupPic file and
// members as a JSON array or comma separated ids.
func parseGroupRequest(c *fiber.Ctx) (groupRequest, *service.Upload, func(), error) {
	noop := func() {}
	var req groupRequest

	if !isMultipart(c) {
		if err := c.BodyParser(&req); err != nil {
			return req, nil, noop, apperr.Validation("invalid request body")
		}
		if req.GroupPic == "" {
			return req, nil, noop, nil
		}
		data, contentType, err := decodeDataURL(req.GroupPic)
		if err != nil {
			return req, nil, noop, err
		}
		return req, &service.Upload{Name: "group-pic", ContentType: contentType, Body: bytes.NewReader(data)}, noop, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return req, nil, noop, apperr.Validation("invalid multipart form")
	}
	if v, ok := form.Value["name"]; ok && len(v) > 0 {
		req.Name = &v[0]
	}
	if v, ok := form.Value["description"]; ok && len(v) > 0 {
		req.Description = &v[0]
	}
	if raw := formValue(form, "members"); raw != "" {
		members, err := parseMemberList(raw)
		if err != nil {
			return req, nil, noop, err
		}
		req.Members = members
	}

	var files parsedSend
	pic, err := files.openFile(form, "groupPic", "")
	if err != nil {
		return req, nil, noop, err
	}
	return req, pic, files.Close, nil
}

func parseMemberList(raw string) ([]uint, error) {
	raw = strings.TrimSpace(raw)
	var ids []uint
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, apperr.Validation("invalid members")
		}
		return ids, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, apperr.Validation("invalid members")
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	req, pic, release, err := parseGroupRequest(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	defer release()

	group, err := h.groupService.Create(c.UserContext(), userID, service.CreateGroupInput{
		Name:        derefString(req.Name),
		Description: derefString(req.Description),
		Members:     req.Members,
		GroupPic:    pic,
	})
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(group.ToResponse())
}

func (h *GroupHandler) GetMyGroups(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}

	groups, err := h.groupService.List(c.UserContext(), userID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(groups)
}

func (h *GroupHandler) GetGroupMessages(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	groupID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}

	messages, err := h.messageService.Fetch(c.UserContext(), userID, models.GroupConversation(groupID))
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(models.ToResponses(messages))
}

func (h *GroupHandler) SendGroupMessage(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	groupID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	return sendMessage(c, h.messageService, userID, models.GroupTarget(groupID))
}

func (h *GroupHandler) AddMembers(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	groupID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}

	var req struct {
		Members []uint `json:"members"`
	}
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	group, err := h.groupService.AddMembers(c.UserContext(), userID, groupID, req.Members)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(group.ToResponse())
}

// RemoveMember removes memberId; a member passing their own id leaves.
func (h *GroupHandler) RemoveMember(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	groupID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}

	var req struct {
		MemberID uint `json:"memberId"`
	}
	if err := c.BodyParser(&req); err != nil || req.MemberID == 0 {
		return httpx.BadRequest(c, "invalid_request_body", "memberId is required")
	}

	group, err := h.groupService.RemoveMember(c.UserContext(), userID, groupID, req.MemberID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(group.ToResponse())
}

func (h *GroupHandler) UpdateGroup(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	groupID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}

	req, pic, release, err := parseGroupRequest(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	defer release()

	group, err := h.groupService.Update(c.UserContext(), userID, groupID, service.UpdateGroupInput{
		Name:        req.Name,
		Description: req.Description,
		GroupPic:    pic,
	})
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(group.ToResponse())
}

func (h *GroupHandler) DeleteGroup(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "unauthorized", "Unauthorized")
	}
	groupID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}

	if err := h.groupService.Delete(c.UserContext(), userID, groupID); err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Group deleted"})
}

func (h *GroupHandler) GetGroupUnreadCount(c *fiber.Ctx) error {
	return unreadCount(c, h.messageService, "groupId", true)
}
