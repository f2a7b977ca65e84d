package ws

import "github.com/noteduco342/OMChat-backend/internal/apperr"

type MessageJoinGroup struct {
	GroupID uint `json:"groupId"`
}

func (msg *MessageJoinGroup) GetType() string {
	return "joinGroup"
}

// Process subscribes the connection to the group's room after a
// membership check.
func (msg *MessageJoinGroup) Process(ctx *MessageContext) error {
	if msg.GroupID == 0 {
		return apperr.Validation("groupId is required")
	}
	if err := ctx.GroupService.CanJoinRoom(ctx.Ctx, ctx.UserID, msg.GroupID); err != nil {
		return err
	}
	ctx.Hub.JoinRoom(ctx.Client, msg.GroupID)
	return nil
}

type MessageLeaveGroup struct {
	GroupID uint `json:"groupId"`
}

func (msg *MessageLeaveGroup) GetType() string {
	return "leaveGroup"
}

func (msg *MessageLeaveGroup) Process(ctx *MessageContext) error {
	ctx.Hub.LeaveRoom(ctx.Client, msg.GroupID)
	return nil
}
