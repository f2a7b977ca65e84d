package models

import (
	"time"
)

type Group struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`

	Name        string `gorm:"size:100;not null" json:"name"`
	Description string `gorm:"size:255" json:"description"`
	GroupPic    string `json:"group_pic"`
	AdminID     uint   `gorm:"not null;index" json:"admin_id"`

	Admin   User          `gorm:"foreignKey:AdminID" json:"admin"`
	Members []GroupMember `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"members"`
}

type GroupMember struct {
	GroupID  uint      `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	UserID   uint      `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`

	User User `gorm:"foreignKey:UserID" json:"user"`
}

func (g *Group) MemberIDs() []uint {
	ids := make([]uint, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func (g *Group) HasMember(userID uint) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (g *Group) IsAdmin(userID uint) bool {
	return g.AdminID == userID
}

type GroupResponse struct {
	ID          uint           `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	GroupPic    string         `json:"group_pic"`
	Admin       UserResponse   `json:"admin"`
	Members     []UserResponse `json:"members"`
	UnreadCount int64          `json:"unread_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (g *Group) ToResponse() GroupResponse {
	members := make([]UserResponse, 0, len(g.Members))
	for _, m := range g.Members {
		u := m.User
		if u.ID == 0 {
			u.ID = m.UserID
		}
		members = append(members, u.ToResponse())
	}
	admin := g.Admin
	if admin.ID == 0 {
		admin.ID = g.AdminID
	}
	return GroupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		GroupPic:    g.GroupPic,
		Admin:       admin.ToResponse(),
		Members:     members,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}
