package models

import (
	"time"
)

// User is the slice of the account record the chat core needs. Credentials live
// with the authentication service that issues our access tokens.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id" msgpack:"id"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time `json:"updated_at" msgpack:"updated_at"`

	Username   string `gorm:"uniqueIndex;not null" json:"username" msgpack:"username"`
	FullName   string `json:"full_name" msgpack:"full_name"`
	ProfilePic string `json:"profile_pic" msgpack:"profile_pic"`
}

type UserResponse struct {
	ID         uint   `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	ProfilePic string `json:"profile_pic"`
	IsOnline   bool   `json:"is_online"`
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:         u.ID,
		Username:   u.Username,
		FullName:   u.FullName,
		ProfilePic: u.ProfilePic,
	}
}

// SidebarUser is a user row for the chat list, with my unread count for them.
type SidebarUser struct {
	UserResponse
	UnreadCount int64 `json:"unread_count"`
}
