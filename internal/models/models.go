package models

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDnd     Status = "dnd"
	StatusOffline Status = "offline"
)

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
)

// Valid reports whether t is one of the channel types a server can hold.
func (t ChannelType) Valid() bool {
	return t == ChannelText || t == ChannelVoice
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMod    Role = "mod"
	RoleMember Role = "member"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Password  string    `json:"-"`
	AvatarURL string    `json:"avatar_url"`
	Status    Status    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Author is the user snapshot carried by a message.
type Author struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

func (u User) Author() Author {
	return Author{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

type Member struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Status    Status `json:"status"`
	AvatarURL string `json:"avatar_url"`
	Role      Role   `json:"role"`
}

type Server struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IconURL     string    `json:"icon_url"`
	OwnerID     string    `json:"owner_id"`
	Channels    []Channel `json:"channels"`
	Members     []Member  `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Channel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      ChannelType `json:"type"`
	ServerID  string      `json:"server_id"`
	CreatedAt time.Time   `json:"created_at"`
}

type Message struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	Author      Author       `json:"author"`
	ChannelID   string       `json:"channel_id"`
	ParentID    string       `json:"parent_id,omitempty"`
	Attachments []Attachment `json:"attachments"`
	EditedAt    *time.Time   `json:"edited_at"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Attachment struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	FileURL   string    `json:"file_url"`
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
}
