package database

import (
	"context"
	"errors"
	"fmt"

	"commi8/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("record already exists")
	ErrAlreadyMember = errors.New("user is already a member")
)

type Service interface {
	Health(ctx context.Context) map[string]string
	Close() error

	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	// FindUser returns the first user whose username or email matches.
	// Empty arguments are ignored.
	FindUser(ctx context.Context, username, email string) (models.User, error)
	UpdateUserStatus(ctx context.Context, userId string, status models.Status) error

	// CreateServer stores the server with its default channels and makes the
	// owner an admin member.
	CreateServer(ctx context.Context, server models.Server) (models.Server, error)
	GetServer(ctx context.Context, serverId string) (models.Server, error)
	GetUserServers(ctx context.Context, userId string) ([]models.Server, error)
	IsServerMember(ctx context.Context, userId, serverId string) (bool, error)
	AddServerMember(ctx context.Context, serverId, userId string, role models.Role) error

	CreateChannel(ctx context.Context, channel models.Channel) (models.Channel, error)
	GetChannel(ctx context.Context, channelId string) (models.Channel, error)
	GetServerChannels(ctx context.Context, serverId string) ([]models.Channel, error)
	DeleteChannel(ctx context.Context, channelId string) error

	// CreateMessage assigns the id and creation time and fills the author
	// snapshot from the stored user.
	CreateMessage(ctx context.Context, message models.Message) (models.Message, error)
	// GetChannelMessages pages through a channel newest first.
	GetChannelMessages(ctx context.Context, channelId string, page, perPage int) (MessagePage, error)
}

type MessagePage struct {
	Messages []models.Message `json:"messages"`
	Total    int              `json:"total"`
	Pages    int              `json:"pages"`
	Page     int              `json:"current_page"`
	PerPage  int              `json:"per_page"`
}

type Config struct {
	Driver    string `env:"DRIVER" envDefault:"memory"`
	URL       string `env:"URL"`
	Username  string `env:"USERNAME"`
	Password  string `env:"PASSWORD"`
	Namespace string `env:"NAMESPACE" envDefault:"commi8"`
	Database  string `env:"DATABASE" envDefault:"commi8"`
}

// New opens the store selected by cfg.Driver.
func New(ctx context.Context, cfg Config) (Service, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(ctx, cfg)
	case "surreal", "surrealdb":
		return NewSurreal(cfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// DefaultChannels are created with every new server.
func DefaultChannels(serverId string) []models.Channel {
	return []models.Channel{
		{Name: "general", Type: models.ChannelText, ServerID: serverId},
		{Name: "General Voice", Type: models.ChannelVoice, ServerID: serverId},
	}
}
