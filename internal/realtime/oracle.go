package realtime

import (
	"context"
	"errors"

	"commi8/internal/database"
	"commi8/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Directory is the slice of the store that answers membership questions.
type Directory interface {
	IsServerMember(ctx context.Context, userId, serverId string) (bool, error)
	GetUserServers(ctx context.Context, userId string) ([]models.Server, error)
	GetServerChannels(ctx context.Context, serverId string) ([]models.Channel, error)
	GetChannel(ctx context.Context, channelId string) (models.Channel, error)
}

// Oracle checks server membership against the store at call time.
type Oracle struct {
	dir Directory
}

func NewOracle(dir Directory) *Oracle {
	return &Oracle{dir: dir}
}

func notFound(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (o *Oracle) RequireMember(ctx context.Context, userId, serverId string) error {
	ok, err := o.dir.IsServerMember(ctx, userId, serverId)
	if err != nil {
		return notFound(err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// UserServers lists the servers the user belongs to, with their channels.
func (o *Oracle) UserServers(ctx context.Context, userId string) ([]models.Server, error) {
	servers, err := o.dir.GetUserServers(ctx, userId)
	return servers, notFound(err)
}

func (o *Oracle) ServerChannels(ctx context.Context, serverId string) ([]models.Channel, error) {
	channels, err := o.dir.GetServerChannels(ctx, serverId)
	return channels, notFound(err)
}

func (o *Oracle) Channel(ctx context.Context, channelId string) (models.Channel, error) {
	channel, err := o.dir.GetChannel(ctx, channelId)
	return channel, notFound(err)
}

// ChannelForMember resolves a channel and checks the user belongs to its
// server.
func (o *Oracle) ChannelForMember(ctx context.Context, userId, channelId string) (models.Channel, error) {
	channel, err := o.Channel(ctx, channelId)
	if err != nil {
		return models.Channel{}, err
	}
	if err := o.RequireMember(ctx, userId, channel.ServerID); err != nil {
		return models.Channel{}, err
	}
	return channel, nil
}
