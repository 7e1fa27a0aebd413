package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"commi8/internal/models"
	"commi8/internal/utils"

	"github.com/google/uuid"
)

// Memory is a process-local Service used for development and tests.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]models.User
	servers  map[string]models.Server
	members  map[string]map[string]models.Role // serverId -> userId -> role
	channels map[string]models.Channel
	messages map[string][]models.Message // channelId -> oldest first
	now      func() time.Time
}

var _ Service = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]models.User),
		servers:  make(map[string]models.Server),
		members:  make(map[string]map[string]models.Role),
		channels: make(map[string]models.Channel),
		messages: make(map[string][]models.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Health(context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]string{
		"status": "up",
		"driver": "memory",
		"users":  fmt.Sprint(len(m.users)),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return models.User{}, ErrConflict
		}
	}

	user.ID = uuid.NewString()
	user.CreatedAt = m.now()
	if user.Status == "" {
		user.Status = models.StatusOffline
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (m *Memory) FindUser(ctx context.Context, username, email string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if (username != "" && user.Username == username) || (email != "" && user.Email == email) {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (m *Memory) UpdateUserStatus(ctx context.Context, userId string, status models.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userId]
	if !ok {
		return ErrNotFound
	}
	user.Status = status
	m.users[userId] = user
	return nil
}

func (m *Memory) CreateServer(ctx context.Context, server models.Server) (models.Server, error) {
	if err := ctx.Err(); err != nil {
		return models.Server{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[server.OwnerID]; !ok {
		return models.Server{}, ErrNotFound
	}

	server.ID = uuid.NewString()
	server.CreatedAt = m.now()
	server.Channels = nil
	server.Members = nil
	m.servers[server.ID] = server
	m.members[server.ID] = map[string]models.Role{server.OwnerID: models.RoleAdmin}

	for _, channel := range DefaultChannels(server.ID) {
		channel.ID = uuid.NewString()
		channel.CreatedAt = m.now()
		m.channels[channel.ID] = channel
		server.Channels = append(server.Channels, channel)
	}

	return server, nil
}

func (m *Memory) GetServer(ctx context.Context, serverId string) (models.Server, error) {
	if err := ctx.Err(); err != nil {
		return models.Server{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.servers[serverId]
	if !ok {
		return models.Server{}, ErrNotFound
	}
	server.Channels = m.serverChannels(serverId)

	for userId, role := range m.members[serverId] {
		user := m.users[userId]
		server.Members = append(server.Members, models.Member{
			ID:        user.ID,
			Username:  user.Username,
			Status:    user.Status,
			AvatarURL: user.AvatarURL,
			Role:      role,
		})
	}
	sort.Slice(server.Members, func(i, j int) bool {
		return server.Members[i].Username < server.Members[j].Username
	})

	return server, nil
}

func (m *Memory) GetUserServers(ctx context.Context, userId string) ([]models.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	servers := make([]models.Server, 0)
	for serverId, members := range m.members {
		if _, ok := members[userId]; !ok {
			continue
		}
		server := m.servers[serverId]
		server.Channels = m.serverChannels(serverId)
		servers = append(servers, server)
	}
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].CreatedAt.Before(servers[j].CreatedAt)
	})

	return servers, nil
}

func (m *Memory) IsServerMember(ctx context.Context, userId, serverId string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.members[serverId][userId]
	return ok, nil
}

func (m *Memory) AddServerMember(ctx context.Context, serverId, userId string, role models.Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.members[serverId]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.users[userId]; !ok {
		return ErrNotFound
	}
	if _, ok := members[userId]; ok {
		return ErrAlreadyMember
	}
	if role == "" {
		role = models.RoleMember
	}
	members[userId] = role
	return nil
}

func (m *Memory) CreateChannel(ctx context.Context, channel models.Channel) (models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return models.Channel{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[channel.ServerID]; !ok {
		return models.Channel{}, ErrNotFound
	}

	channel.ID = uuid.NewString()
	channel.CreatedAt = m.now()
	m.channels[channel.ID] = channel
	return channel, nil
}

func (m *Memory) GetChannel(ctx context.Context, channelId string) (models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return models.Channel{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	channel, ok := m.channels[channelId]
	if !ok {
		return models.Channel{}, ErrNotFound
	}
	return channel, nil
}

func (m *Memory) GetServerChannels(ctx context.Context, serverId string) ([]models.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.servers[serverId]; !ok {
		return nil, ErrNotFound
	}
	return m.serverChannels(serverId), nil
}

func (m *Memory) DeleteChannel(ctx context.Context, channelId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[channelId]; !ok {
		return ErrNotFound
	}
	delete(m.channels, channelId)
	delete(m.messages, channelId)
	return nil
}

func (m *Memory) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[message.ChannelID]; !ok {
		return models.Message{}, ErrNotFound
	}
	author, ok := m.users[message.Author.ID]
	if !ok {
		return models.Message{}, ErrNotFound
	}

	message.ID = uuid.NewString()
	message.CreatedAt = m.now()
	message.Author = author.Author()
	message.EditedAt = nil
	if message.Attachments == nil {
		message.Attachments = []models.Attachment{}
	}
	m.messages[message.ChannelID] = append(m.messages[message.ChannelID], message)
	return message, nil
}

func (m *Memory) GetChannelMessages(ctx context.Context, channelId string, page, perPage int) (MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return MessagePage{}, err
	}

	page, perPage = utils.Paginate(page, perPage, 0)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.channels[channelId]; !ok {
		return MessagePage{}, ErrNotFound
	}

	stored := m.messages[channelId]
	result := MessagePage{
		Messages: make([]models.Message, 0, perPage),
		Total:    len(stored),
		Pages:    utils.PageCount(len(stored), perPage),
		Page:     page,
		PerPage:  perPage,
	}

	start := (page - 1) * perPage
	for i := len(stored) - 1 - start; i >= 0 && len(result.Messages) < perPage; i-- {
		message := stored[i]
		if user, ok := m.users[message.Author.ID]; ok {
			message.Author = user.Author()
		}
		result.Messages = append(result.Messages, message)
	}

	return result, nil
}

// serverChannels must be called with m.mu held.
func (m *Memory) serverChannels(serverId string) []models.Channel {
	channels := make([]models.Channel, 0)
	for _, channel := range m.channels {
		if channel.ServerID == serverId {
			channels = append(channels, channel)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].Name > channels[j].Name
		}
		return channels[i].CreatedAt.Before(channels[j].CreatedAt)
	})
	return channels
}
