package database

import (
	"context"
	"fmt"

	"commi8/internal/models"
	"commi8/internal/utils"

	"github.com/surrealdb/surrealdb.go"
)

// Surreal stores records the way SurrealDB hands them back: ids are full
// record ids such as "users:8f3k2".
type Surreal struct {
	db *surrealdb.DB
}

var _ Service = (*Surreal)(nil)

var surrealIndexes = []string{
	"DEFINE INDEX users_username ON TABLE users COLUMNS username UNIQUE;",
	"DEFINE INDEX users_email ON TABLE users COLUMNS email UNIQUE;",
	"DEFINE INDEX member_pair ON TABLE member COLUMNS in, out UNIQUE;",
	"DEFINE INDEX messages_channel ON TABLE messages COLUMNS channel_id;",
}

func NewSurreal(cfg Config) (*Surreal, error) {
	db, err := surrealdb.New(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to surrealdb: %w", err)
	}

	if cfg.Username != "" {
		if _, err := db.Signin(map[string]interface{}{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if _, err := db.Use(cfg.Namespace, cfg.Database); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to select namespace: %w", err)
	}

	for _, index := range surrealIndexes {
		if _, err := db.Query(index, nil); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to define index: %w", err)
		}
	}

	return &Surreal{db: db}, nil
}

// call runs a driver request that has no context support and gives up
// waiting once ctx is done.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

// query runs a single statement and decodes its result into T.
func query[T any](ctx context.Context, s *Surreal, sql string, vars map[string]interface{}) (T, error) {
	return call(ctx, func() (T, error) {
		res, err := s.db.Query(sql, vars)
		return surrealdb.SmartUnmarshal[T](res, err)
	})
}

func (s *Surreal) Health(ctx context.Context) map[string]string {
	_, err := query[[]map[string]interface{}](ctx, s, "INFO FOR DB;", nil)
	if err != nil {
		return map[string]string{
			"status": "down",
			"driver": "surrealdb",
			"error":  err.Error(),
		}
	}
	return map[string]string{"status": "up", "driver": "surrealdb"}
}

func (s *Surreal) Close() error {
	s.db.Close()
	return nil
}

type surrealUser struct {
	models.User
	Password string `json:"password"`
}

func (s *Surreal) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if _, err := s.FindUser(ctx, user.Username, user.Email); err == nil {
		return models.User{}, ErrConflict
	}
	if user.Status == "" {
		user.Status = models.StatusOffline
	}

	users, err := query[[]surrealUser](ctx, s, `
		CREATE users CONTENT {
			username: $username,
			email: $email,
			password: $password,
			avatar_url: $avatar_url,
			status: $status,
			created_at: time::now()
		};`,
		map[string]interface{}{
			"username":   user.Username,
			"email":      user.Email,
			"password":   user.Password,
			"avatar_url": user.AvatarURL,
			"status":     user.Status,
		})
	if err != nil {
		return models.User{}, err
	}
	if len(users) == 0 {
		return models.User{}, ErrConflict
	}
	return users[0].toUser(), nil
}

func (u surrealUser) toUser() models.User {
	user := u.User
	user.Password = u.Password
	return user
}

func (s *Surreal) GetUser(ctx context.Context, id string) (models.User, error) {
	user, err := query[surrealUser](ctx, s, "SELECT * FROM ONLY $id;", map[string]interface{}{
		"id": id,
	})
	if err != nil {
		return models.User{}, err
	}
	if user.ID == "" {
		return models.User{}, ErrNotFound
	}
	return user.toUser(), nil
}

func (s *Surreal) FindUser(ctx context.Context, username, email string) (models.User, error) {
	users, err := query[[]surrealUser](ctx, s, `
		SELECT * FROM users
		WHERE ($username != "" AND username = $username) OR ($email != "" AND email = $email)
		LIMIT 1;`,
		map[string]interface{}{
			"username": username,
			"email":    email,
		})
	if err != nil {
		return models.User{}, err
	}
	if len(users) == 0 {
		return models.User{}, ErrNotFound
	}
	return users[0].toUser(), nil
}

func (s *Surreal) UpdateUserStatus(ctx context.Context, userId string, status models.Status) error {
	users, err := query[[]models.User](ctx, s, "UPDATE $userId SET status = $status;", map[string]interface{}{
		"userId": userId,
		"status": status,
	})
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Surreal) CreateServer(ctx context.Context, server models.Server) (models.Server, error) {
	if _, err := s.GetUser(ctx, server.OwnerID); err != nil {
		return models.Server{}, err
	}

	servers, err := query[[]models.Server](ctx, s, `
		CREATE servers CONTENT {
			name: $name,
			description: $description,
			icon_url: $icon_url,
			owner_id: $owner_id,
			created_at: time::now()
		};`,
		map[string]interface{}{
			"name":        server.Name,
			"description": server.Description,
			"icon_url":    server.IconURL,
			"owner_id":    server.OwnerID,
		})
	if err != nil {
		return models.Server{}, err
	}
	if len(servers) == 0 {
		return models.Server{}, fmt.Errorf("server was not created")
	}
	created := servers[0]

	if err := s.AddServerMember(ctx, created.ID, server.OwnerID, models.RoleAdmin); err != nil {
		return models.Server{}, err
	}

	created.Channels = nil
	for _, channel := range DefaultChannels(created.ID) {
		channel, err := s.CreateChannel(ctx, channel)
		if err != nil {
			return models.Server{}, err
		}
		created.Channels = append(created.Channels, channel)
	}

	return created, nil
}

func (s *Surreal) GetServer(ctx context.Context, serverId string) (models.Server, error) {
	server, err := query[models.Server](ctx, s, "SELECT * FROM ONLY $serverId;", map[string]interface{}{
		"serverId": serverId,
	})
	if err != nil {
		return models.Server{}, err
	}
	if server.ID == "" {
		return models.Server{}, ErrNotFound
	}

	server.Channels, err = s.GetServerChannels(ctx, serverId)
	if err != nil {
		return models.Server{}, err
	}

	server.Members, err = query[[]models.Member](ctx, s, `
		SELECT in.id AS id, in.username AS username, in.status AS status, in.avatar_url AS avatar_url, role
		FROM member WHERE out = $serverId
		ORDER BY username;`,
		map[string]interface{}{
			"serverId": serverId,
		})
	if err != nil {
		return models.Server{}, err
	}
	if server.Members == nil {
		server.Members = []models.Member{}
	}

	return server, nil
}

func (s *Surreal) GetUserServers(ctx context.Context, userId string) ([]models.Server, error) {
	servers, err := query[[]models.Server](ctx, s,
		"SELECT * FROM servers WHERE id IN (SELECT VALUE out FROM member WHERE in = $userId) ORDER BY created_at;",
		map[string]interface{}{
			"userId": userId,
		})
	if err != nil {
		return nil, err
	}
	if servers == nil {
		servers = []models.Server{}
	}

	for i := range servers {
		servers[i].Channels, err = s.GetServerChannels(ctx, servers[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return servers, nil
}

func (s *Surreal) IsServerMember(ctx context.Context, userId, serverId string) (bool, error) {
	count, err := query[[]struct {
		Count int `json:"count"`
	}](ctx, s, "SELECT count() FROM member WHERE in = $userId AND out = $serverId GROUP ALL;", map[string]interface{}{
		"userId":   userId,
		"serverId": serverId,
	})
	if err != nil {
		return false, err
	}
	return len(count) > 0 && count[0].Count > 0, nil
}

func (s *Surreal) AddServerMember(ctx context.Context, serverId, userId string, role models.Role) error {
	if _, err := s.GetUser(ctx, userId); err != nil {
		return err
	}
	server, err := query[models.Server](ctx, s, "SELECT id FROM ONLY $serverId;", map[string]interface{}{
		"serverId": serverId,
	})
	if err != nil {
		return err
	}
	if server.ID == "" {
		return ErrNotFound
	}

	member, err := s.IsServerMember(ctx, userId, serverId)
	if err != nil {
		return err
	}
	if member {
		return ErrAlreadyMember
	}
	if role == "" {
		role = models.RoleMember
	}

	_, err = query[[]interface{}](ctx, s, "RELATE $userId->member->$serverId SET role = $role, joined_at = time::now();", map[string]interface{}{
		"userId":   userId,
		"serverId": serverId,
		"role":     role,
	})
	return err
}

func (s *Surreal) CreateChannel(ctx context.Context, channel models.Channel) (models.Channel, error) {
	channels, err := query[[]models.Channel](ctx, s, `
		CREATE channels CONTENT {
			name: $name,
			type: $type,
			server_id: $server_id,
			created_at: time::now()
		};`,
		map[string]interface{}{
			"name":      channel.Name,
			"type":      channel.Type,
			"server_id": channel.ServerID,
		})
	if err != nil {
		return models.Channel{}, err
	}
	if len(channels) == 0 {
		return models.Channel{}, fmt.Errorf("channel was not created")
	}
	return channels[0], nil
}

func (s *Surreal) GetChannel(ctx context.Context, channelId string) (models.Channel, error) {
	channel, err := query[models.Channel](ctx, s, "SELECT * FROM ONLY $channelId;", map[string]interface{}{
		"channelId": channelId,
	})
	if err != nil {
		return models.Channel{}, err
	}
	if channel.ID == "" {
		return models.Channel{}, ErrNotFound
	}
	return channel, nil
}

func (s *Surreal) GetServerChannels(ctx context.Context, serverId string) ([]models.Channel, error) {
	channels, err := query[[]models.Channel](ctx, s,
		"SELECT * FROM channels WHERE server_id = $serverId ORDER BY created_at;",
		map[string]interface{}{
			"serverId": serverId,
		})
	if err != nil {
		return nil, err
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	return channels, nil
}

func (s *Surreal) DeleteChannel(ctx context.Context, channelId string) error {
	if _, err := s.GetChannel(ctx, channelId); err != nil {
		return err
	}

	_, err := query[[]interface{}](ctx, s, "DELETE messages WHERE channel_id = $channelId;", map[string]interface{}{
		"channelId": channelId,
	})
	if err != nil {
		return err
	}
	_, err = query[[]interface{}](ctx, s, "DELETE $channelId;", map[string]interface{}{
		"channelId": channelId,
	})
	return err
}

const messageProjection = `SELECT id, content, channel_id, parent_id, edited_at, created_at,
	(SELECT id, username, avatar_url FROM ONLY $parent.author) AS author`

func (s *Surreal) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	if _, err := s.GetChannel(ctx, message.ChannelID); err != nil {
		return models.Message{}, err
	}
	if _, err := s.GetUser(ctx, message.Author.ID); err != nil {
		return models.Message{}, err
	}

	vars := map[string]interface{}{
		"content":    message.Content,
		"author":     message.Author.ID,
		"channel_id": message.ChannelID,
		"parent_id":  nil,
	}
	if message.ParentID != "" {
		vars["parent_id"] = message.ParentID
	}

	created, err := query[[]models.Message](ctx, s, `
		CREATE messages CONTENT {
			content: $content,
			author: $author,
			channel_id: $channel_id,
			parent_id: $parent_id,
			edited_at: NONE,
			created_at: time::now()
		};`, vars)
	if err != nil {
		return models.Message{}, err
	}
	if len(created) == 0 {
		return models.Message{}, fmt.Errorf("message was not created")
	}

	stored, err := query[models.Message](ctx, s, messageProjection+" FROM ONLY $messageId;", map[string]interface{}{
		"messageId": created[0].ID,
	})
	if err != nil {
		return models.Message{}, err
	}
	stored.Attachments = []models.Attachment{}
	return stored, nil
}

func (s *Surreal) GetChannelMessages(ctx context.Context, channelId string, page, perPage int) (MessagePage, error) {
	if _, err := s.GetChannel(ctx, channelId); err != nil {
		return MessagePage{}, err
	}
	page, perPage = utils.Paginate(page, perPage, 0)

	count, err := query[[]struct {
		Count int `json:"count"`
	}](ctx, s, "SELECT count() FROM messages WHERE channel_id = $channelId GROUP ALL;", map[string]interface{}{
		"channelId": channelId,
	})
	if err != nil {
		return MessagePage{}, err
	}
	total := 0
	if len(count) > 0 {
		total = count[0].Count
	}

	messages, err := query[[]models.Message](ctx, s, messageProjection+`
		FROM messages WHERE channel_id = $channelId
		ORDER BY created_at DESC
		LIMIT $limit START $start;`,
		map[string]interface{}{
			"channelId": channelId,
			"limit":     perPage,
			"start":     (page - 1) * perPage,
		})
	if err != nil {
		return MessagePage{}, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	for i := range messages {
		if messages[i].Attachments == nil {
			messages[i].Attachments = []models.Attachment{}
		}
	}

	return MessagePage{
		Messages: messages,
		Total:    total,
		Pages:    utils.PageCount(total, perPage),
		Page:     page,
		PerPage:  perPage,
	}, nil
}
