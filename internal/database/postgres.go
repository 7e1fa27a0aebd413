package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"commi8/internal/models"
	"commi8/internal/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Postgres struct {
	pool *pgxpool.Pool
}

var _ Service = (*Postgres)(nil)

// NewPostgres connects to cfg.URL and applies the schema.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// No arguments, so pgx sends the whole file over the simple protocol.
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Health(ctx context.Context) map[string]string {
	if err := p.pool.Ping(ctx); err != nil {
		return map[string]string{
			"status": "down",
			"driver": "postgres",
			"error":  err.Error(),
		}
	}

	stats := p.pool.Stat()
	return map[string]string{
		"status":      "up",
		"driver":      "postgres",
		"connections": fmt.Sprint(stats.TotalConns()),
		"idle":        fmt.Sprint(stats.IdleConns()),
	}
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// pgError maps driver errors onto the package sentinels.
func pgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			return ErrNotFound
		}
	}
	return err
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	var status string
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Password, &user.AvatarURL, &status, &user.CreatedAt)
	if err != nil {
		return models.User{}, pgError(err)
	}
	user.Status = models.Status(status)
	return user, nil
}

const userColumns = "id, username, email, password, avatar_url, status, created_at"

func (p *Postgres) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.Status == "" {
		user.Status = models.StatusOffline
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, password, avatar_url, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		uuid.NewString(), user.Username, user.Email, user.Password, user.AvatarURL, string(user.Status),
	)
	return scanUser(row)
}

func (p *Postgres) GetUser(ctx context.Context, id string) (models.User, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	return scanUser(row)
}

func (p *Postgres) FindUser(ctx context.Context, username, email string) (models.User, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		LIMIT 1`,
		username, email,
	)
	return scanUser(row)
}

func (p *Postgres) UpdateUserStatus(ctx context.Context, userId string, status models.Status) error {
	tag, err := p.pool.Exec(ctx, "UPDATE users SET status = $2 WHERE id = $1", userId, string(status))
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateServer(ctx context.Context, server models.Server) (models.Server, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return models.Server{}, err
	}
	defer tx.Rollback(ctx)

	server.ID = uuid.NewString()
	err = tx.QueryRow(ctx, `
		INSERT INTO servers (id, name, description, icon_url, owner_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		server.ID, server.Name, server.Description, server.IconURL, server.OwnerID,
	).Scan(&server.CreatedAt)
	if err != nil {
		return models.Server{}, pgError(err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO server_members (server_id, user_id, role) VALUES ($1, $2, $3)",
		server.ID, server.OwnerID, string(models.RoleAdmin),
	)
	if err != nil {
		return models.Server{}, pgError(err)
	}

	server.Channels = nil
	server.Members = nil
	for _, channel := range DefaultChannels(server.ID) {
		channel.ID = uuid.NewString()
		err = tx.QueryRow(ctx, `
			INSERT INTO channels (id, name, type, server_id)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at`,
			channel.ID, channel.Name, string(channel.Type), channel.ServerID,
		).Scan(&channel.CreatedAt)
		if err != nil {
			return models.Server{}, pgError(err)
		}
		server.Channels = append(server.Channels, channel)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Server{}, err
	}
	return server, nil
}

func (p *Postgres) GetServer(ctx context.Context, serverId string) (models.Server, error) {
	var server models.Server
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, description, icon_url, owner_id, created_at
		FROM servers WHERE id = $1`,
		serverId,
	).Scan(&server.ID, &server.Name, &server.Description, &server.IconURL, &server.OwnerID, &server.CreatedAt)
	if err != nil {
		return models.Server{}, pgError(err)
	}

	server.Channels, err = p.GetServerChannels(ctx, serverId)
	if err != nil {
		return models.Server{}, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT u.id, u.username, u.status, u.avatar_url, m.role
		FROM server_members m JOIN users u ON u.id = m.user_id
		WHERE m.server_id = $1
		ORDER BY u.username`,
		serverId,
	)
	if err != nil {
		return models.Server{}, err
	}
	server.Members, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Member, error) {
		var member models.Member
		var status, role string
		err := row.Scan(&member.ID, &member.Username, &status, &member.AvatarURL, &role)
		member.Status = models.Status(status)
		member.Role = models.Role(role)
		return member, err
	})
	if err != nil {
		return models.Server{}, err
	}
	if server.Members == nil {
		server.Members = []models.Member{}
	}

	return server, nil
}

func (p *Postgres) GetUserServers(ctx context.Context, userId string) ([]models.Server, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT s.id, s.name, s.description, s.icon_url, s.owner_id, s.created_at
		FROM servers s JOIN server_members m ON m.server_id = s.id
		WHERE m.user_id = $1
		ORDER BY s.created_at`,
		userId,
	)
	if err != nil {
		return nil, err
	}
	servers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Server, error) {
		var server models.Server
		err := row.Scan(&server.ID, &server.Name, &server.Description, &server.IconURL, &server.OwnerID, &server.CreatedAt)
		return server, err
	})
	if err != nil {
		return nil, err
	}
	if servers == nil {
		servers = []models.Server{}
	}

	for i := range servers {
		servers[i].Channels, err = p.GetServerChannels(ctx, servers[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return servers, nil
}

func (p *Postgres) IsServerMember(ctx context.Context, userId, serverId string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM server_members WHERE server_id = $1 AND user_id = $2)",
		serverId, userId,
	).Scan(&exists)
	return exists, err
}

func (p *Postgres) AddServerMember(ctx context.Context, serverId, userId string, role models.Role) error {
	if role == "" {
		role = models.RoleMember
	}

	_, err := p.pool.Exec(ctx,
		"INSERT INTO server_members (server_id, user_id, role) VALUES ($1, $2, $3)",
		serverId, userId, string(role),
	)
	if err := pgError(err); errors.Is(err, ErrConflict) {
		return ErrAlreadyMember
	} else if err != nil {
		return err
	}
	return nil
}

const channelColumns = "id, name, type, server_id, created_at"

func scanChannel(row pgx.Row) (models.Channel, error) {
	var channel models.Channel
	var kind string
	err := row.Scan(&channel.ID, &channel.Name, &kind, &channel.ServerID, &channel.CreatedAt)
	channel.Type = models.ChannelType(kind)
	return channel, err
}

func (p *Postgres) CreateChannel(ctx context.Context, channel models.Channel) (models.Channel, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO channels (id, name, type, server_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+channelColumns,
		uuid.NewString(), channel.Name, string(channel.Type), channel.ServerID,
	)
	created, err := scanChannel(row)
	return created, pgError(err)
}

func (p *Postgres) GetChannel(ctx context.Context, channelId string) (models.Channel, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+channelColumns+" FROM channels WHERE id = $1", channelId)
	channel, err := scanChannel(row)
	return channel, pgError(err)
}

func (p *Postgres) GetServerChannels(ctx context.Context, serverId string) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+channelColumns+" FROM channels WHERE server_id = $1 ORDER BY position",
		serverId,
	)
	if err != nil {
		return nil, err
	}
	channels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Channel, error) {
		return scanChannel(row)
	})
	if err != nil {
		return nil, err
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	return channels, nil
}

func (p *Postgres) DeleteChannel(ctx context.Context, channelId string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM channels WHERE id = $1", channelId)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanMessage(row pgx.Row) (models.Message, error) {
	var message models.Message
	var parentId *string
	var editedAt *time.Time
	err := row.Scan(
		&message.ID, &message.Content, &message.ChannelID, &parentId, &editedAt, &message.CreatedAt,
		&message.Author.ID, &message.Author.Username, &message.Author.AvatarURL,
	)
	if err != nil {
		return models.Message{}, pgError(err)
	}
	if parentId != nil {
		message.ParentID = *parentId
	}
	message.EditedAt = editedAt
	message.Attachments = []models.Attachment{}
	return message, nil
}

func (p *Postgres) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	row := p.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages (id, content, author_id, channel_id, parent_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, content, channel_id, parent_id, edited_at, created_at, author_id
		)
		SELECT m.id, m.content, m.channel_id, m.parent_id, m.edited_at, m.created_at,
			u.id, u.username, u.avatar_url
		FROM m JOIN users u ON u.id = m.author_id`,
		uuid.NewString(), message.Content, message.Author.ID, message.ChannelID, nullable(message.ParentID),
	)
	return scanMessage(row)
}

func (p *Postgres) GetChannelMessages(ctx context.Context, channelId string, page, perPage int) (MessagePage, error) {
	page, perPage = utils.Paginate(page, perPage, 0)

	var total int
	err := p.pool.QueryRow(ctx, `
		SELECT count(m.id)
		FROM channels c LEFT JOIN messages m ON m.channel_id = c.id
		WHERE c.id = $1
		GROUP BY c.id`,
		channelId,
	).Scan(&total)
	if err != nil {
		return MessagePage{}, pgError(err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT m.id, m.content, m.channel_id, m.parent_id, m.edited_at, m.created_at,
			u.id, u.username, u.avatar_url
		FROM messages m JOIN users u ON u.id = m.author_id
		WHERE m.channel_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2 OFFSET $3`,
		channelId, perPage, (page-1)*perPage,
	)
	if err != nil {
		return MessagePage{}, err
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return MessagePage{}, err
	}
	if messages == nil {
		messages = []models.Message{}
	}

	return MessagePage{
		Messages: messages,
		Total:    total,
		Pages:    utils.PageCount(total, perPage),
		Page:     page,
		PerPage:  perPage,
	}, nil
}
