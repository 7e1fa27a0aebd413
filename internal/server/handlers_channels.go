package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"commi8/internal/models"

	"github.com/labstack/echo/v4"
)

type CreateChannelBody struct {
	Name string             `json:"name"`
	Type models.ChannelType `json:"type"`
}

func (s *Server) HandlerCreateChannel(c echo.Context) error {
	body := new(CreateChannelBody)
	if err := c.Bind(body); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		return apiError(http.StatusBadRequest, "Channel name is required")
	}
	if body.Type == "" {
		body.Type = models.ChannelText
	}
	if !body.Type.Valid() {
		return apiError(http.StatusBadRequest, "Channel type must be text or voice")
	}

	server, err := s.ownedServer(c, currentUser(c), c.Param("id"))
	if err != nil {
		return err
	}

	channel, err := s.db.CreateChannel(c.Request().Context(), models.Channel{
		Name:     body.Name,
		Type:     body.Type,
		ServerID: server.ID,
	})
	if err != nil {
		return s.storeError(err, "Server")
	}

	joined := s.router.ChannelCreated(channel)
	s.logger.Debug("channel created", "channel", channel.ID, "server", server.ID, "sessions", joined)

	return c.JSON(http.StatusCreated, map[string]any{"channel": channel})
}

func (s *Server) HandlerChannel(c echo.Context) error {
	channel, err := s.memberChannel(c, currentUser(c), c.Param("id"))
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))

	messages, err := s.db.GetChannelMessages(c.Request().Context(), channel.ID, page, perPage)
	if err != nil {
		return s.storeError(err, "Channel")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"channel":  channel,
		"messages": messages,
	})
}

func (s *Server) HandlerDeleteChannel(c echo.Context) error {
	ctx := c.Request().Context()
	user := currentUser(c)

	channel, err := s.db.GetChannel(ctx, c.Param("id"))
	if err != nil {
		return s.storeError(err, "Channel")
	}
	if _, err := s.ownedServer(c, user, channel.ServerID); err != nil {
		return err
	}

	if err := s.db.DeleteChannel(ctx, channel.ID); err != nil {
		return s.storeError(err, "Channel")
	}

	evicted := s.router.ChannelDeleted(channel.ID)
	s.logger.Debug("channel deleted", "channel", channel.ID, "sessions", evicted)

	if channel.Type == models.ChannelVoice && s.rtc != nil {
		// The room may never have been opened; LiveKit reports that as an error.
		if err := s.rtc.DeleteRoom(context.WithoutCancel(ctx), channel.ID); err != nil {
			s.logger.Debug("failed to delete voice room", "channel", channel.ID, "err", err)
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Channel deleted successfully"})
}
