package server

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"commi8/internal/models"

	"github.com/labstack/echo/v4"
)

type CreateMessageBody struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

// HandlerCreateMessage stores a message and pushes it to everyone in the
// channel room, including the author's live sessions.
func (s *Server) HandlerCreateMessage(c echo.Context) error {
	body := new(CreateMessageBody)
	if err := c.Bind(body); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	if strings.TrimSpace(body.Content) == "" {
		return apiError(http.StatusBadRequest, "Message content is required")
	}
	if limit := s.cfg.WS.MaxMessageLength; limit > 0 && utf8.RuneCountInString(body.Content) > limit {
		return apiError(http.StatusBadRequest, "Message is too long")
	}

	user := currentUser(c)
	channel, err := s.memberChannel(c, user, c.Param("id"))
	if err != nil {
		return err
	}
	if channel.Type != models.ChannelText {
		return apiError(http.StatusBadRequest, "Messages can only be sent to text channels")
	}

	message, err := s.db.CreateMessage(c.Request().Context(), models.Message{
		Content:   body.Content,
		ChannelID: channel.ID,
		ParentID:  body.ParentID,
		Author:    user.Author(),
	})
	if err != nil {
		return s.storeError(err, "Channel")
	}

	s.router.BroadcastMessage(message)

	return c.JSON(http.StatusCreated, map[string]any{"message": message})
}
