package server

import (
	"net/http"

	"commi8/internal/models"

	"github.com/labstack/echo/v4"
)

func (s *Server) HandlerVoiceToken(c echo.Context) error {
	if s.rtc == nil {
		return apiError(http.StatusServiceUnavailable, "Voice is not configured")
	}

	user := currentUser(c)
	channel, err := s.memberChannel(c, user, c.Param("id"))
	if err != nil {
		return err
	}
	if channel.Type != models.ChannelVoice {
		return apiError(http.StatusBadRequest, "Channel is not a voice channel")
	}

	token, err := s.rtc.Token(channel.ID, user.ID, user.Username)
	if err != nil {
		s.logger.Error("error generating voice token", "channel", channel.ID, "err", err)
		return apiError(http.StatusInternalServerError, "Could not generate token")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"token": token,
		"url":   s.rtc.url,
		"room":  channel.ID,
	})
}
