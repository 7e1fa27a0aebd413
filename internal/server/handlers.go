package server

import (
	"errors"
	"fmt"
	"net/http"

	"commi8/internal/database"
	"commi8/internal/models"

	"github.com/labstack/echo/v4"
)

func apiError(status int, message string) error {
	return echo.NewHTTPError(status, message)
}

// errorHandler renders every failure as {"error": "..."}.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		s.logger.Error("unhandled request error", "path", c.Path(), "err", err)
		he = echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
	}

	message := fmt.Sprint(he.Message)
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(he.Code)
	} else {
		err = c.JSON(he.Code, map[string]string{"error": message})
	}
	if err != nil {
		s.logger.Warn("failed to write error response", "err", err)
	}
}

// storeError maps a store failure to a response, naming what was missing.
func (s *Server) storeError(err error, what string) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return apiError(http.StatusNotFound, what+" not found")
	case errors.Is(err, database.ErrConflict):
		return apiError(http.StatusConflict, what+" already exists")
	default:
		s.logger.Error("store request failed", "err", err)
		return apiError(http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.db.Health(c.Request().Context()))
}

// memberChannel loads a channel the user can see through server membership.
func (s *Server) memberChannel(c echo.Context, user models.User, channelId string) (models.Channel, error) {
	ctx := c.Request().Context()

	channel, err := s.db.GetChannel(ctx, channelId)
	if err != nil {
		return models.Channel{}, s.storeError(err, "Channel")
	}

	isMember, err := s.db.IsServerMember(ctx, user.ID, channel.ServerID)
	if err != nil {
		return models.Channel{}, s.storeError(err, "Server")
	}
	if !isMember {
		return models.Channel{}, apiError(http.StatusForbidden, "You are not a member of this server")
	}

	return channel, nil
}

// ownedServer loads a server and checks that user owns it.
func (s *Server) ownedServer(c echo.Context, user models.User, serverId string) (models.Server, error) {
	server, err := s.db.GetServer(c.Request().Context(), serverId)
	if err != nil {
		return models.Server{}, s.storeError(err, "Server")
	}
	if server.OwnerID != user.ID {
		return models.Server{}, apiError(http.StatusForbidden, "Only the server owner can do this")
	}
	return server, nil
}
