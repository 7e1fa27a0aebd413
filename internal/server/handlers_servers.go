package server

import (
	"errors"
	"net/http"
	"strings"

	"commi8/internal/database"
	"commi8/internal/models"

	"github.com/labstack/echo/v4"
)

type CreateServerBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IconURL     string `json:"icon_url"`
}

type InviteBody struct {
	Username string `json:"username"`
}

func (s *Server) HandlerCreateServer(c echo.Context) error {
	body := new(CreateServerBody)
	if err := c.Bind(body); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		return apiError(http.StatusBadRequest, "Server name is required")
	}

	user := currentUser(c)
	server, err := s.db.CreateServer(c.Request().Context(), models.Server{
		Name:        body.Name,
		Description: body.Description,
		IconURL:     body.IconURL,
		OwnerID:     user.ID,
	})
	if err != nil {
		return s.storeError(err, "User")
	}

	return c.JSON(http.StatusCreated, map[string]any{"server": server})
}

func (s *Server) HandlerUserServers(c echo.Context) error {
	servers, err := s.db.GetUserServers(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return s.storeError(err, "User")
	}

	return c.JSON(http.StatusOK, map[string]any{"servers": servers})
}

func (s *Server) HandlerServerInformations(c echo.Context) error {
	ctx := c.Request().Context()
	serverId := c.Param("id")

	server, err := s.db.GetServer(ctx, serverId)
	if err != nil {
		return s.storeError(err, "Server")
	}

	isMember, err := s.db.IsServerMember(ctx, currentUser(c).ID, serverId)
	if err != nil {
		return s.storeError(err, "Server")
	}
	if !isMember {
		return apiError(http.StatusForbidden, "You are not a member of this server")
	}

	return c.JSON(http.StatusOK, map[string]any{"server": server})
}

// HandlerInvite adds a user to the server. The invitee joins the live rooms
// with their next join_server or connection.
func (s *Server) HandlerInvite(c echo.Context) error {
	body := new(InviteBody)
	if err := c.Bind(body); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	if body.Username == "" {
		return apiError(http.StatusBadRequest, "Username is required")
	}

	server, err := s.ownedServer(c, currentUser(c), c.Param("id"))
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	invitee, err := s.db.FindUser(ctx, body.Username, "")
	if err != nil {
		return s.storeError(err, "User")
	}

	err = s.db.AddServerMember(ctx, server.ID, invitee.ID, models.RoleMember)
	if errors.Is(err, database.ErrAlreadyMember) {
		return apiError(http.StatusBadRequest, "User is already a member")
	}
	if err != nil {
		return s.storeError(err, "Server")
	}

	s.logger.Info("user invited", "server", server.ID, "user", invitee.ID)
	return c.JSON(http.StatusOK, map[string]string{"message": "User invited successfully"})
}
