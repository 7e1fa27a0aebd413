package server

import (
	"net/http"

	"commi8/internal/models"

	"github.com/labstack/echo/v4"
)

type publicUser struct {
	models.Author
	Status models.Status `json:"status"`
}

// HandlerGetUser returns another user's public profile.
func (s *Server) HandlerGetUser(c echo.Context) error {
	user, err := s.db.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(err, "User")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"user": publicUser{Author: user.Author(), Status: user.Status},
	})
}
