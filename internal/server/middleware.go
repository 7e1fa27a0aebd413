package server

import (
	"net/http"
	"strings"

	"commi8/internal/models"

	"github.com/labstack/echo/v4"
)

const contextUserKey = "user"

// requestToken reads the bearer token from the Authorization header, falling
// back to the session cookie.
func (s *Server) requestToken(r *http.Request) string {
	if header := r.Header.Get(echo.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	token, err := s.sessions.GetToken(r)
	if err != nil {
		return ""
	}
	return token
}

func (s *Server) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := s.requestToken(c.Request())
		if token == "" {
			return apiError(http.StatusUnauthorized, "Missing token")
		}

		user, err := s.verifier.Verify(c.Request().Context(), token)
		if err != nil {
			return apiError(http.StatusUnauthorized, "Invalid token")
		}

		c.Set(contextUserKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) models.User {
	user, _ := c.Get(contextUserKey).(models.User)
	return user
}
