package server

import (
	"errors"
	"net/http"
	"strings"

	"commi8/internal/auth"
	"commi8/internal/database"
	"commi8/internal/models"
	"commi8/internal/utils"

	"github.com/labstack/echo/v4"
)

type RegisterBody struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (s *Server) HandlerRegister(c echo.Context) error {
	body := new(RegisterBody)
	if err := c.Bind(body); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if body.Username == "" || body.Email == "" || body.Password == "" {
		return apiError(http.StatusBadRequest, "Username, email and password are required")
	}
	if !utils.EmailValid(body.Email) {
		return apiError(http.StatusBadRequest, "The format of the email is invalid")
	}

	hashedPassword, err := auth.HashPassword(body.Password)
	if err != nil {
		s.logger.Error("error hashing password", "err", err)
		return apiError(http.StatusInternalServerError, "An error occured when creating your account")
	}

	user, err := s.db.CreateUser(c.Request().Context(), models.User{
		Username: body.Username,
		Email:    body.Email,
		Password: hashedPassword,
		Status:   models.StatusOffline,
	})
	if errors.Is(err, database.ErrConflict) {
		return apiError(http.StatusConflict, "Username or email already exists")
	}
	if err != nil {
		return s.storeError(err, "User")
	}

	return s.signIn(c, http.StatusCreated, user)
}

func (s *Server) HandlerLogin(c echo.Context) error {
	body := new(LoginBody)
	if err := c.Bind(body); err != nil {
		return apiError(http.StatusBadRequest, "Invalid request body")
	}
	if body.Username == "" || body.Password == "" {
		return apiError(http.StatusBadRequest, "Username and password are required")
	}

	user, err := s.db.FindUser(c.Request().Context(), body.Username, "")
	if errors.Is(err, database.ErrNotFound) {
		return apiError(http.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return s.storeError(err, "User")
	}
	if !auth.ComparePassword(body.Password, user.Password) {
		return apiError(http.StatusUnauthorized, "Invalid credentials")
	}

	return s.signIn(c, http.StatusOK, user)
}

// signIn issues a token, mirrors it into the session cookie and writes the
// auth response.
func (s *Server) signIn(c echo.Context, status int, user models.User) error {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		s.logger.Error("error issuing token", "user", user.ID, "err", err)
		return apiError(http.StatusInternalServerError, "An error occured on sign in")
	}

	if err := s.sessions.StoreToken(c.Response(), c.Request(), token); err != nil {
		s.logger.Warn("failed to store session cookie", "user", user.ID, "err", err)
	}

	return c.JSON(status, authResponse{Token: token, User: user})
}

func (s *Server) HandlerMe(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"user": currentUser(c)})
}

func (s *Server) HandlerLogout(c echo.Context) error {
	user := currentUser(c)

	if err := s.db.UpdateUserStatus(c.Request().Context(), user.ID, models.StatusOffline); err != nil {
		s.logger.Warn("failed to persist status", "user", user.ID, "status", models.StatusOffline, "err", err)
	}
	if err := s.sessions.RemoveToken(c.Response(), c.Request()); err != nil {
		s.logger.Warn("failed to clear session cookie", "user", user.ID, "err", err)
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out successfully"})
}
