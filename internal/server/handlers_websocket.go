package server

import (
	"context"
	"net/http"

	"commi8/internal/realtime"

	"github.com/labstack/echo/v4"
)

// HandlerWebsocket verifies the connect token before upgrading, so a refused
// connection never becomes a session.
func (s *Server) HandlerWebsocket(c echo.Context) error {
	r := c.Request()
	if !s.origins.allowed(r) {
		return apiError(http.StatusForbidden, "Origin not allowed")
	}

	token := c.QueryParam("token")
	if token == "" {
		token = s.requestToken(r)
	}
	if token == "" {
		return apiError(http.StatusUnauthorized, "Missing token")
	}

	user, err := s.router.Authenticate(r.Context(), token)
	if err != nil {
		return apiError(http.StatusUnauthorized, "Invalid token")
	}

	socket, err := s.upgrader.Upgrade(c.Response(), r)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return nil
	}

	// The session outlives the upgrade request.
	sess := realtime.NewSession(context.Background(), &socketTransport{conn: socket})
	socket.Session().Store(sessionKey, sess)
	socket.Session().Store(userKey, user)

	go socket.ReadLoop()

	return nil
}
