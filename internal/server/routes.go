package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     s.corsOrigins(),
		AllowCredentials: true,
	}))

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.HandlerWebsocket)

	api := e.Group("/api")

	// Auth
	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.HandlerRegister)
	authGroup.POST("/login", s.HandlerLogin)
	authGroup.GET("/me", s.HandlerMe, s.RequireAuth)
	authGroup.POST("/logout", s.HandlerLogout, s.RequireAuth)

	api.GET("/users/:id", s.HandlerGetUser, s.RequireAuth)

	// Servers
	servers := api.Group("/servers", s.RequireAuth)
	servers.POST("", s.HandlerCreateServer)
	servers.GET("", s.HandlerUserServers)
	servers.GET("/:id", s.HandlerServerInformations)
	servers.POST("/:id/invite", s.HandlerInvite)

	// Channels
	channels := api.Group("/channels", s.RequireAuth)
	channels.POST("/:id/create", s.HandlerCreateChannel)
	channels.GET("/:id", s.HandlerChannel)
	channels.DELETE("/:id", s.HandlerDeleteChannel)
	channels.POST("/:id/messages", s.HandlerCreateMessage)
	channels.GET("/:id/voice-token", s.HandlerVoiceToken)

	return e
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}
