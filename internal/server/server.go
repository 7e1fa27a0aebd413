package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"commi8/internal/auth"
	"commi8/internal/config"
	"commi8/internal/database"
	"commi8/internal/realtime"

	"github.com/lxzan/gws"
)

type Server struct {
	cfg      config.Config
	db       database.Service
	tokens   *auth.TokenManager
	verifier *auth.Verifier
	sessions *auth.Sessions
	router   *realtime.Router
	upgrader *gws.Upgrader
	origins  *originPolicy
	rtc      *RTC
	logger   *slog.Logger
}

func New(cfg config.Config, db database.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	tokens := auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL)
	verifier := auth.NewVerifier(tokens, db)

	sessionStore := auth.NewCookieStore(auth.SessionOptions{
		CookiesKey: cfg.SessionSecret,
		MaxAge:     cfg.SessionMaxAge,
		Secure:     cfg.SecureCookies,
		HttpOnly:   true,
	})

	router := realtime.NewRouter(realtime.Options{
		Verifier:         verifier,
		Directory:        db,
		Messages:         db,
		Presence:         db,
		Registry:         realtime.NewRegistry(logger.With("component", "registry")),
		Logger:           logger.With("component", "router"),
		AuthTimeout:      cfg.WS.AuthTimeout,
		StoreTimeout:     cfg.WS.StoreTimeout,
		MaxMessageLength: cfg.WS.MaxMessageLength,
		RateLimit:        rateLimit(cfg.WS.RateLimitPerSecond),
		RateBurst:        cfg.WS.RateLimitBurst,
	})

	s := &Server{
		cfg:      cfg,
		db:       db,
		tokens:   tokens,
		verifier: verifier,
		sessions: auth.NewSessions(sessionStore),
		router:   router,
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:   logger,
	}
	s.upgrader = NewWebsocketUpgrader(&Handler{router: router, logger: logger.With("component", "websocket")}, cfg.WS.MaxFrameBytes)

	if cfg.LiveKit.Enabled() {
		s.rtc = NewRTC(cfg.LiveKit)
	}

	return s
}

// HTTPServer builds the listener configuration. TLS is used when a
// certificate is configured.
func (s *Server) HTTPServer() (*http.Server, error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if s.cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("error loading certificate and key file: %w", err)
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return server, nil
}

func (s *Server) Router() *realtime.Router { return s.router }

// Shutdown disconnects every live websocket session.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}
