package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"commi8/internal/database"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port           int      `env:"PORT" envDefault:"8080"`
	TLSCert        string   `env:"TLS_CERT"`
	TLSKey         string   `env:"TLS_KEY"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	TokenSecret   string        `env:"TOKEN_SECRET,required,notEmpty"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionMaxAge int           `env:"SESSION_MAX_AGE" envDefault:"2592000"`
	SecureCookies bool          `env:"SECURE_COOKIES" envDefault:"false"`

	DB database.Config `envPrefix:"DB_"`

	WS       Realtime `envPrefix:"WS_"`
	LiveKit  LiveKit  `envPrefix:"LIVEKIT_"`
	LogLevel string   `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is "text" or "json".
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Realtime struct {
	AuthTimeout        time.Duration `env:"AUTH_TIMEOUT" envDefault:"5s"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	MaxFrameBytes      int           `env:"MAX_FRAME_BYTES" envDefault:"65536"`
	RateLimitPerSecond float64       `env:"RATE_LIMIT_PER_SECOND" envDefault:"0"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST" envDefault:"0"`
	MaxMessageLength   int           `env:"MAX_MESSAGE_LENGTH" envDefault:"2000"`
}

type LiveKit struct {
	URL    string `env:"URL"`
	Key    string `env:"KEY"`
	Secret string `env:"SECRET"`
}

func (l LiveKit) Enabled() bool {
	return l.URL != "" && l.Key != "" && l.Secret != ""
}

// Load reads the process environment, after .env has been applied.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = cfg.TokenSecret
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return Config{}, fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}
	return cfg, nil
}

func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
}
