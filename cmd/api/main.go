package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"commi8/internal/config"
	"commi8/internal/database"
	"commi8/internal/server"

	gfshutdown "github.com/gelmium/graceful-shutdown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load config: %s\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logger(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %s\n", err)
		os.Exit(1)
	}

	db, err := database.New(context.Background(), cfg.DB)
	if err != nil {
		logger.Error("cannot open database", "driver", cfg.DB.Driver, "err", err)
		os.Exit(1)
	}

	srv := server.New(cfg, db, logger)
	httpServer, err := srv.HTTPServer()
	if err != nil {
		logger.Error("cannot configure server", "err", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("server listening", "addr", httpServer.Addr, "tls", httpServer.TLSConfig != nil, "driver", cfg.DB.Driver)

		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("cannot start server", "err", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return httpServer.Shutdown(ctx)
			},
			"realtime": func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait

	// Sessions write their offline status on the way out, close the store last.
	if err := db.Close(); err != nil {
		logger.Warn("failed to close database", "err", err)
	}

	logger.Info("server stopped", slog.Int("code", exitCode))
	os.Exit(exitCode)
}
