package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/pawpal/internal/auth"
	"github.com/4xmen/pawpal/internal/db"
	"github.com/4xmen/pawpal/internal/push"
	"github.com/4xmen/pawpal/internal/server"
	"github.com/4xmen/pawpal/internal/ws"
	"github.com/4xmen/pawpal/pkg/config"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := newLogger(cfg)

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			logger.Fatal(err)
		}
		return
	}

	if err := runServer(cfg, logger); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "migrate":
		return runMigrate(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  pawpal           Start the API server")
	fmt.Fprintln(out, "  pawpal status    Show application statistics")
	fmt.Fprintln(out, "  pawpal status --json")
	fmt.Fprintln(out, "  pawpal migrate conversation-pairs [--dry-run] [--database PATH]")
}

func runServer(cfg *config.Config, logger *logrus.Logger) error {
	if cfg.Environment == "production" {
		if cfg.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be set in production")
		}
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := auth.New(auth.Options{Secret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL})

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	notifier := push.NewNotifier(database, push.Options{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubscriber,
	}, logger)
	if !notifier.Enabled() {
		logger.Info("web push disabled: VAPID keys not configured")
	}

	router := server.NewRouter(server.Options{
		DB:           database,
		Credentials:  creds,
		Hub:          hub,
		Push:         notifier,
		Logger:       logger,
		CORSOrigins:  cfg.CORSOrigins,
		LoginRate:    cfg.LoginRate,
		RegisterRate: cfg.RegisterRate,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   srv.Addr,
			"driver": cfg.DatabaseDriver,
			"env":    cfg.Environment,
		}).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown incomplete")
	}
	notifier.Wait()

	return nil
}
