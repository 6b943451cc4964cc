// Command server runs the pipeline CRM API as a long-lived HTTP process.
//
// The same router is served by the serverless entry point in api/; this
// binary adds graceful shutdown, the Kafka change-feed relay and a helper
// for issuing development session tokens.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	handler "pipeline-crm-backend/api"
	"pipeline-crm-backend/pkg/config"
	"pipeline-crm-backend/pkg/database"
	"pipeline-crm-backend/pkg/logging"
	"pipeline-crm-backend/pkg/models"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		port       string
		sqlitePath string
		issueFor   string
		email      string
		name       string
	)
	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flagSet.StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	flagSet.StringVar(&sqlitePath, "sqlite", "", "SQLite file to use when no other store is configured (overrides SQLITE_PATH)")
	flagSet.StringVar(&issueFor, "issue-token", "", "print a session token pair for this user id and exit")
	flagSet.StringVar(&email, "email", "", "email for --issue-token")
	flagSet.StringVar(&name, "name", "", "display name for --issue-token")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	if sqlitePath != "" {
		cfg.SQLitePath = sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.IsProduction(), cfg.Debug)
	if cfg.UsesDefaultSecret() {
		logger.Warn("JWT_SECRET is the placeholder value; session tokens are forgeable")
	}

	db, err := database.NewDatabase(cfg.DatabaseConfig(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	app, err := handler.NewApp(cfg, db, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	if issueFor != "" {
		return issueToken(app, issueFor, email, name)
	}
	return serve(app, logger)
}

// issueToken mirrors a user into the store and prints a token pair, so a
// local instance can be driven without the hosted auth provider.
func issueToken(app *handler.App, userID, email, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("--email is required with --issue-token")
	}
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.StoreTimeout)
	defer cancel()
	if err := app.DB.UpsertUser(ctx, &models.User{ID: userID, Email: email, Name: name}); err != nil {
		return fmt.Errorf("mirror user: %w", err)
	}
	pair, err := app.JWT.GenerateTokenPair(userID, email)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pair)
}

func serve(app *handler.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, _ := os.Hostname()
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		app.RunRelay(ctx, "pipeline-crm-"+host)
	}()

	srv := &http.Server{
		Addr:              ":" + app.Config.Port,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "environment", app.Config.Environment)
		if app.Config.IsDevelopment() {
			logger.Info("issue a local session with --issue-token <user-id> --email <address>")
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// ends open SSE subscriptions so their handlers return
	srv.RegisterOnShutdown(func() { _ = app.Hub.Close() })
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
	stop()
	<-relayDone
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `server runs the pipeline CRM API.

Configuration comes from the environment (and .env.local or
.env.production). Flags override the matching variables.

Usage:
  server [flags]

Examples:
  # Serve with an embedded SQLite store
  server --sqlite crm.sqlite --port 8080

  # Print a session token for a local user
  server --issue-token alice --email alice@example.com

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
