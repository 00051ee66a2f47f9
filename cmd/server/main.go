package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/roomrelay/internal/credential"
	"github.com/Tyrowin/roomrelay/internal/server"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	fmt.Println("Starting Room Relay Server...")
	log.Printf("Allowed origins: %v", cfg.AllowedOrigins)
	log.Printf("WebSocket authentication required: %t", cfg.RequireAuth)

	auth := credential.Open(cfg.Auth)

	srv := server.NewServer(*cfg, auth)
	srv.StartHub()

	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
					return err
				}
				if err := srv.Hub().Shutdown(cfg.ShutdownTimeout); err != nil {
					return err
				}
				return auth.Close()
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}

// loadConfig layers defaults, the optional YAML file, environment
// variables and command-line flags, in that order.
func loadConfig(args []string) (*server.Config, error) {
	flagSet := pflag.NewFlagSet("roomrelay", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to a YAML configuration file")
	port := flagSet.String("port", "", "listen address, e.g. :5000")
	origins := flagSet.StringSlice("origins", nil, "allowed WebSocket origins (comma separated, * for any)")
	maxMessageSize := flagSet.Int64("max-message-size", 0, "maximum inbound frame size in bytes")
	requireAuth := flagSet.Bool("require-auth", true, "require a valid token on WebSocket connections")
	databasePath := flagSet.String("database", "", "SQLite file for user accounts (empty keeps users in memory)")
	jwtSecret := flagSet.String("jwt-secret", "", "secret used to sign tokens")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", extra[0])
	}

	var cfg *server.Config
	if *configPath == "" {
		cfg = server.NewConfigFromEnv()
	} else {
		loaded, err := server.LoadConfigFile(*configPath)
		if err != nil {
			return nil, err
		}
		server.ApplyEnv(loaded)
		cfg = loaded
	}

	if flagSet.Changed("port") {
		cfg.Port = *port
	}
	if flagSet.Changed("origins") {
		cfg.AllowedOrigins = *origins
	}
	if flagSet.Changed("max-message-size") {
		cfg.MaxMessageSize = *maxMessageSize
	}
	if flagSet.Changed("require-auth") {
		cfg.RequireAuth = *requireAuth
	}
	if flagSet.Changed("database") {
		cfg.Auth.DatabasePath = *databasePath
	}
	if flagSet.Changed("jwt-secret") {
		cfg.Auth.JWTSecret = *jwtSecret
	}
	return cfg, nil
}
