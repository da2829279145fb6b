// Command gateway is the single entrypoint for the protocol-translating LLM
// gateway: a cobra CLI exposing serve/version/doctor subcommands over the
// positional [config_directory] [user] arguments and their equivalent
// --ConfigDirectory/--User/--LoggingDirectory flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/axonrelay/gateway/internal/application"
	"github.com/axonrelay/gateway/internal/domain/backend"
	_ "github.com/axonrelay/gateway/internal/domain/backend/kobold"
	_ "github.com/axonrelay/gateway/internal/domain/backend/ollama"
	_ "github.com/axonrelay/gateway/internal/domain/backend/openai"
	"github.com/axonrelay/gateway/internal/infrastructure/config"
	"github.com/axonrelay/gateway/internal/infrastructure/lock"
	"github.com/axonrelay/gateway/internal/infrastructure/logger"
)

const appVersion = "0.1.0"

var (
	configDirectory string
	user            string
	loggingDir      string
)

func main() {
	root := &cobra.Command{
		Use:   "gateway [config_directory] [user]",
		Short: "Protocol-translating LLM gateway",
		Args:  cobra.MaximumNArgs(2),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				configDirectory = args[0]
			}
			if len(args) > 1 {
				user = args[1]
			}
			if configDirectory == "" {
				configDirectory = "./config"
			}
			if user == "" {
				user = "default"
			}
			return nil
		},
		RunE: runServe,
	}

	root.PersistentFlags().StringVar(&configDirectory, "ConfigDirectory", "", "config directory root")
	root.PersistentFlags().StringVar(&user, "User", "", "user subdirectory under the config directory")
	root.PersistentFlags().StringVar(&loggingDir, "LoggingDirectory", "", "log output directory (supports a <user> placeholder)")

	root.AddCommand(serveCmd(), versionCmd(), doctorCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := application.New(configDirectory, user, loggingDir)
	if err != nil {
		return fmt.Errorf("initialize gateway: %w", err)
	}
	log := app.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	log.Info("gateway started", zap.String("version", appVersion), zap.String("user", user))

	<-ctx.Done()
	log.Info("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.Stop(shutdownCtx)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(appVersion)
			return nil
		},
	}
}

// doctorCmd sanity-checks a user's configuration (readable config.yaml,
// reachable lock database, every registered dialect) without starting the
// HTTP listener.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and lock store connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.NewLogger(logger.Config{Level: "info", Format: "console", OutputPath: "stderr"})
			if err != nil {
				return err
			}
			if configDirectory == "" {
				configDirectory = "./config"
			}
			if user == "" {
				user = "default"
			}

			if err := config.Bootstrap(log, configDirectory, user); err != nil {
				return fmt.Errorf("bootstrap config: %w", err)
			}
			cfg, err := config.Load(configDirectory, user)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Printf("config OK: %d endpoint(s), %d api type(s), %d preset(s), %d workflow(s)\n",
				len(cfg.Endpoints), len(cfg.ApiTypes), len(cfg.Presets), len(cfg.Workflows))

			if _, err := cfg.DefaultWorkflows(); err != nil {
				return fmt.Errorf("defaults: %w", err)
			}
			fmt.Println("default routing OK")

			store, err := lock.Open(cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("open lock store: %w", err)
			}
			_ = store
			fmt.Println("lock store OK:", cfg.Database.DSN)

			dialects := backend.Global.Dialects()
			fmt.Println("registered dialects:", strings.Join(dialects, ", "))
			return nil
		},
	}
}
