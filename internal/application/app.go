// Package application wires the gateway's dependency graph: configuration,
// logging, the cancellation registry, the backend dialect registry, the
// workflow engine, the workflow-node lock store, and the HTTP server.
package application

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/axonrelay/gateway/internal/domain/backend"
	_ "github.com/axonrelay/gateway/internal/domain/backend/kobold" // register kobold-generate dialect
	_ "github.com/axonrelay/gateway/internal/domain/backend/ollama" // register ollama-chat/ollama-generate dialects
	_ "github.com/axonrelay/gateway/internal/domain/backend/openai" // register openai-chat/openai-completion dialects
	"github.com/axonrelay/gateway/internal/domain/cancellation"
	"github.com/axonrelay/gateway/internal/domain/workflow"
	"github.com/axonrelay/gateway/internal/infrastructure/config"
	"github.com/axonrelay/gateway/internal/infrastructure/lock"
	"github.com/axonrelay/gateway/internal/infrastructure/logger"
	httpServer "github.com/axonrelay/gateway/internal/interfaces/http"
	"github.com/axonrelay/gateway/internal/interfaces/http/handlers"
	"github.com/axonrelay/gateway/internal/interfaces/websocket"
	"github.com/axonrelay/gateway/pkg/safego"
)

// App is the fully wired gateway process: config, logger, the workflow
// engine, the lock store, and the HTTP server.
type App struct {
	config     *config.Config
	logger     *zap.Logger
	cancel     *cancellation.Registry
	engine     *workflow.Engine
	lockStore  *lock.Store
	server     *httpServer.Server
	tap        *websocket.Tap
	watcher    *config.Watcher
	watchStop  chan struct{}
	instanceID string
}

// New builds an App for configDirectory/user, bootstrapping a default
// config.yaml on first run. loggingDir, if non-empty, is the log output
// directory; a literal "<user>" substring is replaced with user.
func New(configDirectory, user, loggingDir string) (*App, error) {
	bootstrapLogger, err := logger.NewLogger(logger.Config{Level: "info", Format: "json", OutputPath: "stderr"})
	if err != nil {
		return nil, fmt.Errorf("build bootstrap logger: %w", err)
	}
	if err := config.Bootstrap(bootstrapLogger, configDirectory, user); err != nil {
		return nil, fmt.Errorf("bootstrap config: %w", err)
	}

	cfg, err := config.Load(configDirectory, user)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: resolveLogOutputPath(loggingDir, user),
	})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	cancelRegistry := cancellation.New(log)

	lockStore, err := lock.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open lock store: %w", err)
	}

	instanceID := uuid.NewString()
	swept, err := lockStore.SweepForeignInstances(instanceID)
	if err != nil {
		return nil, fmt.Errorf("sweep stale locks: %w", err)
	}
	log.Info("swept stale workflow-node locks", zap.Int64("count", swept), zap.String("instance_id", instanceID))

	defaults, err := cfg.DefaultWorkflows()
	if err != nil {
		return nil, fmt.Errorf("resolve default workflows: %w", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
		},
	}

	engine := workflow.New(workflow.Config{
		Workflows: cfg.Workflows,
		Defaults:  defaults,
		Endpoints: cfg.Endpoints,
		ApiTypes:  cfg.ApiTypes,
		Presets:   cfg.Presets,
		Policy:    cfg.Policy,
		Handlers:  backend.Global,
		Deps: backend.Deps{
			HTTPClient: httpClient,
			Logger:     log,
			Cancel:     cancelRegistry,
		},
		Logger: log,
	})

	sharedWorkflows := make([]string, 0, len(cfg.Workflows))
	for name := range cfg.Workflows {
		sharedWorkflows = append(sharedWorkflows, name)
	}

	tap := websocket.NewTap(log)

	gw := handlers.NewGatewayHandler(handlers.Config{
		Engine:           engine,
		Cancel:           cancelRegistry,
		Logger:           log,
		CurrentUser:      cfg.CurrentUser,
		SharedWorkflows:  sharedWorkflows,
		ListEachWorkflow: cfg.ListSharedWorkflows,
		Policy:           cfg.Policy,
		Tap:              tap,
	})

	srv := httpServer.NewServer(httpServer.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
		Mode: cfg.Gateway.Mode,
	}, gw, tap, log)

	watcher, err := config.Watch(configDirectory, user, log, func(reloaded *config.Config) {
		reloadedDefaults, err := reloaded.DefaultWorkflows()
		if err != nil {
			log.Error("config reload: resolve defaults", zap.Error(err))
			return
		}
		engine.UpdateRouting(reloaded.Workflows, reloadedDefaults, reloaded.Endpoints, reloaded.ApiTypes, reloaded.Presets, reloaded.Policy)
	})
	if err != nil {
		log.Warn("config hot-reload disabled", zap.Error(err))
	}

	return &App{
		config:     cfg,
		logger:     log,
		cancel:     cancelRegistry,
		engine:     engine,
		lockStore:  lockStore,
		server:     srv,
		tap:        tap,
		watcher:    watcher,
		watchStop:  make(chan struct{}),
		instanceID: instanceID,
	}, nil
}

// Start launches the operator debug tap's broadcast loop, the config
// hot-reload watcher, and the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	safego.Go(a.logger, "ws-tap", func() {
		a.tap.Run(ctx)
	})
	if a.watcher != nil {
		safego.Go(a.logger, "config-watcher", func() {
			a.watcher.Run(a.watchStop)
		})
	}
	return a.server.Start(ctx)
}

// Stop gracefully shuts the HTTP listener down.
func (a *App) Stop(ctx context.Context) error {
	if a.watcher != nil {
		close(a.watchStop)
		a.watcher.Close()
	}
	return a.server.Stop(ctx)
}

// Logger returns the application's root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// resolveLogOutputPath substitutes the "<user>" placeholder in loggingDir
// and appends a fixed file name, falling back to stderr when loggingDir is
// empty.
func resolveLogOutputPath(loggingDir, user string) string {
	if loggingDir == "" {
		return "stderr"
	}
	dir := strings.ReplaceAll(loggingDir, "<user>", user)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "stderr"
	}
	return filepath.Join(dir, "gateway.log")
}
