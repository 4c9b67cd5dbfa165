package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/coderunner/config"
	"github.com/isdmx/coderunner/httpserver"
	"github.com/isdmx/coderunner/logger"
	"github.com/isdmx/coderunner/mcpserver"
	"github.com/isdmx/coderunner/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			newSandbox,
			func(sb *sandbox.Sandbox) sandbox.Service { return sb },
			mcpserver.New,
			newHTTPServer,
		),

		fx.Invoke(run),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

func newSandbox(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) (*sandbox.Sandbox, error) {
	sb, err := sandbox.New(log, cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(sb.Close))
	return sb, nil
}

func newHTTPServer(cfg *config.Config, log *zap.Logger, runner sandbox.Service, mcp *mcpserver.MCPServer) *httpserver.Server {
	return httpserver.New(cfg, log, runner, mcp.Handler())
}

// run starts the transport selected by server.transport
func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, log *zap.Logger, mcp *mcpserver.MCPServer, srv *httpserver.Server) {
	log.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("sandbox.mode", cfg.Sandbox.Mode),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.String("workspace.root", cfg.Workspace.Root),
		zap.String("container.image", cfg.Container.Image),
		zap.Bool("container.host_root_set", cfg.Container.HostRoot != ""),
	)

	switch cfg.Server.Transport {
	case "stdio":
		lc.Append(fx.StartHook(func() {
			go func() {
				if err := mcp.ServeStdio(); err != nil {
					log.Error("MCP stdio server stopped", zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
		}))
	default:
		lc.Append(fx.Hook{
			OnStart: srv.Start,
			OnStop: func(ctx context.Context) error {
				return srv.Stop(ctx)
			},
		})
	}
}
