package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcoot/mpserver/internal/admin"
	"github.com/mcoot/mpserver/internal/api"
	"github.com/mcoot/mpserver/internal/config"
	"github.com/mcoot/mpserver/internal/factory"
	"github.com/mcoot/mpserver/internal/server"
)

type options struct {
	configPath string
	envFile    string
	port       int
	httpAddr   string
	fifo       string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "mpserver",
		Short: "Multiplayer game lobby and relay server",
		Long: `mpserver accepts game clients on a TCP port, runs the lobby, relays turns
between the players of each game and keeps the ban list. Settings come from
built-in defaults, an optional YAML file, MPSERVER_* environment variables and
finally the flags below.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML config file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "game port")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "status API listen address (empty disables it)")
	cmd.Flags().StringVar(&opts.fifo, "fifo", "", "admin command pipe path")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	return cmd
}

func loadConfig(cmd *cobra.Command, opts options) (config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("http-addr") {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if flags.Changed("fifo") {
		cfg.Admin.Fifo = opts.fifo
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})), nil
}

func run(cfg config.Config) error {
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	app, err := factory.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		return err
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start application", slog.String("error", err.Error()))
		_ = app.Close(context.Background())
		return err
	}

	l, err := app.Server.Listen()
	if err != nil {
		logger.Error("failed to listen", slog.String("error", err.Error()))
		_ = app.Close(context.Background())
		return err
	}
	go func() {
		if err := app.Server.Serve(l); err != nil && !errors.Is(err, server.ErrStopped) {
			logger.Error("game listener failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	var httpServer *api.Server
	if cfg.HTTP.Addr != "" {
		serverConfig := api.DefaultServerConfig()
		serverConfig.Addr = cfg.HTTP.Addr
		httpServer = api.NewServer(api.NewRouter(api.RouterConfig{
			Logger:         logger,
			Backend:        app.Server,
			Token:          cfg.HTTP.Token,
			MaxMessageSize: int64(cfg.Server.MaxFrameSize),
		}), serverConfig, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error("status API failed", slog.String("error", err.Error()))
				cancel()
			}
		}()
	}

	fifoDone := make(chan struct{})
	if cfg.Admin.Fifo != "" {
		go func() {
			defer close(fifoDone)
			if err := admin.NewFifo(cfg.Admin.Fifo, app.Server, logger).Run(ctx); err != nil {
				logger.Error("admin fifo failed", slog.String("error", err.Error()))
			}
		}()
	} else {
		close(fifoDone)
	}

	logger.Info("server started",
		slog.Int("port", cfg.Server.Port),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.String("session", app.Server.Session()),
	)

	runErr := app.Server.Run(ctx)
	cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}
	<-fifoDone
	if err := app.Close(context.Background()); err != nil {
		logger.Error("close error", slog.String("error", err.Error()))
	}

	if errors.Is(runErr, server.ErrRestart) {
		logger.Info("restarting")
		return reexec()
	}
	if runErr != nil {
		logger.Error("server error", slog.String("error", runErr.Error()))
		return runErr
	}
	logger.Info("server stopped")
	return nil
}
