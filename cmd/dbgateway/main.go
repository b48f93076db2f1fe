package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dbgateway/dbgateway/internal/api"
	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/config"
	"github.com/dbgateway/dbgateway/internal/health"
	"github.com/dbgateway/dbgateway/internal/metrics"
	"github.com/dbgateway/dbgateway/internal/mysql"
	"github.com/dbgateway/dbgateway/internal/postgres"
	"github.com/dbgateway/dbgateway/internal/proxy"
)

var version = "dev"

const shutdownTimeout = 60 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "dbgateway",
		Short: "Multi-protocol SQL gateway",
		Long:  "dbgateway terminates the MySQL or PostgreSQL wire protocol and executes queries against a single configured backend database.",
	}

	var configPath string
	var debug bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, debug)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "configs/dbgateway.yaml", "path to configuration file")
	serveCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("dbgateway " + version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	root.RunE = serveCmd.RunE
	root.Flags().AddFlagSet(serveCmd.Flags())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath string, debug bool) error {
	logger, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("dbgateway starting", zap.String("version", version))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return err
	}
	logger.Info("configuration loaded",
		zap.String("path", configPath),
		zap.String("protocol", cfg.Proxy.DBType),
		zap.String("target", fmt.Sprintf("%s:%d", cfg.Target.Host, cfg.Target.Port)))

	m := metrics.New()
	connector := backend.NewSQLConnector(targetFromConfig(cfg), logger.Named("backend"))

	var engine proxy.Engine
	var mysqlEngine *mysql.Engine
	switch cfg.Proxy.DBType {
	case "mysql":
		mysqlEngine = mysql.NewEngine(cfg.Target.Database, cfg.Variables, m, logger.Named("mysql"))
		engine = mysqlEngine
	case "postgresql":
		engine = postgres.NewEngine(m, logger.Named("postgres"))
	default:
		return fmt.Errorf("unsupported proxy db_type %q", cfg.Proxy.DBType)
	}

	hc := health.NewChecker(connector, m, logger.Named("health"))
	hc.Start()

	proxyServer := proxy.NewServer(engine, connector, m, logger.Named("proxy"))
	if err := proxyServer.Listen(cfg.Proxy.Bind, cfg.Proxy.Port); err != nil {
		logger.Error("failed to start proxy", zap.Error(err))
		return err
	}

	apiServer := api.NewServer(proxyServer, hc, cfg, logger.Named("api"))
	if err := apiServer.Start(); err != nil {
		logger.Error("failed to start API server", zap.Error(err))
		return err
	}

	configWatcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		connector.UpdateTarget(targetFromConfig(newCfg))
		if mysqlEngine != nil {
			mysqlEngine.UpdateVariables(newCfg.Variables)
		}
	})
	if err != nil {
		logger.Warn("config hot-reload not available", zap.Error(err))
	}

	logger.Info("dbgateway ready",
		zap.String("protocol", cfg.Proxy.DBType),
		zap.Int("proxy_port", cfg.Proxy.Port),
		zap.Int("api_port", cfg.API.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	done := make(chan struct{})
	go func() {
		if configWatcher != nil {
			configWatcher.Stop()
		}
		apiServer.Stop()
		proxyServer.Stop()
		hc.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("dbgateway stopped")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Error("shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
		os.Exit(1)
		return nil
	}
}

func targetFromConfig(cfg *config.Config) backend.Target {
	return backend.Target{
		Type:     cfg.Target.DBType,
		Host:     cfg.Target.Host,
		Port:     cfg.Target.Port,
		Username: cfg.Target.Username,
		Password: cfg.Target.Password,
		Database: cfg.Target.Database,
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
