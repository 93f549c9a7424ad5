package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
	"github.com/kestrelgw/kestrel/internal/gateway"
	"github.com/kestrelgw/kestrel/internal/logging"
	"github.com/kestrelgw/kestrel/internal/server"
)

var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "kestrel",
	Short:   "Kestrel API Gateway",
	Long:    `Kestrel is an HTTP API gateway with route matching, a pluggable policy pipeline, load balancing, health checking, and circuit breaking.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	RunE:  runStart,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(configPath); err != nil {
			return err
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := os.WriteFile(configPath, []byte(sampleConfig), 0644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table of a configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		for _, svc := range cfg.Services {
			for _, route := range svc.Routes {
				methods := "any"
				if len(route.Methods) > 0 {
					methods = fmt.Sprintf("%v", route.Methods)
				}
				for _, p := range route.Paths {
					fmt.Printf("%-30s %-10s -> %s (upstream %s)\n", p, methods, svc.Name, svc.Upstream)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kestrel.yaml", "path to configuration file")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(routesCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Gateway.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	if cfg.Gateway.HotReload {
		err := config.Watch(configPath, logger, func(newCfg *config.Config) {
			if err := gw.Reload(ctx, newCfg); err != nil {
				logger.Error("reload failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("hot reload disabled", zap.Error(err))
		}
	}

	srv := server.New(cfg, gw, logger)

	logger.Info("kestrel starting",
		zap.String("version", Version),
		zap.Int("port", cfg.Gateway.Port))

	if err := srv.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("kestrel shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
