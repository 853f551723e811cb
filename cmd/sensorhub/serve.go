// v0
// cmd/sensorhub/serve.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reneeyyx/CareSphere/internal/app"
	"github.com/reneeyyx/CareSphere/internal/config"
)

func serveCmd(configPath *string) *cobra.Command {
	var (
		listen     string
		source     string
		serialPort string
		filePath   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Read the sensor stream and serve the HTTP API",
		Long: `Start ingesting readings and serve the read-only API.

Examples:
  sensorhub serve
  sensorhub serve --serial-port /dev/ttyUSB0
  sensorhub simulate | sensorhub serve --source file --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				bootstrapLogger().Error("config_load_failed", slog.Any("err", err))
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddress = listen
			}
			if cmd.Flags().Changed("source") {
				cfg.Source = strings.ToLower(source)
			}
			if cmd.Flags().Changed("serial-port") {
				cfg.SerialOverride = serialPort
			}
			if cmd.Flags().Changed("file") {
				cfg.FilePath = filePath
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&source, "source", "", "reading source: serial, mqtt or file")
	cmd.Flags().StringVar(&serialPort, "serial-port", "", "serial device path, wins over auto-detect")
	cmd.Flags().StringVar(&filePath, "file", "", "file to replay when --source file, - for stdin")
	return cmd
}

func bootstrapLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func runServe(cfg config.Config) error {
	bootstrap := bootstrapLogger()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("app_close_failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("version", Version),
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("config_path", cfg.ConfigPath),
		slog.String("source", cfg.Source),
		slog.Int("history_capacity", cfg.HistoryCapacity),
		slog.String("kafka_brokers", strings.Join(cfg.KafkaBrokers, ",")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("service_terminated", slog.Any("err", err))
		return err
	}
	logger.Info("service_stopped")
	return nil
}
