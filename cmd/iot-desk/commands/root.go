package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bloveless/esp32-iot-desk/internal/config"
	"github.com/bloveless/esp32-iot-desk/internal/store"
)

var (
	configPath string
	cfg        *config.Config
)

func Execute() error {
	v := viper.New()
	root := &cobra.Command{
		Use:           "iot-desk",
		Short:         "Smart home backend for the ESP32 IoT desk",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			setupLogging(cfg.LogLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(serveCmd(), migrateCmd(), deviceCmd(), clientCmd())
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return err
	}
	return nil
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

// openRepo connects to postgres and migrates the schema.
func openRepo() (*store.Repository, error) {
	db, err := store.OpenPostgres(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	repo, err := store.New(db)
	if err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return repo, nil
}
