package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/menta2k/lensclip"
	"github.com/menta2k/lensclip/internal/config"
	"github.com/menta2k/lensclip/internal/logging"
)

// app carries the loaded configuration to the subcommands
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	logger     *slog.Logger
	closeLog   func() error
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "lensclip",
		Short:         "Photo observation analysis",
		Version:       lensclip.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.config/lensclip/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config init must work without a valid config
		if cmd.Name() == "init" {
			return nil
		}
		return a.initialize()
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a.closeLog != nil {
			return a.closeLog()
		}
		return nil
	}

	rootCmd.AddCommand(
		ingestCommand(a),
		analyzeCommand(a),
		retryCommand(a),
		showCommand(a),
		listCommand(a),
		deleteCommand(a),
		tagsCommand(a),
		categoryCommand(a),
		narrateCommand(a),
		narrationCleanupCommand(a),
		modelCommand(a),
		workerCommand(a),
		configCommand(a),
	)
	return rootCmd
}

func (a *app) initialize() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	logger, closeLog, err := logging.Init(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog
	return nil
}

// withService builds a service for the duration of fn
func (a *app) withService(ctx context.Context, fn func(*lensclip.Service) error) error {
	svc, err := lensclip.New(ctx, a.cfg, lensclip.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			a.logger.Warn("failed to close service", "error", err)
		}
	}()
	return fn(svc)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
