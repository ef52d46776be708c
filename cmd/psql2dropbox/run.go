package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/psql2dropbox/internal/config"
	"github.com/fgeck/psql2dropbox/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runBackup(cmd *cobra.Command, args []string) error {
	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFlags(cmd.Flags())
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	log.Info().
		Str("folder", cfg.Args.DropboxFolderName).
		Str("pg_dump", cfg.Dump.Binary).
		Bool("metrics", cfg.Metrics != nil).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run backup
	runnerSvc := runner.New(log.Logger, cfg.Upload)
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().Msg("backup completed successfully")
	return nil
}
