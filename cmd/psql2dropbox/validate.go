package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/psql2dropbox/internal/config"
	"github.com/fgeck/psql2dropbox/internal/services/dropbox"
	"github.com/fgeck/psql2dropbox/internal/services/postgres"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var ping bool

const pingTimeout = 15 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the run flags",
	Long: `Validate the run flags and decode the connection string without dumping
or uploading anything. With --ping, also check that the database is reachable.`,
	Args: cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{
		UnknownFlags: true,
	},
	SilenceUsage: true,
	RunE:         validateConfig,
}

func init() {
	config.RegisterFlags(validateCmd.Flags())
	validateCmd.Flags().BoolVar(&ping, "ping", false, "connect to the database to verify the credentials")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Load configuration
	parser := config.NewParser()
	cfg, err := parser.LoadFlags(cmd.Flags())
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	conn, err := config.DecodeConnectionString(cfg.Args.ConnectionString)
	if err != nil {
		log.Error().Err(err).Msg("invalid connection string")
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Connection:")
	fmt.Printf("  %s\n", conn)
	if missing := conn.Missing(); len(missing) > 0 {
		fmt.Printf("  Missing: %v (pg_dump defaults apply)\n", missing)
	}
	fmt.Println()
	fmt.Println("Dump:")
	fmt.Printf("  pg_dump: %s\n", cfg.Dump.Binary)
	fmt.Printf("  Temp dir: %s\n", cfg.Dump.TempDir)
	fmt.Printf("  Timeout: %s\n", durationOrNone(cfg.Dump.Timeout))
	fmt.Println()
	fmt.Println("Upload:")
	fmt.Printf("  Endpoint: %s\n", cfg.Upload.URL)
	fmt.Printf("  Destination: %s\n", dropbox.RemotePath(cfg.Args.DropboxFolderName, "<dump file>"))
	fmt.Printf("  Size limit: %s\n", humanize.Bytes(uint64(dropbox.LargeFileThreshold)))
	fmt.Printf("  Timeout: %s\n", durationOrNone(cfg.Upload.Timeout))
	fmt.Printf("  API Token: (configured)\n")

	if cfg.Metrics != nil {
		fmt.Println()
		fmt.Println("Metrics:")
		fmt.Printf("  Pushgateway: %s\n", cfg.Metrics.PushgatewayURL)
		fmt.Printf("  Job: %s\n", cfg.Metrics.Job)
	}

	if !ping {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
	defer cancel()

	if err := postgres.New(log.Logger).Ping(ctx, *conn); err != nil {
		log.Error().Err(err).Str("server", conn.Server).Msg("database is not reachable")
		return err
	}

	fmt.Println()
	fmt.Println("Database is reachable.")
	return nil
}

func durationOrNone(d time.Duration) string {
	if d == 0 {
		return "none"
	}
	return d.String()
}
