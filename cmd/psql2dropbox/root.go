package main

import (
	"os"
	"strings"

	"github.com/fgeck/psql2dropbox/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Logging flags.
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "psql2dropbox --apitoken=<token> --connectionstring=<base64> --dropboxfoldername=<folder>",
	Short: "Dump a PostgreSQL database and upload it to Dropbox",
	Long: `psql2dropbox takes a pg_dump custom-format backup of a PostgreSQL database
and uploads it to a Dropbox folder:
  1. Decode the base64 connection string
  2. Dump the database with pg_dump -Fc into a temporary file
  3. Upload the dump to Dropbox
  4. Remove the temporary file

Flag names are case-insensitive. Use as a one-shot command with an external
scheduler (cron, systemd timer, etc.)`,
	Args: cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{
		UnknownFlags: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE:    runBackup,
	Version: Version,
}

func init() {
	rootCmd.SetGlobalNormalizationFunc(config.NormalizeFlagName)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	config.RegisterFlags(rootCmd.Flags())

	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
