// Package config provides command-line and configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/fgeck/psql2dropbox/internal/models"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Required argument flags.
const (
	FlagAPIToken          = "apitoken"
	FlagConnectionString  = "connectionstring"
	FlagDropboxFolderName = "dropboxfoldername"
)

// Operational setting flags.
const (
	FlagConfig         = "config"
	FlagPgDumpPath     = "pg-dump-path"
	FlagTempDir        = "temp-dir"
	FlagUploadURL      = "upload-url"
	FlagUploadTimeout  = "upload-timeout"
	FlagDumpTimeout    = "dump-timeout"
	FlagPushgatewayURL = "pushgateway-url"
	FlagMetricsJob     = "metrics-job"
)

// DefaultUploadURL is the Dropbox single-request upload endpoint.
const DefaultUploadURL = models.DefaultUploadURL

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PSQL2DROPBOX"

// ErrMissingFlag is returned when a required flag is absent or empty.
var ErrMissingFlag = errors.New("missing flag")

// settingFlags maps viper keys to the flags that can override them.
var settingFlags = map[string]string{
	"pg_dump_path":    FlagPgDumpPath,
	"temp_dir":        FlagTempDir,
	"upload_url":      FlagUploadURL,
	"upload_timeout":  FlagUploadTimeout,
	"dump_timeout":    FlagDumpTimeout,
	"pushgateway_url": FlagPushgatewayURL,
	"metrics_job":     FlagMetricsJob,
}

// RegisterFlags adds the run flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagAPIToken, "", "Dropbox API bearer token (required)")
	fs.String(FlagConnectionString, "", "base64-encoded connection string (required)")
	fs.String(FlagDropboxFolderName, "", "destination Dropbox folder (required)")

	fs.String(FlagConfig, "", "optional YAML file with operational settings")
	fs.String(FlagPgDumpPath, "pg_dump", "pg_dump executable")
	fs.String(FlagTempDir, "", "directory for the dump file (default: system temp dir)")
	fs.String(FlagUploadURL, DefaultUploadURL, "Dropbox upload endpoint")
	fs.Duration(FlagUploadTimeout, 0, "upload HTTP timeout (0 disables)")
	fs.Duration(FlagDumpTimeout, 0, "pg_dump deadline (0 disables)")
	fs.String(FlagPushgatewayURL, "", "Prometheus Pushgateway URL for run metrics")
	fs.String(FlagMetricsJob, "psql2dropbox", "Pushgateway job name")
}

// NormalizeFlagName makes flag names case-insensitive.
func NormalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ToLower(name))
}

// Parser handles argument and configuration parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return &Parser{v: v}
}

// ParseArgs parses a raw argument vector (without the program name).
// Unknown flags and positional arguments are ignored.
func (p *Parser) ParseArgs(args []string) (*models.RunConfig, error) {
	fs := pflag.NewFlagSet("psql2dropbox", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetNormalizeFunc(NormalizeFlagName)
	RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	return p.LoadFlags(fs)
}

// LoadFlags builds the run configuration from an already parsed flag set.
func (p *Parser) LoadFlags(fs *pflag.FlagSet) (*models.RunConfig, error) {
	args, err := requiredArguments(fs)
	if err != nil {
		return nil, err
	}

	for key, name := range settingFlags {
		if f := fs.Lookup(name); f != nil {
			if err := p.v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	if f := fs.Lookup(FlagConfig); f != nil && f.Value.String() != "" {
		p.v.SetConfigFile(f.Value.String())
		if err := p.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}
	cfg.Args = *args

	return cfg, nil
}

// LoadReader loads operational settings from YAML content (useful for testing).
func (p *Parser) LoadReader(content string) error {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

func requiredArguments(fs *pflag.FlagSet) (*models.Arguments, error) {
	values := make(map[string]string, 3)
	for _, name := range []string{FlagAPIToken, FlagConnectionString, FlagDropboxFolderName} {
		value, err := fs.GetString(name)
		if err != nil {
			return nil, fmt.Errorf("reading flag --%s: %w", name, err)
		}
		if value == "" {
			return nil, fmt.Errorf("%w: --%s=", ErrMissingFlag, name)
		}
		values[name] = value
	}

	return &models.Arguments{
		APIToken:          values[FlagAPIToken],
		ConnectionString:  values[FlagConnectionString],
		DropboxFolderName: values[FlagDropboxFolderName],
	}, nil
}

func (p *Parser) parse() (*models.RunConfig, error) {
	cfg := &models.RunConfig{}

	cfg.Dump = models.DumpSettings{
		Binary:  p.v.GetString("pg_dump_path"),
		TempDir: os.ExpandEnv(p.v.GetString("temp_dir")),
		Timeout: p.v.GetDuration("dump_timeout"),
	}

	if cfg.Dump.Binary == "" {
		cfg.Dump.Binary = "pg_dump"
	}
	if cfg.Dump.TempDir == "" {
		cfg.Dump.TempDir = os.TempDir()
	}
	if cfg.Dump.Timeout < 0 {
		return nil, fmt.Errorf("dump_timeout must not be negative")
	}

	cfg.Upload = models.UploadSettings{
		URL:     p.v.GetString("upload_url"),
		Timeout: p.v.GetDuration("upload_timeout"),
	}

	if cfg.Upload.URL == "" {
		cfg.Upload.URL = DefaultUploadURL
	}
	if err := validateHTTPURL(cfg.Upload.URL); err != nil {
		return nil, fmt.Errorf("upload_url: %w", err)
	}
	if cfg.Upload.Timeout < 0 {
		return nil, fmt.Errorf("upload_timeout must not be negative")
	}

	if gateway := p.v.GetString("pushgateway_url"); gateway != "" {
		cfg.Metrics = &models.MetricsConfig{
			PushgatewayURL: gateway,
			Job:            p.v.GetString("metrics_job"),
		}

		if err := validateHTTPURL(gateway); err != nil {
			return nil, fmt.Errorf("pushgateway_url: %w", err)
		}
		if cfg.Metrics.Job == "" {
			cfg.Metrics.Job = "psql2dropbox"
		}
	}

	return cfg, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.RunConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Args.APIToken == "" {
		return fmt.Errorf("%w: --%s=", ErrMissingFlag, FlagAPIToken)
	}

	if cfg.Args.ConnectionString == "" {
		return fmt.Errorf("%w: --%s=", ErrMissingFlag, FlagConnectionString)
	}

	if cfg.Args.DropboxFolderName == "" {
		return fmt.Errorf("%w: --%s=", ErrMissingFlag, FlagDropboxFolderName)
	}

	return nil
}
