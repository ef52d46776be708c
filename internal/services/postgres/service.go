// Package postgres provides PostgreSQL dump operations.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/psql2dropbox/internal/models"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"
)

// TimestampLayout is the UTC timestamp embedded in dump filenames.
const TimestampLayout = "20060102-150405"

// Service defines the interface for PostgreSQL operations.
type Service interface {
	Dump(ctx context.Context, conn models.ConnectionString, settings models.DumpSettings, outputPath string) (*models.DumpResult, error)
	Ping(ctx context.Context, conn models.ConnectionString) error
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error
}

// DBOpener opens a database handle.
type DBOpener func(driverName, dataSourceName string) (*sql.DB, error)

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// ExecuteWithEnv runs the dump command and writes its stdout to outputPath.
func (e *DefaultExecutor) ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	output, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // outputPath is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = output.Close() }()

	var stderr bytes.Buffer
	cmd.Stdout = output
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("pg_dump failed: %w: %s", err, msg)
		}
		return fmt.Errorf("pg_dump failed: %w", err)
	}

	return output.Sync()
}

// Impl implements the PostgreSQL Service interface.
type Impl struct {
	executor CommandExecutor
	open     DBOpener
	logger   zerolog.Logger
}

// New creates a new PostgreSQL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		open:     sql.Open,
		logger:   logger,
	}
}

// NewWithExecutor creates a new PostgreSQL service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		open:     sql.Open,
		logger:   logger,
	}
}

// NewWithOpener creates a new PostgreSQL service with a custom database opener (for testing).
func NewWithOpener(logger zerolog.Logger, open DBOpener) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		open:     open,
		logger:   logger,
	}
}

// Dump runs pg_dump in custom archive format and writes the archive to outputPath.
// The password reaches the child process only through PGPASSWORD in its environment.
func (s *Impl) Dump(ctx context.Context, conn models.ConnectionString, settings models.DumpSettings, outputPath string) (*models.DumpResult, error) {
	binary := settings.Binary
	if binary == "" {
		binary = "pg_dump"
	}

	s.logger.Info().
		Str("host", conn.Server).
		Str("port", conn.Port).
		Str("database", conn.Database).
		Str("user", conn.UserID).
		Str("output", outputPath).
		Msg("starting PostgreSQL dump")

	start := time.Now()
	result := &models.DumpResult{
		OutputPath: outputPath,
	}

	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		result.Error = fmt.Errorf("failed to create output directory: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}

	env := []string{}
	if conn.Password != "" {
		env = append(env, fmt.Sprintf("PGPASSWORD=%s", conn.Password))
	}

	if execErr := s.executor.ExecuteWithEnv(ctx, env, outputPath, binary, BuildArgs(conn)...); execErr != nil {
		// Clean up partial file
		_ = os.Remove(outputPath)
		result.Error = execErr
		result.Duration = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to stat dump file: %w", err)
		result.Duration = time.Since(start)
		return result, nil
	}
	result.SizeBytes = info.Size()
	result.Duration = time.Since(start)

	s.logger.Info().
		Str("output", outputPath).
		Int64("size_bytes", result.SizeBytes).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))).
		Dur("duration", result.Duration).
		Msg("PostgreSQL dump completed")

	return result, nil
}

// Ping opens a connection with the decoded credentials and verifies the server answers.
func (s *Impl) Ping(ctx context.Context, conn models.ConnectionString) error {
	s.logger.Debug().
		Str("host", conn.Server).
		Str("database", conn.Database).
		Msg("pinging PostgreSQL server")

	db, err := s.open("postgres", BuildDSN(conn))
	if err != nil {
		return fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL server: %w", err)
	}

	return nil
}

// BuildArgs returns the pg_dump arguments for conn. Flags whose value is
// absent are left out so pg_dump falls back to its own defaults.
func BuildArgs(conn models.ConnectionString) []string {
	args := []string{"-Fc"}

	if conn.Server != "" {
		args = append(args, "-h", conn.Server)
	}
	if conn.Port != "" {
		args = append(args, "-p", conn.Port)
	}
	if conn.Database != "" {
		args = append(args, "-d", conn.Database)
	}
	if conn.UserID != "" {
		args = append(args, "-U", conn.UserID)
	}

	return args
}

// BuildDSN renders conn as a lib/pq key/value connection string.
func BuildDSN(conn models.ConnectionString) string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteDSNValue(value))
		}
	}

	add("host", conn.Server)
	add("port", conn.Port)
	add("dbname", conn.Database)
	add("user", conn.UserID)
	add("password", conn.Password)

	return strings.Join(parts, " ")
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteDSNValue(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

// OutputFilename returns the dump filename for a run started at t.
func OutputFilename(t time.Time) string {
	return "psql" + t.UTC().Format(TimestampLayout) + ".dump"
}
