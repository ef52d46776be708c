// Package runner orchestrates the backup workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/psql2dropbox/internal/config"
	"github.com/fgeck/psql2dropbox/internal/metrics"
	"github.com/fgeck/psql2dropbox/internal/models"
	"github.com/fgeck/psql2dropbox/internal/services/dropbox"
	"github.com/fgeck/psql2dropbox/internal/services/postgres"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Workflow steps, reported when a run fails.
const (
	StepDecode = "decode"
	StepDump   = "dump"
	StepUpload = "upload"
)

const metricsPushTimeout = 10 * time.Second

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.RunConfig) error
}

// Impl implements the runner Service interface.
type Impl struct {
	postgresSvc postgres.Service
	dropboxSvc  dropbox.Service
	pusher      metrics.Pusher
	logger      zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger, upload models.UploadSettings) *Impl {
	return &Impl{
		postgresSvc: postgres.New(logger),
		dropboxSvc:  dropbox.New(logger, upload),
		pusher:      metrics.PushgatewayPusher{},
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	postgresSvc postgres.Service,
	dropboxSvc dropbox.Service,
	pusher metrics.Pusher,
) *Impl {
	return &Impl{
		postgresSvc: postgresSvc,
		dropboxSvc:  dropboxSvc,
		pusher:      pusher,
		logger:      logger,
	}
}

// Run decodes the connection string, dumps the database and uploads the dump.
// The dump file is removed on every exit path.
func (s *Impl) Run(ctx context.Context, cfg models.RunConfig) error {
	startTime := time.Now()
	logger := s.logger.With().Str("run_id", uuid.NewString()).Logger()
	recorder := metrics.NewRecorder()

	var failedStep string
	var runErr error

	logger.Info().
		Str("folder", cfg.Args.DropboxFolderName).
		Str("temp_dir", cfg.Dump.TempDir).
		Msg("starting backup run")

	defer func() {
		if runErr == nil {
			failedStep = ""
		}
		recorder.Finish(failedStep, time.Now())

		if cfg.Metrics != nil {
			s.pushMetrics(ctx, logger, *cfg.Metrics, recorder)
		}
	}()

	// Step 1: Decode connection string
	failedStep = StepDecode
	conn, err := config.DecodeConnectionString(cfg.Args.ConnectionString)
	if err != nil {
		runErr = err
		return err
	}
	if missing := conn.Missing(); len(missing) > 0 {
		logger.Warn().
			Strs("missing", missing).
			Msg("connection string is incomplete, pg_dump defaults apply")
	}

	// Step 2: Dump
	failedStep = StepDump
	outputPath := filepath.Join(cfg.Dump.TempDir, postgres.OutputFilename(startTime))
	defer s.cleanup(logger, outputPath)

	dumpResult, err := s.postgresSvc.Dump(ctx, *conn, cfg.Dump, outputPath)
	if err != nil {
		runErr = err
		return fmt.Errorf("PostgreSQL dump failed: %w", err)
	}
	recorder.ObserveDump(dumpResult)
	if dumpResult.Error != nil {
		runErr = dumpResult.Error
		return fmt.Errorf("PostgreSQL dump failed: %w", dumpResult.Error)
	}

	// Step 3: Upload
	failedStep = StepUpload
	uploadResult, err := s.dropboxSvc.Upload(ctx, models.UploadRequest{
		APIToken:   cfg.Args.APIToken,
		FilePath:   dumpResult.OutputPath,
		FolderName: cfg.Args.DropboxFolderName,
	})
	if err != nil {
		runErr = err
		return fmt.Errorf("Dropbox upload failed: %w", err)
	}
	recorder.ObserveUpload(uploadResult)
	if uploadResult.Error != nil {
		runErr = uploadResult.Error
		return fmt.Errorf("Dropbox upload failed: %w", uploadResult.Error)
	}

	logger.Info().
		Str("path", uploadResult.RemotePath).
		Int64("size_bytes", uploadResult.SizeBytes).
		Dur("duration", time.Since(startTime)).
		Msg("backup run completed successfully")

	return nil
}

func (s *Impl) cleanup(logger zerolog.Logger, path string) {
	err := os.Remove(path)
	switch {
	case err == nil:
		logger.Debug().Str("path", path).Msg("removed dump file")
	case errors.Is(err, os.ErrNotExist):
	default:
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove dump file")
	}
}

func (s *Impl) pushMetrics(ctx context.Context, logger zerolog.Logger, cfg models.MetricsConfig, recorder *metrics.Recorder) {
	// The run context may already be cancelled by a signal; still report the outcome.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsPushTimeout)
	defer cancel()

	if err := s.pusher.Push(pushCtx, cfg, recorder.Gatherer()); err != nil {
		logger.Error().Err(err).Str("gateway", cfg.PushgatewayURL).Msg("failed to push metrics")
		return
	}

	logger.Debug().Str("gateway", cfg.PushgatewayURL).Msg("metrics pushed")
}
