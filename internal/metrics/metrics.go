// Package metrics records Prometheus metrics for a backup run and pushes them
// to a Pushgateway.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/psql2dropbox/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "psql2dropbox"

// StepNone is the failed step label reported for a successful run.
const StepNone = "none"

// Recorder holds the metrics of a single run.
type Recorder struct {
	registry *prometheus.Registry

	LastRunSuccess    prometheus.Gauge
	LastSuccessTime   prometheus.Gauge
	DumpSize          prometheus.Gauge
	DumpDuration      prometheus.Gauge
	UploadDuration    prometheus.Gauge
	LastRunFailedStep *prometheus.GaugeVec
}

// NewRecorder creates a recorder backed by its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last backup run succeeded, 0 otherwise",
		}),
		LastSuccessTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup run",
		}),
		DumpSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dump_size_bytes",
			Help:      "Size of the dump file in bytes",
		}),
		DumpDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dump_duration_seconds",
			Help:      "Time taken by pg_dump",
		}),
		UploadDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_duration_seconds",
			Help:      "Time taken to upload the dump",
		}),
		LastRunFailedStep: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_failed_step",
			Help:      "Step at which the last run failed",
		}, []string{"step"}),
	}

	// LastSuccessTime is registered by Finish on success only, so a failed
	// run never overwrites the timestamp stored on the gateway.
	r.registry.MustRegister(
		r.LastRunSuccess,
		r.DumpSize,
		r.DumpDuration,
		r.UploadDuration,
		r.LastRunFailedStep,
	)

	return r
}

// Gatherer returns the registry holding the run metrics.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveDump records the dump outcome.
func (r *Recorder) ObserveDump(result *models.DumpResult) {
	if result == nil {
		return
	}
	r.DumpSize.Set(float64(result.SizeBytes))
	r.DumpDuration.Set(result.Duration.Seconds())
}

// ObserveUpload records the upload outcome.
func (r *Recorder) ObserveUpload(result *models.UploadResult) {
	if result == nil {
		return
	}
	r.UploadDuration.Set(result.Duration.Seconds())
}

// Finish records the end of the run. An empty failedStep marks success.
// On success the failed step is reported as "none" with value 0, which
// replaces the step pushed by an earlier failed run.
func (r *Recorder) Finish(failedStep string, at time.Time) {
	r.LastRunFailedStep.Reset()

	if failedStep == "" {
		r.LastRunSuccess.Set(1)
		r.LastSuccessTime.Set(float64(at.Unix()))
		if err := r.registry.Register(r.LastSuccessTime); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
		r.LastRunFailedStep.WithLabelValues(StepNone).Set(0)
		return
	}

	r.LastRunSuccess.Set(0)
	r.LastRunFailedStep.WithLabelValues(failedStep).Set(1)
}

// Pusher delivers gathered metrics somewhere.
type Pusher interface {
	Push(ctx context.Context, cfg models.MetricsConfig, g prometheus.Gatherer) error
}

// PushgatewayPusher pushes to a Prometheus Pushgateway. Only metrics with the
// same name as a pushed one are replaced in the job's group.
type PushgatewayPusher struct{}

// Push sends all metrics of g to the configured gateway.
func (PushgatewayPusher) Push(ctx context.Context, cfg models.MetricsConfig, g prometheus.Gatherer) error {
	if err := push.New(cfg.PushgatewayURL, cfg.Job).Gatherer(g).AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
