// Package models contains the data structures used throughout psql2dropbox.
package models

import "time"

// Arguments holds the required command-line arguments of a run.
type Arguments struct {
	APIToken          string
	ConnectionString  string // base64-encoded
	DropboxFolderName string
}

// RunConfig holds the complete configuration for a backup run.
type RunConfig struct {
	Args    Arguments
	Dump    DumpSettings
	Upload  UploadSettings
	Metrics *MetricsConfig // nil if not configured
}

// DumpSettings controls where and how the dump utility is invoked.
type DumpSettings struct {
	Binary  string
	TempDir string
	Timeout time.Duration // 0 means no deadline
}

// DefaultUploadURL is the Dropbox single-request upload endpoint.
const DefaultUploadURL = "https://content.dropboxapi.com/2/files/upload"

// UploadSettings controls the Dropbox upload endpoint.
type UploadSettings struct {
	URL     string
	Timeout time.Duration // 0 means no timeout
}

// MetricsConfig holds Prometheus Pushgateway settings.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}
