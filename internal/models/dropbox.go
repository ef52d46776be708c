package models

import "time"

// UploadRequest describes a single dump upload.
type UploadRequest struct {
	APIToken   string
	FilePath   string
	FolderName string
}

// UploadResult holds the result of a Dropbox upload.
type UploadResult struct {
	RemotePath  string
	SizeBytes   int64
	Duration    time.Duration
	ID          string // empty if the response carried no metadata
	Rev         string
	ContentHash string
	Error       error
}
