package models

import "time"

// DumpResult holds the result of a pg_dump operation.
type DumpResult struct {
	OutputPath string
	SizeBytes  int64
	Duration   time.Duration
	Error      error
}
