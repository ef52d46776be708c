// Package dropbox uploads dump files to Dropbox.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/psql2dropbox/internal/models"
	"github.com/rs/zerolog"
)

// DefaultUploadURL is the single-request upload endpoint.
const DefaultUploadURL = models.DefaultUploadURL

// LargeFileThreshold is the size from which the session upload path is required.
// Decimal megabytes keep it safely below the 150 MiB single-request limit.
const LargeFileThreshold int64 = 150_000_000

// APIArgHeader carries the JSON-encoded upload arguments.
const APIArgHeader = "Dropbox-API-Arg"

var (
	// ErrEmptyDump is returned when the dump file has no content.
	ErrEmptyDump = errors.New("dump file is empty")

	// ErrFileTooLarge is returned for files that need a session upload.
	ErrFileTooLarge = errors.New("large file upload (>= 150000000 bytes) not supported")

	// ErrUploadRejected is returned when the API answers with a non-2xx status.
	ErrUploadRejected = errors.New("upload failed")
)

// Service defines the interface for Dropbox upload operations.
type Service interface {
	Upload(ctx context.Context, req models.UploadRequest) (*models.UploadResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Dropbox Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	uploadURL  string
}

// New creates a new Dropbox service. A zero timeout leaves the client without one.
func New(logger zerolog.Logger, settings models.UploadSettings) *Impl {
	uploadURL := settings.URL
	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	return &Impl{
		httpClient: &http.Client{
			Timeout: settings.Timeout,
		},
		logger:    logger,
		uploadURL: uploadURL,
	}
}

// NewWithClient creates a new Dropbox service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, uploadURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		uploadURL:  uploadURL,
	}
}

// uploadArg is the Dropbox-API-Arg payload for files/upload.
type uploadArg struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Mute bool   `json:"mute"`
}

// fileMetadata is the subset of the files/upload response we report.
type fileMetadata struct {
	Name        string `json:"name"`
	PathDisplay string `json:"path_display"`
	ID          string `json:"id"`
	Rev         string `json:"rev"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// Upload sends the dump file to Dropbox. Empty files are rejected before any
// request is made, and files of LargeFileThreshold bytes or more are not supported.
func (s *Impl) Upload(ctx context.Context, req models.UploadRequest) (*models.UploadResult, error) {
	start := time.Now()
	result := &models.UploadResult{
		RemotePath: RemotePath(req.FolderName, filepath.Base(req.FilePath)),
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		result.Error = fmt.Errorf("failed to stat dump file: %w", err)
		return result, nil
	}
	result.SizeBytes = info.Size()

	switch {
	case result.SizeBytes == 0:
		result.Error = ErrEmptyDump
	case IsLargeFile(result.SizeBytes):
		result.Error = s.uploadLarge(result)
	default:
		s.uploadSmall(ctx, req, result)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// IsLargeFile reports whether size requires the session upload path.
func IsLargeFile(size int64) bool {
	return size >= LargeFileThreshold
}

// RemotePath returns the Dropbox path for filename inside folder.
func RemotePath(folder, filename string) string {
	return path.Join("/", folder, filename)
}

func (s *Impl) uploadSmall(ctx context.Context, req models.UploadRequest, result *models.UploadResult) {
	s.logger.Info().
		Str("path", result.RemotePath).
		Int64("size_bytes", result.SizeBytes).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))).
		Msg("uploading dump to Dropbox")

	arg, err := encodeAPIArg(uploadArg{
		Path: result.RemotePath,
		Mode: "overwrite",
		Mute: false,
	})
	if err != nil {
		result.Error = fmt.Errorf("failed to encode upload arguments: %w", err)
		return
	}

	file, err := os.Open(req.FilePath)
	if err != nil {
		result.Error = fmt.Errorf("failed to open dump file: %w", err)
		return
	}
	defer func() { _ = file.Close() }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, file)
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return
	}
	httpReq.ContentLength = result.SizeBytes

	httpReq.Header.Set("Authorization", "Bearer "+req.APIToken)
	httpReq.Header.Set(APIArgHeader, arg)
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Error = fmt.Errorf("failed to read response: %w", err)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Errorf("%w with status %d and the following error: %s",
			ErrUploadRejected, resp.StatusCode, strings.TrimSpace(string(body)))
		return
	}

	var meta fileMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		s.logger.Debug().Err(err).Msg("upload response is not file metadata")
	} else {
		result.ID = meta.ID
		result.Rev = meta.Rev
		result.ContentHash = meta.ContentHash
		if meta.PathDisplay != "" {
			result.RemotePath = meta.PathDisplay
		}
	}

	s.logger.Info().
		Str("path", result.RemotePath).
		Str("id", result.ID).
		Str("rev", result.Rev).
		Msg("upload completed")
}

// uploadLarge reports that dumps above the single-request limit are not supported.
// TODO: implement upload_session/start, append_v2 and finish for dumps above the threshold.
func (s *Impl) uploadLarge(result *models.UploadResult) error {
	s.logger.Error().
		Int64("size_bytes", result.SizeBytes).
		Str("size", humanize.Bytes(uint64(result.SizeBytes))).
		Msg("dump exceeds single-request upload limit")

	return ErrFileTooLarge
}

// encodeAPIArg marshals v and escapes every non-ASCII character, since
// header values must stay 7-bit clean.
func encodeAPIArg(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	var b bytes.Buffer
	for _, r := range string(raw) {
		if r < 0x7f {
			b.WriteRune(r)
			continue
		}
		if r > 0xffff {
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, r1, r2)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String(), nil
}
