package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fgeck/psql2dropbox/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	executeFunc func(ctx context.Context, env []string, outputPath string, name string, args ...string) error
}

func (m *mockExecutor) ExecuteWithEnv(ctx context.Context, env []string, outputPath string, name string, args ...string) error {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, env, outputPath, name, args...)
	}
	// Default behavior: create an empty output file
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	f.Close()
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConn() models.ConnectionString {
	return models.ConnectionString{
		Server:   "db.local",
		Port:     "5432",
		Database: "app",
		UserID:   "admin",
		Password: "secret",
	}
}

func TestDump_Success(t *testing.T) {
	tmpDir := t.TempDir()
	outputPath := filepath.Join(tmpDir, "test.dump")

	var capturedName string
	var capturedArgs []string
	var capturedEnv []string

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, env []string, op string, name string, args ...string) error {
			capturedName = name
			capturedArgs = args
			capturedEnv = env

			return os.WriteFile(op, []byte("test dump content"), 0o600)
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	result, err := svc.Dump(context.Background(), testConn(), models.DumpSettings{}, outputPath)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Error)
	assert.Equal(t, outputPath, result.OutputPath)
	assert.Equal(t, int64(len("test dump content")), result.SizeBytes)
	assert.Greater(t, result.Duration, time.Duration(0))

	assert.Equal(t, "pg_dump", capturedName)
	assert.Equal(t, []string{"-Fc", "-h", "db.local", "-p", "5432", "-d", "app", "-U", "admin"}, capturedArgs)
	assert.Equal(t, []string{"PGPASSWORD=secret"}, capturedEnv)

	// Password never appears on the command line
	for _, a := range capturedArgs {
		assert.NotContains(t, a, "secret")
	}
}

func TestDump_CustomBinary(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "test.dump")

	var capturedName string
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, env []string, op string, name string, args ...string) error {
			capturedName = name
			return os.WriteFile(op, []byte("x"), 0o600)
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	settings := models.DumpSettings{Binary: "/usr/lib/postgresql/16/bin/pg_dump"}

	result, err := svc.Dump(context.Background(), testConn(), settings, outputPath)

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.Equal(t, "/usr/lib/postgresql/16/bin/pg_dump", capturedName)
}

func TestDump_MissingFieldsOmitFlags(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "test.dump")

	var capturedArgs []string
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, env []string, op string, name string, args ...string) error {
			capturedArgs = args
			return os.WriteFile(op, []byte("x"), 0o600)
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	conn := models.ConnectionString{Server: "db.local", Database: "app"}

	result, err := svc.Dump(context.Background(), conn, models.DumpSettings{}, outputPath)

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.Equal(t, []string{"-Fc", "-h", "db.local", "-d", "app"}, capturedArgs)
}

func TestDump_ExecutorError(t *testing.T) {
	tmpDir := t.TempDir()
	outputPath := filepath.Join(tmpDir, "test.dump")

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, env []string, op string, name string, args ...string) error {
			_ = os.WriteFile(op, []byte("partial"), 0o600)
			return errors.New("connection refused")
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	result, err := svc.Dump(context.Background(), testConn(), models.DumpSettings{}, outputPath)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "connection refused")

	// Verify partial file was cleaned up
	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDump_NoPassword(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "test.dump")

	var capturedEnv []string

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, env []string, op string, name string, args ...string) error {
			capturedEnv = env
			return os.WriteFile(op, []byte(""), 0o600)
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	conn := testConn()
	conn.Password = ""

	result, err := svc.Dump(context.Background(), conn, models.DumpSettings{}, outputPath)

	require.NoError(t, err)
	assert.Nil(t, result.Error)

	for _, e := range capturedEnv {
		assert.NotContains(t, e, "PGPASSWORD")
	}
}

func TestDump_EmptyOutputIsNotAnError(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "test.dump")

	svc := NewWithExecutor(testLogger(), &mockExecutor{})
	result, err := svc.Dump(context.Background(), testConn(), models.DumpSettings{}, outputPath)

	require.NoError(t, err)
	assert.Nil(t, result.Error)
	assert.Equal(t, int64(0), result.SizeBytes)
}

func TestDump_CreatesDirectory(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.dump")

	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, env []string, op string, name string, args ...string) error {
			return os.WriteFile(op, []byte("test"), 0o600)
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	result, err := svc.Dump(context.Background(), testConn(), models.DumpSettings{}, outputPath)

	require.NoError(t, err)
	assert.Nil(t, result.Error)

	_, statErr := os.Stat(filepath.Dir(outputPath))
	assert.NoError(t, statErr)
}

func TestDump_TimeoutSetsDeadline(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "test.dump")

	var hasDeadline bool
	executor := &mockExecutor{
		executeFunc: func(ctx context.Context, env []string, op string, name string, args ...string) error {
			_, hasDeadline = ctx.Deadline()
			return os.WriteFile(op, []byte("x"), 0o600)
		},
	}

	svc := NewWithExecutor(testLogger(), executor)
	_, err := svc.Dump(context.Background(), testConn(), models.DumpSettings{Timeout: time.Minute}, outputPath)

	require.NoError(t, err)
	assert.True(t, hasDeadline)
}

func TestOutputFilename(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 9, 2, 0, time.UTC)

	assert.Equal(t, "psql20240305-070902.dump", OutputFilename(ts))
}

func TestOutputFilename_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2024, 12, 31, 23, 30, 0, 0, loc)

	assert.Equal(t, "psql20241231-213000.dump", OutputFilename(ts))
}

func TestOutputFilename_MonthAndMinuteDistinct(t *testing.T) {
	a := OutputFilename(time.Date(2024, 1, 1, 10, 2, 0, 0, time.UTC))
	b := OutputFilename(time.Date(2024, 2, 1, 10, 1, 0, 0, time.UTC))

	assert.NotEqual(t, a, b)
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		conn     models.ConnectionString
		expected string
	}{
		{
			name:     "all fields",
			conn:     testConn(),
			expected: "host='db.local' port='5432' dbname='app' user='admin' password='secret'",
		},
		{
			name:     "missing fields omitted",
			conn:     models.ConnectionString{Server: "db.local", Database: "app"},
			expected: "host='db.local' dbname='app'",
		},
		{
			name:     "quotes escaped",
			conn:     models.ConnectionString{Password: `it's\here`},
			expected: `password='it\'s\\here'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildDSN(tt.conn))
		})
	}
}

func TestPing_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectClose()

	var capturedDriver, capturedDSN string
	svc := NewWithOpener(testLogger(), func(driverName, dsn string) (*sql.DB, error) {
		capturedDriver = driverName
		capturedDSN = dsn
		return db, nil
	})

	err = svc.Ping(context.Background(), testConn())

	require.NoError(t, err)
	assert.Equal(t, "postgres", capturedDriver)
	assert.Contains(t, capturedDSN, "host='db.local'")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing_Failure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("password authentication failed"))
	mock.ExpectClose()

	svc := NewWithOpener(testLogger(), func(driverName, dsn string) (*sql.DB, error) {
		return db, nil
	})

	err = svc.Ping(context.Background(), testConn())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping PostgreSQL server")
	assert.Contains(t, err.Error(), "password authentication failed")
}

func TestPing_OpenError(t *testing.T) {
	svc := NewWithOpener(testLogger(), func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("unknown driver")
	})

	err := svc.Ping(context.Background(), testConn())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open PostgreSQL connection")
}

func TestDefaultExecutor_CapturesStderr(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "output.txt")

	executor := &DefaultExecutor{}

	err := executor.ExecuteWithEnv(
		context.Background(),
		nil,
		outputPath,
		"sh",
		"-c", "echo 'error message' >&2 && exit 1",
	)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg_dump failed")
	assert.Contains(t, err.Error(), "error message")
}

func TestDefaultExecutor_SuccessNoStderr(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "output.txt")

	executor := &DefaultExecutor{}

	err := executor.ExecuteWithEnv(
		context.Background(),
		nil,
		outputPath,
		"sh",
		"-c", "echo 'success output'",
	)

	require.NoError(t, err)

	content, readErr := os.ReadFile(outputPath)
	require.NoError(t, readErr)
	assert.Contains(t, string(content), "success output")
}

func TestDefaultExecutor_PassesEnv(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "output.txt")

	executor := &DefaultExecutor{}

	err := executor.ExecuteWithEnv(
		context.Background(),
		[]string{"PGPASSWORD=s3cr3t"},
		outputPath,
		"sh",
		"-c", "printf '%s' \"$PGPASSWORD\"",
	)

	require.NoError(t, err)

	content, readErr := os.ReadFile(outputPath)
	require.NoError(t, readErr)
	assert.Equal(t, "s3cr3t", strings.TrimSpace(string(content)))
}
