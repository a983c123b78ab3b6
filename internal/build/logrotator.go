package build

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles bounds how many rotated log files are kept on
	// disk before the oldest is deleted.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the file size, in MB, that triggers
	// rotation.
	DefaultMaxLogFileSize = 20

	// DefaultLogFilename names the active log file when a caller does
	// not override LogRotatorConfig.Filename.
	DefaultLogFilename = "nimbusd.log"
)

// LogRotatorConfig configures a RotatingLogWriter.
type LogRotatorConfig struct {
	LogDir string

	// MaxLogFiles is the number of rotated files retained. Zero disables
	// rotation, growing a single file without bound.
	MaxLogFiles int

	MaxLogFileSize int

	// Filename overrides DefaultLogFilename.
	Filename string
}

// DefaultLogRotatorConfig returns a LogRotatorConfig seeded with the
// package defaults.
func DefaultLogRotatorConfig() *LogRotatorConfig {
	return &LogRotatorConfig{
		MaxLogFiles:    DefaultMaxLogFiles,
		MaxLogFileSize: DefaultMaxLogFileSize,
		Filename:       DefaultLogFilename,
	}
}

// RotatingLogWriter adapts a jrick/logrotate rotator, which consumes from
// a pipe, to the plain io.Writer interface the standard logger and
// btclog handlers expect. Rotated files are gzip-compressed.
type RotatingLogWriter struct {
	initOnce sync.Once
	pipe     *io.PipeWriter
	rotator  *rotator.Rotator
}

// NewRotatingLogWriter returns an uninitialized writer. Writes before
// InitLogRotator succeeds are discarded rather than returning an error,
// so callers can unconditionally wire a RotatingLogWriter into a logger
// before deciding whether file logging is even enabled.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{}
}

// Initialized reports whether InitLogRotator has completed successfully.
func (r *RotatingLogWriter) Initialized() bool {
	return r.pipe != nil
}

// InitLogRotator creates cfg.LogDir if needed and starts the rotator's
// background goroutine. It must be called at most once; subsequent calls
// are no-ops.
func (r *RotatingLogWriter) InitLogRotator(cfg *LogRotatorConfig) error {
	var initErr error
	r.initOnce.Do(func() {
		initErr = r.doInit(cfg)
	})
	return initErr
}

func (r *RotatingLogWriter) doInit(cfg *LogRotatorConfig) error {
	filename := cfg.Filename
	if filename == "" {
		filename = DefaultLogFilename
	}

	logFile := filepath.Join(cfg.LogDir, filename)
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	rot, err := rotator.New(
		logFile,
		int64(cfg.MaxLogFileSize*1024), // rotator takes KB; cfg is MB.
		false,
		cfg.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	rot.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	go func() {
		if err := rot.Run(pr); err != nil {
			fmt.Fprintf(os.Stderr, "log rotator exited: %v\n", err)
		}
	}()

	r.rotator = rot
	r.pipe = pw
	return nil
}

// Write implements io.Writer. Before initialization it silently discards
// the input, reporting a full write so callers never see a spurious
// error from logging before InitLogRotator runs.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r.pipe == nil {
		return len(b), nil
	}
	return r.pipe.Write(b)
}

// Close signals the rotator goroutine to flush and exit.
func (r *RotatingLogWriter) Close() error {
	if r.pipe == nil {
		return nil
	}
	return r.pipe.Close()
}
