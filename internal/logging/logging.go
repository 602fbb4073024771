// Package logging builds the shared zap logger. The monitor owns the
// terminal for its display, so log output goes to a file under the state
// directory rather than stderr.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production logger writing to logs/clawmon.log under logsDir.
// When toFile is false (one-shot commands) it logs to stderr instead.
func New(logsDir string, verbose, toFile bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if toFile {
		if err := os.MkdirAll(logsDir, 0o700); err != nil {
			return nil, fmt.Errorf("create logs dir: %w", err)
		}
		config.OutputPaths = []string{filepath.Join(logsDir, "clawmon.log")}
		config.ErrorOutputPaths = config.OutputPaths
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
