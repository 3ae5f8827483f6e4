package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithSession adds session_id context to logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("session_id", sessionID).Logger(),
	}
}

// WithArchive adds archive path/size context to logger.
func (l *Logger) WithArchive(path string, size int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("archive_path", path).
			Int64("archive_size", size).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// ArchiveStarted logs the start of an archive write or read.
func (l *Logger) ArchiveStarted(sessionID string, targetBytes int64, totalChunks int) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int64("target_bytes", targetBytes).
		Int("total_chunks", totalChunks).
		Msg("archive session started")
}

// ChunkWritten logs a chunk landing in the sink.
func (l *Logger) ChunkWritten(sessionID string, chunkIndex int64, chunkSize int) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Int64("chunk_index", chunkIndex).
		Int("chunk_size", chunkSize).
		Msg("chunk written")
}

// ChunkRead logs a chunk fetched back out of the sink.
func (l *Logger) ChunkRead(sessionID string, chunkIndex int64, chunkSize int) {
	l.logger.Debug().
		Str("session_id", sessionID).
		Int64("chunk_index", chunkIndex).
		Int("chunk_size", chunkSize).
		Msg("chunk read")
}

// ArchiveProgress logs archive write/read progress.
func (l *Logger) ArchiveProgress(sessionID string, chunksDone, totalChunks int64, elapsed time.Duration) {
	progress := float64(chunksDone) / float64(totalChunks) * 100.0

	l.logger.Info().
		Str("session_id", sessionID).
		Int64("chunks_done", chunksDone).
		Int64("total_chunks", totalChunks).
		Float64("progress_percent", progress).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("archive progress")
}

// ArchiveCompleted logs archive completion.
func (l *Logger) ArchiveCompleted(sessionID string, totalChunks int, duration time.Duration, merkleVerified bool) {
	l.logger.Info().
		Str("session_id", sessionID).
		Int("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Bool("merkle_verified", merkleVerified).
		Msg("archive completed successfully")
}

// ChunkDecryptFailed logs chunk decryption failure.
func (l *Logger) ChunkDecryptFailed(sessionID string, chunkIndex int, errorMsg string, retryCount int) {
	l.logger.Error().
		Str("session_id", sessionID).
		Int("chunk_index", chunkIndex).
		Str("error_message", errorMsg).
		Int("retry_count", retryCount).
		Msg("chunk decryption failed")
}

// ChunkResynced logs the robust unpacker being forced into resync after
// a chunk could not be retrieved.
func (l *Logger) ChunkResynced(sessionID string, chunkIndex int64, reason string) {
	l.logger.Warn().
		Str("session_id", sessionID).
		Int64("chunk_index", chunkIndex).
		Str("reason", reason).
		Msg("unpacker resynced past missing chunk")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
