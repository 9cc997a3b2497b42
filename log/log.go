package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	diagnosticsFile = "diagnostics_log.txt"
	repliesFile     = "replies_log.txt"
)

var (
	diagLog    zerolog.Logger
	diagFile   *os.File
	repliesOut *os.File
	logMu      sync.Mutex
	logReady   bool
	pid        int
	dir        string
)

// UploadMetrics describes one clip upload as seen by the client.
type UploadMetrics struct {
	CorrelationID string
	ClipKB        float64
	Format        string
	TTFBMs        float64
	TotalMs       float64
	ConnReused    bool
	Status        int
}

func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv("TALKIE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// Init opens the diagnostics and replies logs. Until it succeeds every
// logging call is a no-op.
func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, diagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	repliesOut, err = os.OpenFile(filepath.Join(dir, repliesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		diagFile = nil
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if repliesOut != nil {
		repliesOut.Close()
		repliesOut = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Upload(m UploadMetrics) {
	if !logReady {
		return
	}
	conn := "new"
	if m.ConnReused {
		conn = "reused"
	}
	diagLog.Info().
		Str("correlation_id", m.CorrelationID).
		Str("format", m.Format).
		Str("conn", conn).
		Int("status", m.Status).
		Float64("clip_kb", m.ClipKB).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("upload")
}

func ChannelState(state string, attempt int, delay time.Duration) {
	if !logReady {
		return
	}
	ev := diagLog.Info().Str("state", state).Int("attempt", attempt)
	if delay > 0 {
		ev = ev.Dur("retry_in", delay)
	}
	ev.Msg("channel")
}

func ReplyApplied(correlationID, source string, hasAudio bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("correlation_id", correlationID).
		Str("source", source).
		Bool("audio", hasAudio).
		Msg("reply_applied")
}

func ReplyDiscarded(source, reason string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("source", source).Str("reason", reason).Msg("reply_discarded")
}

func PollOutcome(correlationID, outcome string, attempts int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("correlation_id", correlationID).
		Str("outcome", outcome).
		Int("attempts", attempts).
		Msg("poll")
}

// ReplyText appends the reply to the replies log.
func ReplyText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if repliesOut == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	repliesOut.WriteString(line)
}

func SessionStart(server, user, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("server", server).
		Str("user", user).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(utterances int) {
	if !logReady {
		return
	}
	diagLog.Info().Int("utterances", utterances).Msg("session_end")
}
