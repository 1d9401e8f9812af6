package killer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/domain"
)

// Log is the append-only kill log: one text record per termination
// attempt, tail-readable by external tooling. Write failures are
// swallowed; enforcement never depends on the log.
type Log struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewLog creates a kill log at path. The parent directory is created
// on first write.
func NewLog(path string, logger *zap.Logger) *Log {
	return &Log{
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

// DefaultLogPath returns the kill log location inside configDir.
func DefaultLogPath(configDir string) string {
	return filepath.Join(configDir, "kern.log")
}

// Record appends one termination attempt. Format:
//
//	[<ISO-8601 local timestamp>] KILL [PID: <n>] name="<name>" graceful=<bool> status=<ok|failed>
func (l *Log) Record(outcome domain.TerminationOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := outcome.At
	if at.IsZero() {
		at = l.now()
	}
	status := "ok"
	if !outcome.Success {
		status = "failed"
	}
	line := fmt.Sprintf("[%s] KILL [PID: %d] name=%q graceful=%t status=%s\n",
		at.Format("2006-01-02 15:04:05"),
		outcome.PID,
		outcome.Name,
		outcome.Mode == domain.ModeGraceful,
		status)

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		l.logger.Warn("kill log directory unavailable", zap.Error(err))
		return
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		l.logger.Warn("kill log unavailable", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		l.logger.Warn("kill log write failed", zap.Error(err))
	}
}

// Tail returns the most recent entries, newest first. limit <= 0
// returns every entry.
func (l *Log) Tail(limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read kill log: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}

	// Newest first.
	out := make([]string, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		out = append(out, lines[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Path returns the kill log file path.
func (l *Log) Path() string {
	return l.path
}

// Ensure Log implements domain.KillRecorder.
var _ domain.KillRecorder = (*Log)(nil)
