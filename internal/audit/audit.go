// Package audit writes the append-only, non-propagating audit trail for
// CONFIG_CHANGE, STATE_CHANGE and AUTH decisions.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logger appends one line per audit event to a dedicated file. Write
// failures are swallowed after being logged at ERROR on the normal logger,
// matching the fail-open posture of the rest of the pipeline.
type Logger struct {
	logger *zap.SugaredLogger
	mu     sync.Mutex
	file   *os.File
}

// Open creates (or appends to) the audit log at path, creating parent
// directories as needed.
func Open(logger *zap.SugaredLogger, path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Logger{logger: logger, file: f}, nil
}

// Log writes one audit line: "[AUDIT] <iso-utc-seconds>Z | User=... | Action=... | Resource=... | Outcome=... [| Details=...]".
func (l *Logger) Log(userID, action, resource, outcome string, details map[string]string) {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05") + "Z"

	var b strings.Builder
	fmt.Fprintf(&b, "[AUDIT] %s | User=%s | Action=%s | Resource=%s | Outcome=%s", ts, userID, action, resource, outcome)
	if len(details) > 0 {
		b.WriteString(" | Details=")
		b.WriteString(formatDetails(details))
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(b.String()); err != nil {
		l.logger.Errorw("failed to write audit log entry", "error", err)
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func formatDetails(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", k, details[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

const (
	ActionConfigChange = "CONFIG_CHANGE"
	ActionStateChange  = "STATE_CHANGE"
	ActionAuth         = "AUTH"
)
