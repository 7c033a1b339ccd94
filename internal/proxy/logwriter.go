package proxy

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// maxPendingLogWrites bounds the proxy structured log's async write queue,
// per spec §4.3 step 8 / §5: "when more than 100 writes are pending, drop
// the log entry and increment a dropped-logs counter".
const maxPendingLogWrites = 100

// LogWriter is a single-file, bounded, best-effort async writer for the
// structured proxy log. It never blocks the request-handling goroutine:
// once 100 writes are queued, further lines are dropped and a warning is
// logged once per 100 drops.
type LogWriter struct {
	logger *zap.SugaredLogger
	file   *os.File
	ch     chan []byte
	wg     sync.WaitGroup

	dropped atomic.Int64
}

// NewLogWriter opens (creating if necessary) the structured log file at
// path and starts its single writer goroutine.
func NewLogWriter(logger *zap.SugaredLogger, path string) (*LogWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	lw := &LogWriter{logger: logger, file: f, ch: make(chan []byte, maxPendingLogWrites)}
	lw.wg.Add(1)
	go func() {
		defer lw.wg.Done()
		lw.run()
	}()
	return lw, nil
}

// Write enqueues one log line (without a trailing newline). If the queue is
// already at capacity, the line is dropped.
func (lw *LogWriter) Write(line []byte) {
	select {
	case lw.ch <- line:
	default:
		n := lw.dropped.Add(1)
		if n%maxPendingLogWrites == 1 {
			lw.logger.Warnw("proxy log writer backpressure: dropping log entries", "dropped_total", n)
		}
	}
}

// Dropped reports the total number of dropped log lines, for tests and
// diagnostics.
func (lw *LogWriter) Dropped() int64 {
	return lw.dropped.Load()
}

func (lw *LogWriter) run() {
	for line := range lw.ch {
		if _, err := lw.file.Write(append(line, '\n')); err != nil {
			lw.logger.Errorw("failed to write proxy log line", "error", err)
		}
	}
}

// Close stops accepting new lines, drains the queue, and closes the file.
func (lw *LogWriter) Close() error {
	close(lw.ch)
	lw.wg.Wait()
	return lw.file.Close()
}
