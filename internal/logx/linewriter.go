package logx

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// LineWriter turns stream output into per-line zerolog events at a given level.
// It is an io.Writer so it can sit behind exec.Cmd.Stderr directly.
type LineWriter struct {
	logger zerolog.Logger
	level  zerolog.Level

	mu  sync.Mutex
	buf []byte
}

func NewLineWriter(logger zerolog.Logger, level zerolog.Level) *LineWriter {
	return &LineWriter{logger: logger, level: level}
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf = append(lw.buf, p...)
	for {
		i := bytes.IndexAny(lw.buf, "\r\n")
		if i < 0 {
			break
		}
		lw.emit(lw.buf[:i])
		lw.buf = lw.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (lw *LineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.emit(lw.buf)
	lw.buf = nil
}

func (lw *LineWriter) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	lw.logger.WithLevel(lw.level).Msg(string(line))
}
