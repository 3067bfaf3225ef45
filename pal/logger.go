package pal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger interface for transport logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// FileLogger writes logs to a file
type FileLogger struct {
	out io.WriteCloser
	mu  sync.Mutex
}

// NewFileLogger creates a logger that appends to a file
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{out: file}, nil
}

// NewWriterLogger creates a logger that writes to w. Close does not close
// os.Stderr or os.Stdout.
func NewWriterLogger(w io.Writer) *FileLogger {
	return &FileLogger{out: nopCloser{w}}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (l *FileLogger) log(level, format string, args ...interface{}) {
	if l == nil || l.out == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.out, "[%s] %s: %s\n", timestamp, level, msg)
}

func (l *FileLogger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *FileLogger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *FileLogger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *FileLogger) Close() error {
	if l != nil && l.out != nil {
		return l.out.Close()
	}
	return nil
}

// NoopLogger does nothing
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// FormatPacketLog summarizes a batch for the trace: the tags it carries with
// their record counts and the number of bytes on the wire.
func FormatPacketLog(direction string, blocks []Block, size int) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, fmt.Sprintf("%s*%d", TagName(b.Tag), len(b.Records)))
	}
	return fmt.Sprintf("%s batch [%s], size=%d", direction, strings.Join(parts, " "), size)
}

// dumpLimit is the number of bytes of each read or write that is dumped.
const dumpLimit = 64

// LoggingReader logs the bytes read from a connection as a hex dump.
type LoggingReader struct {
	r      io.Reader
	logger Logger
	name   string
	total  int64
}

func NewLoggingReader(r io.Reader, logger Logger, name string) *LoggingReader {
	return &LoggingReader{r: r, logger: logger, name: name}
}

func (lr *LoggingReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if n > 0 {
		lr.total += int64(n)
		dump(lr.logger, lr.name, p[:n], lr.total)
	}
	if err != nil && !errors.Is(err, io.EOF) && !isTimeout(err) {
		lr.logger.Error("%s: %v after %d bytes", lr.name, err, lr.total)
	}
	return n, err
}

// LoggingWriter logs the bytes written to a connection as a hex dump.
type LoggingWriter struct {
	w      io.Writer
	logger Logger
	name   string
	total  int64
}

func NewLoggingWriter(w io.Writer, logger Logger, name string) *LoggingWriter {
	return &LoggingWriter{w: w, logger: logger, name: name}
}

func (lw *LoggingWriter) Write(p []byte) (int, error) {
	n, err := lw.w.Write(p)
	if n > 0 {
		lw.total += int64(n)
		dump(lw.logger, lw.name, p[:n], lw.total)
	}
	if err != nil {
		lw.logger.Error("%s: %v after %d bytes", lw.name, err, lw.total)
	}
	return n, err
}

func dump(logger Logger, name string, data []byte, total int64) {
	if len(data) <= dumpLimit {
		logger.Debug("%s %d bytes (%d total)\n%s", name, len(data), total, hex.Dump(data))
		return
	}
	logger.Debug("%s %d bytes (%d total), first %d\n%s", name, len(data), total, dumpLimit, hex.Dump(data[:dumpLimit]))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
