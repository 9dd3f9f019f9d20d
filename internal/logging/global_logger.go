// Package logging configures the shared logrus instance for the gateway and
// carries request identifiers through contexts so that every log line emitted
// while serving one inbound request can be correlated.
package logging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// lineFormatter renders one entry per line:
//
//	2025-08-06 20:14:04.312 INFO  [b37a01c2] relay.go:118 upstream overloaded, retry 1 in 1s
//
// The bracketed column is the request ID attached by WithRequestID /
// WithContext; lines logged outside a request show a dash so the column
// stays aligned.
type lineFormatter struct{}

// requestIDColumn returns the request ID, or an 8-dash placeholder when the
// entry has none. IDs come from NewRequestID and are 8 hex chars wide; other
// IDs are rendered as given, without padding.
func requestIDColumn(entry *log.Entry) string {
	if id, ok := entry.Data[FieldRequestID].(string); ok && id != "" {
		return id
	}
	return "--------"
}

func levelColumn(level log.Level) string {
	name := strings.ToUpper(level.String())
	if name == "WARNING" {
		name = "WARN"
	}
	return fmt.Sprintf("%-5s", name)
}

func callerColumn(entry *log.Entry) string {
	if entry.Caller == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d ", filepath.Base(entry.Caller.File), entry.Caller.Line)
}

// Format implements logrus.Formatter.
func (f *lineFormatter) Format(entry *log.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = &bytes.Buffer{}
	}

	buf.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	buf.WriteByte(' ')
	buf.WriteString(levelColumn(entry.Level))
	buf.WriteString(" [")
	buf.WriteString(requestIDColumn(entry))
	buf.WriteString("] ")
	buf.WriteString(callerColumn(entry))
	buf.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// SetupBaseLogger installs the gateway's line formatter on the shared logrus
// instance and routes gin's own output through it, so the engine's startup
// and recovery prints land in the same stream as relay logs. Repeated calls
// are no-ops.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&lineFormatter{})

		gin.DefaultWriter = log.StandardLogger().Writer()
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.StandardLogger().Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ConfigureLogOutput switches the global log destination between a rotating
// file under dir and stdout.
func ConfigureLogOutput(loggingToFile bool, dir string) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if loggingToFile {
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("logging: failed to create log directory: %w", err)
		}
		if logWriter != nil {
			_ = logWriter.Close()
		}
		logWriter = &lumberjack.Logger{
			Filename:   filepath.Join(dir, "ccgate.log"),
			MaxSize:    10,
			MaxBackups: 0,
			MaxAge:     0,
			Compress:   false,
		}
		log.SetOutput(logWriter)
		return nil
	}

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	log.SetOutput(os.Stdout)
	return nil
}

// WithContext returns a logrus entry carrying the request ID attached to ctx,
// so formatted lines show which request produced them.
func WithContext(ctx context.Context) *log.Entry {
	entry := log.NewEntry(log.StandardLogger())
	if id := GetRequestID(ctx); id != "" {
		entry = entry.WithField(FieldRequestID, id)
	}
	return entry
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
