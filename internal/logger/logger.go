// Package logger provides structured logging for the pipeline services.
package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry so packages can attach fields fluently.
type Logger struct {
	*logrus.Entry
}

// New builds a logger configured from ENVIRONMENT and LOG_LEVEL.
// Local environments get colored text output; everything else logs JSON.
func New() *Logger {
	base := logrus.New()

	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "local" {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}
	base.SetOutput(os.Stdout)

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "warn":
		base.SetLevel(logrus.WarnLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}

	return &Logger{Entry: logrus.NewEntry(base)}
}

// WithComponent tags every line with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Entry: l.WithField("component", name)}
}

// WithSession tags every line with the session being processed.
func (l *Logger) WithSession(id uuid.UUID) *logrus.Entry {
	return l.WithField("session_id", id.String())
}

// WithRequest attaches request metadata, generating a request id when the
// caller did not send one.
func (l *Logger) WithRequest(r *http.Request) *logrus.Entry {
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = uuid.New().String()
	}
	return l.WithFields(logrus.Fields{
		"req_id":    reqID,
		"method":    r.Method,
		"path":      r.URL.Path,
		"remote_ip": r.RemoteAddr,
	})
}
