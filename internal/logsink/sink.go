// Package logsink receives traffic and error records produced by the pipeline.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/vietddude/invoker/internal/core/domain"
)

// Sink receives formatted traffic and error records.
type Sink interface {
	Record(service, payload string, level slog.Level)
	RecordError(service string, step domain.Step, err error, payload string)
}

// SlogSink writes records through slog. Services can be routed to their
// own logger; everything else goes to the fallback logger.
type SlogSink struct {
	mu       sync.RWMutex
	fallback *slog.Logger
	routes   map[string]*slog.Logger
}

// NewSlogSink creates a sink. A nil logger means slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{
		fallback: logger,
		routes:   make(map[string]*slog.Logger),
	}
}

// Route sends records of service to logger.
func (s *SlogSink) Route(service string, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[service] = logger
}

func (s *SlogSink) loggerFor(service string) *slog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.routes[service]; ok {
		return l
	}
	return s.fallback
}

// Record logs a traffic record at level.
func (s *SlogSink) Record(service, payload string, level slog.Level) {
	s.loggerFor(service).Log(context.Background(), level, "Service response",
		"service", service,
		"payload", payload,
	)
}

// RecordError logs a failed step.
func (s *SlogSink) RecordError(service string, step domain.Step, err error, payload string) {
	s.loggerFor(service).Error("Service call step failed",
		"service", service,
		"step", string(step),
		"error", err,
		"payload", payload,
	)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(string, string, slog.Level)              {}
func (Discard) RecordError(string, domain.Step, error, string) {}

// Verbose renders v for logs and snapshots. JSON is used when possible.
func Verbose(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		if utf8.Valid(t) {
			return string(t)
		}
		return fmt.Sprintf("%x", t)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
