package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/turnstile/pkg/async"
	"github.com/platinummonkey/turnstile/pkg/observability"
)

// Logger records audit events.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// NopLogger discards events.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

// StructuredLogger writes events to the structured log stream.
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates a logger that emits one log line per event.
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: observability.OrNop(logger).WithField("component", "audit")}
}

func (l *StructuredLogger) Log(ctx context.Context, event *Event) error {
	entry := l.logger.WithFields(map[string]interface{}{
		"action":         string(event.Action),
		"category":       string(event.Category),
		"actor_id":       event.ActorID,
		"target_user_id": event.TargetUserID,
		"request_id":     event.RequestID,
		"ip_address":     event.IPAddress,
	})
	if len(event.Details) > 0 {
		entry = entry.WithField("details", event.Details)
	}
	if event.Category == CategorySecurity {
		entry.Warn("audit event")
		return nil
	}
	entry.Info("audit event")
	return nil
}

func (l *StructuredLogger) Close() error { return nil }

// MultiLogger fans events out to several loggers. In async mode each sink
// write runs in its own recovered goroutine with a timeout, and Close waits
// for them.
type MultiLogger struct {
	loggers []Logger
	async   bool
	timeout time.Duration
	logger  *observability.Logger
	wg      sync.WaitGroup
}

// NewMultiLogger creates a fan-out logger.
func NewMultiLogger(async bool, logger *observability.Logger, loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		async:   async,
		timeout: 5 * time.Second,
		logger:  observability.OrNop(logger),
	}
}

func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	if !m.async {
		var errs []error
		for _, l := range m.loggers {
			if err := l.Log(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	// Detach from the request: the response should not wait for, or cancel,
	// the audit write.
	base := context.WithoutCancel(ctx)
	for _, l := range m.loggers {
		l := l
		m.wg.Add(1)
		async.SafeGo(base, m.timeout, "audit "+string(event.Action), m.logger, func(ctx context.Context) error {
			defer m.wg.Done()
			return l.Log(ctx, event)
		})
	}
	return nil
}

// Wait blocks until pending async writes finish.
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

func (m *MultiLogger) Close() error {
	m.wg.Wait()
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit logs event through logger and reports failures without returning
// them; audit emission never fails the operation being audited.
func Emit(ctx context.Context, logger Logger, log *observability.Logger, event *Event) {
	if logger == nil || event == nil {
		return
	}
	if err := logger.Log(ctx, event); err != nil {
		observability.OrNop(log).WithError(err).
			WithField("action", string(event.Action)).
			Error("Failed to record audit event")
	}
}
