package observability

import (
	"strconv"

	"go.uber.org/zap"
)

// EventSink receives diagnostic events from the weather pipeline.
// Implementations must not block and must never fail the caller.
type EventSink interface {
	SendException(description string, fatal bool)
}

type zapEvents struct {
	logger *zap.Logger
}

// NewEventSink returns an EventSink that logs each event and counts it in diagnosticEventsTotal.
func NewEventSink(logger *zap.Logger) EventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapEvents{logger: logger.Named("events")}
}

func (e *zapEvents) SendException(description string, fatal bool) {
	DiagnosticEventsTotal.WithLabelValues(description, strconv.FormatBool(fatal)).Inc()
	e.logger.Info("diagnostic event",
		zap.String("description", description),
		zap.Bool("fatal", fatal),
	)
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) SendException(string, bool) {}
