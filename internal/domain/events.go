package domain

import (
	"context"
	"log/slog"
	"time"
)

// Telemetry event names. Every rejected, skipped, or settled operation emits
// exactly one of these with a stable detail payload so alerting and UI code
// can key off the name alone.
const (
	EventPositionCreated         = "PositionCreated"
	EventPositionModified        = "PositionModified"
	EventDeposited               = "Deposited"
	EventWithdrawn               = "Withdrawn"
	EventPositionExecuted        = "PositionExecuted"
	EventExecutionSkipped        = "ExecutionSkipped"
	EventPaused                  = "Paused"
	EventResumed                 = "Resumed"
	EventCanceled                = "Canceled"
	EventEmergencyArmed          = "EmergencyWithdrawArmed"
	EventEmergencyWithdrawn      = "EmergencyWithdrawn"
	EventCircuitBreakerTriggered = "CircuitBreakerTriggered"
	EventCircuitBreakerReset     = "CircuitBreakerReset"
	EventProtocolConfigUpdated   = "ProtocolConfigUpdated"
	EventProtocolFeeUpdated      = "ProtocolFeeUpdated"
	EventReferralFeeUpdated      = "ReferralFeeUpdated"
	EventFeeCollected            = "FeeCollected"
	EventFeeDistributed          = "FeeDistributed"
	EventKeeperRegistryUpdated   = "KeeperRegistryUpdated"
	EventPriceFeedAdded          = "PriceFeedAdded"
	EventPriceFeedUpdated        = "PriceFeedUpdated"
	EventPriceFeedRemoved        = "PriceFeedRemoved"
	EventMaxStalenessUpdated     = "MaxStalenessUpdated"
)

// Event is a single telemetry record. PositionID is zero for protocol-wide
// events.
type Event struct {
	Name       string         `json:"name"`
	At         time.Time      `json:"at"`
	PositionID uint64         `json:"position_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// EventSink consumes telemetry events. Sinks must not block the emitting
// call path; slow delivery belongs behind a buffer.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// FanoutSink delivers each event to every registered sink in order.
type FanoutSink struct {
	sinks []EventSink
}

// NewFanoutSink creates a FanoutSink over the given sinks. Nil entries are
// dropped.
func NewFanoutSink(sinks ...EventSink) *FanoutSink {
	out := &FanoutSink{}
	for _, s := range sinks {
		if s != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

// Emit forwards the event to every sink.
func (f *FanoutSink) Emit(ctx context.Context, ev Event) {
	for _, s := range f.sinks {
		s.Emit(ctx, ev)
	}
}

// StoreSink appends events to a durable journal. Journal failures must not
// break the emitting operation, so they are logged and swallowed.
type StoreSink struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSink creates a StoreSink over the given journal.
func NewStoreSink(store EventStore, logger *slog.Logger) *StoreSink {
	return &StoreSink{
		store:  store,
		logger: logger.With(slog.String("component", "events")),
	}
}

// Emit appends the event to the journal.
func (s *StoreSink) Emit(ctx context.Context, ev Event) {
	if err := s.store.Append(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "event journal append failed",
			slog.String("event", ev.Name),
			slog.String("error", err.Error()),
		)
	}
}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink on the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

// Emit logs the event at info level.
func (l *LogSink) Emit(ctx context.Context, ev Event) {
	l.logger.InfoContext(ctx, ev.Name,
		slog.Uint64("position_id", ev.PositionID),
		slog.Any("detail", ev.Detail),
	)
}
