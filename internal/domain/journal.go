package domain

import "time"

// JournalKind classifies journal events.
type JournalKind string

const (
	JournalFill             JournalKind = "fill"
	JournalBatch            JournalKind = "batch"
	JournalSignal           JournalKind = "signal"
	JournalSignalSuperseded JournalKind = "signal_superseded"
	JournalRiskRejected     JournalKind = "risk_rejected"
	JournalOrderDispatched  JournalKind = "order_dispatched"
	JournalOrderRejected    JournalKind = "order_rejected"
	JournalModeChanged      JournalKind = "mode_changed"
	JournalLimitsChanged    JournalKind = "limits_changed"
	JournalAnomaly          JournalKind = "anomaly"
)

// JournalEvent is one entry handed to reporting sinks.
type JournalEvent struct {
	ID     string         `json:"id"`
	Kind   JournalKind    `json:"kind"`
	Symbol string         `json:"symbol,omitempty"`
	At     time.Time      `json:"at"`
	Detail map[string]any `json:"detail,omitempty"`
}

// JournalHook is the append-style notification hook exposed by the core.
// Implementations must not block the caller.
type JournalHook interface {
	Append(event JournalEvent)
}

// JournalFunc adapts a function to JournalHook.
type JournalFunc func(JournalEvent)

// Append calls f.
func (f JournalFunc) Append(e JournalEvent) { f(e) }

// NopJournal discards every event.
var NopJournal JournalHook = JournalFunc(func(JournalEvent) {})
