package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current open connections
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)
	SuccessfulLogins  atomic.Int64 // USER handshakes that succeeded
	FailedLogins      atomic.Int64 // USER handshakes rejected

	// Command counters
	CommandsProcessed atomic.Int64 // request lines dispatched
	UnknownCommands   atomic.Int64 // lines with an unrecognized keyword

	// Board counters
	MessagesPosted atomic.Int64 // successful POSTs across all groups
	GroupJoins     atomic.Int64 // successful JOIN commands
	GroupLeaves    atomic.Int64 // successful LEAVE commands

	// Event delivery counters
	EventsDelivered atomic.Int64 // event lines enqueued on recipient outboxes
	EventsDropped   atomic.Int64 // event lines dropped (slow or closed recipient)
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a
// serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`
	SuccessfulLogins  int64 `json:"successful_logins"`
	FailedLogins      int64 `json:"failed_logins"`

	CommandsProcessed int64 `json:"commands_processed"`
	UnknownCommands   int64 `json:"unknown_commands"`

	MessagesPosted int64 `json:"messages_posted"`
	GroupJoins     int64 `json:"group_joins"`
	GroupLeaves    int64 `json:"group_leaves"`

	EventsDelivered int64 `json:"events_delivered"`
	EventsDropped   int64 `json:"events_dropped"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulLogins:  m.SuccessfulLogins.Load(),
		FailedLogins:      m.FailedLogins.Load(),
		CommandsProcessed: m.CommandsProcessed.Load(),
		UnknownCommands:   m.UnknownCommands.Load(),
		MessagesPosted:    m.MessagesPosted.Load(),
		GroupJoins:        m.GroupJoins.Load(),
		GroupLeaves:       m.GroupLeaves.Load(),
		EventsDelivered:   m.EventsDelivered.Load(),
		EventsDropped:     m.EventsDropped.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"commands", s.CommandsProcessed,
		"posts", s.MessagesPosted,
		"events_delivered", s.EventsDelivered,
		"events_dropped", s.EventsDropped,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
