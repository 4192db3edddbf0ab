package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is configurable via Config.MetricsAddr; empty disables it.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("bboard_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("bboard_connections_active", "Current open client connections.", "gauge",
		m.ActiveConnections.Load())
	write("bboard_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("bboard_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("bboard_logins_success_total", "Successful USER handshakes.", "counter",
		m.SuccessfulLogins.Load())
	write("bboard_logins_failed_total", "Rejected USER handshakes.", "counter",
		m.FailedLogins.Load())

	write("bboard_commands_total", "Request lines dispatched.", "counter",
		m.CommandsProcessed.Load())
	write("bboard_commands_unknown_total", "Lines with an unrecognized keyword.", "counter",
		m.UnknownCommands.Load())

	write("bboard_messages_posted_total", "Messages posted across all groups.", "counter",
		m.MessagesPosted.Load())
	write("bboard_group_joins_total", "Successful JOIN commands.", "counter",
		m.GroupJoins.Load())
	write("bboard_group_leaves_total", "Successful LEAVE commands.", "counter",
		m.GroupLeaves.Load())

	write("bboard_events_delivered_total", "Event lines enqueued for delivery.", "counter",
		m.EventsDelivered.Load())
	write("bboard_events_dropped_total", "Event lines dropped on slow or closed recipients.", "counter",
		m.EventsDropped.Load())
}
