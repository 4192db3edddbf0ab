package server

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jhaugen/bboard/pkg/board"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	// Merge the optional groups file into the catalog before accepting
	// connections.
	names, err := resolveCatalog(s.cfg)
	if err != nil {
		return err
	}
	s.groups = board.NewGroupRegistry(names)

	if err := s.Start(); err != nil {
		return err
	}

	slog.Info("bboard server running",
		"addr", s.cfg.Addr,
		"groups", len(s.groups.Names()),
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server: new accepts stop immediately and
// every live session outbox is closed, which unwinds the per-connection
// writer goroutines.
func (s *Server) Shutdown() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, sess := range s.sessions.All() {
		sess.Close()
	}
}
