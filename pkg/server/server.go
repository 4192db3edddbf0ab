// Package server implements the bboard bulletin-board server.
package server

import (
	"context"
	"net"

	"github.com/jhaugen/bboard/pkg/board"
)

// Config holds server configuration. Fields can be overridden from the
// environment with a BBOARD_ prefix (BBOARD_ADDR, BBOARD_GROUPS_FILE, ...).
type Config struct {
	Addr         string   `split_words:"true"` // TCP bind address (e.g. ":5000")
	MetricsAddr  string   `split_words:"true"` // HTTP bind address for /metrics (empty = disabled)
	GroupsFile   string   `split_words:"true"` // YAML file defining extra groups for the catalog
	Groups       []string `split_words:"true"` // built-in group catalog; lobby is always present
	LobbyPreview int      `split_words:"true"` // recent lobby messages replayed at login

	// CLI-only actions (run and exit)
	ExportGroups bool `ignored:"true"` // print the group catalog as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":5000",
		MetricsAddr:  ":5002",
		Groups:       []string{board.LobbyGroup, "games", "cs", "random", "music"},
		LobbyPreview: 2,
	}
}

// Server is the main bboard server.
type Server struct {
	cfg      Config
	sessions *board.SessionRegistry
	groups   *board.GroupRegistry
	metrics  *Metrics
	ln       net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new Server instance. The group catalog is resolved from
// Config.Groups; Run additionally merges Config.GroupsFile before
// accepting connections.
func New(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		sessions: board.NewSessionRegistry(),
		groups:   board.NewGroupRegistry(cfg.Groups),
		metrics:  NewMetrics(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Groups returns the group registry.
func (s *Server) Groups() *board.GroupRegistry {
	return s.groups
}

// Sessions returns the session registry.
func (s *Server) Sessions() *board.SessionRegistry {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the listener's bound address, useful when Config.Addr uses
// port 0. Valid after Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
