package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"

	"github.com/jhaugen/bboard/pkg/logging"
	"github.com/jhaugen/bboard/pkg/server"
	"github.com/jhaugen/bboard/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	// Environment overrides (BBOARD_ADDR, BBOARD_METRICS_ADDR, ...) apply
	// before flags, so flags win.
	if err := envconfig.Process("bboard", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment config: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP bind address for the bulletin board")
	flag.StringVar(&cfg.GroupsFile, "groups-file", cfg.GroupsFile, "YAML file defining extra groups for the catalog")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.IntVar(&cfg.LobbyPreview, "lobby-preview", cfg.LobbyPreview, "Recent lobby messages replayed to a user at login")
	flag.BoolVar(&cfg.ExportGroups, "export-groups", false, "Print the group catalog as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if *showVersion {
		fmt.Println("bboard " + version.Full())
		return
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	// Handle export command (run and exit)
	if cfg.ExportGroups {
		data, err := server.ExportCatalogYAML(cfg)
		if err != nil {
			slog.Error("export groups", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	srv := server.New(cfg)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
