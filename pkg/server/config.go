package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jhaugen/bboard/pkg/board"
)

// GroupsConfig is the YAML shape for the group catalog file:
//
//	groups:
//	  - games
//	  - cs
//
// The lobby does not need to be listed; it always exists.
type GroupsConfig struct {
	Groups []string `yaml:"groups"`
}

// LoadGroupsFile reads a catalog YAML file and returns the group names it
// defines, in file order.
func LoadGroupsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return nil, fmt.Errorf("read groups config: %w", err)
	}
	var cfg GroupsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse groups config: %w", err)
	}
	return cfg.Groups, nil
}

// ExportGroupsYAML renders a catalog as YAML, the inverse of
// LoadGroupsFile. The lobby is omitted since it is implicit.
func ExportGroupsYAML(names []string) ([]byte, error) {
	cfg := GroupsConfig{}
	for _, name := range names {
		if name == board.LobbyGroup {
			continue
		}
		cfg.Groups = append(cfg.Groups, name)
	}
	return yaml.Marshal(&cfg)
}

// ExportCatalogYAML resolves the full catalog for a config (built-in
// groups plus the optional groups file) and renders it as YAML.
func ExportCatalogYAML(cfg Config) ([]byte, error) {
	names, err := resolveCatalog(cfg)
	if err != nil {
		return nil, err
	}
	return ExportGroupsYAML(board.NewGroupRegistry(names).Names())
}

// resolveCatalog merges the built-in groups with the optional groups file.
func resolveCatalog(cfg Config) ([]string, error) {
	names := append([]string(nil), cfg.Groups...)
	if cfg.GroupsFile == "" {
		return names, nil
	}
	extra, err := LoadGroupsFile(cfg.GroupsFile)
	if err != nil {
		return nil, err
	}
	return append(names, extra...), nil
}
