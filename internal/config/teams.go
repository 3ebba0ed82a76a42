package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/gm/pkg/types"
)

// GMConfig holds the General Manager's own process-wide settings,
// mapstructure-tagged for viper unmarshaling.
type GMConfig struct {
	RepoPath     string     `mapstructure:"repo_path"`
	DBPath       string     `mapstructure:"db_path"`
	BranchPrefix string     `mapstructure:"branch_prefix"`
	WorktreeDir  string     `mapstructure:"worktree_dir"`
	Backend      string     `mapstructure:"backend"`
	Teams        []TeamYAML `mapstructure:"teams"`
}

// TeamYAML is one team_templates.yaml entry (spec §6 TeamTemplate).
type TeamYAML struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Teammates   []TeammateYAML `mapstructure:"teammates"`
}

// TeammateYAML is one teammate entry within a team template.
type TeammateYAML struct {
	Name           string `mapstructure:"name"`
	Role           string `mapstructure:"role"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoadGMConfig loads the GM's own configuration: defaults, then the
// named file, then environment overrides.
func LoadGMConfig(path string) (*GMConfig, error) {
	v := viper.New()
	setGMDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading gm config %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("GM")
	v.BindEnv("repo_path", "GM_REPO_PATH")
	v.BindEnv("db_path", "GM_DB_PATH")

	cfg := &GMConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling gm config: %w", err)
	}
	cfg.RepoPath = expandEnv(cfg.RepoPath)
	return cfg, nil
}

func setGMDefaults(v *viper.Viper) {
	v.SetDefault("db_path", defaultGMDBPath())
	v.SetDefault("branch_prefix", "agent")
	v.SetDefault("worktree_dir", ".worktrees")
	v.SetDefault("backend", "subprocess")
}

func defaultGMDBPath() string {
	dir := getUserConfigDir()
	return filepath.Join(dir, "gm.db")
}

// Templates converts the loaded YAML team definitions into the domain
// TeamTemplate type the Team Launcher resolves by name.
func (c *GMConfig) Templates() []types.TeamTemplate {
	out := make([]types.TeamTemplate, 0, len(c.Teams))
	for _, t := range c.Teams {
		mates := make([]types.Teammate, 0, len(t.Teammates))
		for _, m := range t.Teammates {
			mates = append(mates, types.Teammate{Name: m.Name, Role: m.Role, TimeoutSeconds: m.TimeoutSeconds})
		}
		out = append(out, types.TeamTemplate{Name: t.Name, Description: t.Description, Teammates: mates})
	}
	return out
}

// DefaultTeamTemplates is the hardcoded fallback used when the GM
// config lists no teams.
func DefaultTeamTemplates() []types.TeamTemplate {
	return []types.TeamTemplate{
		{
			Name:        "solo",
			Description: "a single agent working one task end to end",
			Teammates: []types.Teammate{
				{Name: "solo", Role: "builder", TimeoutSeconds: 900},
			},
		},
	}
}

// LoadTeamTemplatesDir loads one YAML file per team from a directory.
// Subdirectories and files without a .yaml suffix are skipped; a .yaml
// file that cannot be read or unmarshaled aborts the load with an error.
func LoadTeamTemplatesDir(dir string) ([]types.TeamTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read team templates dir %s: %w", dir, err)
	}

	var templates []types.TeamTemplate
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		v := viper.New()
		v.SetConfigFile(filepath.Join(dir, e.Name()))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		var t TeamYAML
		if err := v.Unmarshal(&t); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", e.Name(), err)
		}
		mates := make([]types.Teammate, 0, len(t.Teammates))
		for _, m := range t.Teammates {
			mates = append(mates, types.Teammate{Name: m.Name, Role: m.Role, TimeoutSeconds: m.TimeoutSeconds})
		}
		templates = append(templates, types.TeamTemplate{Name: t.Name, Description: t.Description, Teammates: mates})
	}
	return templates, nil
}
