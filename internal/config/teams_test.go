package config

import "testing"

func TestLoadGMConfigDefaults(t *testing.T) {
	cfg, err := LoadGMConfig("")
	if err != nil {
		t.Fatalf("LoadGMConfig(\"\") returned error: %v", err)
	}
	if cfg.BranchPrefix != "agent" {
		t.Errorf("BranchPrefix = %q, want %q", cfg.BranchPrefix, "agent")
	}
	if cfg.WorktreeDir != ".worktrees" {
		t.Errorf("WorktreeDir = %q, want %q", cfg.WorktreeDir, ".worktrees")
	}
	if cfg.Backend != "subprocess" {
		t.Errorf("Backend = %q, want %q", cfg.Backend, "subprocess")
	}
	if cfg.DBPath == "" {
		t.Error("DBPath default should not be empty")
	}
}

func TestDefaultTeamTemplates(t *testing.T) {
	templates := DefaultTeamTemplates()
	if len(templates) != 1 {
		t.Fatalf("len(templates) = %d, want 1", len(templates))
	}
	solo := templates[0]
	if solo.Name != "solo" {
		t.Errorf("Name = %q, want %q", solo.Name, "solo")
	}
	if len(solo.Teammates) != 1 || solo.Teammates[0].TimeoutSeconds != 900 {
		t.Errorf("unexpected solo teammate: %+v", solo.Teammates)
	}
}

func TestGMConfigTemplates(t *testing.T) {
	cfg := &GMConfig{
		Teams: []TeamYAML{
			{
				Name:        "pair",
				Description: "two agents working together",
				Teammates: []TeammateYAML{
					{Name: "driver", Role: "implement", TimeoutSeconds: 600},
					{Name: "navigator", Role: "review", TimeoutSeconds: 600},
				},
			},
		},
	}

	templates := cfg.Templates()
	if len(templates) != 1 {
		t.Fatalf("len(templates) = %d, want 1", len(templates))
	}
	if len(templates[0].Teammates) != 2 {
		t.Fatalf("len(teammates) = %d, want 2", len(templates[0].Teammates))
	}
	if templates[0].Teammates[0].Name != "driver" {
		t.Errorf("Teammates[0].Name = %q, want %q", templates[0].Teammates[0].Name, "driver")
	}
}
