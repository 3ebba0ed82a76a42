package main

import (
	"fmt"

	"github.com/ShayCichocki/gm/internal/config"
	"github.com/ShayCichocki/gm/internal/eventhub"
	"github.com/ShayCichocki/gm/internal/gitrunner"
	"github.com/ShayCichocki/gm/internal/gm"
	"github.com/ShayCichocki/gm/internal/launcher"
	"github.com/ShayCichocki/gm/internal/store"
	"github.com/ShayCichocki/gm/internal/worktree"
)

// app bundles the process-wide singletons spec §9 names: the Event
// Hub, the Session Store handle, and (inside the GM) the merge-lock
// table. Built once per CLI invocation and torn down on close.
type app struct {
	cfg   *config.GMConfig
	store *store.Store
	hub   *eventhub.Hub
	gm    *gm.GM
}

func newApp() (*app, error) {
	cfg, err := config.LoadGMConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if repoPathFlag != "" {
		cfg.RepoPath = repoPathFlag
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hub := eventhub.New()

	backend := newBackend(cfg.Backend)

	templates := cfg.Templates()
	if len(templates) == 0 {
		templates = config.DefaultTeamTemplates()
	}

	newWorktree := func(repoPath string) *worktree.Manager {
		return worktree.NewManager(repoPath, cfg.BranchPrefix, cfg.WorktreeDir, func(dir string) gitrunner.Runner {
			return gitrunner.NewRunner(dir)
		})
	}

	g := gm.New(st, hub, backend, templates, newWorktree)
	return &app{cfg: cfg, store: st, hub: hub, gm: g}, nil
}

func (a *app) close() {
	a.hub.Shutdown()
	a.store.Close()
}

func newBackend(name string) launcher.Backend {
	switch name {
	case "pty":
		return launcher.NewPTYBackend("", nil)
	default:
		return launcher.NewSubprocessBackend("", nil)
	}
}
