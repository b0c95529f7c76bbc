package main

import (
	"path/filepath"

	"github.com/jscraik/ralph-gold/internal/config"
	"github.com/jscraik/ralph-gold/internal/engine"
	"github.com/jscraik/ralph-gold/internal/state"
	"github.com/jscraik/ralph-gold/internal/tracker"
)

// wired bundles the pieces every subcommand needs, built once from
// --root/--agent so loop/supervise/parallel/snapshot/unblock/watch don't
// each repeat config loading and tracker construction.
type wired struct {
	Root    string
	RalphDir string
	Config  config.Config
	Store   *state.Store
	Tracker tracker.Tracker
	Engine  *engine.Engine
}

func wire(root string) (*wired, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(absRoot)
	if err != nil {
		return nil, err
	}
	ralphDir := filepath.Join(absRoot, ".ralph")
	store := state.NewStore(ralphDir)
	trk, err := tracker.New(cfg.Tracker.Kind, absRoot)
	if err != nil {
		return nil, err
	}
	e := engine.New(cfg, store, trk, absRoot)
	return &wired{Root: absRoot, RalphDir: ralphDir, Config: cfg, Store: store, Tracker: trk, Engine: e}, nil
}
