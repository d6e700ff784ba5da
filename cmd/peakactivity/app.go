package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ackaraca/PeakActivity/pkg/config"
	"github.com/ackaraca/PeakActivity/pkg/remote"
	"github.com/ackaraca/PeakActivity/pkg/service"
	"github.com/ackaraca/PeakActivity/pkg/store"
	syncpkg "github.com/ackaraca/PeakActivity/pkg/sync"
)

// app holds shared state for all CLI subcommands.
type app struct {
	cfg    *config.Config
	loader *config.Loader // nil when running on defaults
	db     *store.SQLite
	svc    *service.Service
}

// newApp loads configuration, opens the local store and builds the
// ingestion service. Config comes from PEAKACTIVITY_CONFIG when set,
// otherwise built-in defaults are used.
func newApp() (*app, error) {
	a := &app{}

	if path := os.Getenv("PEAKACTIVITY_CONFIG"); path != "" {
		loader, err := config.NewLoader(path)
		if err != nil {
			return nil, err
		}
		a.loader = loader
		a.cfg = loader.Config()
	} else {
		a.cfg = config.Default()
	}
	if dir := os.Getenv("PEAKACTIVITY_DATA"); dir != "" {
		a.cfg.Server.DataDir = dir
	}

	dataDir := a.cfg.Server.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create data dir %q: %w", dataDir, err)
	}

	dbPath := filepath.Join(dataDir, "peakactivity.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}
	a.db = db

	info, err := service.ResolveInfo(dataDir, version)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.svc = service.New(db, info)
	return a, nil
}

// Close releases the database connection.
func (a *app) Close() { a.db.Close() }

// syncEngine builds a sync engine for the configured mirror, or for the
// explicit override URL when non-empty. Returns nil when no mirror is
// configured.
func (a *app) syncEngine(overrideURL string) *syncpkg.Engine {
	url := a.cfg.Sync.Remote
	if overrideURL != "" {
		url = overrideURL
	}
	if url == "" {
		return nil
	}
	return syncpkg.New(a.svc.SyncStore(), remote.New(url))
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
