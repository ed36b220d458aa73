package main

import (
	"github.com/itou-labs/nexus-sync/internal/config"
	"github.com/itou-labs/nexus-sync/internal/nexus/api"
	"github.com/itou-labs/nexus-sync/internal/nexus/batch"
	"github.com/itou-labs/nexus-sync/internal/nexus/db"
	"github.com/itou-labs/nexus-sync/internal/nexus/fullsync"
)

// app bundles the components built from the configuration.
type app struct {
	client     *api.Client
	dispatcher *batch.Dispatcher
	store      *db.DB
}

// newApp opens the store. Without api.base_url the client is nil and local
// changes are tracked but not sent.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{}
	var targets db.Targets
	if cfg.APIEnabled() {
		client, err := api.New(api.Config{
			BaseURL: cfg.API.BaseURL,
			Token:   cfg.API.Token,
			Timeout: cfg.API.Timeout,
		}, nil)
		if err != nil {
			return nil, err
		}
		a.client = client
		a.dispatcher = batch.New(client, cfg.API.ChunkSize, nil)
		targets = db.RemoteTargets(a.dispatcher)
	}

	store, err := db.Open(cfg.Database.Path, db.WithTargets(targets), db.WithChunkSize(cfg.Sync.SetChunkSize))
	if err != nil {
		return nil, err
	}
	a.store = store
	return a, nil
}

func (a *app) orchestrator() *fullsync.Orchestrator {
	o := &fullsync.Orchestrator{Dispatcher: a.dispatcher, Sources: a.store.Sources()}
	if a.client != nil {
		o.Remote = a.client
	}
	return o
}

func (a *app) Close() error {
	return a.store.Close()
}
