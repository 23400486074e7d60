// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package lifecycle holds the one-shot controllers driving the cold tier archival
// lifecycle: setup, rotate, thaw, the cleanup and refreeze reaper, status
// reporting and metadata repair. State lives in the cluster, every controller is
// safe to re-run.
package lifecycle

import (
	"time"

	"github.com/elastic/deepfreeze/pkg/client"
	"github.com/elastic/deepfreeze/pkg/ilm"
	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/registry"
	"github.com/elastic/deepfreeze/pkg/state"
	ulog "github.com/elastic/deepfreeze/pkg/utils/log"
)

var log = ulog.Log.WithName("lifecycle")

// Runtime bundles the collaborators every controller needs.
type Runtime struct {
	ES       client.Client
	Store    *state.Store
	Registry *registry.Registry
	ILM      *ilm.Mutator
	Objects  provider.ObjectStore

	// MaxInflight bounds concurrent per-object calls against the object store.
	MaxInflight int
	// DryRun logs the would-be effect of every mutation without performing it.
	DryRun bool
	// Now returns the current time, swappable in tests.
	Now func() time.Time
}

// NewRuntime wires a Runtime from a cluster client and an object store.
func NewRuntime(es client.Client, objects provider.ObjectStore) *Runtime {
	store := state.NewStore(es)
	return &Runtime{
		ES:          es,
		Store:       store,
		Registry:    registry.New(es, store),
		ILM:         ilm.NewMutator(es),
		Objects:     objects,
		MaxInflight: provider.DefaultMaxInflight,
		Now:         time.Now,
	}
}

func (rt *Runtime) now() time.Time {
	if rt.Now == nil {
		return time.Now().UTC()
	}
	return rt.Now().UTC()
}

// repositoryBody builds the repository definition sent to the cluster.
func repositoryBody(settings state.Settings, bucket, basePath string) client.SnapshotRepository {
	return client.SnapshotRepository{
		Type: client.RepositoryTypeS3,
		Settings: client.SnapshotRepositorySettings{
			Bucket:       bucket,
			BasePath:     basePath,
			CannedACL:    settings.CannedACL,
			StorageClass: settings.StorageClass,
		},
	}
}
