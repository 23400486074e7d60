// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultReqTimeout is the default timeout used when performing HTTP calls against Elasticsearch.
const DefaultReqTimeout = 3 * time.Minute

// Config captures the settings needed to connect to an Elasticsearch cluster.
type Config struct {
	// Endpoint is the URL of any node reachable over HTTP(S), e.g. https://es.example.com:9200.
	Endpoint string
	// User holds the credentials used for basic authentication. Anonymous access when empty.
	User BasicAuth
	// CACerts holds PEM encoded CA certificates to trust when connecting over TLS.
	CACerts []byte
	// InsecureSkipTLSVerify disables verification of the server certificate chain.
	InsecureSkipTLSVerify bool
	// Timeout applies to every request performed by the client. Defaults to DefaultReqTimeout.
	Timeout time.Duration
}

// Client captures the Elasticsearch API surface needed to manage archival repositories,
// their lifecycle policies and the documents tracking them.
type Client interface {
	// Close idle connections in the underlying http client.
	Close()
	// GetClusterInfo gets the cluster information at /
	GetClusterInfo(ctx context.Context) (Info, error)
	// GetClusterHealth calls the _cluster/health api.
	GetClusterHealth(ctx context.Context) (Health, error)
	// GetIndexHealth calls the _cluster/health api scoped to a single index.
	GetIndexHealth(ctx context.Context, index string) (Health, error)
	// GetNodesPlugins calls the _nodes/plugins api to list the plugins installed on each node.
	GetNodesPlugins(ctx context.Context) (NodesPlugins, error)

	// GetSnapshotRepository retrieves the definition of the named snapshot repository.
	GetSnapshotRepository(ctx context.Context, name string) (SnapshotRepository, error)
	// ListSnapshotRepositories retrieves all registered snapshot repositories keyed by name.
	ListSnapshotRepositories(ctx context.Context) (map[string]SnapshotRepository, error)
	// UpsertSnapshotRepository creates or updates the named snapshot repository.
	UpsertSnapshotRepository(ctx context.Context, name string, repository SnapshotRepository) error
	// DeleteSnapshotRepository unregisters the named snapshot repository. The backing
	// data is left untouched.
	DeleteSnapshotRepository(ctx context.Context, name string) error
	// GetSnapshots lists all snapshots held by the given repository.
	GetSnapshots(ctx context.Context, repository string) ([]Snapshot, error)
	// MountSearchableSnapshot mounts an index from a snapshot as a searchable snapshot index.
	MountSearchableSnapshot(ctx context.Context, repository, snapshot, storage string, request MountRequest) error

	// GetLifecyclePolicies retrieves all index lifecycle policies including their usage.
	GetLifecyclePolicies(ctx context.Context) (LifecyclePolicies, error)
	// PutLifecyclePolicy creates or updates the named index lifecycle policy.
	PutLifecyclePolicy(ctx context.Context, name string, policy Policy) error
	// DeleteLifecyclePolicy removes the named index lifecycle policy.
	DeleteLifecyclePolicy(ctx context.Context, name string) error

	// GetIndexTemplates retrieves all composable index templates.
	GetIndexTemplates(ctx context.Context) (IndexTemplates, error)
	// PutIndexTemplate creates or updates a composable index template.
	PutIndexTemplate(ctx context.Context, name string, template TemplateBody) error
	// GetLegacyTemplates retrieves all legacy index templates keyed by name.
	GetLegacyTemplates(ctx context.Context) (LegacyTemplates, error)
	// PutLegacyTemplate creates or updates a legacy index template.
	PutLegacyTemplate(ctx context.Context, name string, template TemplateBody) error

	// GetDataStreams lists the data streams matching the given name or pattern.
	GetDataStreams(ctx context.Context, pattern string) ([]DataStream, error)
	// ModifyDataStreams applies backing index modifications to data streams.
	ModifyDataStreams(ctx context.Context, actions []DataStreamAction) error

	// IndexExists returns true if the given index exists.
	IndexExists(ctx context.Context, index string) (bool, error)
	// CreateIndex creates the given index, body may hold settings and mappings.
	CreateIndex(ctx context.Context, index string, body map[string]interface{}) error
	// DeleteIndex deletes the given index.
	DeleteIndex(ctx context.Context, index string) error
	// RefreshIndex makes recent writes to the given index visible to search.
	RefreshIndex(ctx context.Context, index string) error
	// GetMountedIndices returns the searchable snapshot indices in the cluster, keyed by
	// index name, with the repository and snapshot they are mounted from.
	GetMountedIndices(ctx context.Context) (map[string]MountedIndex, error)

	// IndexDocument indexes a document under the given id, replacing any previous version.
	IndexDocument(ctx context.Context, index, id string, document interface{}) (DocumentResult, error)
	// CreateDocument indexes a document with a server generated id.
	CreateDocument(ctx context.Context, index string, document interface{}) (DocumentResult, error)
	// GetDocument retrieves a document by id. Found is false when the document or the
	// index does not exist.
	GetDocument(ctx context.Context, index, id string) (GetResult, error)
	// DeleteDocument removes a document by id.
	DeleteDocument(ctx context.Context, index, id string) error
	// Search runs the given query against an index.
	Search(ctx context.Context, index string, query map[string]interface{}) (SearchResults, error)

	// Request exposes a low level interface to the underlying HTTP client e.g. for testing purposes.
	// The Elasticsearch endpoint will be added automatically to the request URL which should therefore
	// just be the path with a leading /.
	Request(ctx context.Context, r *http.Request) (*http.Response, error)
}

type defaultClient struct {
	baseClient
}

var _ Client = &defaultClient{}

// New creates a client for the cluster described by cfg.
func New(cfg Config) (Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("elasticsearch endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultReqTimeout
	}

	transportConfig := http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipTLSVerify, //nolint:gosec
		},
	}
	if len(cfg.CACerts) > 0 {
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(cfg.CACerts) {
			return nil, errors.New("cannot parse any CA certificate from the given PEM data")
		}
		transportConfig.TLSClientConfig.RootCAs = certPool
	}

	return &defaultClient{baseClient{
		Endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		User:     cfg.User,
		HTTP: &http.Client{
			Transport: &transportConfig,
			Timeout:   timeout,
		},
	}}, nil
}
