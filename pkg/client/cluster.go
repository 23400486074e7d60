// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"fmt"
)

func (c *defaultClient) GetClusterInfo(ctx context.Context) (Info, error) {
	var info Info
	return info, c.get(ctx, "/", &info)
}

func (c *defaultClient) GetClusterHealth(ctx context.Context) (Health, error) {
	var health Health
	return health, c.get(ctx, "/_cluster/health", &health)
}

func (c *defaultClient) GetIndexHealth(ctx context.Context, index string) (Health, error) {
	var health Health
	return health, c.get(ctx, fmt.Sprintf("/_cluster/health/%s", index), &health)
}

func (c *defaultClient) GetNodesPlugins(ctx context.Context) (NodesPlugins, error) {
	var plugins NodesPlugins
	// the request path restricts the response to the plugin section of each node
	return plugins, c.get(ctx, "/_nodes/plugins", &plugins)
}
