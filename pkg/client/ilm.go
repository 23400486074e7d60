// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"fmt"
)

// Policy holds the phase definitions of an index lifecycle policy as free form JSON,
// so that arbitrary phase and action combinations survive a read-modify-write cycle.
type Policy map[string]interface{}

// InUseBy lists the resources currently referencing a lifecycle policy.
type InUseBy struct {
	Indices             []string `json:"indices,omitempty"`
	DataStreams         []string `json:"data_streams,omitempty"`
	ComposableTemplates []string `json:"composable_templates,omitempty"`
}

// Empty returns true when nothing references the policy.
func (u InUseBy) Empty() bool {
	return len(u.Indices) == 0 && len(u.DataStreams) == 0 && len(u.ComposableTemplates) == 0
}

// LifecyclePolicy is a single entry of the _ilm/policy response.
type LifecyclePolicy struct {
	Version      int     `json:"version,omitempty"`
	ModifiedDate string  `json:"modified_date,omitempty"`
	Policy       Policy  `json:"policy"`
	InUseBy      InUseBy `json:"in_use_by,omitempty"`
}

// LifecyclePolicies maps policy names to their definitions.
type LifecyclePolicies map[string]LifecyclePolicy

type putLifecycleRequest struct {
	Policy Policy `json:"policy"`
}

func (c *defaultClient) GetLifecyclePolicies(ctx context.Context) (LifecyclePolicies, error) {
	var policies LifecyclePolicies
	return policies, c.get(ctx, "/_ilm/policy", &policies)
}

func (c *defaultClient) PutLifecyclePolicy(ctx context.Context, name string, policy Policy) error {
	return c.put(ctx, fmt.Sprintf("/_ilm/policy/%s", name), putLifecycleRequest{Policy: policy}, nil)
}

func (c *defaultClient) DeleteLifecyclePolicy(ctx context.Context, name string) error {
	return c.delete(ctx, fmt.Sprintf("/_ilm/policy/%s", name))
}
