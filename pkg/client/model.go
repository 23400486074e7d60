// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"encoding/json"
	"sort"
)

// BasicAuth contains credentials for an Elasticsearch user.
type BasicAuth struct {
	Name     string
	Password string
}

// Info represents the response from /
type Info struct {
	ClusterName string `json:"cluster_name"`
	ClusterUUID string `json:"cluster_uuid"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
}

// Health is a partial representation of the _cluster/health response.
type Health struct {
	ClusterName       string `json:"cluster_name"`
	Status            string `json:"status"`
	TimedOut          bool   `json:"timed_out"`
	NumberOfNodes     int    `json:"number_of_nodes"`
	NumberOfDataNodes int    `json:"number_of_data_nodes"`
	ActiveShards      int    `json:"active_shards"`
	RelocatingShards  int    `json:"relocating_shards"`
	UnassignedShards  int    `json:"unassigned_shards"`
}

// ErrorResponse is an Elasticsearch error response.
type ErrorResponse struct {
	Status int `json:"status"`
	Error  struct {
		CausedBy struct {
			Reason string `json:"reason"`
			Type   string `json:"type"`
		} `json:"caused_by"`
		Reason    string `json:"reason"`
		Type      string `json:"type"`
		RootCause []struct {
			Reason string `json:"reason"`
			Type   string `json:"type"`
		} `json:"root_cause"`
	} `json:"error"`
}

// TotalHits models the total section of search hits.
type TotalHits struct {
	Value    int    `json:"value"`
	Relation string `json:"relation"`
}

// Hit is a single search hit. Source is left raw for the caller to unmarshal.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// Hits are the collections of search hits.
type Hits struct {
	Total TotalHits `json:"total"`
	Hits  []Hit     `json:"hits"`
}

// SearchResults are the results returned from a _search.
type SearchResults struct {
	Took     int                        `json:"took"`
	TimedOut bool                       `json:"timed_out"`
	Hits     Hits                       `json:"hits"`
	Aggs     map[string]json.RawMessage `json:"aggregations"`
}

// SingleValueAggregate models the result of a min or max aggregation.
// Value is nil when the aggregation matched no documents.
type SingleValueAggregate struct {
	Value         *float64 `json:"value"`
	ValueAsString string   `json:"value_as_string"`
}

// NodesPlugins is a partial representation of the _nodes/plugins response.
type NodesPlugins struct {
	Nodes map[string]NodePluginsInfo `json:"nodes"`
}

// NodePluginsInfo lists the plugins installed on a single node.
type NodePluginsInfo struct {
	Name    string       `json:"name"`
	Plugins []PluginInfo `json:"plugins"`
}

// PluginInfo describes an installed plugin.
type PluginInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MissingOn returns the names of the nodes that do not have the given plugin installed,
// sorted for stable reporting.
func (np NodesPlugins) MissingOn(plugin string) []string {
	var missing []string
	for _, node := range np.Nodes {
		found := false
		for _, p := range node.Plugins {
			if p.Name == plugin {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, node.Name)
		}
	}
	sort.Strings(missing)
	return missing
}
