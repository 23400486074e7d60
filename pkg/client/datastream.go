// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"fmt"
)

// DataStream is a partial representation of a data stream.
type DataStream struct {
	Name       string            `json:"name"`
	Indices    []DataStreamIndex `json:"indices"`
	Generation int               `json:"generation"`
	Status     string            `json:"status"`
	Template   string            `json:"template"`
}

// DataStreamIndex is a backing index of a data stream.
type DataStreamIndex struct {
	IndexName string `json:"index_name"`
	IndexUUID string `json:"index_uuid"`
}

// DataStreamAction is a single backing index modification. Exactly one of the
// fields must be set.
type DataStreamAction struct {
	AddBackingIndex    *DataStreamActionTarget `json:"add_backing_index,omitempty"`
	RemoveBackingIndex *DataStreamActionTarget `json:"remove_backing_index,omitempty"`
}

// DataStreamActionTarget names the data stream and index of a modification.
type DataStreamActionTarget struct {
	DataStream string `json:"data_stream"`
	Index      string `json:"index"`
}

type dataStreamsResponse struct {
	DataStreams []DataStream `json:"data_streams"`
}

type modifyDataStreamsRequest struct {
	Actions []DataStreamAction `json:"actions"`
}

func (c *defaultClient) GetDataStreams(ctx context.Context, pattern string) ([]DataStream, error) {
	var response dataStreamsResponse
	err := c.get(ctx, fmt.Sprintf("/_data_stream/%s", pattern), &response)
	return response.DataStreams, err
}

func (c *defaultClient) ModifyDataStreams(ctx context.Context, actions []DataStreamAction) error {
	return c.post(ctx, "/_data_stream/_modify", modifyDataStreamsRequest{Actions: actions}, nil)
}
