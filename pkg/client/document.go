// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// DocumentResult is the response to a document write.
type DocumentResult struct {
	Index       string `json:"_index"`
	ID          string `json:"_id"`
	Result      string `json:"result"`
	SeqNo       int    `json:"_seq_no"`
	PrimaryTerm int    `json:"_primary_term"`
}

// GetResult is the response to a document get. Source is left raw for the caller
// to unmarshal.
type GetResult struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

// Document writes ask for an immediate refresh so that a subsequent search within
// the same command run observes them.

func (c *defaultClient) IndexDocument(ctx context.Context, index, id string, document interface{}) (DocumentResult, error) {
	var result DocumentResult
	err := c.put(ctx, fmt.Sprintf("/%s/_doc/%s?refresh=true", index, id), document, &result)
	return result, err
}

func (c *defaultClient) CreateDocument(ctx context.Context, index string, document interface{}) (DocumentResult, error) {
	var result DocumentResult
	err := c.post(ctx, fmt.Sprintf("/%s/_doc?refresh=true", index), document, &result)
	return result, err
}

func (c *defaultClient) GetDocument(ctx context.Context, index, id string) (GetResult, error) {
	var result GetResult
	// a get for a missing document responds with a 404 that still carries a regular
	// body, swallow the error and report through the Found field instead
	err := c.request(ctx, http.MethodGet, fmt.Sprintf("/%s/_doc/%s", index, id), nil, &result, IsNotFound)
	return result, err
}

func (c *defaultClient) DeleteDocument(ctx context.Context, index, id string) error {
	return c.delete(ctx, fmt.Sprintf("/%s/_doc/%s?refresh=true", index, id))
}

func (c *defaultClient) Search(ctx context.Context, index string, query map[string]interface{}) (SearchResults, error) {
	var results SearchResults
	err := c.post(ctx, fmt.Sprintf("/%s/_search", index), query, &results)
	return results, err
}
