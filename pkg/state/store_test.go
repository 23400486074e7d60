// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/deepfreeze/pkg/client"
)

func TestEnsureStatusIndex(t *testing.T) {
	t.Run("absent index is an error when creation is not allowed", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			require.Equal(t, http.MethodHead, req.Method)
			require.Equal(t, "/deepfreeze-status", req.URL.Path)
			return client.NewMockResponse(404, req, "")
		})
		err := NewStore(es).EnsureStatusIndex(context.Background(), false)
		var missing *MissingIndexError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "deepfreeze-status", missing.Index)
	})

	t.Run("absent index is created with mappings when allowed", func(t *testing.T) {
		var createBody []byte
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			switch req.Method {
			case http.MethodHead:
				return client.NewMockResponse(404, req, "")
			case http.MethodPut:
				require.Equal(t, "/deepfreeze-status", req.URL.Path)
				createBody, _ = io.ReadAll(req.Body)
				return client.NewMockResponse(200, req, `{"acknowledged":true}`)
			default:
				t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
				return nil
			}
		})
		require.NoError(t, NewStore(es).EnsureStatusIndex(context.Background(), true))

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(createBody, &body))
		properties := body["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
		assert.Contains(t, properties, "thaw_state")
		assert.Contains(t, properties, "expires_at")
	})

	t.Run("existing index is left alone", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			require.Equal(t, http.MethodHead, req.Method)
			return client.NewMockResponse(200, req, "")
		})
		require.NoError(t, NewStore(es).EnsureStatusIndex(context.Background(), false))
	})
}

func TestGetSettings(t *testing.T) {
	t.Run("missing document yields MissingSettingsError", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			require.Equal(t, "/deepfreeze-status/_doc/1", req.URL.Path)
			return client.NewMockResponse(404, req, `{"_index":"deepfreeze-status","_id":"1","found":false}`)
		})
		_, err := NewStore(es).GetSettings(context.Background())
		var missing *MissingSettingsError
		require.ErrorAs(t, err, &missing)
	})

	t.Run("stored fields override the defaults", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			return client.NewMockResponse(200, req, `{
				"_index":"deepfreeze-status","_id":"1","found":true,
				"_source":{"doctype":"settings","repo_name_prefix":"archive","rotate_by":"bucket"}
			}`)
		})
		settings, err := NewStore(es).GetSettings(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "archive", settings.RepoNamePrefix)
		assert.Equal(t, RotateByBucket, settings.RotateBy)
		// untouched fields keep their defaults
		assert.Equal(t, StyleOneup, settings.Style)
		assert.Equal(t, 7, settings.Retention.Completed)
	})
}

func TestGetRepository(t *testing.T) {
	t.Run("existing record is loaded with its document id", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			require.Equal(t, "/deepfreeze-status/_search", req.URL.Path)
			return client.NewMockResponse(200, req, `{
				"hits":{"total":{"value":1},"hits":[
					{"_id":"abc123","_source":{"doctype":"repository","name":"deepfreeze-000002","thaw_state":"frozen","is_mounted":false}}
				]}
			}`)
		})
		repo, err := NewStore(es).GetRepository(context.Background(), "deepfreeze-000002")
		require.NoError(t, err)
		assert.Equal(t, "abc123", repo.DocID())
		assert.Equal(t, ThawStateFrozen, repo.ThawState)
	})

	t.Run("absent record yields a bare active record", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			return client.NewMockResponse(200, req, `{"hits":{"total":{"value":0},"hits":[]}}`)
		})
		repo, err := NewStore(es).GetRepository(context.Background(), "deepfreeze-000009")
		require.NoError(t, err)
		assert.Empty(t, repo.DocID())
		assert.Equal(t, ThawStateActive, repo.ThawState)
		assert.True(t, repo.IsMounted)
	})
}

func TestRepositoriesFilter(t *testing.T) {
	mounted := true
	var searchBody map[string]interface{}
	es := client.NewMockClient(func(req *http.Request) *http.Response {
		raw, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(raw, &searchBody))
		return client.NewMockResponse(200, req, `{
			"hits":{"total":{"value":2},"hits":[
				{"_id":"a","_source":{"doctype":"repository","name":"deepfreeze-000001","is_mounted":true}},
				{"_id":"b","_source":{"doctype":"repository","name":"deepfreeze-000002","is_mounted":true}}
			]}
		}`)
	})
	repos, err := NewStore(es).Repositories(context.Background(), RepositoryFilter{Prefix: "deepfreeze", Mounted: &mounted})
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "deepfreeze-000001", repos[0].Name)

	// the prefix and mounted filters reach the query
	filters := searchBody["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, filters, 3)
	assert.Contains(t, fmt.Sprintf("%v", filters), "prefix")
	assert.Contains(t, fmt.Sprintf("%v", filters), "is_mounted")
}

func TestFindRepositoriesOverlapping(t *testing.T) {
	var searchBody map[string]interface{}
	es := client.NewMockClient(func(req *http.Request) *http.Response {
		raw, _ := io.ReadAll(req.Body)
		require.NoError(t, json.Unmarshal(raw, &searchBody))
		return client.NewMockResponse(200, req, `{
			"hits":{"total":{"value":1},"hits":[
				{"_id":"a","_source":{"doctype":"repository","name":"deepfreeze-000004","thaw_state":"frozen",
				"start":"2024-03-01T00:00:00Z","end":"2024-03-31T23:59:59Z"}}
			]}
		}`)
	})
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	repos, err := NewStore(es).FindRepositoriesOverlapping(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "deepfreeze-000004", repos[0].Name)

	// coverage intersects iff start <= argEnd and end >= argStart
	rendered := fmt.Sprintf("%v", searchBody)
	assert.Contains(t, rendered, "lte:2024-03-20T00:00:00Z")
	assert.Contains(t, rendered, "gte:2024-03-10T00:00:00Z")
}

func TestPersistRepository(t *testing.T) {
	t.Run("first persist creates and remembers the document id", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			require.Equal(t, http.MethodPost, req.Method)
			require.Equal(t, "/deepfreeze-status/_doc", req.URL.Path)
			return client.NewMockResponse(201, req, `{"_index":"deepfreeze-status","_id":"generated-id","result":"created"}`)
		})
		repo := Repository{Name: "deepfreeze-000001", ThawState: ThawStateActive, IsMounted: true}
		require.NoError(t, NewStore(es).PersistRepository(context.Background(), &repo))
		assert.Equal(t, "generated-id", repo.DocID())
	})

	t.Run("subsequent persists update in place", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			require.Equal(t, http.MethodPut, req.Method)
			require.Equal(t, "/deepfreeze-status/_doc/existing-id", req.URL.Path)
			return client.NewMockResponse(200, req, `{"_index":"deepfreeze-status","_id":"existing-id","result":"updated"}`)
		})
		repo, err := LoadRepository("existing-id", []byte(`{"doctype":"repository","name":"deepfreeze-000001","thaw_state":"frozen"}`))
		require.NoError(t, err)
		require.NoError(t, NewStore(es).PersistRepository(context.Background(), &repo))
	})
}

func TestThawRequestStore(t *testing.T) {
	t.Run("get returns found false for unknown ids", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			return client.NewMockResponse(404, req, `{"found":false}`)
		})
		_, found, err := NewStore(es).GetThawRequest(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("update status rewrites the document once", func(t *testing.T) {
		var saved map[string]interface{}
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			switch req.Method {
			case http.MethodGet:
				return client.NewMockResponse(200, req, `{
					"found":true,
					"_source":{"doctype":"thaw_request","request_id":"req-1","status":"in_progress","created_at":"2026-08-26T09:00:00Z","repos":["deepfreeze-000004"]}
				}`)
			case http.MethodPut:
				require.Equal(t, "/deepfreeze-status/_doc/req-1", req.URL.Path)
				raw, _ := io.ReadAll(req.Body)
				require.NoError(t, json.Unmarshal(raw, &saved))
				return client.NewMockResponse(200, req, `{"result":"updated"}`)
			default:
				t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
				return nil
			}
		})
		require.NoError(t, NewStore(es).UpdateThawRequestStatus(context.Background(), "req-1", ThawStatusCompleted))
		assert.Equal(t, "completed", saved["status"])
		assert.Equal(t, []interface{}{"deepfreeze-000004"}, saved["repos"])
	})

	t.Run("update to the current status writes nothing", func(t *testing.T) {
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			require.Equal(t, http.MethodGet, req.Method)
			return client.NewMockResponse(200, req, `{
				"found":true,
				"_source":{"doctype":"thaw_request","request_id":"req-1","status":"completed","created_at":"2026-08-26T09:00:00Z"}
			}`)
		})
		require.NoError(t, NewStore(es).UpdateThawRequestStatus(context.Background(), "req-1", ThawStatusCompleted))
	})

	t.Run("list is ordered most recent first by the query", func(t *testing.T) {
		var searchBody map[string]interface{}
		es := client.NewMockClient(func(req *http.Request) *http.Response {
			raw, _ := io.ReadAll(req.Body)
			require.NoError(t, json.Unmarshal(raw, &searchBody))
			return client.NewMockResponse(200, req, `{"hits":{"total":{"value":0},"hits":[]}}`)
		})
		_, err := NewStore(es).ListThawRequests(context.Background())
		require.NoError(t, err)
		assert.Contains(t, fmt.Sprintf("%v", searchBody["sort"]), "created_at")
	})
}
