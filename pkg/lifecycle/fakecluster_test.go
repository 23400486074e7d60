// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elastic/deepfreeze/pkg/client"
	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/state"
)

// fakeCluster is an in-memory Elasticsearch standing in for the controller tests.
// It serves the API subset the controllers touch out of plain maps, so that a test
// can seed cluster state, run a controller and assert on the resulting state.
type fakeCluster struct {
	t *testing.T

	statusIndexExists bool
	// docs are the status index documents by id.
	docs      map[string]map[string]interface{}
	nextDocID int

	repos     map[string]client.SnapshotRepository
	snapshots map[string][]client.Snapshot
	policies  map[string]client.LifecyclePolicy
	templates map[string]client.TemplateBody
	legacy    map[string]client.TemplateBody
	indices   map[string]bool
	mounted   map[string]client.MountedIndex

	// overlapHits holds per index the hit count returned for @timestamp range queries.
	overlapHits map[string]int
	// timestampAggs holds per search path the min and max millis for aggregations.
	timestampAggs map[string][2]int64

	clusterVersion string
	pluginsBody    string

	dataStreamActions []client.DataStreamAction
	deletedIndices    []string
	mountCalls        []string
}

func newFakeCluster(t *testing.T) *fakeCluster {
	return &fakeCluster{
		t:              t,
		docs:           map[string]map[string]interface{}{},
		repos:          map[string]client.SnapshotRepository{},
		snapshots:      map[string][]client.Snapshot{},
		policies:       map[string]client.LifecyclePolicy{},
		templates:      map[string]client.TemplateBody{},
		legacy:         map[string]client.TemplateBody{},
		indices:        map[string]bool{},
		mounted:        map[string]client.MountedIndex{},
		overlapHits:    map[string]int{},
		timestampAggs:  map[string][2]int64{},
		clusterVersion: "8.11.3",
		pluginsBody:    `{"nodes":{}}`,
	}
}

func (f *fakeCluster) client() client.Client {
	return client.NewMockClient(f.roundTrip)
}

// seedSettings stores the settings singleton and marks the status index present.
func (f *fakeCluster) seedSettings(settings state.Settings) {
	f.statusIndexExists = true
	f.putDoc(state.SettingsID, settings)
}

// seedRepositoryDoc stores a repository record under a synthetic document id.
func (f *fakeCluster) seedRepositoryDoc(repo state.Repository) string {
	f.nextDocID++
	id := fmt.Sprintf("repo-doc-%d", f.nextDocID)
	f.putDoc(id, repo)
	return id
}

// seedThawRequest stores a thaw request under its id.
func (f *fakeCluster) seedThawRequest(request state.ThawRequest) {
	f.putDoc(request.ID, request)
}

func (f *fakeCluster) putDoc(id string, doc interface{}) {
	raw, err := json.Marshal(doc)
	require.NoError(f.t, err)
	var parsed map[string]interface{}
	require.NoError(f.t, json.Unmarshal(raw, &parsed))
	f.docs[id] = parsed
}

// repoDoc returns the stored repository record with the given name.
func (f *fakeCluster) repoDoc(name string) map[string]interface{} {
	for _, doc := range f.docs {
		if doc["doctype"] == state.DoctypeRepository && doc["name"] == name {
			return doc
		}
	}
	return nil
}

// addSnapshot registers a snapshot holding the given indices in a repository.
func (f *fakeCluster) addSnapshot(repo, name string, indices ...string) {
	f.snapshots[repo] = append(f.snapshots[repo], client.Snapshot{
		Snapshot: name,
		State:    "SUCCESS",
		Indices:  indices,
	})
}

func (f *fakeCluster) roundTrip(req *http.Request) *http.Response {
	path := req.URL.Path
	method := req.Method

	switch {
	// status index existence and creation
	case method == http.MethodHead && path == "/"+state.StatusIndex:
		if f.statusIndexExists {
			return client.NewMockResponse(200, req, "")
		}
		return client.NewMockResponse(404, req, "")
	case method == http.MethodPut && path == "/"+state.StatusIndex:
		f.statusIndexExists = true
		return client.NewMockResponse(200, req, `{"acknowledged":true}`)

	// status index documents
	case path == "/"+state.StatusIndex+"/_doc":
		f.nextDocID++
		id := fmt.Sprintf("doc-%d", f.nextDocID)
		f.storeDocFromBody(req, id)
		return client.NewMockResponse(201, req, fmt.Sprintf(`{"_index":%q,"_id":%q,"result":"created"}`, state.StatusIndex, id))
	case strings.HasPrefix(path, "/"+state.StatusIndex+"/_doc/"):
		id := strings.TrimPrefix(path, "/"+state.StatusIndex+"/_doc/")
		switch method {
		case http.MethodGet:
			doc, ok := f.docs[id]
			if !ok {
				return client.NewMockResponse(404, req, fmt.Sprintf(`{"_index":%q,"_id":%q,"found":false}`, state.StatusIndex, id))
			}
			source, _ := json.Marshal(doc)
			return client.NewMockResponse(200, req, fmt.Sprintf(`{"_index":%q,"_id":%q,"found":true,"_source":%s}`, state.StatusIndex, id, source))
		case http.MethodPut:
			f.storeDocFromBody(req, id)
			return client.NewMockResponse(200, req, fmt.Sprintf(`{"_id":%q,"result":"updated"}`, id))
		case http.MethodDelete:
			delete(f.docs, id)
			return client.NewMockResponse(200, req, `{"result":"deleted"}`)
		}

	case method == http.MethodPost && path == "/"+state.StatusIndex+"/_search":
		return f.searchStatusIndex(req)

	// snapshot repositories
	case method == http.MethodGet && path == "/_snapshot/_all":
		body, _ := json.Marshal(f.repos)
		return client.NewMockResponse(200, req, string(body))
	case strings.HasPrefix(path, "/_snapshot/") && strings.HasSuffix(path, "/_all") && method == http.MethodGet:
		repo := strings.TrimSuffix(strings.TrimPrefix(path, "/_snapshot/"), "/_all")
		body, _ := json.Marshal(map[string]interface{}{"snapshots": f.snapshots[repo]})
		return client.NewMockResponse(200, req, string(body))
	case strings.HasPrefix(path, "/_snapshot/") && strings.HasSuffix(path, "/_mount"):
		parts := strings.Split(strings.TrimPrefix(path, "/_snapshot/"), "/")
		require.Len(f.t, parts, 3)
		var mount client.MountRequest
		f.decodeBody(req, &mount)
		f.indices[mount.Index] = true
		f.mounted[mount.Index] = client.MountedIndex{Repository: parts[0], Snapshot: parts[1], SourceIndex: mount.Index}
		f.mountCalls = append(f.mountCalls, fmt.Sprintf("%s/%s/%s", parts[0], parts[1], mount.Index))
		return client.NewMockResponse(200, req, `{"snapshot":{}}`)
	case strings.HasPrefix(path, "/_snapshot/"):
		name := strings.TrimPrefix(path, "/_snapshot/")
		switch method {
		case http.MethodGet:
			repo, ok := f.repos[name]
			if !ok {
				return client.NewMockResponse(404, req, `{"error":{"type":"repository_missing_exception"},"status":404}`)
			}
			body, _ := json.Marshal(map[string]client.SnapshotRepository{name: repo})
			return client.NewMockResponse(200, req, string(body))
		case http.MethodPut:
			var repo client.SnapshotRepository
			f.decodeBody(req, &repo)
			f.repos[name] = repo
			return client.NewMockResponse(200, req, `{"acknowledged":true}`)
		case http.MethodDelete:
			delete(f.repos, name)
			return client.NewMockResponse(200, req, `{"acknowledged":true}`)
		}

	// lifecycle policies
	case method == http.MethodGet && path == "/_ilm/policy":
		body, _ := json.Marshal(f.policies)
		return client.NewMockResponse(200, req, string(body))
	case strings.HasPrefix(path, "/_ilm/policy/"):
		name := strings.TrimPrefix(path, "/_ilm/policy/")
		switch method {
		case http.MethodPut:
			var body struct {
				Policy client.Policy `json:"policy"`
			}
			f.decodeBody(req, &body)
			f.policies[name] = client.LifecyclePolicy{Version: 1, Policy: body.Policy}
			return client.NewMockResponse(200, req, `{"acknowledged":true}`)
		case http.MethodDelete:
			delete(f.policies, name)
			return client.NewMockResponse(200, req, `{"acknowledged":true}`)
		}

	// templates
	case method == http.MethodGet && path == "/_index_template":
		named := make([]client.NamedIndexTemplate, 0, len(f.templates))
		for name, template := range f.templates {
			named = append(named, client.NamedIndexTemplate{Name: name, IndexTemplate: template})
		}
		sort.Slice(named, func(i, j int) bool { return named[i].Name < named[j].Name })
		body, _ := json.Marshal(client.IndexTemplates{IndexTemplates: named})
		return client.NewMockResponse(200, req, string(body))
	case strings.HasPrefix(path, "/_index_template/") && method == http.MethodPut:
		var template client.TemplateBody
		f.decodeBody(req, &template)
		f.templates[strings.TrimPrefix(path, "/_index_template/")] = template
		return client.NewMockResponse(200, req, `{"acknowledged":true}`)
	case method == http.MethodGet && path == "/_template":
		body, _ := json.Marshal(f.legacy)
		return client.NewMockResponse(200, req, string(body))
	case strings.HasPrefix(path, "/_template/") && method == http.MethodPut:
		var template client.TemplateBody
		f.decodeBody(req, &template)
		f.legacy[strings.TrimPrefix(path, "/_template/")] = template
		return client.NewMockResponse(200, req, `{"acknowledged":true}`)

	// cluster metadata
	case method == http.MethodGet && path == "/":
		return client.NewMockResponse(200, req, fmt.Sprintf(`{"cluster_name":"test","version":{"number":%q}}`, f.clusterVersion))
	case method == http.MethodGet && path == "/_nodes/plugins":
		return client.NewMockResponse(200, req, f.pluginsBody)
	case method == http.MethodGet && strings.HasPrefix(path, "/_cluster/health/"):
		return client.NewMockResponse(200, req, `{"status":"green"}`)
	case method == http.MethodGet && path == "/_all/_settings/index.store.snapshot.*":
		response := map[string]interface{}{}
		for index, mount := range f.mounted {
			response[index] = map[string]interface{}{
				"settings": map[string]interface{}{
					"index": map[string]interface{}{
						"store": map[string]interface{}{
							"snapshot": map[string]interface{}{
								"repository_name": mount.Repository,
								"snapshot_name":   mount.Snapshot,
								"index_name":      mount.SourceIndex,
							},
						},
					},
				},
			}
		}
		body, _ := json.Marshal(response)
		return client.NewMockResponse(200, req, string(body))

	// data streams
	case method == http.MethodPost && path == "/_data_stream/_modify":
		var body struct {
			Actions []client.DataStreamAction `json:"actions"`
		}
		f.decodeBody(req, &body)
		f.dataStreamActions = append(f.dataStreamActions, body.Actions...)
		return client.NewMockResponse(200, req, `{"acknowledged":true}`)

	// searches against data indices
	case method == http.MethodPost && strings.HasSuffix(path, "/_search"):
		return f.searchDataIndices(req, strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/_search"))

	// plain index operations
	case method == http.MethodHead:
		if f.indices[strings.TrimPrefix(path, "/")] {
			return client.NewMockResponse(200, req, "")
		}
		return client.NewMockResponse(404, req, "")
	case method == http.MethodDelete:
		index := strings.TrimPrefix(path, "/")
		delete(f.indices, index)
		delete(f.mounted, index)
		f.deletedIndices = append(f.deletedIndices, index)
		return client.NewMockResponse(200, req, `{"acknowledged":true}`)
	}

	f.t.Fatalf("fake cluster: unexpected request %s %s", method, path)
	return nil
}

func (f *fakeCluster) decodeBody(req *http.Request, out interface{}) {
	raw, err := io.ReadAll(req.Body)
	require.NoError(f.t, err)
	require.NoError(f.t, json.Unmarshal(raw, out))
}

func (f *fakeCluster) storeDocFromBody(req *http.Request, id string) {
	var doc map[string]interface{}
	f.decodeBody(req, &doc)
	f.docs[id] = doc
}

// searchStatusIndex evaluates the bool filter queries the state store issues.
func (f *fakeCluster) searchStatusIndex(req *http.Request) *http.Response {
	var body struct {
		Size  int `json:"size"`
		Query struct {
			Bool struct {
				Filter []map[string]interface{} `json:"filter"`
			} `json:"bool"`
		} `json:"query"`
		Sort []map[string]interface{} `json:"sort"`
	}
	f.decodeBody(req, &body)

	type hit struct {
		id  string
		doc map[string]interface{}
	}
	var hits []hit
	for id, doc := range f.docs {
		if matchesFilters(doc, body.Query.Bool.Filter) {
			hits = append(hits, hit{id: id, doc: doc})
		}
	}

	descCreatedAt := false
	for _, entry := range body.Sort {
		if _, ok := entry["created_at"]; ok {
			descCreatedAt = true
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if descCreatedAt {
			a, _ := hits[i].doc["created_at"].(string)
			b, _ := hits[j].doc["created_at"].(string)
			return a > b
		}
		a, _ := hits[i].doc["name"].(string)
		b, _ := hits[j].doc["name"].(string)
		return a < b
	})
	if body.Size > 0 && len(hits) > body.Size {
		hits = hits[:body.Size]
	}

	rendered := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		rendered = append(rendered, map[string]interface{}{"_id": h.id, "_source": h.doc})
	}
	response, _ := json.Marshal(map[string]interface{}{
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(hits)},
			"hits":  rendered,
		},
	})
	return client.NewMockResponse(200, req, string(response))
}

func matchesFilters(doc map[string]interface{}, filters []map[string]interface{}) bool {
	for _, filter := range filters {
		if term, ok := filter["term"].(map[string]interface{}); ok {
			for field, want := range term {
				if doc[field] != want {
					return false
				}
			}
		}
		if prefix, ok := filter["prefix"].(map[string]interface{}); ok {
			for field, want := range prefix {
				value, _ := doc[field].(string)
				if !strings.HasPrefix(value, want.(string)) {
					return false
				}
			}
		}
		if rng, ok := filter["range"].(map[string]interface{}); ok {
			for field, rawSpec := range rng {
				value, _ := doc[field].(string)
				if value == "" {
					return false
				}
				spec := rawSpec.(map[string]interface{})
				// ISO-8601 UTC strings compare correctly as strings
				if lte, ok := spec["lte"].(string); ok && value > lte {
					return false
				}
				if gte, ok := spec["gte"].(string); ok && value < gte {
					return false
				}
			}
		}
	}
	return true
}

// searchDataIndices answers the two query shapes the controllers run against data
// indices: a min/max @timestamp aggregation and an overlap count.
func (f *fakeCluster) searchDataIndices(req *http.Request, indices string) *http.Response {
	var body struct {
		Aggs map[string]interface{} `json:"aggs"`
	}
	f.decodeBody(req, &body)

	if len(body.Aggs) > 0 {
		aggs, ok := f.timestampAggs[indices]
		if !ok {
			return client.NewMockResponse(200, req, `{"hits":{"total":{"value":0},"hits":[]},"aggregations":{"oldest":{"value":null},"newest":{"value":null}}}`)
		}
		return client.NewMockResponse(200, req, fmt.Sprintf(
			`{"hits":{"total":{"value":0},"hits":[]},"aggregations":{"oldest":{"value":%d},"newest":{"value":%d}}}`,
			aggs[0], aggs[1]))
	}
	return client.NewMockResponse(200, req, fmt.Sprintf(
		`{"hits":{"total":{"value":%d},"hits":[]}}`, f.overlapHits[indices]))
}

// newTestRuntime wires a Runtime over the fake cluster and an in-memory object
// store, with a fixed clock.
func newTestRuntime(f *fakeCluster, objects provider.ObjectStore, now time.Time) *Runtime {
	rt := NewRuntime(f.client(), objects)
	rt.MaxInflight = 4
	rt.Now = func() time.Time { return now }
	return rt
}

// testSettings returns the settings most controller tests run with.
func testSettings() state.Settings {
	settings := state.DefaultSettings()
	settings.BucketNamePrefix = "deepfreeze-bucket"
	return settings
}
