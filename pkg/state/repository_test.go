// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRepositoryNormalizesLegacyRecords(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want ThawState
	}{
		{
			name: "explicit state wins",
			doc:  `{"doctype":"repository","name":"deepfreeze-000001","thaw_state":"thawed","is_mounted":true}`,
			want: ThawStateThawed,
		},
		{
			name: "missing state defaults to active when mounted",
			doc:  `{"doctype":"repository","name":"deepfreeze-000001","is_mounted":true}`,
			want: ThawStateActive,
		},
		{
			name: "missing state defaults to frozen when unmounted",
			doc:  `{"doctype":"repository","name":"deepfreeze-000001","is_mounted":false}`,
			want: ThawStateFrozen,
		},
		{
			name: "legacy is_thawed promotes frozen to thawed when mounted",
			doc:  `{"doctype":"repository","name":"deepfreeze-000001","thaw_state":"frozen","is_thawed":true,"is_mounted":true}`,
			want: ThawStateThawed,
		},
		{
			name: "legacy is_thawed promotes frozen to thawing when unmounted",
			doc:  `{"doctype":"repository","name":"deepfreeze-000001","thaw_state":"frozen","is_thawed":true,"is_mounted":false}`,
			want: ThawStateThawing,
		},
		{
			name: "legacy is_thawed does not touch non frozen states",
			doc:  `{"doctype":"repository","name":"deepfreeze-000001","thaw_state":"expired","is_thawed":true,"is_mounted":false}`,
			want: ThawStateExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := LoadRepository("doc-id", []byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, repo.ThawState)
			assert.Equal(t, "doc-id", repo.DocID())
		})
	}
}

func TestLoadRepositoryParsesDates(t *testing.T) {
	doc := `{
		"doctype":"repository","name":"deepfreeze-000004","bucket":"deepfreeze","base_path":"snapshots-000004",
		"thaw_state":"thawed","is_mounted":true,
		"start":"2024-03-01T00:00:00Z","end":"2024-03-31T23:59:59Z",
		"thawed_at":"2026-08-01T10:00:00Z","expires_at":"2026-08-04T10:00:00Z"
	}`
	repo, err := LoadRepository("id", []byte(doc))
	require.NoError(t, err)
	require.NotNil(t, repo.Start)
	require.NotNil(t, repo.End)
	assert.True(t, repo.Start.Before(*repo.End))
	assert.Equal(t, time.Date(2026, 8, 4, 10, 0, 0, 0, time.UTC), repo.ExpiresAt.UTC())
}

func TestRepositoryMarshalDerivesIsThawed(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	repo := Repository{Name: "deepfreeze-000004", ThawState: ThawStateFrozen}
	require.True(t, repo.MarkThawing(now.Add(72*time.Hour)))

	raw, err := json.Marshal(repo)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "thawing", doc["thaw_state"])
	assert.Equal(t, true, doc["is_thawed"])
	assert.Equal(t, "2026-08-29T12:00:00Z", doc["expires_at"])
	// never thawed yet, no thawed_at serialized
	assert.NotContains(t, doc, "thawed_at")
}

func TestRepositoryTransitionCycle(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	repo := Repository{Name: "deepfreeze-000002", ThawState: ThawStateActive, IsMounted: true}

	// rotation demotes an active repository
	require.True(t, repo.Unmount())
	assert.Equal(t, ThawStateFrozen, repo.ThawState)
	assert.False(t, repo.IsMounted)

	// full thaw cycle
	require.True(t, repo.MarkThawing(now.Add(7*24*time.Hour)))
	require.True(t, repo.MarkThawed(now))
	assert.True(t, repo.IsMounted)
	require.NotNil(t, repo.ThawedAt)
	require.True(t, repo.MarkExpired())
	require.True(t, repo.Reset())
	assert.Equal(t, ThawStateFrozen, repo.ThawState)
	assert.Nil(t, repo.ThawedAt)
	assert.Nil(t, repo.ExpiresAt)
	assert.False(t, repo.IsMounted)
}

func TestRepositoryTransitionsAreGuarded(t *testing.T) {
	now := time.Now().UTC()

	// no transition moves a repository backwards
	repo := Repository{Name: "r", ThawState: ThawStateActive, IsMounted: true}
	assert.False(t, repo.MarkThawing(now), "active repositories do not thaw")
	assert.False(t, repo.MarkExpired(), "active repositories do not expire")
	assert.False(t, repo.Reset(), "only expired repositories reset")

	repo.ThawState = ThawStateThawed
	assert.False(t, repo.MarkThawing(now), "thawed repositories do not restart thawing")

	// re-running a transition is a no-op
	repo = Repository{Name: "r", ThawState: ThawStateExpired, ThawedAt: &now, ExpiresAt: &now, IsMounted: true}
	require.True(t, repo.Reset())
	assert.False(t, repo.Reset())
}

func TestSettingsNaming(t *testing.T) {
	settings := DefaultSettings()
	settings.RepoNamePrefix = "deepfreeze"
	settings.BucketNamePrefix = "df-bucket"
	settings.BasePathPrefix = "snapshots"

	t.Run("rotate by path shares the bucket and suffixes the path", func(t *testing.T) {
		settings.RotateBy = RotateByPath
		assert.Equal(t, "deepfreeze-000007", settings.RepoName("000007"))
		assert.Equal(t, "df-bucket", settings.BucketName("000007"))
		assert.Equal(t, "snapshots-000007", settings.BasePath("000007"))
	})

	t.Run("rotate by bucket suffixes the bucket and shares the path", func(t *testing.T) {
		settings.RotateBy = RotateByBucket
		assert.Equal(t, "df-bucket-000007", settings.BucketName("000007"))
		assert.Equal(t, "snapshots", settings.BasePath("000007"))
	})
}

func TestSettingsValidate(t *testing.T) {
	settings := DefaultSettings()
	require.NoError(t, settings.Validate())

	settings.Style = "monthly"
	err := settings.Validate()
	require.Error(t, err)
	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "style", invalid.Setting)
}

func TestThawRequestRoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	request := ThawRequest{
		ID:        "11111111-2222-3333-4444-555555555555",
		Status:    ThawStatusInProgress,
		CreatedAt: time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC),
		StartDate: &start,
		EndDate:   &end,
		Repos:     []string{"deepfreeze-000004"},
	}
	raw, err := json.Marshal(request)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, DoctypeThawRequest, doc["doctype"])

	loaded, err := LoadThawRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, request.ID, loaded.ID)
	assert.Equal(t, request.Status, loaded.Status)
	assert.Equal(t, request.Repos, loaded.Repos)
	require.NotNil(t, loaded.StartDate)
	assert.True(t, loaded.StartDate.Equal(start))
}

func TestRetentionDays(t *testing.T) {
	retention := ThawRequestRetention{Completed: 7, Failed: 14, Refrozen: 3}
	assert.Equal(t, 7, retention.RetentionDays(ThawStatusCompleted))
	assert.Equal(t, 14, retention.RetentionDays(ThawStatusFailed))
	assert.Equal(t, 3, retention.RetentionDays(ThawStatusRefrozen))
	assert.Equal(t, 0, retention.RetentionDays(ThawStatusInProgress))
}
