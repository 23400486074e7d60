// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/deepfreeze/pkg/provider"
	"github.com/elastic/deepfreeze/pkg/state"
	"github.com/elastic/deepfreeze/pkg/utils/chrono"
	"github.com/elastic/deepfreeze/pkg/utils/retry"
)

// seedFrozenRepository stores a frozen repository covering March 2024 with two
// archived objects.
func seedFrozenRepository(f *fakeCluster, objects *provider.FakeObjectStore, name, suffix string) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	f.seedRepositoryDoc(state.Repository{
		Name:      name,
		Bucket:    "deepfreeze-bucket",
		BasePath:  "snapshots-" + suffix,
		Start:     &start,
		End:       &end,
		ThawState: state.ThawStateFrozen,
	})
	objects.Put("deepfreeze-bucket", "snapshots-"+suffix+"/index-0.dat", provider.StorageClassGlacier)
	objects.Put("deepfreeze-bucket", "snapshots-"+suffix+"/index-1.dat", provider.StorageClassGlacier)
}

func marchWindow() (time.Time, time.Time) {
	return time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
}

func TestThawCreate(t *testing.T) {
	f := newFakeCluster(t)
	objects := provider.NewFakeObjectStore()
	objects.RestoreDelay = true
	f.seedSettings(testSettings())
	seedFrozenRepository(f, objects, "deepfreeze-000004", "000004")
	rt := newTestRuntime(f, objects, testNow)

	start, end := marchWindow()
	request, report, err := NewThaw(rt, ThawParams{StartDate: start, EndDate: end, Duration: 7}).Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.NotNil(t, request)
	assert.Equal(t, state.ThawStatusInProgress, request.Status)
	assert.Equal(t, []string{"deepfreeze-000004"}, request.Repos)

	// every archived object has a restore in flight
	assert.True(t, objects.Object("deepfreeze-bucket", "snapshots-000004/index-0.dat").Restore.Ongoing)
	assert.True(t, objects.Object("deepfreeze-bucket", "snapshots-000004/index-1.dat").Restore.Ongoing)

	// the record moved to thawing with the expiry of the restore window
	doc := f.repoDoc("deepfreeze-000004")
	assert.Equal(t, "thawing", doc["thaw_state"])
	assert.Equal(t, chrono.FormatUTC(testNow.Add(7*24*time.Hour)), doc["expires_at"])

	// the request is persisted under its id
	assert.Contains(t, f.docs, request.ID)
}

func TestThawCreateEdgeCases(t *testing.T) {
	t.Run("inverted date range is a config error", func(t *testing.T) {
		f := newFakeCluster(t)
		f.seedSettings(testSettings())
		rt := newTestRuntime(f, provider.NewFakeObjectStore(), testNow)
		start, end := marchWindow()
		_, _, err := NewThaw(rt, ThawParams{StartDate: end, EndDate: start}).Create(context.Background())
		var invalid *state.InvalidConfigError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("no covering repository thaws nothing", func(t *testing.T) {
		f := newFakeCluster(t)
		f.seedSettings(testSettings())
		rt := newTestRuntime(f, provider.NewFakeObjectStore(), testNow)
		request, report, err := NewThaw(rt, ThawParams{
			StartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC),
		}).Create(context.Background())
		require.NoError(t, err)
		assert.Nil(t, request)
		assert.Empty(t, report.Items())
	})

	t.Run("already thawed repositories are skipped", func(t *testing.T) {
		f := newFakeCluster(t)
		objects := provider.NewFakeObjectStore()
		f.seedSettings(testSettings())
		seedFrozenRepository(f, objects, "deepfreeze-000004", "000004")
		doc := f.repoDoc("deepfreeze-000004")
		doc["thaw_state"] = "thawed"
		doc["is_thawed"] = true
		doc["is_mounted"] = true
		rt := newTestRuntime(f, objects, testNow)

		start, end := marchWindow()
		request, report, err := NewThaw(rt, ThawParams{StartDate: start, EndDate: end}).Create(context.Background())
		require.NoError(t, err)
		assert.Nil(t, request, "nothing initiated, no request recorded")
		require.Len(t, report.Items(), 1)
		assert.Equal(t, OutcomeSkipped, report.Items()[0].Outcome)
		assert.Nil(t, objects.Object("deepfreeze-bucket", "snapshots-000004/index-0.dat").Restore)
	})
}

func TestThawCheckStatus(t *testing.T) {
	f := newFakeCluster(t)
	objects := provider.NewFakeObjectStore()
	objects.RestoreDelay = true
	f.seedSettings(testSettings())
	seedFrozenRepository(f, objects, "deepfreeze-000004", "000004")
	f.addSnapshot("deepfreeze-000004", "snap-1", ".ds-logs-2024.03.05-000042", "standalone-index")
	f.overlapHits[".ds-logs-2024.03.05-000042"] = 12
	f.overlapHits["standalone-index"] = 0
	rt := newTestRuntime(f, objects, testNow)
	thaw := NewThaw(rt, ThawParams{Duration: 7})

	start, end := marchWindow()
	request, _, err := NewThaw(rt, ThawParams{StartDate: start, EndDate: end, Duration: 7}).Create(context.Background())
	require.NoError(t, err)
	require.NotNil(t, request)

	// restores still in flight: nothing mounts, the request stays in progress
	status, report, err := thaw.CheckStatus(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ThawStatusInProgress, status)
	require.NoError(t, report.Err())
	assert.NotContains(t, f.repos, "deepfreeze-000004")

	// restores finish: the repository is mounted and the request completes
	objects.CompleteRestores(testNow.Add(7 * 24 * time.Hour))
	status, report, err = thaw.CheckStatus(context.Background(), request.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, state.ThawStatusCompleted, status)

	assert.Contains(t, f.repos, "deepfreeze-000004")
	doc := f.repoDoc("deepfreeze-000004")
	assert.Equal(t, "thawed", doc["thaw_state"])
	assert.Equal(t, true, doc["is_mounted"])

	// the backing index came back and was re-attached to its data stream
	assert.True(t, f.indices[".ds-logs-2024.03.05-000042"])
	require.Len(t, f.dataStreamActions, 1)
	attach := f.dataStreamActions[0].AddBackingIndex
	require.NotNil(t, attach)
	assert.Equal(t, "logs", attach.DataStream)
	assert.Equal(t, ".ds-logs-2024.03.05-000042", attach.Index)

	// the index with no data in the window was mounted and dropped again
	assert.False(t, f.indices["standalone-index"])
	assert.Contains(t, f.deletedIndices, "standalone-index")

	// re-running after completion is a no-op
	status, report, err = thaw.CheckStatus(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ThawStatusCompleted, status)
	assert.Empty(t, report.Items())
}

func TestThawCheckStatusFailsWhenRestoresLapse(t *testing.T) {
	f := newFakeCluster(t)
	objects := provider.NewFakeObjectStore()
	objects.RestoreDelay = true
	f.seedSettings(testSettings())
	seedFrozenRepository(f, objects, "deepfreeze-000004", "000004")
	rt := newTestRuntime(f, objects, testNow)

	start, end := marchWindow()
	request, _, err := NewThaw(rt, ThawParams{StartDate: start, EndDate: end, Duration: 7}).Create(context.Background())
	require.NoError(t, err)
	require.NotNil(t, request)

	// the restore markers disappeared before anything was mounted: the restore
	// window lapsed, this request can never complete
	objects.Object("deepfreeze-bucket", "snapshots-000004/index-0.dat").Restore = nil
	objects.Object("deepfreeze-bucket", "snapshots-000004/index-1.dat").Restore = nil

	status, report, err := NewThaw(rt, ThawParams{}).CheckStatus(context.Background(), request.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, state.ThawStatusFailed, status)
	assert.Equal(t, "failed", f.docs[request.ID]["status"])
	assert.NotContains(t, f.repos, "deepfreeze-000004")

	// a later check reports the terminal status without re-polling
	status, report, err = NewThaw(rt, ThawParams{}).CheckStatus(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, state.ThawStatusFailed, status)
	assert.Empty(t, report.Items())
}

func TestThawCheckStatusUnknownRequest(t *testing.T) {
	f := newFakeCluster(t)
	f.seedSettings(testSettings())
	rt := newTestRuntime(f, provider.NewFakeObjectStore(), testNow)
	_, _, err := NewThaw(rt, ThawParams{}).CheckStatus(context.Background(), "no-such-request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-request")
}

func TestThawSync(t *testing.T) {
	f := newFakeCluster(t)
	objects := provider.NewFakeObjectStore()
	// restores complete immediately, the first poll already succeeds
	f.seedSettings(testSettings())
	seedFrozenRepository(f, objects, "deepfreeze-000004", "000004")
	rt := newTestRuntime(f, objects, testNow)

	start, end := marchWindow()
	request, report, err := NewThaw(rt, ThawParams{
		StartDate:    start,
		EndDate:      end,
		Sync:         true,
		PollInterval: time.Millisecond,
		MaxPolls:     5,
	}).Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.NotNil(t, request)
	assert.Equal(t, state.ThawStatusCompleted, request.Status)
	assert.Contains(t, f.repos, "deepfreeze-000004")
}

func TestThawSyncBoundedPolling(t *testing.T) {
	f := newFakeCluster(t)
	objects := provider.NewFakeObjectStore()
	// restores never finish, the poll cap has to end the wait
	objects.RestoreDelay = true
	f.seedSettings(testSettings())
	seedFrozenRepository(f, objects, "deepfreeze-000004", "000004")
	rt := newTestRuntime(f, objects, testNow)

	start, end := marchWindow()
	request, _, err := NewThaw(rt, ThawParams{
		StartDate:    start,
		EndDate:      end,
		Sync:         true,
		PollInterval: time.Millisecond,
		MaxPolls:     2,
	}).Create(context.Background())
	require.Error(t, err)
	var exhausted *retry.ErrAttemptsExhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	// the request stays in progress for a later check-status
	require.NotNil(t, request)
	assert.Equal(t, state.ThawStatusInProgress, request.Status)
}

func TestThawList(t *testing.T) {
	f := newFakeCluster(t)
	f.seedSettings(testSettings())
	f.seedThawRequest(state.ThawRequest{
		ID: "older", Status: state.ThawStatusCompleted,
		CreatedAt: testNow.Add(-48 * time.Hour),
	})
	f.seedThawRequest(state.ThawRequest{
		ID: "newer", Status: state.ThawStatusInProgress,
		CreatedAt: testNow.Add(-1 * time.Hour),
	})
	rt := newTestRuntime(f, provider.NewFakeObjectStore(), testNow)

	requests, err := NewThaw(rt, ThawParams{}).List(context.Background())
	require.NoError(t, err)
	require.Len(t, requests, 2)
	assert.Equal(t, "newer", requests[0].ID)
	assert.Equal(t, "older", requests[1].ID)
}

func TestBackingIndexStream(t *testing.T) {
	tests := []struct {
		index  string
		stream string
		ok     bool
	}{
		{index: ".ds-logs-2024.03.05-000042", stream: "logs", ok: true},
		{index: ".ds-metrics-system.cpu-2024.03.05-000001", stream: "metrics-system.cpu", ok: true},
		{index: "plain-index", ok: false},
		{index: ".ds-malformed-000042", ok: false},
	}
	for _, tt := range tests {
		stream, ok := backingIndexStream(tt.index)
		assert.Equal(t, tt.ok, ok, tt.index)
		assert.Equal(t, tt.stream, stream, tt.index)
	}
}
