// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreCheckClassification(t *testing.T) {
	tests := []struct {
		name     string
		check    RestoreCheck
		complete bool
		expired  bool
	}{
		{name: "empty prefix is neither complete nor expired", check: RestoreCheck{}},
		{name: "all restored", check: RestoreCheck{Total: 3, Restored: 3}, complete: true},
		{name: "partially restored", check: RestoreCheck{Total: 3, Restored: 2, InProgress: 1}},
		{name: "all lapsed", check: RestoreCheck{Total: 3, NotRestored: 3}, expired: true},
		{name: "one still restored blocks expiry", check: RestoreCheck{Total: 3, Restored: 1, NotRestored: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.complete, tt.check.Complete())
			assert.Equal(t, tt.expired, tt.check.Expired())
		})
	}
}

func TestCheckRestoreStatus(t *testing.T) {
	store := NewFakeObjectStore()
	store.Put("bucket", "snapshots-000004/index-0", StorageClassGlacier)
	store.Put("bucket", "snapshots-000004/index-1", StorageClassGlacier)
	store.Put("bucket", "snapshots-000004/meta.dat", StorageClassStandard)
	store.Put("bucket", "snapshots-000005/other", StorageClassGlacier)

	t.Run("archived objects without a marker are not restored", func(t *testing.T) {
		check, err := CheckRestoreStatus(context.Background(), store, "bucket", "snapshots-000004", 4)
		require.NoError(t, err)
		assert.Equal(t, RestoreCheck{Total: 3, Restored: 1, NotRestored: 2}, check)
	})

	t.Run("ongoing restores are counted in progress", func(t *testing.T) {
		store.RestoreDelay = true
		_, err := RestorePrefix(context.Background(), store, "bucket", "snapshots-000004", 7, TierStandard, 4)
		require.NoError(t, err)

		check, err := CheckRestoreStatus(context.Background(), store, "bucket", "snapshots-000004", 4)
		require.NoError(t, err)
		assert.Equal(t, RestoreCheck{Total: 3, Restored: 1, InProgress: 2}, check)
	})

	t.Run("finished restores complete the prefix", func(t *testing.T) {
		store.CompleteRestores(time.Now().Add(7 * 24 * time.Hour))

		check, err := CheckRestoreStatus(context.Background(), store, "bucket", "snapshots-000004", 4)
		require.NoError(t, err)
		assert.True(t, check.Complete())
		assert.Equal(t, 3, check.Restored)
	})
}

func TestRestorePrefix(t *testing.T) {
	store := NewFakeObjectStore()
	store.Put("bucket", "snapshots-000004/index-0", StorageClassGlacier)
	store.Put("bucket", "snapshots-000004/meta.dat", StorageClassStandard)

	initiated, err := RestorePrefix(context.Background(), store, "bucket", "snapshots-000004", 7, TierStandard, 4)
	require.NoError(t, err)
	// instant access objects are left alone
	assert.Equal(t, 1, initiated)
	assert.Nil(t, store.Object("bucket", "snapshots-000004/meta.dat").Restore)
	assert.NotNil(t, store.Object("bucket", "snapshots-000004/index-0").Restore)
}

func TestDemotePrefix(t *testing.T) {
	t.Run("standard objects are copied into the target class", func(t *testing.T) {
		store := NewFakeObjectStore()
		store.Put("bucket", "snapshots-000001/index-0", StorageClassIntelligentTiering)
		store.Put("bucket", "snapshots-000001/index-1", StorageClassStandard)
		store.Put("bucket", "snapshots-000002/untouched", StorageClassStandard)

		demoted, err := DemotePrefix(context.Background(), store, "bucket", "snapshots-000001", StorageClassGlacier, 4)
		require.NoError(t, err)
		assert.Equal(t, 2, demoted)
		assert.Equal(t, StorageClassGlacier, store.Object("bucket", "snapshots-000001/index-0").StorageClass)
		assert.Equal(t, StorageClassStandard, store.Object("bucket", "snapshots-000002/untouched").StorageClass)
	})

	t.Run("already archived objects without a restore marker are skipped", func(t *testing.T) {
		store := NewFakeObjectStore()
		store.Put("bucket", "snapshots-000001/index-0", StorageClassGlacier)

		demoted, err := DemotePrefix(context.Background(), store, "bucket", "snapshots-000001", StorageClassGlacier, 4)
		require.NoError(t, err)
		assert.Equal(t, 0, demoted)
	})

	t.Run("a completed restore marker is dropped by re-copying", func(t *testing.T) {
		store := NewFakeObjectStore()
		store.Put("bucket", "snapshots-000001/index-0", StorageClassGlacier)
		_, err := RestorePrefix(context.Background(), store, "bucket", "snapshots-000001", 7, TierStandard, 4)
		require.NoError(t, err)
		require.NotNil(t, store.Object("bucket", "snapshots-000001/index-0").Restore)

		demoted, err := DemotePrefix(context.Background(), store, "bucket", "snapshots-000001", StorageClassGlacier, 4)
		require.NoError(t, err)
		assert.Equal(t, 1, demoted)
		assert.Nil(t, store.Object("bucket", "snapshots-000001/index-0").Restore)
	})

	t.Run("objects with an ongoing restore are skipped", func(t *testing.T) {
		store := NewFakeObjectStore()
		store.RestoreDelay = true
		store.Put("bucket", "snapshots-000001/index-0", StorageClassGlacier)
		_, err := RestorePrefix(context.Background(), store, "bucket", "snapshots-000001", 7, TierStandard, 4)
		require.NoError(t, err)

		demoted, err := DemotePrefix(context.Background(), store, "bucket", "snapshots-000001", StorageClassGlacier, 4)
		require.NoError(t, err)
		assert.Equal(t, 0, demoted)
		assert.True(t, store.Object("bucket", "snapshots-000001/index-0").Restore.Ongoing)
	})
}
