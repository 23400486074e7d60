// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package provider

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// FakeObject is the mutable state of one object held by a FakeObjectStore.
type FakeObject struct {
	Key          string
	StorageClass string
	Restore      *RestoreStatus
}

// FakeObjectStore is an in-memory ObjectStore for tests. Restores complete
// immediately unless RestoreDelay is set, in which case they stay ongoing until
// CompleteRestores is called.
type FakeObjectStore struct {
	mu           sync.Mutex
	buckets      map[string]map[string]*FakeObject
	RestoreDelay bool

	// Err, when set, is returned by every operation.
	Err error
}

var _ ObjectStore = &FakeObjectStore{}

// NewFakeObjectStore returns an empty store.
func NewFakeObjectStore() *FakeObjectStore {
	return &FakeObjectStore{buckets: map[string]map[string]*FakeObject{}}
}

// Put adds or replaces an object.
func (f *FakeObjectStore) Put(bucket, key, storageClass string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buckets[bucket] == nil {
		f.buckets[bucket] = map[string]*FakeObject{}
	}
	f.buckets[bucket][key] = &FakeObject{Key: key, StorageClass: storageClass}
}

// Object returns the state of an object, nil when absent.
func (f *FakeObjectStore) Object(bucket, key string) *FakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	if objects, ok := f.buckets[bucket]; ok {
		return objects[key]
	}
	return nil
}

// CompleteRestores finishes every ongoing restore.
func (f *FakeObjectStore) CompleteRestores(expiry time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, objects := range f.buckets {
		for _, object := range objects {
			if object.Restore != nil && object.Restore.Ongoing {
				object.Restore = &RestoreStatus{Ongoing: false, Expiry: expiry}
			}
		}
	}
}

func (f *FakeObjectStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	_, ok := f.buckets[bucket]
	return ok, nil
}

func (f *FakeObjectStore) CreateBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.buckets[bucket]; ok {
		return &BucketUnavailableError{Bucket: bucket}
	}
	f.buckets[bucket] = map[string]*FakeObject{}
	return nil
}

func (f *FakeObjectStore) ListObjects(_ context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	f.mu.Lock()
	if f.Err != nil {
		f.mu.Unlock()
		return f.Err
	}
	normalized := NormalizePrefix(prefix)
	var infos []ObjectInfo
	for key, object := range f.buckets[bucket] {
		if strings.HasPrefix(key, normalized) {
			infos = append(infos, ObjectInfo{Key: key, StorageClass: object.StorageClass})
		}
	}
	f.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	for _, info := range infos {
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeObjectStore) CopyObjectInPlace(_ context.Context, bucket, key, storageClass string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	object, ok := f.buckets[bucket][key]
	if !ok {
		return &ObjectStoreError{Op: "copy object in place", Bucket: bucket, Key: key}
	}
	object.StorageClass = storageClass
	object.Restore = nil
	return nil
}

func (f *FakeObjectStore) RestoreObject(_ context.Context, bucket, key string, days int, _ RestoreTier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	object, ok := f.buckets[bucket][key]
	if !ok {
		return &ObjectStoreError{Op: "restore object", Bucket: bucket, Key: key}
	}
	if object.Restore != nil && object.Restore.Ongoing {
		return nil
	}
	if f.RestoreDelay {
		object.Restore = &RestoreStatus{Ongoing: true}
	} else {
		object.Restore = &RestoreStatus{
			Ongoing: false,
			Expiry:  time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour),
		}
	}
	return nil
}

func (f *FakeObjectStore) HeadObject(_ context.Context, bucket, key string) (ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return ObjectInfo{}, f.Err
	}
	object, ok := f.buckets[bucket][key]
	if !ok {
		return ObjectInfo{}, &ObjectStoreError{Op: "head object", Bucket: bucket, Key: key}
	}
	var restore *RestoreStatus
	if object.Restore != nil {
		r := *object.Restore
		restore = &r
	}
	return ObjectInfo{Key: key, StorageClass: object.StorageClass, Restore: restore}, nil
}
