// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package provider

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// RestoreCheck aggregates the per object restore state under a repository prefix.
type RestoreCheck struct {
	Total       int
	Restored    int
	InProgress  int
	NotRestored int
}

// Complete is true once every object is instantly readable. An empty prefix never
// counts as complete.
func (c RestoreCheck) Complete() bool {
	return c.Total > 0 && c.Restored == c.Total
}

// Expired is true when the prefix holds objects but none of them is restored or
// being restored anymore.
func (c RestoreCheck) Expired() bool {
	return c.Total > 0 && c.Restored == 0 && c.InProgress == 0 && c.NotRestored == c.Total
}

// CheckRestoreStatus classifies every object under the prefix. Objects in an instant
// access storage class count as restored outright, archived objects are headed with a
// bounded number of in-flight requests to inspect their restore marker.
func CheckRestoreStatus(ctx context.Context, store ObjectStore, bucket, prefix string, maxInflight int) (RestoreCheck, error) {
	var check RestoreCheck
	var archived []string
	err := store.ListObjects(ctx, bucket, prefix, func(object ObjectInfo) error {
		check.Total++
		if InstantAccess(object.StorageClass) {
			check.Restored++
			return nil
		}
		archived = append(archived, object.Key)
		return nil
	})
	if err != nil {
		return RestoreCheck{}, err
	}

	var restored, inProgress, notRestored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inflightLimit(maxInflight))
	for _, key := range archived {
		key := key
		g.Go(func() error {
			object, err := store.HeadObject(gctx, bucket, key)
			if err != nil {
				return err
			}
			switch {
			case object.Restore == nil:
				notRestored.Add(1)
			case object.Restore.Ongoing:
				inProgress.Add(1)
			default:
				restored.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RestoreCheck{}, err
	}
	check.Restored += int(restored.Load())
	check.InProgress = int(inProgress.Load())
	check.NotRestored = int(notRestored.Load())
	return check, nil
}

// RestorePrefix initiates a restore for every archived object under the prefix and
// returns the number of restores issued. Instant access objects are left alone.
func RestorePrefix(ctx context.Context, store ObjectStore, bucket, prefix string, days int, tier RestoreTier, maxInflight int) (int, error) {
	var archived []string
	err := store.ListObjects(ctx, bucket, prefix, func(object ObjectInfo) error {
		if !InstantAccess(object.StorageClass) {
			archived = append(archived, object.Key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var initiated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inflightLimit(maxInflight))
	for _, key := range archived {
		key := key
		g.Go(func() error {
			if err := store.RestoreObject(gctx, bucket, key, days, tier); err != nil {
				return err
			}
			initiated.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(initiated.Load()), err
	}
	return int(initiated.Load()), nil
}

// DemotePrefix server-side copies objects under the prefix into the given storage
// class and returns the number of copies performed. Objects already in the target
// class are copied again only when they carry a completed restore marker, which
// drops the instant access copy ahead of its expiry. Objects with an ongoing
// restore are skipped, they cannot be read for a copy yet.
func DemotePrefix(ctx context.Context, store ObjectStore, bucket, prefix, storageClass string, maxInflight int) (int, error) {
	type candidate struct {
		key          string
		storageClass string
	}
	var candidates []candidate
	err := store.ListObjects(ctx, bucket, prefix, func(object ObjectInfo) error {
		candidates = append(candidates, candidate{key: object.Key, storageClass: object.StorageClass})
		return nil
	})
	if err != nil {
		return 0, err
	}

	var demoted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inflightLimit(maxInflight))
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			if c.storageClass == storageClass {
				object, err := store.HeadObject(gctx, bucket, c.key)
				if err != nil {
					return err
				}
				if object.Restore == nil {
					return nil
				}
				if object.Restore.Ongoing {
					log.V(1).Info("Skipping demotion of object with ongoing restore", "bucket", bucket, "key", c.key)
					return nil
				}
			}
			if err := store.CopyObjectInPlace(gctx, bucket, c.key, storageClass); err != nil {
				return err
			}
			demoted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(demoted.Load()), err
	}
	return int(demoted.Load()), nil
}

func inflightLimit(maxInflight int) int {
	if maxInflight <= 0 {
		return DefaultMaxInflight
	}
	return maxInflight
}
