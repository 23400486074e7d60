// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

// Package ilm mutates index lifecycle policies and index templates during
// repository rotation. In-use policies are never rewritten: a versioned copy is
// registered under a suffixed name and templates are retargeted to it, so that
// existing indices keep snapshotting into their original repository while newly
// rolled indices flow into the current one.
package ilm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/elastic/deepfreeze/pkg/client"
	ulog "github.com/elastic/deepfreeze/pkg/utils/log"
)

var log = ulog.Log.WithName("ilm")

// versionSuffix matches a trailing suffix segment produced by an earlier rotation,
// either the oneup form (-000003) or the date form (-2026.08).
var versionSuffix = regexp.MustCompile(`-(\d{4}\.\d{2}|\d+)$`)

// Mutator reads and rewrites lifecycle policies and templates.
type Mutator struct {
	es client.Client
}

// NewMutator returns a Mutator over the given cluster.
func NewMutator(es client.Client) *Mutator {
	return &Mutator{es: es}
}

// PoliciesReferencing returns the lifecycle policies with at least one phase whose
// searchable_snapshot action targets the given repository.
func (m *Mutator) PoliciesReferencing(ctx context.Context, repository string) (client.LifecyclePolicies, error) {
	policies, err := m.es.GetLifecyclePolicies(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing lifecycle policies")
	}
	matching := client.LifecyclePolicies{}
	for name, policy := range policies {
		if referencesRepository(policy.Policy, repository) {
			matching[name] = policy
		}
	}
	return matching, nil
}

// PoliciesWithSuffix returns the lifecycle policies whose name ends in -<suffix>.
func (m *Mutator) PoliciesWithSuffix(ctx context.Context, suffix string) (client.LifecyclePolicies, error) {
	policies, err := m.es.GetLifecyclePolicies(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing lifecycle policies")
	}
	matching := client.LifecyclePolicies{}
	for name, policy := range policies {
		if strings.HasSuffix(name, "-"+suffix) {
			matching[name] = policy
		}
	}
	return matching, nil
}

// PolicySafeToDelete reports whether nothing references the named policy. Unknown
// policies are not safe, the caller should skip them.
func (m *Mutator) PolicySafeToDelete(ctx context.Context, name string) (bool, error) {
	policies, err := m.es.GetLifecyclePolicies(ctx)
	if err != nil {
		return false, errors.Wrap(err, "listing lifecycle policies")
	}
	policy, ok := policies[name]
	if !ok {
		return false, nil
	}
	return policy.InUseBy.Empty(), nil
}

// BasePolicyName strips a trailing rotation suffix from a policy name, so that
// repeated rotations never stack suffixes.
func BasePolicyName(name string) string {
	return versionSuffix.ReplaceAllString(name, "")
}

// VersionPolicy registers a copy of the policy under <base>-<suffix> with every
// searchable_snapshot action retargeted to newRepository, and returns the new
// name. The input policy is left untouched.
func (m *Mutator) VersionPolicy(ctx context.Context, name string, policy client.Policy, newRepository, suffix string) (string, error) {
	versioned, err := RetargetSnapshotRepository(policy, newRepository)
	if err != nil {
		return "", errors.Wrapf(err, "versioning policy %s", name)
	}
	if deletesSearchableSnapshot(versioned) {
		log.Info("Warning: policy deletes searchable snapshots, data will be lost when indices age out",
			"policy", name)
	}
	newName := fmt.Sprintf("%s-%s", BasePolicyName(name), suffix)
	if err := m.es.PutLifecyclePolicy(ctx, newName, versioned); err != nil {
		return "", errors.Wrapf(err, "registering policy %s", newName)
	}
	return newName, nil
}

// RetargetSnapshotRepository deep-copies the policy body and rewrites the
// snapshot_repository of every searchable_snapshot action to the given repository.
func RetargetSnapshotRepository(policy client.Policy, repository string) (client.Policy, error) {
	copied, err := deepCopy(policy)
	if err != nil {
		return nil, err
	}
	for _, phase := range phasesOf(copied) {
		if action, ok := searchableSnapshotAction(phase); ok {
			action["snapshot_repository"] = repository
		}
	}
	return copied, nil
}

// RetargetTemplates rewrites every composable and legacy template whose lifecycle
// policy appears as a key of the mapping to the corresponding new policy, and
// returns the number of templates updated.
func (m *Mutator) RetargetTemplates(ctx context.Context, mapping map[string]string) (int, error) {
	updated := 0

	composable, err := m.es.GetIndexTemplates(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "listing index templates")
	}
	for _, template := range composable.IndexTemplates {
		settings := template.IndexTemplate.TemplateSettings()
		current, ok := lifecycleName(settings)
		if !ok {
			continue
		}
		newPolicy, ok := mapping[current]
		if !ok {
			continue
		}
		setLifecycleName(settings, newPolicy)
		log.Info("Retargeting index template", "template", template.Name, "from", current, "to", newPolicy)
		if err := m.es.PutIndexTemplate(ctx, template.Name, template.IndexTemplate); err != nil {
			return updated, errors.Wrapf(err, "updating index template %s", template.Name)
		}
		updated++
	}

	legacy, err := m.es.GetLegacyTemplates(ctx)
	if err != nil {
		return updated, errors.Wrap(err, "listing legacy templates")
	}
	for name, template := range legacy {
		settings := template.Settings()
		current, ok := lifecycleName(settings)
		if !ok {
			continue
		}
		newPolicy, ok := mapping[current]
		if !ok {
			continue
		}
		setLifecycleName(settings, newPolicy)
		log.Info("Retargeting legacy template", "template", name, "from", current, "to", newPolicy)
		if err := m.es.PutLegacyTemplate(ctx, name, template); err != nil {
			return updated, errors.Wrapf(err, "updating legacy template %s", name)
		}
		updated++
	}
	return updated, nil
}

func referencesRepository(policy client.Policy, repository string) bool {
	for _, phase := range phasesOf(policy) {
		if action, ok := searchableSnapshotAction(phase); ok {
			if repo, _ := action["snapshot_repository"].(string); repo == repository {
				return true
			}
		}
	}
	return false
}

// deletesSearchableSnapshot reports whether any delete phase drops the backing
// snapshot along with the index.
func deletesSearchableSnapshot(policy client.Policy) bool {
	for _, phase := range phasesOf(policy) {
		actions, ok := phase["actions"].(map[string]interface{})
		if !ok {
			continue
		}
		del, ok := actions["delete"].(map[string]interface{})
		if !ok {
			continue
		}
		if flag, _ := del["delete_searchable_snapshot"].(bool); flag {
			return true
		}
	}
	return false
}

func phasesOf(policy client.Policy) map[string]map[string]interface{} {
	raw, ok := policy["phases"].(map[string]interface{})
	if !ok {
		return nil
	}
	phases := make(map[string]map[string]interface{}, len(raw))
	for name, value := range raw {
		if phase, ok := value.(map[string]interface{}); ok {
			phases[name] = phase
		}
	}
	return phases
}

func searchableSnapshotAction(phase map[string]interface{}) (map[string]interface{}, bool) {
	actions, ok := phase["actions"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	action, ok := actions["searchable_snapshot"].(map[string]interface{})
	return action, ok
}

// deepCopy clones an untyped policy body through a JSON round trip.
func deepCopy(policy client.Policy) (client.Policy, error) {
	raw, err := json.Marshal(policy)
	if err != nil {
		return nil, errors.Wrap(err, "copying policy body")
	}
	var copied client.Policy
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, errors.Wrap(err, "copying policy body")
	}
	return copied, nil
}

// lifecycleName extracts index.lifecycle.name from a settings map, accepting both
// the flat dotted key and the fully nested form the APIs may return.
func lifecycleName(settings map[string]interface{}) (string, bool) {
	if settings == nil {
		return "", false
	}
	if name, ok := settings["index.lifecycle.name"].(string); ok {
		return name, true
	}
	index, ok := settings["index"].(map[string]interface{})
	if !ok {
		return "", false
	}
	if name, ok := index["lifecycle.name"].(string); ok {
		return name, true
	}
	lifecycle, ok := index["lifecycle"].(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := lifecycle["name"].(string)
	return name, ok
}

// setLifecycleName rewrites the lifecycle policy name in place, in whichever shape
// the settings map already uses.
func setLifecycleName(settings map[string]interface{}, name string) {
	if _, ok := settings["index.lifecycle.name"]; ok {
		settings["index.lifecycle.name"] = name
		return
	}
	if index, ok := settings["index"].(map[string]interface{}); ok {
		if _, ok := index["lifecycle.name"]; ok {
			index["lifecycle.name"] = name
			return
		}
		if lifecycle, ok := index["lifecycle"].(map[string]interface{}); ok {
			lifecycle["name"] = name
			return
		}
	}
	settings["index.lifecycle.name"] = name
}
