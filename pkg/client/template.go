// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package client

import (
	"context"
	"fmt"
)

// TemplateBody is the untyped body of an index template, composable or legacy.
// Template bodies are read, minimally mutated and written back, so fields this
// tool does not model must survive the round trip.
type TemplateBody map[string]interface{}

// Settings returns the top level settings section of a legacy template body,
// nil when absent.
func (b TemplateBody) Settings() map[string]interface{} {
	settings, _ := b["settings"].(map[string]interface{})
	return settings
}

// TemplateSettings returns the template.settings section of a composable
// template body, nil when absent.
func (b TemplateBody) TemplateSettings() map[string]interface{} {
	template, _ := b["template"].(map[string]interface{})
	settings, _ := template["settings"].(map[string]interface{})
	return settings
}

// NamedIndexTemplate pairs a composable index template with its name.
type NamedIndexTemplate struct {
	Name          string       `json:"name"`
	IndexTemplate TemplateBody `json:"index_template"`
}

// IndexTemplates models the _index_template response.
type IndexTemplates struct {
	IndexTemplates []NamedIndexTemplate `json:"index_templates"`
}

// LegacyTemplates maps legacy template names to their bodies.
type LegacyTemplates map[string]TemplateBody

func (c *defaultClient) GetIndexTemplates(ctx context.Context) (IndexTemplates, error) {
	var templates IndexTemplates
	return templates, c.get(ctx, "/_index_template", &templates)
}

func (c *defaultClient) PutIndexTemplate(ctx context.Context, name string, template TemplateBody) error {
	return c.put(ctx, fmt.Sprintf("/_index_template/%s", name), template, nil)
}

func (c *defaultClient) GetLegacyTemplates(ctx context.Context) (LegacyTemplates, error) {
	var templates LegacyTemplates
	return templates, c.get(ctx, "/_template", &templates)
}

func (c *defaultClient) PutLegacyTemplate(ctx context.Context, name string, template TemplateBody) error {
	return c.put(ctx, fmt.Sprintf("/_template/%s", name), template, nil)
}
