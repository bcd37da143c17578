// Package openapi renders declared scan parameters as an OpenAPI document
// describing the parameter write operation.
package openapi

import (
	"fmt"
	"sort"
	"strings"

	pv "github.com/goliatone/go-pvscan"
)

// Generate builds an OpenAPI document whose request body accepts any subset
// of fields. Each property carries the kind constraints enforced by the
// store: enum indices, text capacity, float precision.
func Generate(fields []pv.FieldDescriptor, opts ...GeneratorOption) (map[string]any, error) {
	cfg := defaultGeneratorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	properties := make(map[string]any, len(fields))
	order := make([]string, 0, len(fields))
	for _, field := range fields {
		if field.Derived && !cfg.includeDerived {
			continue
		}
		if _, dup := properties[field.Name]; dup {
			return nil, fmt.Errorf("openapi: field %q listed twice", field.Name)
		}
		schema, err := schemaForField(field)
		if err != nil {
			return nil, err
		}
		properties[field.Name] = schema
		order = append(order, field.Name)
	}

	body := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
		"x-order":              order,
	}

	document := map[string]any{
		"openapi": cfg.openAPIVersion,
		"info":    buildInfo(cfg.info),
		"paths":   buildPaths(cfg, body),
	}
	if err := validateDocument(document); err != nil {
		return nil, err
	}
	return document, nil
}

func schemaForField(field pv.FieldDescriptor) (map[string]any, error) {
	kind, err := pv.ParseKind(field.Kind)
	if err != nil {
		return nil, fmt.Errorf("openapi: field %q: %w", field.Name, err)
	}

	schema := map[string]any{"x-pv-name": field.FullName}
	switch kind {
	case pv.KindFloat:
		schema["type"] = "number"
		schema["x-precision"] = field.Precision
	case pv.KindInt:
		schema["type"] = "integer"
		schema["format"] = "int64"
	case pv.KindBool:
		schema["type"] = "boolean"
		schema["x-labels"] = append([]string(nil), field.Labels...)
	case pv.KindEnum:
		indices := make([]int, len(field.Labels))
		for i := range indices {
			indices[i] = i
		}
		schema["type"] = "integer"
		schema["enum"] = indices
		schema["x-labels"] = append([]string(nil), field.Labels...)
	case pv.KindText:
		schema["type"] = "string"
		schema["maxLength"] = field.Capacity
	}
	if field.Description != "" {
		schema["description"] = field.Description
	}
	if field.Default != nil {
		schema["default"] = field.Default
	}
	if field.Derived {
		schema["readOnly"] = true
	}
	return schema, nil
}

func buildInfo(info openapiInfo) map[string]any {
	out := map[string]any{
		"title":   info.Title,
		"version": info.Version,
	}
	if info.Description != "" {
		out["description"] = info.Description
	}
	return out
}

func buildPaths(cfg generatorConfig, body map[string]any) map[string]any {
	method := cfg.operation.Method
	if method == "" {
		method = "put"
	}
	operationID := cfg.operation.OperationID
	if operationID == "" {
		operationID = fmt.Sprintf("%s:%s", method, cfg.operation.Path)
	}

	statuses := make([]string, 0, len(cfg.responses))
	for status := range cfg.responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	responses := make(map[string]any, len(statuses))
	for _, status := range statuses {
		responses[status] = map[string]any{"description": cfg.responses[status]}
	}

	operation := map[string]any{
		"operationId": operationID,
		"requestBody": map[string]any{
			"required": true,
			"content": map[string]any{
				cfg.contentType: map[string]any{"schema": body},
			},
		},
		"responses": responses,
	}
	if summary := strings.TrimSpace(cfg.operation.Summary); summary != "" {
		operation["summary"] = summary
	}
	return map[string]any{
		cfg.operation.Path: map[string]any{method: operation},
	}
}

func validateDocument(document map[string]any) error {
	info, _ := document["info"].(map[string]any)
	if info == nil {
		return fmt.Errorf("openapi: document missing info section")
	}
	if title, _ := info["title"].(string); title == "" {
		return fmt.Errorf("openapi: info.title must be set")
	}
	if version, _ := info["version"].(string); version == "" {
		return fmt.Errorf("openapi: info.version must be set")
	}
	paths, _ := document["paths"].(map[string]any)
	for path := range paths {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("openapi: path %q must start with /", path)
		}
	}
	return nil
}
