package openapi

import "strings"

type generatorConfig struct {
	openAPIVersion string
	info           openapiInfo
	operation      operationConfig
	contentType    string
	responses      map[string]string
	includeDerived bool
}

type openapiInfo struct {
	Title       string
	Version     string
	Description string
}

type operationConfig struct {
	Path        string
	Method      string
	OperationID string
	Summary     string
}

func defaultGeneratorConfig() generatorConfig {
	return generatorConfig{
		openAPIVersion: "3.0.3",
		info: openapiInfo{
			Title:   "Scan Parameters",
			Version: "1.0.0",
		},
		operation: operationConfig{
			Path:        "/parameters",
			Method:      "put",
			OperationID: "put:/parameters",
		},
		contentType:    "application/json",
		responses:      map[string]string{"204": "Applied", "422": "Rejected parameter value"},
		includeDerived: true,
	}
}

// GeneratorOption configures the OpenAPI generator behaviour.
type GeneratorOption func(*generatorConfig)

// WithOpenAPIVersion overrides the OpenAPI version string (default: 3.0.3).
func WithOpenAPIVersion(version string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if version == "" {
			return
		}
		cfg.openAPIVersion = version
	}
}

// WithInfo configures the info block. Empty strings retain the defaults.
func WithInfo(title, version, description string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if title != "" {
			cfg.info.Title = title
		}
		if version != "" {
			cfg.info.Version = version
		}
		if description != "" {
			cfg.info.Description = description
		}
	}
}

// WithOperation configures the path, method and operationId of the write
// operation. Empty inputs retain the defaults.
func WithOperation(path, method, operationID, summary string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if path != "" {
			cfg.operation.Path = path
		}
		if method != "" {
			cfg.operation.Method = strings.ToLower(method)
		}
		if operationID != "" {
			cfg.operation.OperationID = operationID
		}
		if summary != "" {
			cfg.operation.Summary = summary
		}
	}
}

// WithResponse registers or overrides the description for a status code.
func WithResponse(status, description string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if status == "" {
			return
		}
		cfg.responses[status] = description
	}
}

// WithoutDerived leaves derived outputs out of the request schema instead of
// publishing them as readOnly properties.
func WithoutDerived() GeneratorOption {
	return func(cfg *generatorConfig) {
		cfg.includeDerived = false
	}
}
