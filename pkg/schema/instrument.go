package schema

import (
	"fmt"

	pv "github.com/goliatone/go-pvscan"
)

// Instrument is a store, its formula engine and its manifest assembled from
// schema documents.
type Instrument struct {
	Store     *pv.Store
	Engine    *pv.Engine
	Manifest  *pv.Manifest
	Documents []Document
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	storeOpts    []pv.StoreOption
	engineOpts   []pv.EngineOption
	manifestOpts []pv.ManifestOption
	overlays     []Overlay
	groups       []pv.Group
}

// WithStoreOptions forwards options to pv.NewStore. They apply after the
// namespace taken from the documents, so an explicit namespace wins.
func WithStoreOptions(opts ...pv.StoreOption) BuildOption {
	return func(cfg *buildConfig) {
		cfg.storeOpts = append(cfg.storeOpts, opts...)
	}
}

// WithEngineOptions forwards options to pv.NewEngine.
func WithEngineOptions(opts ...pv.EngineOption) BuildOption {
	return func(cfg *buildConfig) {
		cfg.engineOpts = append(cfg.engineOpts, opts...)
	}
}

// WithManifestOptions forwards options to pv.NewManifest.
func WithManifestOptions(opts ...pv.ManifestOption) BuildOption {
	return func(cfg *buildConfig) {
		cfg.manifestOpts = append(cfg.manifestOpts, opts...)
	}
}

// WithOverlay applies a site overlay before declaring anything.
func WithOverlay(overlay Overlay) BuildOption {
	return func(cfg *buildConfig) {
		cfg.overlays = append(cfg.overlays, overlay)
	}
}

// WithManifestGroups replaces the manifest groups found in the documents,
// e.g. with groups loaded from request files.
func WithManifestGroups(groups []pv.Group) BuildOption {
	return func(cfg *buildConfig) {
		cfg.groups = groups
	}
}

// Build declares every parameter of docs, in document order, registers their
// formulas once all inputs exist and binds a manifest built from the
// concatenated document groups. The engine is attached to the manifest so
// restores leave derived outputs consistent.
func Build(docs []Document, opts ...BuildOption) (*Instrument, error) {
	cfg := buildConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var err error
	for _, overlay := range cfg.overlays {
		if docs, err = ApplyOverlay(docs, overlay); err != nil {
			return nil, err
		}
	}

	var storeOpts []pv.StoreOption
	for _, doc := range docs {
		if doc.Namespace != "" {
			storeOpts = append(storeOpts, pv.WithNamespace(doc.Namespace))
			break
		}
	}
	store := pv.NewStore(append(storeOpts, cfg.storeOpts...)...)

	var formulas []pv.Formula
	for _, doc := range docs {
		for _, param := range doc.Parameters {
			def, err := param.Definition()
			if err != nil {
				return nil, fmt.Errorf("schema: %s: %w", doc.Name, err)
			}
			if err := store.Declare(def); err != nil {
				return nil, fmt.Errorf("schema: %s: %w", doc.Name, err)
			}
			if formula, ok := param.Derived(); ok {
				formulas = append(formulas, formula)
			}
		}
	}

	engine, err := pv.NewEngine(store, cfg.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("schema: engine: %w", err)
	}
	for _, formula := range formulas {
		if err := engine.Register(formula); err != nil {
			return nil, fmt.Errorf("schema: formula %s: %w", formula.Output, err)
		}
	}

	groups := cfg.groups
	if groups == nil {
		for _, doc := range docs {
			groups = append(groups, doc.Manifest...)
		}
	}
	manifestOpts := append([]pv.ManifestOption{pv.WithRestoreEngine(engine)}, cfg.manifestOpts...)
	manifest, err := pv.NewManifest(store, groups, manifestOpts...)
	if err != nil {
		return nil, fmt.Errorf("schema: manifest: %w", err)
	}

	return &Instrument{Store: store, Engine: engine, Manifest: manifest, Documents: docs}, nil
}
