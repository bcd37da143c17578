package schema

import (
	"fmt"
	"sort"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/internal/hydrate"
	"github.com/goliatone/go-pvscan/internal/layering"
)

// Overlay adjusts declared parameters for one site, e.g. a different default
// shutter position or a wider text capacity. Entries are keyed by parameter
// name; only the fields an entry sets replace the document value.
type Overlay struct {
	Parameters map[string]ParameterSpec `yaml:"parameters" json:"parameters"`
}

// ParseOverlay decodes an overlay document.
func ParseOverlay(source string, data []byte, macros map[string]string) (Overlay, error) {
	decoder := hydrate.NewDecoder[Overlay](
		hydrate.WithMacros[Overlay](),
		hydrate.WithKnownFields[Overlay](),
	)
	overlay, err := decoder.Decode(hydrate.Context{Source: source, Macros: macros}, data)
	if err != nil {
		return Overlay{}, fmt.Errorf("schema: %w", err)
	}
	return overlay, nil
}

// ApplyOverlay returns copies of docs with overlay merged over the matching
// parameters. An overlay naming a parameter no document declares fails with
// *pv.UnknownParameterError.
func ApplyOverlay(docs []Document, overlay Overlay) ([]Document, error) {
	remaining := make(map[string]struct{}, len(overlay.Parameters))
	for name := range overlay.Parameters {
		remaining[name] = struct{}{}
	}
	out := make([]Document, len(docs))
	for i, doc := range docs {
		next := doc
		next.Parameters = make([]ParameterSpec, len(doc.Parameters))
		for j, param := range doc.Parameters {
			patch, ok := overlay.Parameters[param.Name]
			if !ok {
				next.Parameters[j] = param
				continue
			}
			delete(remaining, param.Name)
			patch.Name = param.Name
			merged := layering.Merge(patch, param)
			if _, err := pv.ParseKind(merged.Kind); err != nil {
				return nil, fmt.Errorf("schema: overlay %q: %w", param.Name, err)
			}
			next.Parameters[j] = merged
		}
		out[i] = next
	}
	if len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for name := range remaining {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &pv.UnknownParameterError{Name: names[0]}
	}
	return out, nil
}
