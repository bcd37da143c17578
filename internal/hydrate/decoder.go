package hydrate

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Context identifies the document being decoded.
type Context struct {
	Source string
	Macros map[string]string
}

// PreHook lets callers rewrite the generic payload before decoding.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook lets callers adjust or validate the decoded value.
type PostHook[T any] func(Context, *T) error

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts YAML (or JSON) documents into typed values.
type Decoder[T any] struct {
	preHooks    []PreHook
	postHooks   []PostHook[T]
	knownFields bool
}

// WithPreHook applies hook prior to decoding.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.preHooks = append(d.preHooks, hook)
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithKnownFields rejects keys that do not map to a field of T.
func WithKnownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.knownFields = true
	}
}

// WithMacros expands $(NAME) references in every string of the payload using
// Context.Macros.
func WithMacros[T any]() DecoderOption[T] {
	return WithPreHook[T](ExpandMacros)
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts data into T applying configured hooks.
func (d *Decoder[T]) Decode(ctx Context, data []byte) (T, error) {
	var zero T

	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return zero, fmt.Errorf("hydrate: parse %s: %w", ctx.Source, err)
	}
	if payload == nil {
		return zero, fmt.Errorf("hydrate: document %s is empty", ctx.Source)
	}

	current := payload
	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: pre-hook for %s failed: %w", ctx.Source, err)
		}
		if next != nil {
			current = next
		}
	}

	buffer, err := yaml.Marshal(current)
	if err != nil {
		return zero, fmt.Errorf("hydrate: re-encode %s: %w", ctx.Source, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(buffer))
	decoder.KnownFields(d.knownFields)
	var result T
	if err := decoder.Decode(&result); err != nil {
		return zero, fmt.Errorf("hydrate: decode %s: %w", ctx.Source, err)
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for %s failed: %w", ctx.Source, err)
		}
	}

	return result, nil
}

var macroPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// ExpandMacros replaces $(NAME) references in string values and map keys.
// References without a definition fail the decode.
func ExpandMacros(ctx Context, payload map[string]any) (map[string]any, error) {
	var missing map[string]struct{}
	expand := func(s string) string {
		return macroPattern.ReplaceAllStringFunc(s, func(ref string) string {
			name := macroPattern.FindStringSubmatch(ref)[1]
			if value, ok := ctx.Macros[name]; ok {
				return value
			}
			if missing == nil {
				missing = map[string]struct{}{}
			}
			missing[name] = struct{}{}
			return ref
		})
	}
	out, _ := expandValue(payload, expand).(map[string]any)
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("undefined macros %v", names)
	}
	return out, nil
}

// ExpandString expands $(NAME) references in s.
func ExpandString(s string, macros map[string]string) (string, error) {
	out, err := ExpandMacros(Context{Macros: macros}, map[string]any{"value": s})
	if err != nil {
		return "", err
	}
	return out["value"].(string), nil
}

func expandValue(value any, expand func(string) string) any {
	switch typed := value.(type) {
	case string:
		return expand(typed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[expand(key)] = expandValue(item, expand)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = expandValue(item, expand)
		}
		return out
	default:
		return value
	}
}
