// Package layering overlays partially specified documents. Layers are ordered
// from strongest to weakest; a stronger layer only masks a weaker one where it
// actually sets something.
package layering

import "reflect"

// Merge composes layers ordered from strongest to weakest. Nil pointers, maps,
// slices and interfaces, and zero scalars, fall through to the next weaker
// layer. Maps are merged key by key; slices are replaced wholesale.
func Merge[T any](layers ...T) T {
	var zero T
	if len(layers) == 0 {
		return zero
	}

	merged := reflect.ValueOf(&layers[len(layers)-1]).Elem()
	for i := len(layers) - 2; i >= 0; i-- {
		merged = mergeValue(reflect.ValueOf(&layers[i]).Elem(), merged)
	}

	out := reflect.New(reflect.TypeOf(&zero).Elem()).Elem()
	if merged.IsValid() {
		out.Set(merged)
	}
	return out.Interface().(T)
}

func mergeValue(strong, weak reflect.Value) reflect.Value {
	if !strong.IsValid() {
		return weak
	}
	if !weak.IsValid() {
		return strong
	}

	switch strong.Kind() {
	case reflect.Pointer:
		if strong.IsNil() {
			return weak
		}
		result := reflect.New(strong.Type().Elem())
		if weak.IsNil() || strong.Elem().Kind() != reflect.Struct {
			// A set pointer is explicit, even when it points at a zero value.
			result.Elem().Set(strong.Elem())
			return result
		}
		result.Elem().Set(mergeValue(strong.Elem(), weak.Elem()))
		return result
	case reflect.Interface:
		if strong.IsNil() {
			return weak
		}
		if weak.IsNil() || strong.Elem().Kind() != reflect.Map || weak.Elem().Kind() != reflect.Map {
			return strong
		}
		result := reflect.New(strong.Type()).Elem()
		result.Set(mergeValue(strong.Elem(), weak.Elem()))
		return result
	case reflect.Struct:
		result := reflect.New(strong.Type()).Elem()
		for i := 0; i < strong.NumField(); i++ {
			field := result.Field(i)
			if !field.CanSet() {
				continue
			}
			field.Set(mergeValue(strong.Field(i), weak.Field(i)))
		}
		return result
	case reflect.Map:
		if strong.IsNil() {
			return weak
		}
		if weak.IsNil() || weak.Type() != strong.Type() {
			return strong
		}
		result := reflect.MakeMapWithSize(strong.Type(), strong.Len()+weak.Len())
		iter := weak.MapRange()
		for iter.Next() {
			result.SetMapIndex(iter.Key(), iter.Value())
		}
		iter = strong.MapRange()
		for iter.Next() {
			if existing := result.MapIndex(iter.Key()); existing.IsValid() {
				result.SetMapIndex(iter.Key(), mergeValue(iter.Value(), existing))
				continue
			}
			result.SetMapIndex(iter.Key(), iter.Value())
		}
		return result
	case reflect.Slice:
		if strong.IsNil() {
			return weak
		}
		return strong
	default:
		if strong.IsZero() {
			return weak
		}
		return strong
	}
}
