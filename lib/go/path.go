package varbridge

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// segment is one step of an injection path.
type segment struct {
	kind  string // "property" or "index"
	name  string
	index int // 1-based
}

var indexPattern = regexp.MustCompile(`^[1-9]\d*$`)

// parsePath splits a dot path into segments. Numeric parts are 1-based
// collection indices; everything else is a property name.
func parsePath(path string) ([]segment, error) {
	parts := strings.Split(path, ".")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if indexPattern.MatchString(part) {
			idx, _ := strconv.Atoi(part)
			segments = append(segments, segment{kind: "index", index: idx})
			continue
		}
		segments = append(segments, segment{kind: "property", name: part})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("empty path %q", path)
	}
	return segments, nil
}

// navigate walks all but the last segment and returns the value holding the
// final write location.
func navigate(root reflect.Value, segments []segment) (reflect.Value, error) {
	current := root
	for _, seg := range segments {
		current = indirect(current)
		if !current.IsValid() {
			return reflect.Value{}, fmt.Errorf("nil value at %q", seg.label())
		}
		next, err := step(current, seg)
		if err != nil {
			return reflect.Value{}, err
		}
		current = next
	}
	return current, nil
}

func step(current reflect.Value, seg segment) (reflect.Value, error) {
	switch seg.kind {
	case "property":
		switch current.Kind() {
		case reflect.Struct:
			field := current.FieldByName(seg.name)
			if !field.IsValid() {
				return reflect.Value{}, fmt.Errorf("no field %q on %s", seg.name, current.Type())
			}
			return field, nil
		case reflect.Map:
			v := current.MapIndex(reflect.ValueOf(seg.name))
			if !v.IsValid() {
				return reflect.Value{}, fmt.Errorf("no key %q in map", seg.name)
			}
			return v, nil
		default:
			return reflect.Value{}, fmt.Errorf("cannot access %q on %s", seg.name, current.Kind())
		}
	case "index":
		switch current.Kind() {
		case reflect.Slice, reflect.Array:
			i := seg.index - 1
			if i < 0 || i >= current.Len() {
				return reflect.Value{}, fmt.Errorf("index %d out of range (len %d)", seg.index, current.Len())
			}
			return current.Index(i), nil
		default:
			return reflect.Value{}, fmt.Errorf("cannot index %s", current.Kind())
		}
	default:
		return reflect.Value{}, fmt.Errorf("unknown segment kind %q", seg.kind)
	}
}

// setAtPath writes value to the path's final location inside parent. Maps
// are written through SetMapIndex; struct fields and slice elements must be
// addressable and settable.
func setAtPath(parent reflect.Value, last segment, value any) error {
	parent = indirect(parent)
	val := reflect.ValueOf(value)

	switch last.kind {
	case "property":
		switch parent.Kind() {
		case reflect.Struct:
			field := parent.FieldByName(last.name)
			if !field.IsValid() {
				return fmt.Errorf("no field %q on %s", last.name, parent.Type())
			}
			return assign(field, val)
		case reflect.Map:
			key := reflect.ValueOf(last.name)
			converted, err := convert(val, parent.Type().Elem())
			if err != nil {
				return fmt.Errorf("key %q: %w", last.name, err)
			}
			parent.SetMapIndex(key, converted)
			return nil
		default:
			return fmt.Errorf("cannot set %q on %s", last.name, parent.Kind())
		}
	case "index":
		if parent.Kind() != reflect.Slice && parent.Kind() != reflect.Array {
			return fmt.Errorf("cannot index %s", parent.Kind())
		}
		i := last.index - 1
		if i < 0 || i >= parent.Len() {
			return fmt.Errorf("index %d out of range (len %d)", last.index, parent.Len())
		}
		return assign(parent.Index(i), val)
	default:
		return fmt.Errorf("unknown segment kind %q", last.kind)
	}
}

func assign(dst reflect.Value, val reflect.Value) error {
	if !dst.CanSet() {
		return fmt.Errorf("location of type %s is not settable", dst.Type())
	}
	converted, err := convert(val, dst.Type())
	if err != nil {
		return err
	}
	dst.Set(converted)
	return nil
}

func convert(val reflect.Value, target reflect.Type) (reflect.Value, error) {
	if !val.IsValid() {
		return reflect.Zero(target), nil
	}
	if val.Type().AssignableTo(target) {
		return val, nil
	}
	if val.Type().ConvertibleTo(target) {
		return val.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", val.Type(), target)
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func (s segment) label() string {
	if s.kind == "index" {
		return strconv.Itoa(s.index)
	}
	return s.name
}
