package varbridge

import (
	"fmt"
	"reflect"
)

// InjectionPoint declares where one variable's value lands in consumer
// state. Target is a pointer to a struct, map, or slice; Path is a dot path
// inside it with 1-based numeric indices, e.g. "Tuning.Workers" or
// "Weights.2".
type InjectionPoint struct {
	Variable string // variable id or name
	Target   any
	Path     string
}

type boundPoint struct {
	variable string
	parent   reflect.Value
	last     segment
}

// Injector applies coordinator values to pre-declared locations. All paths
// are parsed and navigated once at construction; Apply only fetches and
// sets, so a typo in a path fails fast instead of on the Nth apply.
type Injector struct {
	bridge *Bridge
	points []boundPoint
}

// NewInjector validates every injection point against its target.
func NewInjector(b *Bridge, points []InjectionPoint) (*Injector, error) {
	bound := make([]boundPoint, 0, len(points))
	for _, p := range points {
		if p.Variable == "" {
			return nil, fmt.Errorf("injection point %q: empty variable", p.Path)
		}
		root := reflect.ValueOf(p.Target)
		if !root.IsValid() || root.Kind() != reflect.Ptr || root.IsNil() {
			return nil, fmt.Errorf("injection point %q: target must be a non-nil pointer", p.Path)
		}
		segments, err := parsePath(p.Path)
		if err != nil {
			return nil, fmt.Errorf("injection point for %s: %w", p.Variable, err)
		}
		parent, err := navigate(root, segments[:len(segments)-1])
		if err != nil {
			return nil, fmt.Errorf("injection point %q for %s: %w", p.Path, p.Variable, err)
		}
		// Probe the final location now so Apply cannot hit an unknown field.
		if _, err := step(indirect(parent), segments[len(segments)-1]); err != nil {
			return nil, fmt.Errorf("injection point %q for %s: %w", p.Path, p.Variable, err)
		}
		bound = append(bound, boundPoint{
			variable: p.Variable,
			parent:   parent,
			last:     segments[len(segments)-1],
		})
	}
	return &Injector{bridge: b, points: bound}, nil
}

// Apply fetches each variable through the bridge cache and writes its value
// to the declared location. The first failure stops the pass.
func (inj *Injector) Apply() error {
	for _, p := range inj.points {
		v, err := inj.bridge.Get(p.variable)
		if err != nil {
			return fmt.Errorf("inject %s: %w", p.variable, err)
		}
		if err := setAtPath(p.parent, p.last, v.Value); err != nil {
			return fmt.Errorf("inject %s: %w", p.variable, err)
		}
	}
	return nil
}

// Points returns the number of bound injection points.
func (inj *Injector) Points() int { return len(inj.points) }
