package registry

import (
	"errors"
	"fmt"

	"github.com/varhub/varhub/internal/vartype"
)

// checkValue runs the validation pipeline for one candidate value:
// cast/validate via the type, then every declared constraint in
// declaration order, short-circuiting on the first failure.
func checkValue(t vartype.Type, constraints []vartype.Constraint, raw any) (any, error) {
	value, err := t.Validate(raw)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	for _, c := range constraints {
		if err := t.CheckConstraint(c, value); err != nil {
			var ce *vartype.ConstraintError
			if errors.As(err, &ce) {
				return nil, &ConstraintViolationError{
					Constraint: ce.Constraint,
					Bound:      ce.Bound,
					Value:      ce.Value,
				}
			}
			return nil, &ValidationError{Reason: err.Error()}
		}
	}
	return value, nil
}

// checkDependencies verifies that every declared dependency resolves and
// that the declaration introduces no cycle. Cyclic declarations are
// rejected here, at declaration time, rather than surfacing as perpetual
// unmet-dependency failures later.
func (c *Coordinator) checkDependencies(selfID, selfName string, deps []string) error {
	for _, dep := range deps {
		if dep == selfName || dep == selfID {
			return &ValidationError{Reason: fmt.Sprintf("variable %q cannot depend on itself", selfName)}
		}
		rec, ok := c.store.Resolve(dep)
		if !ok {
			return &UnmetDependencyError{VariableID: selfName, Dependency: dep}
		}
		if err := c.walkDependencies(rec.ID, selfID, selfName, map[string]struct{}{rec.ID: {}}); err != nil {
			return err
		}
	}
	return nil
}

// walkDependencies follows the transitive dependency chain from id,
// failing if it reaches the declaring variable or revisits a node.
func (c *Coordinator) walkDependencies(id, selfID, selfName string, onPath map[string]struct{}) error {
	rec, ok := c.store.Get(id)
	if !ok {
		return nil // dangling link surfaces as UnmetDependency at update time
	}
	for _, dep := range rec.Dependencies {
		target, ok := c.store.Resolve(dep)
		if !ok {
			continue
		}
		if target.ID == selfID || target.Name == selfName {
			return &ValidationError{Reason: fmt.Sprintf("dependency cycle through %q", rec.Name)}
		}
		if _, seen := onPath[target.ID]; seen {
			return &ValidationError{Reason: fmt.Sprintf("dependency cycle through %q", target.Name)}
		}
		onPath[target.ID] = struct{}{}
		if err := c.walkDependencies(target.ID, selfID, selfName, onPath); err != nil {
			return err
		}
		delete(onPath, target.ID)
	}
	return nil
}
