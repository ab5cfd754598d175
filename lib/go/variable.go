package varbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/varhub/varhub/internal/protocol"
	"github.com/varhub/varhub/internal/vartype"
)

// Variable is the consumer-side view of a coordinator variable. Value holds
// the canonical Go representation for the variable's type tag; a reference
// value is its symbolic name, never a native handle.
type Variable struct {
	ID           string
	Name         string
	Type         vartype.Tag
	Value        any
	Constraints  []vartype.Constraint
	Dependencies []string
	Metadata     map[string]string
	LockHolder   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func fromWire(wv protocol.WireVariable) (Variable, error) {
	tag := vartype.Tag(wv.Type)
	value, err := protocol.DecodeValue(tag, wv.Value)
	if err != nil {
		return Variable{}, fmt.Errorf("decode %s value: %w", wv.Name, err)
	}
	constraints, err := protocol.DecodeConstraints(wv.Constraints)
	if err != nil {
		return Variable{}, fmt.Errorf("decode %s constraints: %w", wv.Name, err)
	}
	return Variable{
		ID:           wv.ID,
		Name:         wv.Name,
		Type:         tag,
		Value:        value,
		Constraints:  constraints,
		Dependencies: wv.Dependencies,
		Metadata:     wv.Metadata,
		LockHolder:   wv.LockHolder,
		CreatedAt:    wv.CreatedAt,
		UpdatedAt:    wv.UpdatedAt,
	}, nil
}

// RegisterSpec describes a variable to create.
type RegisterSpec struct {
	Name         string
	Type         vartype.Tag
	Value        any
	Constraints  []vartype.Constraint
	Dependencies []string
	Metadata     map[string]string
}

// Register creates a variable on the coordinator and returns its id.
func (b *Bridge) Register(spec RegisterSpec) (string, error) {
	value, err := json.Marshal(spec.Value)
	if err != nil {
		return "", fmt.Errorf("register %s: encode value: %w", spec.Name, err)
	}
	constraints, err := protocol.EncodeConstraints(spec.Constraints)
	if err != nil {
		return "", fmt.Errorf("register %s: %w", spec.Name, err)
	}
	data, err := b.call(protocol.MsgRegister, protocol.RegisterRequest{
		Name:         spec.Name,
		Type:         string(spec.Type),
		Value:        value,
		Constraints:  constraints,
		Dependencies: spec.Dependencies,
		Metadata:     spec.Metadata,
	})
	if err != nil {
		return "", err
	}
	var result protocol.RegisterResult
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("register %s: decode result: %w", spec.Name, err)
	}
	return result.ID, nil
}

// Get retrieves a variable by id or name. A cached copy is returned without
// a round-trip; a miss fetches from the coordinator and fills the cache.
// Every successful Get, hit or miss, buffers one usage record stamped with
// the configured site, so consumption is reported without explicit calls.
func (b *Bridge) Get(key string) (Variable, error) {
	if v, ok := b.cache.get(key); ok {
		b.recordUsage(v)
		return v, nil
	}
	data, err := b.call(protocol.MsgGet, protocol.GetRequest{Key: key})
	if err != nil {
		return Variable{}, err
	}
	var result protocol.GetResult
	if err := json.Unmarshal(data, &result); err != nil {
		return Variable{}, fmt.Errorf("get %s: decode result: %w", key, err)
	}
	v, err := fromWire(result.Variable)
	if err != nil {
		return Variable{}, fmt.Errorf("get %s: %w", key, err)
	}
	b.cache.put(v)
	b.recordUsage(v)
	return v, nil
}

// Update replaces a variable's value on the coordinator. The local cache
// entry is not refreshed; invalidate to re-read the committed value.
func (b *Bridge) Update(key string, value any, cause map[string]string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("update %s: encode value: %w", key, err)
	}
	_, err = b.call(protocol.MsgUpdate, protocol.UpdateRequest{
		Key:   key,
		Value: raw,
		Cause: cause,
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

// List returns variables matching the filter, bypassing the cache.
func (b *Bridge) List(typeTag vartype.Tag, namePrefix string) ([]Variable, error) {
	data, err := b.call(protocol.MsgList, protocol.ListRequest{
		Type:       string(typeTag),
		NamePrefix: namePrefix,
	})
	if err != nil {
		return nil, err
	}
	var result protocol.ListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("list: decode result: %w", err)
	}
	out := make([]Variable, 0, len(result.Variables))
	for _, wv := range result.Variables {
		v, err := fromWire(wv)
		if err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Delete removes a variable and drops it from the local cache.
func (b *Bridge) Delete(key string) error {
	if _, err := b.call(protocol.MsgDelete, protocol.DeleteRequest{Key: key}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	b.cache.invalidate(key)
	return nil
}

// Observe subscribes fn to committed updates of a variable. Handlers run on
// the bridge's read goroutine in delivery order; they receive the new value
// but the cache stays as-is until the caller invalidates.
func (b *Bridge) Observe(key string, fn func(v Variable, cause map[string]string)) error {
	// Resolve the id first; notifications are keyed by id.
	v, err := b.Get(key)
	if err != nil {
		return fmt.Errorf("observe %s: %w", key, err)
	}
	b.mu.Lock()
	b.observers[v.ID] = append(b.observers[v.ID], fn)
	b.mu.Unlock()
	if _, err := b.call(protocol.MsgObserve, protocol.ObserveRequest{Key: v.ID}); err != nil {
		b.mu.Lock()
		handlers := b.observers[v.ID]
		if n := len(handlers); n > 0 {
			b.observers[v.ID] = handlers[:n-1]
		}
		b.mu.Unlock()
		return fmt.Errorf("observe %s: %w", key, err)
	}
	return nil
}

// Unobserve removes this bridge's subscription and all local handlers for
// the variable.
func (b *Bridge) Unobserve(key string) error {
	v, err := b.Get(key)
	if err != nil {
		return fmt.Errorf("unobserve %s: %w", key, err)
	}
	b.mu.Lock()
	delete(b.observers, v.ID)
	b.mu.Unlock()
	if _, err := b.call(protocol.MsgUnobserve, protocol.UnobserveRequest{Key: v.ID}); err != nil {
		return fmt.Errorf("unobserve %s: %w", key, err)
	}
	return nil
}

// StartOptimization acquires the advisory lock for this bridge's session.
// Contention surfaces as AlreadyLockedError carrying the holder.
func (b *Bridge) StartOptimization(key string) error {
	if _, err := b.call(protocol.MsgStartOptimization, protocol.LockRequest{Key: key}); err != nil {
		return fmt.Errorf("start optimization %s: %w", key, err)
	}
	return nil
}

// EndOptimization releases the advisory lock if this session holds it.
func (b *Bridge) EndOptimization(key string) error {
	if _, err := b.call(protocol.MsgEndOptimization, protocol.LockRequest{Key: key}); err != nil {
		return fmt.Errorf("end optimization %s: %w", key, err)
	}
	return nil
}

// Snapshot exports the coordinator's full variable set.
func (b *Bridge) Snapshot() ([]Variable, error) {
	data, err := b.call(protocol.MsgSnapshot, nil)
	if err != nil {
		return nil, err
	}
	var result protocol.SnapshotResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("snapshot: decode result: %w", err)
	}
	out := make([]Variable, 0, len(result.Variables))
	for _, wv := range result.Variables {
		v, err := fromWire(wv)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Invalidate drops one variable from the cache. The next Get fetches the
// committed value from the coordinator.
func (b *Bridge) Invalidate(key string) {
	b.cache.invalidate(key)
}

// InvalidateAll empties the cache.
func (b *Bridge) InvalidateAll() {
	b.cache.clear()
}
