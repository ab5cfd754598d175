package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/varhub/varhub/internal/metrics"
	"github.com/varhub/varhub/internal/variable"
	"github.com/varhub/varhub/internal/vartype"
)

// Config holds coordinator tuning.
type Config struct {
	// HistoryCap bounds each variable's optimization history.
	HistoryCap int
	// LeaseTTL is how long a subscriber or lock session stays alive
	// without a heartbeat.
	LeaseTTL time.Duration
	// SweepInterval is how often expired leases are collected.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryCap <= 0 {
		c.HistoryCap = variable.DefaultHistoryCap
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	return c
}

// Coordinator is the single logical owner of all mutating variable
// operations. Mutations run on one serializing goroutine; reads are served
// straight from the store, so a read may trail the newest commit by one
// in-flight write but never observes a partial one.
//
// Optimization locks are advisory: they coordinate cooperating optimizers
// and do not reject updates from non-holders.
type Coordinator struct {
	cfg   Config
	log   zerolog.Logger
	store *variable.Store
	sink  Sink

	ops       *svc
	done      chan struct{}
	closeOnce sync.Once

	// State below is touched only on the ops goroutine.
	observers     map[string]map[string]Subscriber // variable id -> subscriber id -> subscriber
	subscriptions map[string]map[string]struct{}   // subscriber id -> variable ids
	leases        map[string]time.Time             // identity -> lease expiry
	heldLocks     map[string]map[string]struct{}   // session identity -> locked variable ids
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSink routes flushed usage/impact batches to a telemetry collaborator.
func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// New creates and starts a coordinator.
func New(cfg Config, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:           cfg.withDefaults(),
		log:           log.With().Str("component", "registry").Logger(),
		store:         variable.NewStore(),
		ops:           newSvc(),
		done:          make(chan struct{}),
		observers:     make(map[string]map[string]Subscriber),
		subscriptions: make(map[string]map[string]struct{}),
		leases:        make(map[string]time.Time),
		heldLocks:     make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sink == nil {
		c.sink = LogSink{Log: c.log}
	}
	c.ops.run()
	go c.sweepLoop()
	return c
}

// Close stops the serializing goroutine and the lease sweep. Operations
// arriving afterwards, such as session disconnects racing a shutdown, are
// refused with ErrClosed rather than panicking on the stopped service.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ops.stop()
	})
}

// Store exposes the read side for collaborators that serve reads directly.
func (c *Coordinator) Store() *variable.Store { return c.store }

// RegisterRequest describes a new variable.
type RegisterRequest struct {
	Name         string
	Type         vartype.Tag
	Value        any
	Constraints  []vartype.Constraint
	Dependencies []string
	Metadata     map[string]string
}

// Register validates and creates a variable, returning its id.
func (c *Coordinator) Register(req RegisterRequest) (string, error) {
	id, err := svcSync(c.ops, func() (string, error) {
		return c.register(req)
	})
	if err != nil {
		metrics.MutationFailures.WithLabelValues(Code(err)).Inc()
		return "", err
	}
	metrics.Registers.Inc()
	return id, nil
}

func (c *Coordinator) register(req RegisterRequest) (string, error) {
	if req.Name == "" {
		return "", &ValidationError{Reason: "variable name must not be empty"}
	}
	if c.store.NameTaken(req.Name) {
		return "", &NameTakenError{Name: req.Name}
	}

	t, err := vartype.Lookup(req.Type)
	if err != nil {
		return "", &ValidationError{Reason: err.Error()}
	}
	constraints, err := t.NormalizeConstraints(req.Constraints)
	if err != nil {
		return "", &ValidationError{Reason: err.Error()}
	}
	value, err := checkValue(t, constraints, req.Value)
	if err != nil {
		return "", err
	}
	if err := c.checkDependencies("", req.Name, req.Dependencies); err != nil {
		return "", err
	}

	now := time.Now()
	rec := &variable.Record{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Type:         req.Type,
		Value:        value,
		Constraints:  constraints,
		Dependencies: append([]string(nil), req.Dependencies...),
		Metadata: variable.Metadata{
			CreatedAt: now,
			UpdatedAt: now,
			Extra:     copyMeta(req.Metadata),
		},
		History: variable.AppendHistory(nil, variable.HistoryEntry{
			Value:     value,
			Timestamp: now,
			Cause:     "register",
		}, c.cfg.HistoryCap),
	}
	c.store.Put(rec)
	c.log.Debug().Str("id", rec.ID).Str("name", rec.Name).Str("type", string(rec.Type)).Msg("variable registered")
	return rec.ID, nil
}

// Get retrieves a variable by id or name, served directly from the store.
func (c *Coordinator) Get(key string) (*variable.Record, error) {
	rec, ok := c.store.Resolve(key)
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	return rec, nil
}

// List returns matching variables, served directly from the store.
func (c *Coordinator) List(f variable.Filter) []*variable.Record {
	return c.store.List(f)
}

// Update atomically replaces a variable's value after the full validation
// pipeline. A failure at any step leaves the stored record untouched.
func (c *Coordinator) Update(key string, raw any, cause map[string]string) error {
	_, err := svcSync(c.ops, func() (struct{}, error) {
		return struct{}{}, c.update(key, raw, cause)
	})
	if err != nil {
		metrics.MutationFailures.WithLabelValues(Code(err)).Inc()
		return err
	}
	metrics.Updates.Inc()
	return nil
}

func (c *Coordinator) update(key string, raw any, cause map[string]string) error {
	rec, ok := c.store.Resolve(key)
	if !ok {
		return &NotFoundError{Key: key}
	}

	t, err := vartype.Lookup(rec.Type)
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	value, err := checkValue(t, rec.Constraints, raw)
	if err != nil {
		return err
	}
	// Dependencies must resolve at the moment of every update, not just at
	// registration.
	for _, dep := range rec.Dependencies {
		if _, ok := c.store.Resolve(dep); !ok {
			return &UnmetDependencyError{VariableID: rec.ID, Dependency: dep}
		}
	}

	now := time.Now()
	next := rec.Clone()
	next.Value = value
	next.Metadata.UpdatedAt = now
	next.History = variable.AppendHistory(next.History, variable.HistoryEntry{
		Value:     value,
		Timestamp: now,
		Cause:     causeLabel(cause),
	}, c.cfg.HistoryCap)
	c.store.Put(next)

	c.notify(next, cause)
	return nil
}

// Delete removes a variable and its observer entries.
func (c *Coordinator) Delete(id string) error {
	_, err := svcSync(c.ops, func() (struct{}, error) {
		rec, ok := c.store.Resolve(id)
		if !ok {
			return struct{}{}, &NotFoundError{Key: id}
		}
		if rec.Locked() {
			c.releaseLock(rec.LockHolder, rec.ID)
		}
		c.store.Delete(rec.ID)
		for subID := range c.observers[rec.ID] {
			c.dropSubscription(subID, rec.ID)
		}
		delete(c.observers, rec.ID)
		c.log.Debug().Str("id", rec.ID).Str("name", rec.Name).Msg("variable deleted")
		return struct{}{}, nil
	})
	return err
}

// Observe subscribes sub to updates of the given variable. The subscriber's
// identity gets a lease; losing liveness removes it from every subscription.
func (c *Coordinator) Observe(key string, sub Subscriber) error {
	_, err := svcSync(c.ops, func() (struct{}, error) {
		rec, ok := c.store.Resolve(key)
		if !ok {
			return struct{}{}, &NotFoundError{Key: key}
		}
		subs := c.observers[rec.ID]
		if subs == nil {
			subs = make(map[string]Subscriber)
			c.observers[rec.ID] = subs
		}
		subs[sub.ID()] = sub

		vars := c.subscriptions[sub.ID()]
		if vars == nil {
			vars = make(map[string]struct{})
			c.subscriptions[sub.ID()] = vars
		}
		vars[rec.ID] = struct{}{}
		c.touchLease(sub.ID())
		return struct{}{}, nil
	})
	return err
}

// Unobserve removes a subscription. Unknown subscriptions are a no-op.
func (c *Coordinator) Unobserve(key string, subID string) error {
	_, err := svcSync(c.ops, func() (struct{}, error) {
		rec, ok := c.store.Resolve(key)
		if !ok {
			return struct{}{}, &NotFoundError{Key: key}
		}
		if subs := c.observers[rec.ID]; subs != nil {
			delete(subs, subID)
			if len(subs) == 0 {
				delete(c.observers, rec.ID)
			}
		}
		c.dropSubscription(subID, rec.ID)
		return struct{}{}, nil
	})
	return err
}

// StartOptimization acquires the advisory lock for a session. It never
// blocks: contention returns AlreadyLockedError carrying the holder.
func (c *Coordinator) StartOptimization(key, session string) error {
	_, err := svcSync(c.ops, func() (struct{}, error) {
		rec, ok := c.store.Resolve(key)
		if !ok {
			return struct{}{}, &NotFoundError{Key: key}
		}
		if rec.Locked() {
			if rec.LockHolder == session {
				return struct{}{}, nil // already ours
			}
			return struct{}{}, &AlreadyLockedError{VariableID: rec.ID, Holder: rec.LockHolder}
		}
		next := rec.Clone()
		next.LockHolder = session
		c.store.Put(next)

		held := c.heldLocks[session]
		if held == nil {
			held = make(map[string]struct{})
			c.heldLocks[session] = held
		}
		held[rec.ID] = struct{}{}
		c.touchLease(session)
		metrics.ActiveLocks.Inc()
		c.log.Debug().Str("id", rec.ID).Str("session", session).Msg("optimization started")
		return struct{}{}, nil
	})
	return err
}

// EndOptimization releases the lock if the caller holds it; otherwise it is
// a no-op.
func (c *Coordinator) EndOptimization(key, session string) error {
	_, err := svcSync(c.ops, func() (struct{}, error) {
		rec, ok := c.store.Resolve(key)
		if !ok {
			return struct{}{}, &NotFoundError{Key: key}
		}
		if rec.LockHolder != session {
			return struct{}{}, nil
		}
		c.releaseLock(session, rec.ID)
		return struct{}{}, nil
	})
	return err
}

// Heartbeat renews an identity's lease.
func (c *Coordinator) Heartbeat(identity string) {
	c.ops.do(func() { c.touchLease(identity) })
}

// DropIdentity removes an identity immediately: every subscription it holds
// is cleaned up and every lock it holds is released. Committed values stay
// untouched. After Close this is a no-op.
func (c *Coordinator) DropIdentity(identity string) {
	done := make(chan struct{})
	if !c.ops.do(func() {
		c.expireIdentity(identity)
		close(done)
	}) {
		return
	}
	<-done
}

// ReportUsage ingests one flushed usage batch and forwards it to the sink.
func (c *Coordinator) ReportUsage(batch []UsageRecord) error {
	if len(batch) == 0 {
		return nil
	}
	metrics.UsageRecords.Add(float64(len(batch)))
	c.sink.ConsumeUsage(batch)
	return nil
}

// ReportImpact ingests one flushed impact batch and forwards it to the sink.
func (c *Coordinator) ReportImpact(batch []ImpactRecord) error {
	if len(batch) == 0 {
		return nil
	}
	metrics.ImpactRecords.Add(float64(len(batch)))
	c.sink.ConsumeImpact(batch)
	return nil
}

// Snapshot exports a consistent copy of every variable for the persistence
// collaborator.
func (c *Coordinator) Snapshot() []*variable.Record {
	recs, _ := svcSync(c.ops, func() ([]*variable.Record, error) {
		all := c.store.List(variable.Filter{})
		out := make([]*variable.Record, len(all))
		for i, r := range all {
			out[i] = r.Clone()
		}
		return out, nil
	})
	return recs
}

// Restore loads previously snapshotted records. A live record carrying the
// same name under a different id is displaced entirely, keeping the name and
// id indexes one-to-one.
func (c *Coordinator) Restore(recs []*variable.Record) error {
	_, err := svcSync(c.ops, func() (struct{}, error) {
		for _, r := range recs {
			if prev, ok := c.store.GetByName(r.Name); ok && prev.ID != r.ID {
				if prev.Locked() {
					c.releaseLock(prev.LockHolder, prev.ID)
				}
				c.store.Delete(prev.ID)
				for subID := range c.observers[prev.ID] {
					c.dropSubscription(subID, prev.ID)
				}
				delete(c.observers, prev.ID)
			}
			c.store.Put(r.Clone())
		}
		return struct{}{}, nil
	})
	return err
}

// notify fans out one committed update to the variable's subscribers, in
// commit order. Runs on the ops goroutine.
func (c *Coordinator) notify(rec *variable.Record, cause map[string]string) {
	subs := c.observers[rec.ID]
	if len(subs) == 0 {
		return
	}
	n := Notification{Record: rec, Cause: copyMeta(cause)}
	for _, sub := range subs {
		sub.Notify(n)
		metrics.Notifications.Inc()
	}
}

func (c *Coordinator) touchLease(identity string) {
	c.leases[identity] = time.Now().Add(c.cfg.LeaseTTL)
}

func (c *Coordinator) dropSubscription(subID, varID string) {
	if vars := c.subscriptions[subID]; vars != nil {
		delete(vars, varID)
		if len(vars) == 0 {
			delete(c.subscriptions, subID)
		}
	}
}

func (c *Coordinator) releaseLock(session, varID string) {
	if rec, ok := c.store.Get(varID); ok && rec.LockHolder == session {
		next := rec.Clone()
		next.LockHolder = ""
		c.store.Put(next)
		metrics.ActiveLocks.Dec()
		c.log.Debug().Str("id", varID).Str("session", session).Msg("optimization ended")
	}
	if held := c.heldLocks[session]; held != nil {
		delete(held, varID)
		if len(held) == 0 {
			delete(c.heldLocks, session)
		}
	}
}

// expireIdentity removes every trace of a dead identity. Runs on the ops
// goroutine. Lock release here is cleanup only; it never reverts a value.
func (c *Coordinator) expireIdentity(identity string) {
	for varID := range c.subscriptions[identity] {
		if subs := c.observers[varID]; subs != nil {
			delete(subs, identity)
			if len(subs) == 0 {
				delete(c.observers, varID)
			}
		}
	}
	delete(c.subscriptions, identity)

	for varID := range c.heldLocks[identity] {
		c.releaseLock(identity, varID)
	}
	delete(c.leases, identity)
}

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.ops.do(func() {
				now := time.Now()
				for identity, expiry := range c.leases {
					if expiry.Before(now) {
						c.log.Info().Str("identity", identity).Msg("lease expired")
						c.expireIdentity(identity)
						metrics.ExpiredLeases.Inc()
					}
				}
			})
		}
	}
}

func causeLabel(cause map[string]string) string {
	if c := cause["cause"]; c != "" {
		return c
	}
	return "update"
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
