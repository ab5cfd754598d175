package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varhub/varhub/internal/metrics"
	"github.com/varhub/varhub/internal/variable"
	"github.com/varhub/varhub/internal/vartype"
)

func newTestCoordinator(t *testing.T, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	c := New(cfg, zerolog.Nop(), opts...)
	t.Cleanup(c.Close)
	return c
}

func registerTemperature(t *testing.T, c *Coordinator) string {
	t.Helper()
	id, err := c.Register(RegisterRequest{
		Name:  "temperature",
		Type:  vartype.TagFloat,
		Value: 0.7,
		Constraints: []vartype.Constraint{
			{Name: "min", Spec: 0.0},
			{Name: "max", Spec: 2.0},
		},
	})
	require.NoError(t, err)
	return id
}

func TestRegisterGetRoundTrip(t *testing.T) {
	c := newTestCoordinator(t, Config{})

	tests := []struct {
		name string
		req  RegisterRequest
		want any
	}{
		{
			name: "float cast from int",
			req:  RegisterRequest{Name: "rate", Type: vartype.TagFloat, Value: 1},
			want: 1.0,
		},
		{
			name: "integer",
			req:  RegisterRequest{Name: "budget", Type: vartype.TagInteger, Value: 512},
			want: int64(512),
		},
		{
			name: "bool from string",
			req:  RegisterRequest{Name: "verbose", Type: vartype.TagBool, Value: "true"},
			want: true,
		},
		{
			name: "choice",
			req: RegisterRequest{
				Name: "mode", Type: vartype.TagChoice, Value: "fast",
				Constraints: []vartype.Constraint{{Name: "choices", Spec: []any{"fast", "slow"}}},
			},
			want: "fast",
		},
		{
			name: "reference",
			req:  RegisterRequest{Name: "impl", Type: vartype.TagReference, Value: "fast_impl"},
			want: "fast_impl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := c.Register(tt.req)
			require.NoError(t, err)

			rec, err := c.Get(id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Value)

			byName, err := c.Get(tt.req.Name)
			require.NoError(t, err)
			assert.Equal(t, id, byName.ID)
		})
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	registerTemperature(t, c)

	_, err := c.Register(RegisterRequest{Name: "temperature", Type: vartype.TagFloat, Value: 0.1})
	var taken *NameTakenError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "temperature", taken.Name)
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	c := newTestCoordinator(t, Config{})

	_, err := c.Register(RegisterRequest{Name: "", Type: vartype.TagFloat, Value: 1.0})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = c.Register(RegisterRequest{Name: "x", Type: vartype.Tag("complex"), Value: 1.0})
	assert.ErrorAs(t, err, &ve)

	_, err = c.Register(RegisterRequest{Name: "y", Type: vartype.TagFloat, Value: "oops"})
	assert.ErrorAs(t, err, &ve)

	// Initial value must satisfy constraints too.
	_, err = c.Register(RegisterRequest{
		Name: "z", Type: vartype.TagFloat, Value: 5.0,
		Constraints: []vartype.Constraint{{Name: "max", Spec: 2.0}},
	})
	var cve *ConstraintViolationError
	assert.ErrorAs(t, err, &cve)
}

func TestUpdateTemperatureScenario(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	id := registerTemperature(t, c)

	// Violating update fails atomically and names the constraint.
	err := c.Update(id, 2.5, nil)
	var cve *ConstraintViolationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, "max", cve.Constraint)
	assert.Equal(t, 2.0, cve.Bound)

	rec, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0.7, rec.Value)

	// Valid update commits and extends history chronologically.
	require.NoError(t, c.Update(id, 1.2, nil))
	rec, err = c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1.2, rec.Value)

	require.Len(t, rec.History, 2)
	assert.Equal(t, 0.7, rec.History[0].Value)
	assert.Equal(t, 1.2, rec.History[1].Value)
}

func TestUpdateUnknownVariable(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	err := c.Update("missing", 1.0, nil)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Key)
}

func TestHistoryCap(t *testing.T) {
	c := newTestCoordinator(t, Config{HistoryCap: 5})
	id := registerTemperature(t, c)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Update(id, float64(i)*0.1, nil))
	}
	rec, err := c.Get(id)
	require.NoError(t, err)
	require.Len(t, rec.History, 5)
	// Chronological with oldest evicted; last entry is the newest commit.
	assert.InDelta(t, 0.9, rec.History[4].Value, 1e-12)
}

func TestDependencies(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	baseID, err := c.Register(RegisterRequest{Name: "base", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)

	// Missing dependency rejected at declaration.
	_, err = c.Register(RegisterRequest{
		Name: "depends_on_ghost", Type: vartype.TagFloat, Value: 1.0,
		Dependencies: []string{"ghost"},
	})
	var unmet *UnmetDependencyError
	require.ErrorAs(t, err, &unmet)
	assert.Equal(t, "ghost", unmet.Dependency)

	// Self-dependency rejected.
	_, err = c.Register(RegisterRequest{
		Name: "selfish", Type: vartype.TagFloat, Value: 1.0,
		Dependencies: []string{"selfish"},
	})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	// Valid dependency accepted, by name or id.
	depID, err := c.Register(RegisterRequest{
		Name: "derived", Type: vartype.TagFloat, Value: 2.0,
		Dependencies: []string{baseID},
	})
	require.NoError(t, err)
	require.NoError(t, c.Update(depID, 3.0, nil))

	// Deleting the dependency makes later updates fail.
	require.NoError(t, c.Delete(baseID))
	err = c.Update(depID, 4.0, nil)
	require.ErrorAs(t, err, &unmet)
	assert.Equal(t, baseID, unmet.Dependency)
}

func TestDependencyCycleRejected(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	aID, err := c.Register(RegisterRequest{Name: "a", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)
	_, err = c.Register(RegisterRequest{
		Name: "b", Type: vartype.TagFloat, Value: 1.0,
		Dependencies: []string{aID},
	})
	require.NoError(t, err)

	// a <- b exists; registering c with deps forming b -> c -> a is fine,
	// but a variable whose dependency chain reaches back to itself by name
	// must be rejected at declaration.
	_, err = c.Register(RegisterRequest{
		Name: "a_loop", Type: vartype.TagFloat, Value: 1.0,
		Dependencies: []string{"a_loop"},
	})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestObserverFanOut(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	tempID := registerTemperature(t, c)
	otherID, err := c.Register(RegisterRequest{Name: "other", Type: vartype.TagFloat, Value: 0.0})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []float64
	sub := NewFuncSubscriber("sub-1", func(n Notification) {
		mu.Lock()
		got = append(got, n.Record.Value.(float64))
		mu.Unlock()
	})
	require.NoError(t, c.Observe(tempID, sub))

	require.NoError(t, c.Update(tempID, 1.0, nil))
	require.NoError(t, c.Update(otherID, 9.0, nil))
	require.NoError(t, c.Update(tempID, 1.5, nil))

	// Updates are serialized, so after the calls return the notifications
	// have been delivered in commit order.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1.0, 1.5}, got)
}

func TestUnobserveStopsNotifications(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	id := registerTemperature(t, c)

	var mu sync.Mutex
	count := 0
	sub := NewFuncSubscriber("sub-1", func(Notification) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, c.Observe(id, sub))
	require.NoError(t, c.Update(id, 1.0, nil))
	require.NoError(t, c.Unobserve(id, sub.ID()))
	require.NoError(t, c.Update(id, 1.5, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestConcurrentLockContention(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	id := registerTemperature(t, c)

	const sessions = 8
	errs := make([]error, sessions)
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.StartOptimization(id, sessionName(i))
		}(i)
	}
	wg.Wait()

	winners := 0
	var holder string
	for i, err := range errs {
		if err == nil {
			winners++
			holder = sessionName(i)
			continue
		}
		var locked *AlreadyLockedError
		require.ErrorAs(t, err, &locked)
		assert.NotEmpty(t, locked.Holder)
	}
	assert.Equal(t, 1, winners)

	rec, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, holder, rec.LockHolder)
}

func sessionName(i int) string {
	return "session-" + string(rune('a'+i))
}

func TestLockLifecycle(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	id := registerTemperature(t, c)

	require.NoError(t, c.StartOptimization(id, "opt-1"))
	// Re-acquiring the held lock is idempotent for the holder.
	require.NoError(t, c.StartOptimization(id, "opt-1"))

	err := c.StartOptimization(id, "opt-2")
	var locked *AlreadyLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "opt-1", locked.Holder)

	// Locks are advisory: a non-holder update still commits.
	require.NoError(t, c.Update(id, 1.0, map[string]string{"session": "opt-2"}))

	// End by a non-holder is a no-op.
	require.NoError(t, c.EndOptimization(id, "opt-2"))
	rec, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "opt-1", rec.LockHolder)

	require.NoError(t, c.EndOptimization(id, "opt-1"))
	rec, err = c.Get(id)
	require.NoError(t, err)
	assert.False(t, rec.Locked())

	// Released lock is acquirable again.
	require.NoError(t, c.StartOptimization(id, "opt-2"))
}

func TestLeaseExpiryCleansUpIdentity(t *testing.T) {
	c := newTestCoordinator(t, Config{
		LeaseTTL:      30 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	id := registerTemperature(t, c)

	var mu sync.Mutex
	count := 0
	sub := NewFuncSubscriber("dying", func(Notification) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, c.Observe(id, sub))
	require.NoError(t, c.StartOptimization(id, "dying"))
	require.NoError(t, c.Update(id, 1.0, nil))

	// Let the lease expire without heartbeats.
	require.Eventually(t, func() bool {
		rec, err := c.Get(id)
		return err == nil && !rec.Locked()
	}, time.Second, 10*time.Millisecond, "expired lease should release the lock")

	// Expiry never reverts the committed value.
	rec, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Value)

	mu.Lock()
	before := count
	mu.Unlock()
	require.NoError(t, c.Update(id, 1.5, nil))
	mu.Lock()
	assert.Equal(t, before, count, "expired subscriber must not be notified")
	mu.Unlock()
}

func TestHeartbeatKeepsLeaseAlive(t *testing.T) {
	c := newTestCoordinator(t, Config{
		LeaseTTL:      40 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	id := registerTemperature(t, c)
	require.NoError(t, c.StartOptimization(id, "keeper"))

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.Heartbeat("keeper")
		time.Sleep(10 * time.Millisecond)
	}

	rec, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "keeper", rec.LockHolder)
}

func TestDropIdentity(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	id := registerTemperature(t, c)

	sub := NewFuncSubscriber("gone", func(Notification) {
		t.Error("dropped subscriber must not be notified")
	})
	require.NoError(t, c.Observe(id, sub))
	require.NoError(t, c.StartOptimization(id, "gone"))

	c.DropIdentity("gone")

	rec, err := c.Get(id)
	require.NoError(t, err)
	assert.False(t, rec.Locked())
	require.NoError(t, c.Update(id, 1.0, nil))
}

func TestDeleteReleasesLockAndObservers(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	id := registerTemperature(t, c)
	require.NoError(t, c.StartOptimization(id, "opt-1"))
	require.NoError(t, c.Observe(id, NewFuncSubscriber("sub", func(Notification) {})))

	require.NoError(t, c.Delete(id))
	_, err := c.Get(id)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	// The name is free again.
	_, err = c.Register(RegisterRequest{Name: "temperature", Type: vartype.TagFloat, Value: 0.1})
	assert.NoError(t, err)
}

func TestSnapshotRestore(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	id := registerTemperature(t, c)
	require.NoError(t, c.Update(id, 1.2, nil))

	snap := c.Snapshot()
	require.Len(t, snap, 1)

	// Mutating the snapshot must not touch the live store.
	snap[0].Value = 99.0
	rec, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1.2, rec.Value)

	fresh := newTestCoordinator(t, Config{})
	snap[0].Value = 1.2
	require.NoError(t, fresh.Restore(snap))
	rec, err = fresh.Get("temperature")
	require.NoError(t, err)
	assert.Equal(t, 1.2, rec.Value)
}

type captureSink struct {
	mu     sync.Mutex
	usage  []UsageRecord
	impact []ImpactRecord
}

func (s *captureSink) ConsumeUsage(batch []UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, batch...)
}

func (s *captureSink) ConsumeImpact(batch []ImpactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.impact = append(s.impact, batch...)
}

func TestReportBatchesReachSink(t *testing.T) {
	sink := &captureSink{}
	c := newTestCoordinator(t, Config{}, WithSink(sink))

	require.NoError(t, c.ReportUsage([]UsageRecord{
		{VariableID: "id-1", Value: 0.7, Site: "sampler", Timestamp: time.Now()},
		{VariableID: "id-1", Value: 0.7, Site: "sampler", Timestamp: time.Now()},
	}))
	require.NoError(t, c.ReportImpact([]ImpactRecord{
		{VariableID: "id-1", Metric: "accuracy", Value: 0.91, Samples: 50},
	}))
	require.NoError(t, c.ReportUsage(nil))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.usage, 2)
	require.Len(t, sink.impact, 1)
	assert.Equal(t, "accuracy", sink.impact[0].Metric)
}

func TestListFilters(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	registerTemperature(t, c)
	_, err := c.Register(RegisterRequest{Name: "budget", Type: vartype.TagInteger, Value: 100})
	require.NoError(t, err)

	assert.Len(t, c.List(variable.Filter{}), 2)
	assert.Len(t, c.List(variable.Filter{Type: vartype.TagInteger}), 1)
	assert.Len(t, c.List(variable.Filter{NamePrefix: "temp"}), 1)
}

func TestCloseRefusesLateOperations(t *testing.T) {
	c := New(Config{}, zerolog.Nop())
	id := registerTemperature(t, c)
	c.Close()

	// Disconnect cleanup and heartbeats racing or following a shutdown must
	// degrade to no-ops, never panic on the stopped service.
	c.DropIdentity("session-1")
	c.Heartbeat("session-1")

	err := c.Update(id, 1.2, nil)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Register(RegisterRequest{Name: "late", Type: vartype.TagFloat, Value: 1.0})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Observe(id, NewFuncSubscriber("late-sub", func(Notification) {})), ErrClosed)

	c.Close() // idempotent
}

func TestCloseConcurrentWithDisconnects(t *testing.T) {
	c := New(Config{}, zerolog.Nop())
	id := registerTemperature(t, c)
	require.NoError(t, c.StartOptimization(id, "session-0"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.DropIdentity(sessionName(i))
		}(i)
	}
	c.Close()
	wg.Wait()
}

func TestRegisterFailureCountsMutationFailure(t *testing.T) {
	c := newTestCoordinator(t, Config{})

	before := testutil.ToFloat64(metrics.MutationFailures.WithLabelValues(CodeValidation))
	_, err := c.Register(RegisterRequest{Type: vartype.TagFloat, Value: 1.0})
	require.Error(t, err)
	after := testutil.ToFloat64(metrics.MutationFailures.WithLabelValues(CodeValidation))
	assert.Equal(t, before+1, after)
}

func TestRestoreDisplacesSameNamedVariable(t *testing.T) {
	c := newTestCoordinator(t, Config{})
	oldID := registerTemperature(t, c)
	require.NoError(t, c.StartOptimization(oldID, "session-1"))

	now := time.Now()
	restored := &variable.Record{
		ID:    "restored-id",
		Name:  "temperature",
		Type:  vartype.TagFloat,
		Value: 1.2,
		Metadata: variable.Metadata{
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	require.NoError(t, c.Restore([]*variable.Record{restored}))

	// The displaced record is gone by id, not orphaned behind the name.
	_, err := c.Get(oldID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)

	rec, err := c.Get("temperature")
	require.NoError(t, err)
	assert.Equal(t, "restored-id", rec.ID)
	assert.Equal(t, 1.2, rec.Value)
	assert.Len(t, c.List(variable.Filter{}), 1)
}
