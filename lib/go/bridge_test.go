package varbridge

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varhub/varhub/internal/registry"
	"github.com/varhub/varhub/internal/server"
	"github.com/varhub/varhub/internal/vartype"
)

type harness struct {
	coord *registry.Coordinator
	url   string
}

func newHarness(t *testing.T, opts ...registry.Option) *harness {
	t.Helper()
	coord := registry.New(registry.Config{}, zerolog.Nop(), opts...)
	t.Cleanup(coord.Close)

	srv := server.New(coord, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{
		coord: coord,
		url:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (h *harness) dial(t *testing.T, cfg Config) *Bridge {
	t.Helper()
	cfg.URL = h.url
	b, err := Dial(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRegisterGetOverWire(t *testing.T) {
	h := newHarness(t)
	b := h.dial(t, Config{})

	id, err := b.Register(RegisterSpec{
		Name:  "temperature",
		Type:  vartype.TagFloat,
		Value: 0.7,
		Constraints: []vartype.Constraint{
			{Name: "min", Spec: 0.0},
			{Name: "max", Spec: 2.0},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	v, err := b.Get("temperature")
	require.NoError(t, err)
	assert.Equal(t, id, v.ID)
	assert.Equal(t, 0.7, v.Value)
	require.Len(t, v.Constraints, 2)
	assert.Equal(t, "min", v.Constraints[0].Name)
}

func TestErrorKindsSurviveTheWire(t *testing.T) {
	h := newHarness(t)
	b := h.dial(t, Config{})

	_, err := b.Register(RegisterSpec{Name: "dup", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)
	_, err = b.Register(RegisterSpec{Name: "dup", Type: vartype.TagFloat, Value: 2.0})
	var taken *registry.NameTakenError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, "dup", taken.Name)

	_, err = b.Get("ghost")
	var nf *registry.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost", nf.Key)

	err = b.Update("dup", "not a float", nil)
	var ve *registry.ValidationError
	assert.ErrorAs(t, err, &ve)

	id, err := b.Register(RegisterSpec{
		Name: "bounded", Type: vartype.TagFloat, Value: 1.0,
		Constraints: []vartype.Constraint{{Name: "max", Spec: 2.0}},
	})
	require.NoError(t, err)
	err = b.Update(id, 3.0, nil)
	var cve *registry.ConstraintViolationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, "max", cve.Constraint)
}

func TestCacheHitsUntilInvalidated(t *testing.T) {
	h := newHarness(t)
	b := h.dial(t, Config{})

	id, err := b.Register(RegisterSpec{Name: "cached", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)

	v, err := b.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Value)

	// Commit a new value directly on the coordinator. The cached copy stays
	// until an explicit invalidation; elapsed time never evicts.
	require.NoError(t, h.coord.Update(id, 2.0, nil))
	for i := 0; i < 3; i++ {
		v, err = b.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 1.0, v.Value)
	}
	v, err = b.Get("cached") // the name hits the same entry
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Value)

	b.Invalidate(id)
	v, err = b.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.Value)

	// InvalidateAll empties everything.
	require.NoError(t, h.coord.Update(id, 3.0, nil))
	b.InvalidateAll()
	v, err = b.Get("cached")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v.Value)
}

type captureSink struct {
	mu     sync.Mutex
	usage  []registry.UsageRecord
	impact []registry.ImpactRecord
}

func (s *captureSink) ConsumeUsage(batch []registry.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, batch...)
}

func (s *captureSink) ConsumeImpact(batch []registry.ImpactRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.impact = append(s.impact, batch...)
}

func (s *captureSink) usageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usage)
}

func TestUsageBufferFlushesExactlyAtBatchSize(t *testing.T) {
	sink := &captureSink{}
	h := newHarness(t, registry.WithSink(sink))
	b := h.dial(t, Config{UsageBatchSize: 3})

	id, err := b.Register(RegisterSpec{Name: "used", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)

	require.NoError(t, b.ReportUsage(id, 1.0, "sampler"))
	require.NoError(t, b.ReportUsage(id, 1.0, "sampler"))
	assert.Equal(t, 2, b.PendingUsage())
	assert.Equal(t, 0, sink.usageCount())

	// The third record reaches the batch size: flushed in one call, buffer
	// empty immediately after.
	require.NoError(t, b.ReportUsage(id, 1.0, "sampler"))
	assert.Equal(t, 0, b.PendingUsage())
	assert.Equal(t, 3, sink.usageCount())
}

func TestGetBuffersUsageAutomatically(t *testing.T) {
	sink := &captureSink{}
	h := newHarness(t, registry.WithSink(sink))
	b := h.dial(t, Config{UsageBatchSize: 3, Site: "loader"})

	id, err := b.Register(RegisterSpec{Name: "consumed", Type: vartype.TagFloat, Value: 0.7})
	require.NoError(t, err)

	_, err = b.Get(id)
	require.NoError(t, err)
	_, err = b.Get(id) // a cache hit is still a consumption
	require.NoError(t, err)
	assert.Equal(t, 2, b.PendingUsage())
	assert.Equal(t, 0, sink.usageCount())

	// The third read reaches the batch size and flushes in one call.
	_, err = b.Get("consumed")
	require.NoError(t, err)
	assert.Equal(t, 0, b.PendingUsage())
	require.Equal(t, 3, sink.usageCount())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, id, sink.usage[0].VariableID)
	assert.Equal(t, "loader", sink.usage[0].Site)
	assert.NotZero(t, sink.usage[0].Timestamp)
}

func TestInjectorApplyReportsUsage(t *testing.T) {
	sink := &captureSink{}
	h := newHarness(t, registry.WithSink(sink))
	b := h.dial(t, Config{Site: "injector"})

	_, err := b.Register(RegisterSpec{Name: "temperature", Type: vartype.TagFloat, Value: 0.7})
	require.NoError(t, err)

	target := &struct{ Temperature float64 }{}
	inj, err := NewInjector(b, []InjectionPoint{
		{Variable: "temperature", Target: target, Path: "Temperature"},
	})
	require.NoError(t, err)

	require.NoError(t, inj.Apply())
	assert.Equal(t, 0.7, target.Temperature)
	assert.Equal(t, 1, b.PendingUsage())

	require.NoError(t, b.Flush())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.usage, 1)
	assert.Equal(t, "injector", sink.usage[0].Site)
}

func TestExplicitFlushSendsPartialBatches(t *testing.T) {
	sink := &captureSink{}
	h := newHarness(t, registry.WithSink(sink))
	b := h.dial(t, Config{UsageBatchSize: 100})

	id, err := b.Register(RegisterSpec{Name: "used", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)

	require.NoError(t, b.ReportUsage(id, 1.0, "sampler"))
	require.NoError(t, b.ReportImpact(id, "accuracy", 0.92, 10))
	require.NoError(t, b.Flush())

	assert.Equal(t, 0, b.PendingUsage())
	assert.Equal(t, 0, b.PendingImpact())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.usage, 1)
	assert.Equal(t, "sampler", sink.usage[0].Site)
	require.Len(t, sink.impact, 1)
	assert.Equal(t, "accuracy", sink.impact[0].Metric)
}

func TestObserveDeliversCommittedUpdates(t *testing.T) {
	h := newHarness(t)
	b := h.dial(t, Config{})

	id, err := b.Register(RegisterSpec{Name: "watched", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []float64
	require.NoError(t, b.Observe(id, func(v Variable, cause map[string]string) {
		mu.Lock()
		got = append(got, v.Value.(float64))
		mu.Unlock()
	}))

	require.NoError(t, b.Update(id, 2.0, map[string]string{"cause": "tune"}))
	require.NoError(t, b.Update(id, 3.0, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{2.0, 3.0}, got)
}

func TestLockContentionAcrossBridges(t *testing.T) {
	h := newHarness(t)
	b1 := h.dial(t, Config{})
	b2 := h.dial(t, Config{})

	id, err := b1.Register(RegisterSpec{Name: "contended", Type: vartype.TagFloat, Value: 1.0})
	require.NoError(t, err)

	require.NoError(t, b1.StartOptimization(id))
	err = b2.StartOptimization(id)
	var locked *registry.AlreadyLockedError
	require.ErrorAs(t, err, &locked)
	assert.NotEmpty(t, locked.Holder)

	require.NoError(t, b1.EndOptimization(id))
	assert.NoError(t, b2.StartOptimization(id))
}

func TestRequestTimeout(t *testing.T) {
	// A server that upgrades and then discards every frame.
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	b, err := Dial(Config{
		URL:            "ws" + strings.TrimPrefix(ts.URL, "http"),
		RequestTimeout: 50 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Get("anything")
	var timeout *registry.TimeoutError
	require.ErrorAs(t, err, &timeout)
}

func TestCallsFailAfterClose(t *testing.T) {
	h := newHarness(t)
	b := h.dial(t, Config{})
	require.NoError(t, b.Close())

	_, err := b.Get("anything")
	assert.True(t, errors.Is(err, ErrClosed))
}
