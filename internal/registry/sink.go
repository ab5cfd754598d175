package registry

import (
	"time"

	"github.com/rs/zerolog"
)

// UsageRecord is one buffered observation of a variable value being
// consumed by a workload.
type UsageRecord struct {
	VariableID string    `json:"variable_id"`
	Value      any       `json:"value"`
	Site       string    `json:"consumption_site"`
	Timestamp  time.Time `json:"timestamp"`
}

// ImpactRecord is one post-execution measurement attributed to a variable.
type ImpactRecord struct {
	VariableID string  `json:"variable_id"`
	Metric     string  `json:"metric_name"`
	Value      float64 `json:"metric_value"`
	Samples    int     `json:"sample_count"`
}

// Sink consumes flushed usage and impact batches. Implementations must be
// safe for concurrent use; the persistence/telemetry collaborator behind it
// is out of scope here.
type Sink interface {
	ConsumeUsage(batch []UsageRecord)
	ConsumeImpact(batch []ImpactRecord)
}

// LogSink writes batches to the coordinator log. It is the default sink
// when no telemetry collaborator is wired in.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) ConsumeUsage(batch []UsageRecord) {
	for _, rec := range batch {
		s.Log.Debug().
			Str("variable", rec.VariableID).
			Str("site", rec.Site).
			Interface("value", rec.Value).
			Time("at", rec.Timestamp).
			Msg("usage")
	}
	s.Log.Info().Int("records", len(batch)).Msg("usage batch ingested")
}

func (s LogSink) ConsumeImpact(batch []ImpactRecord) {
	for _, rec := range batch {
		s.Log.Debug().
			Str("variable", rec.VariableID).
			Str("metric", rec.Metric).
			Float64("value", rec.Value).
			Int("samples", rec.Samples).
			Msg("impact")
	}
	s.Log.Info().Int("records", len(batch)).Msg("impact batch ingested")
}
