package varbridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/varhub/varhub/internal/protocol"
)

// ReportUsage buffers one consumption observation. The buffer flushes
// automatically when it reaches UsageBatchSize; Flush sends a partial batch.
func (b *Bridge) ReportUsage(variableID string, value any, site string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("report usage %s: encode value: %w", variableID, err)
	}
	if batch := b.bufferUsage(protocol.UsageEntry{
		VariableID: variableID,
		Value:      raw,
		Site:       site,
		Timestamp:  time.Now(),
	}); batch != nil {
		return b.sendUsage(batch)
	}
	return nil
}

// recordUsage buffers the usage record for one successful Get. Telemetry
// trouble never fails the read; a flush error only logs.
func (b *Bridge) recordUsage(v Variable) {
	raw, err := json.Marshal(v.Value)
	if err != nil {
		b.log.Warn().Err(err).Str("variable", v.ID).Msg("usage record dropped")
		return
	}
	if batch := b.bufferUsage(protocol.UsageEntry{
		VariableID: v.ID,
		Value:      raw,
		Site:       b.cfg.Site,
		Timestamp:  time.Now(),
	}); batch != nil {
		if err := b.sendUsage(batch); err != nil {
			b.log.Warn().Err(err).Msg("usage batch flush failed")
		}
	}
}

// bufferUsage appends one entry and hands back the full buffer once it
// reaches the batch size.
func (b *Bridge) bufferUsage(entry protocol.UsageEntry) []protocol.UsageEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage = append(b.usage, entry)
	if len(b.usage) >= b.cfg.UsageBatchSize {
		batch := b.usage
		b.usage = nil
		return batch
	}
	return nil
}

// ReportImpact buffers one post-execution measurement. The buffer flushes
// automatically at ImpactBatchSize.
func (b *Bridge) ReportImpact(variableID, metric string, value float64, samples int) error {
	entry := protocol.ImpactEntry{
		VariableID: variableID,
		Metric:     metric,
		Value:      value,
		Samples:    samples,
	}

	b.mu.Lock()
	b.impact = append(b.impact, entry)
	var batch []protocol.ImpactEntry
	if len(b.impact) >= b.cfg.ImpactBatchSize {
		batch = b.impact
		b.impact = nil
	}
	b.mu.Unlock()

	if batch != nil {
		return b.sendImpact(batch)
	}
	return nil
}

// Flush sends both report buffers regardless of fill level. Empty buffers
// cost no round-trip.
func (b *Bridge) Flush() error {
	b.mu.Lock()
	usage := b.usage
	impact := b.impact
	b.usage = nil
	b.impact = nil
	b.mu.Unlock()

	if len(usage) > 0 {
		if err := b.sendUsage(usage); err != nil {
			return err
		}
	}
	if len(impact) > 0 {
		if err := b.sendImpact(impact); err != nil {
			return err
		}
	}
	return nil
}

// PendingUsage returns the number of buffered usage records.
func (b *Bridge) PendingUsage() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.usage)
}

// PendingImpact returns the number of buffered impact records.
func (b *Bridge) PendingImpact() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.impact)
}

func (b *Bridge) sendUsage(batch []protocol.UsageEntry) error {
	if _, err := b.call(protocol.MsgUsageBatch, protocol.UsageBatch{Records: batch}); err != nil {
		return fmt.Errorf("usage batch: %w", err)
	}
	return nil
}

func (b *Bridge) sendImpact(batch []protocol.ImpactEntry) error {
	if _, err := b.call(protocol.MsgImpactBatch, protocol.ImpactBatch{Records: batch}); err != nil {
		return fmt.Errorf("impact batch: %w", err)
	}
	return nil
}
