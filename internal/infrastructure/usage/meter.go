// Package usage meters provider spend. Every successful call appends a
// UsageRecord; running totals live in atomics so hot-path reads never block,
// and a hard USD cap refuses further calls once crossed.
package usage

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// Sink receives records for durable storage. The persistence layer
// implements it; a nil sink keeps the meter purely in-memory.
type Sink interface {
	AppendUsage(rec entity.UsageRecord) error
}

// Meter is the process-wide usage accountant.
type Meter struct {
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	calls        atomic.Int64
	costMicroUSD atomic.Int64 // cost in millionths of a dollar, atomically addable

	capUSD atomic.Value // float64; 0 disables the cap

	mu      sync.RWMutex
	records []entity.UsageRecord

	sink   Sink
	logger *zap.Logger
}

// NewMeter builds a meter with the given hard cap (0 = uncapped).
func NewMeter(capUSD float64, sink Sink, logger *zap.Logger) *Meter {
	m := &Meter{sink: sink, logger: logger.With(zap.String("component", "usage-meter"))}
	m.capUSD.Store(capUSD)
	return m
}

// Record accounts one successful provider call.
func (m *Meter) Record(sessionID, model string, u entity.TokenUsage, intent string) entity.UsageRecord {
	cost := Cost(model, u.InputTokens, u.OutputTokens)
	rec := entity.UsageRecord{
		Timestamp:    time.Now(),
		SessionID:    sessionID,
		Model:        model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      cost,
		Intent:       intent,
	}

	m.inputTokens.Add(int64(u.InputTokens))
	m.outputTokens.Add(int64(u.OutputTokens))
	m.calls.Add(1)
	m.costMicroUSD.Add(int64(cost * 1e6))

	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()

	if m.sink != nil {
		if err := m.sink.AppendUsage(rec); err != nil {
			m.logger.Warn("Usage sink append failed", zap.Error(err))
		}
	}
	return rec
}

// TotalCostUSD is the process-lifetime spend.
func (m *Meter) TotalCostUSD() float64 {
	return float64(m.costMicroUSD.Load()) / 1e6
}

// Totals snapshots the running aggregate.
func (m *Meter) Totals() entity.UsageTotals {
	return entity.UsageTotals{
		InputTokens:  m.inputTokens.Load(),
		OutputTokens: m.outputTokens.Load(),
		CostUSD:      m.TotalCostUSD(),
		Calls:        m.calls.Load(),
	}
}

// SetCap changes the hard cap at runtime.
func (m *Meter) SetCap(capUSD float64) {
	m.capUSD.Store(capUSD)
}

// Cap returns the configured ceiling.
func (m *Meter) Cap() float64 {
	v, _ := m.capUSD.Load().(float64)
	return v
}

// CheckCostCap returns a CodeCostCap error once the running total has
// reached the ceiling. Callers check before every provider call, fallbacks
// included; a total sitting exactly at the cap refuses the next call.
func (m *Meter) CheckCostCap() error {
	capUSD := m.Cap()
	if capUSD <= 0 {
		return nil
	}
	total := m.TotalCostUSD()
	if total >= capUSD {
		return apperrors.New(apperrors.CodeCostCap,
			fmt.Sprintf("cost cap reached: $%.4f of $%.2f spent; raise llm.cost_cap_usd to continue", total, capUSD))
	}
	return nil
}

// Daily aggregates records by calendar day, newest first.
func (m *Meter) Daily() []entity.UsageRollup {
	return m.rollup("2006-01-02")
}

// Monthly aggregates records by month, newest first.
func (m *Meter) Monthly() []entity.UsageRollup {
	return m.rollup("2006-01")
}

func (m *Meter) rollup(layout string) []entity.UsageRollup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byPeriod := make(map[string]*entity.UsageRollup)
	for _, rec := range m.records {
		period := rec.Timestamp.Format(layout)
		r, ok := byPeriod[period]
		if !ok {
			r = &entity.UsageRollup{Period: period}
			byPeriod[period] = r
		}
		r.InputTokens += int64(rec.InputTokens)
		r.OutputTokens += int64(rec.OutputTokens)
		r.CostUSD += rec.CostUSD
		r.Calls++
	}

	out := make([]entity.UsageRollup, 0, len(byPeriod))
	for _, r := range byPeriod {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	return out
}

// ByModel breaks usage down per model, highest spend first.
func (m *Meter) ByModel() []entity.ModelUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byModel := make(map[string]*entity.ModelUsage)
	for _, rec := range m.records {
		r, ok := byModel[rec.Model]
		if !ok {
			r = &entity.ModelUsage{Model: rec.Model}
			byModel[rec.Model] = r
		}
		r.InputTokens += int64(rec.InputTokens)
		r.OutputTokens += int64(rec.OutputTokens)
		r.CostUSD += rec.CostUSD
		r.Calls++
	}

	out := make([]entity.ModelUsage, 0, len(byModel))
	for _, r := range byModel {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CostUSD > out[j].CostUSD })
	return out
}
