// Package status tracks per-provider request outcomes and derives a health
// classification from them.
package status

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/core"
)

// Classification thresholds.
const (
	LatencySamples          = 1000
	RecentFailureWindow     = 30 * time.Second
	DegradedRPMHeadroom     = 5
	DegradedLatencyMs       = 2000.0
	DegradedFailureRate     = 0.01
	DefaultRateLimitHistory = 5 * time.Minute
)

// ProviderConfig is the subset of provider configuration used for classification.
type ProviderConfig struct {
	Enabled  bool
	RPMLimit int
}

// Tracker records provider outcomes. Entries are created on first use.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*entry
	// keep429 bounds how long 429 timestamps are kept. Guarded by mu.
	keep429 time.Duration

	Clock func() time.Time
}

type entry struct {
	mu sync.Mutex

	totalRequests  int64
	totalFailures  int64
	totalCancelled int64

	latencies latencyRing

	lastError       string
	lastErrorTime   time.Time
	last429Time     time.Time
	lastRequestTime time.Time
	rpmCurrent      int

	recent429 []time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{providers: make(map[string]*entry)}
}

// RecordRequest records a completed provider call. err is only inspected when
// success is false.
func (t *Tracker) RecordRequest(provider string, latencyMs float64, success bool, err error) {
	e := t.entry(provider)
	if e == nil {
		return
	}
	now := t.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalRequests++
	e.lastRequestTime = now
	if latencyMs < 0 {
		latencyMs = 0
	}
	e.latencies.add(latencyMs)
	if !success {
		e.totalFailures++
		e.lastErrorTime = now
		if err != nil {
			e.lastError = err.Error()
		} else {
			e.lastError = "unknown error"
		}
	}
}

// RecordRateLimit stamps a provider-side 429.
func (t *Tracker) RecordRateLimit(provider string) {
	e := t.entry(provider)
	if e == nil {
		return
	}
	now := t.now()
	cutoff := now.Add(-t.RateLimitHistory())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.last429Time = now
	e.recent429 = append(e.recent429, now)
	e.prune429(cutoff)
}

// RecordCancelled records a call abandoned because the caller went away.
func (t *Tracker) RecordCancelled(provider string) {
	e := t.entry(provider)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalCancelled++
	e.lastRequestTime = t.now()
}

// SetRPMCurrent records the number of requests admitted in the trailing minute.
func (t *Tracker) SetRPMCurrent(provider string, n int) {
	e := t.entry(provider)
	if e == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rpmCurrent = n
}

// RateLimitsSince counts 429s recorded at or after since.
func (t *Tracker) RateLimitsSince(provider string, since time.Time) int {
	e := t.lookup(provider)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, ts := range e.recent429 {
		if !ts.Before(since) {
			count++
		}
	}
	return count
}

// Status classifies a provider. The first matching rule wins.
func (t *Tracker) Status(provider string, cfg ProviderConfig) core.ProviderStatus {
	if !cfg.Enabled {
		return core.StatusUnavailable
	}

	m := t.Snapshot(provider)
	now := t.now()

	rpmAvailable := cfg.RPMLimit - m.RPMCurrent
	if cfg.RPMLimit > 0 && rpmAvailable <= 0 {
		return core.StatusUnavailable
	}
	if m.LastErrorTime != nil && now.Sub(*m.LastErrorTime) < RecentFailureWindow {
		return core.StatusUnavailable
	}
	if cfg.RPMLimit > 0 && rpmAvailable < DegradedRPMHeadroom {
		return core.StatusDegraded
	}
	if m.AvgLatencyMs >= DegradedLatencyMs {
		return core.StatusDegraded
	}
	if m.FailureRate >= DegradedFailureRate {
		return core.StatusDegraded
	}
	return core.StatusHealthy
}

// StatusAll classifies every provider in cfgs.
func (t *Tracker) StatusAll(cfgs map[string]ProviderConfig) map[string]core.ProviderStatus {
	out := make(map[string]core.ProviderStatus, len(cfgs))
	for name, cfg := range cfgs {
		out[name] = t.Status(name, cfg)
	}
	return out
}

// Snapshot returns the metrics of one provider. Unknown providers yield zero values.
func (t *Tracker) Snapshot(provider string) core.ProviderMetrics {
	name := normalize(provider)
	e := t.lookup(name)
	if e == nil {
		return core.ProviderMetrics{Provider: name}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(name)
}

// Snapshots returns metrics for every tracked provider.
func (t *Tracker) Snapshots() map[string]core.ProviderMetrics {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	entries := make(map[string]*entry, len(t.providers))
	for name, e := range t.providers {
		entries[name] = e
	}
	t.mu.RUnlock()

	out := make(map[string]core.ProviderMetrics, len(entries))
	for name, e := range entries {
		e.mu.Lock()
		out[name] = e.snapshot(name)
		e.mu.Unlock()
	}
	return out
}

// Providers lists tracked providers, sorted.
func (t *Tracker) Providers() []string {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forgets everything recorded for provider.
func (t *Tracker) Reset(provider string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.providers, normalize(provider))
}

func (t *Tracker) entry(provider string) *entry {
	if t == nil {
		return nil
	}
	name := normalize(provider)
	if name == "" {
		return nil
	}
	if e := t.lookup(name); e != nil {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.providers == nil {
		t.providers = make(map[string]*entry)
	}
	if e, ok := t.providers[name]; ok {
		return e
	}
	e := &entry{}
	t.providers[name] = e
	return e
}

func (t *Tracker) lookup(provider string) *entry {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.providers[normalize(provider)]
}

// SetRateLimitHistory changes how long 429 timestamps are kept. Values below
// DefaultRateLimitHistory are raised to it.
func (t *Tracker) SetRateLimitHistory(d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keep429 = max(d, DefaultRateLimitHistory)
}

// RateLimitHistory returns how long 429 timestamps are kept.
func (t *Tracker) RateLimitHistory() time.Duration {
	if t == nil {
		return DefaultRateLimitHistory
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.keep429 > 0 {
		return t.keep429
	}
	return DefaultRateLimitHistory
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}

func (e *entry) prune429(cutoff time.Time) {
	drop := 0
	for drop < len(e.recent429) && e.recent429[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		e.recent429 = append(e.recent429[:0], e.recent429[drop:]...)
	}
}

func (e *entry) snapshot(name string) core.ProviderMetrics {
	m := core.ProviderMetrics{
		Provider:       name,
		TotalRequests:  e.totalRequests,
		TotalFailures:  e.totalFailures,
		TotalCancelled: e.totalCancelled,
		LastError:      e.lastError,
		RPMCurrent:     e.rpmCurrent,
		Samples:        e.latencies.len(),
		AvgLatencyMs:   e.latencies.mean(),
		P95LatencyMs:   e.latencies.percentile(0.95),
	}
	if e.totalRequests > 0 {
		m.FailureRate = float64(e.totalFailures) / float64(e.totalRequests)
	}
	m.LastErrorTime = timePtr(e.lastErrorTime)
	m.Last429Time = timePtr(e.last429Time)
	m.LastRequestTime = timePtr(e.lastRequestTime)
	return m
}

// latencyRing keeps the most recent LatencySamples values.
type latencyRing struct {
	values []float64
	next   int
	full   bool
}

func (r *latencyRing) add(v float64) {
	if r.values == nil {
		r.values = make([]float64, LatencySamples)
	}
	r.values[r.next] = v
	r.next = (r.next + 1) % len(r.values)
	if r.next == 0 {
		r.full = true
	}
}

func (r *latencyRing) len() int {
	if r.full {
		return len(r.values)
	}
	return r.next
}

func (r *latencyRing) mean() float64 {
	n := r.len()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range r.values[:n] {
		sum += v
	}
	return sum / float64(n)
}

// percentile uses the nearest-rank method.
func (r *latencyRing) percentile(p float64) float64 {
	n := r.len()
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, r.values[:n])
	sort.Float64s(sorted)
	rank := int(math.Ceil(p*float64(n))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= n {
		rank = n - 1
	}
	return sorted[rank]
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t
	return &v
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
