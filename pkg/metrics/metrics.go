// Metric primitives rendered in the Prometheus text format
//
// Counters, gauges and histograms keyed by label sets, grouped in a
// Registry whose Gather output is what the /metrics endpoint serves.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "unknown"
}

// Labels is a metric label set.
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key is a canonical identity of the label set.
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the set as {k="v",...}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	parts := make([]string, 0, len(l))
	for _, k := range l.sortedKeys() {
		parts = append(parts, k+`="`+escapeLabel(l[k])+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (l Labels) with(k, v string) Labels {
	out := make(Labels, len(l)+1)
	for key, val := range l {
		out[key] = val
	}
	out[k] = v
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is implemented by every metric kind.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// series holds one value per label set, written out in key order so the
// exposition is stable.
type series[V any] struct {
	mu     sync.Mutex
	labels map[string]Labels
	values map[string]*V
}

func (s *series[V]) get(l Labels, init func() *V) *V {
	key := l.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]*V)
		s.labels = make(map[string]Labels)
	}
	v, ok := s.values[key]
	if !ok {
		v = init()
		s.values[key] = v
		s.labels[key] = l
	}
	return v
}

func (s *series[V]) each(fn func(Labels, *V)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fn(s.labels[k], s.values[k])
	}
}

func writeHeader(sb *strings.Builder, name, help string, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, t)
}

// Counter only goes up.
type Counter struct {
	name, help string
	s          series[uint64]
}

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc adds one.
func (c *Counter) Inc(l Labels) { c.Add(l, 1) }

// Add adds delta.
func (c *Counter) Add(l Labels, delta uint64) {
	v := c.s.get(l, func() *uint64 { return new(uint64) })
	c.s.mu.Lock()
	*v += delta
	c.s.mu.Unlock()
}

// Get returns the value for l.
func (c *Counter) Get(l Labels) uint64 {
	v := c.s.get(l, func() *uint64 { return new(uint64) })
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return *v
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c.name, c.help, TypeCounter)
	c.s.each(func(l Labels, v *uint64) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, l, *v)
	})
}

// Gauge goes up and down.
type Gauge struct {
	name, help string
	s          series[float64]
}

// NewGauge creates a gauge.
func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

// Set stores value.
func (g *Gauge) Set(l Labels, value float64) {
	v := g.s.get(l, func() *float64 { return new(float64) })
	g.s.mu.Lock()
	*v = value
	g.s.mu.Unlock()
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(l Labels, delta float64) {
	v := g.s.get(l, func() *float64 { return new(float64) })
	g.s.mu.Lock()
	*v += delta
	g.s.mu.Unlock()
}

// Get returns the value for l.
func (g *Gauge) Get(l Labels) float64 {
	v := g.s.get(l, func() *float64 { return new(float64) })
	g.s.mu.Lock()
	defer g.s.mu.Unlock()
	return *v
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g.name, g.help, TypeGauge)
	g.s.each(func(l Labels, v *float64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, l, formatFloat(*v))
	})
}

type histogramValue struct {
	counts []uint64
	sum    float64
	count  uint64
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name, help string
	buckets    []float64
	s          series[histogramValue]
}

// NewHistogram creates a histogram over the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	return &Histogram{name: name, help: help, buckets: b}
}

// ExponentialBuckets returns count bounds starting at start.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	b := make([]float64, count)
	for i := range b {
		b[i] = start
		start *= factor
	}
	return b
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

func (h *Histogram) value(l Labels) *histogramValue {
	return h.s.get(l, func() *histogramValue {
		return &histogramValue{counts: make([]uint64, len(h.buckets))}
	})
}

// Observe records one value.
func (h *Histogram) Observe(l Labels, value float64) {
	v := h.value(l)
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	for i, ub := range h.buckets {
		if value <= ub {
			v.counts[i]++
		}
	}
	v.sum += value
	v.count++
}

// Count returns the number of observations for l.
func (h *Histogram) Count(l Labels) uint64 {
	v := h.value(l)
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return v.count
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h.name, h.help, TypeHistogram)
	h.s.each(func(l Labels, v *histogramValue) {
		for i, ub := range h.buckets {
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", formatFloat(ub)), v.counts[i])
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, l.with("le", "+Inf"), v.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, l, formatFloat(v.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, l, v.count)
	})
}

// Registry is a named set of metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds m. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[m.Name()]; ok {
		return fmt.Errorf("metric %s already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	return nil
}

// MustRegister is Register that panics on a duplicate.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Get looks a metric up by name.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every metric, sorted by name.
func (r *Registry) Gather() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for n := range r.metrics {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var sb strings.Builder
	for _, n := range names {
		if m := r.Get(n); m != nil {
			m.Write(&sb)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
