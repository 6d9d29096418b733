package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Opts struct {
	Name string
	Help string
}

type collector interface {
	name() string
	writePrometheus(*strings.Builder)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{
		collectors: map[string]collector{},
	}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		name := item.name()
		if _, exists := r.collectors[name]; exists {
			panic("metrics collector already registered: " + name)
		}
		r.collectors[name] = item
	}
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func (r *Registry) Render() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	collectors := make([]collector, 0, len(names))
	for _, name := range names {
		collectors = append(collectors, r.collectors[name])
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, c := range collectors {
		c.writePrometheus(&sb)
	}
	return sb.String()
}

var Default = NewRegistry()
var processStart = time.Now()

func DefaultHandler() http.Handler {
	return Default.Handler()
}

type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string {
	return g.opts.Name
}

func (g *GaugeFunc) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, g.opts.Name, "gauge", g.opts.Help)
	v := 0.0
	if g.fn != nil {
		v = g.fn()
	}
	fmt.Fprintf(sb, "%s %s\n", g.opts.Name, floatToString(v))
}

// vec holds one float per label combination. Counters and gauges share it.
type vec struct {
	opts       Opts
	kind       string
	labelNames []string

	mu     sync.RWMutex
	values map[string]float64
}

func newVec(opts Opts, kind string, labelNames []string) *vec {
	copied := make([]string, len(labelNames))
	copy(copied, labelNames)
	return &vec{opts: opts, kind: kind, labelNames: copied, values: map[string]float64{}}
}

func (v *vec) name() string {
	return v.opts.Name
}

func (v *vec) update(labelValues []string, fn func(float64) float64) {
	if len(labelValues) != len(v.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	v.mu.Lock()
	v.values[key] = fn(v.values[key])
	v.mu.Unlock()
}

func (v *vec) value(labelValues []string) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[strings.Join(labelValues, "\xff")]
}

func (v *vec) writePrometheus(sb *strings.Builder) {
	writeMetricHead(sb, v.opts.Name, v.kind, v.opts.Help)

	v.mu.RLock()
	keys := make([]string, 0, len(v.values))
	for key := range v.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]float64, len(keys))
	for i, key := range keys {
		values[i] = v.values[key]
	}
	v.mu.RUnlock()

	for i, key := range keys {
		sb.WriteString(v.opts.Name)
		if len(v.labelNames) > 0 {
			labelValues := strings.Split(key, "\xff")
			sb.WriteString("{")
			for idx, labelName := range v.labelNames {
				if idx > 0 {
					sb.WriteString(",")
				}
				sb.WriteString(labelName)
				sb.WriteString(`="`)
				sb.WriteString(escapeLabelValue(labelValues[idx]))
				sb.WriteString(`"`)
			}
			sb.WriteString("}")
		}
		sb.WriteString(" ")
		sb.WriteString(floatToString(values[i]))
		sb.WriteString("\n")
	}
}

type CounterVec struct {
	*vec
}

func NewCounterVec(opts Opts, labelNames []string) *CounterVec {
	return &CounterVec{vec: newVec(opts, "counter", labelNames)}
}

func (c *CounterVec) WithLabelValues(values ...string) *Counter {
	return &Counter{parent: c.vec, labelValues: values}
}

// Value returns the current count for one label combination.
func (c *CounterVec) Value(values ...string) float64 {
	return c.value(values)
}

type Counter struct {
	parent      *vec
	labelValues []string
}

func (c *Counter) Add(v float64) {
	if c == nil || c.parent == nil || v < 0 {
		return
	}
	c.parent.update(c.labelValues, func(cur float64) float64 { return cur + v })
}

func (c *Counter) Inc() { c.Add(1) }

type GaugeVec struct {
	*vec
}

func NewGaugeVec(opts Opts, labelNames []string) *GaugeVec {
	return &GaugeVec{vec: newVec(opts, "gauge", labelNames)}
}

func (g *GaugeVec) Set(v float64, labelValues ...string) {
	g.update(labelValues, func(float64) float64 { return v })
}

func (g *GaugeVec) Value(labelValues ...string) float64 {
	return g.value(labelValues)
}

func writeMetricHead(sb *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, metricType)
}

func floatToString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func init() {
	Default.MustRegister(
		NewGaugeFunc(Opts{
			Name: "process_uptime_seconds",
			Help: "Seconds since process start.",
		}, func() float64 {
			return time.Since(processStart).Seconds()
		}),
		NewGaugeFunc(Opts{
			Name: "go_goroutines",
			Help: "Number of goroutines.",
		}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
	)
}
