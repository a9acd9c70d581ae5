package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// label 是一组已排序的 label 对，作为 map key 使用。
type label string

func labels(pairs ...string) label {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(pairs[i])
		b.WriteString(`="`)
		b.WriteString(escape(pairs[i+1]))
		b.WriteByte('"')
	}
	return label(b.String())
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

type family struct {
	help string
	kind string
}

// Registry 保存 agent 运行期间的计数器、仪表和直方图，并以 Prometheus 文本格式输出。
type Registry struct {
	mu         sync.Mutex
	families   map[string]family
	counters   map[string]map[label]float64
	gauges     map[string]map[label]float64
	histograms map[string]map[label]*histogram
}

// NewRegistry 创建一个空的 Registry。
func NewRegistry() *Registry {
	return &Registry{
		families:   make(map[string]family),
		counters:   make(map[string]map[label]float64),
		gauges:     make(map[string]map[label]float64),
		histograms: make(map[string]map[label]*histogram),
	}
}

var defaultRegistry = NewRegistry()

// Default 返回进程级 Registry。
func Default() *Registry { return defaultRegistry }

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

func (r *Registry) declare(name, help, kind string) {
	if _, ok := r.families[name]; !ok {
		r.families[name] = family{help: help, kind: kind}
	}
}

func (r *Registry) add(name, help string, l label, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declare(name, help, "counter")
	series := r.counters[name]
	if series == nil {
		series = make(map[label]float64)
		r.counters[name] = series
	}
	series[l] += delta
}

func (r *Registry) set(name, help string, l label, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declare(name, help, "gauge")
	series := r.gauges[name]
	if series == nil {
		series = make(map[label]float64)
		r.gauges[name] = series
	}
	series[l] = value
}

func (r *Registry) observe(name, help string, l label, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declare(name, help, "histogram")
	series := r.histograms[name]
	if series == nil {
		series = make(map[label]*histogram)
		r.histograms[name] = series
	}
	hist := series[l]
	if hist == nil {
		hist = newHistogram(latencyBuckets)
		series[l] = hist
	}
	hist.observe(value)
}

// ObserveTick 记录一次任务轮询的结果，outcome 为 executed、skip 原因或 failed。
func (r *Registry) ObserveTick(outcome string) {
	r.add("croncat_task_ticks_total", "Task poll iterations by outcome.", labels("outcome", outcome), 1)
}

// ObserveSubmission 记录一次付费调用的结果。
func (r *Registry) ObserveSubmission(kind, result string, duration time.Duration) {
	l := labels("kind", kind, "result", result)
	r.add("croncat_submissions_total", "Paid ledger submissions by kind and result.", l, 1)
	r.observe("croncat_submission_duration_seconds", "Time from submission to receipt.", labels("kind", kind), duration.Seconds())
}

// ObserveTriggerPass 记录一次条件任务评估轮次。
func (r *Registry) ObserveTriggerPass(duration time.Duration, evaluated, executed int) {
	r.observe("croncat_trigger_pass_duration_seconds", "Wall-clock duration of a trigger evaluation pass.", "", duration.Seconds())
	r.add("croncat_trigger_evaluations_total", "Trigger predicates evaluated.", "", float64(evaluated))
	r.add("croncat_trigger_executions_total", "Triggers whose predicate held and were submitted.", "", float64(executed))
}

// SetGauge 设置一个无 label 的仪表值，例如 croncat_trigger_cache_size。
func (r *Registry) SetGauge(name, help string, value float64) {
	r.set(name, help, "", value)
}

// SetStatus 以 one-hot 方式记录 agent 当前状态。
func (r *Registry) SetStatus(current string, all ...string) {
	for _, status := range all {
		value := 0.0
		if status == current {
			value = 1
		}
		r.set("croncat_agent_status", "Current agent status (1 for the active state).", labels("status", status), value)
	}
}

// ObserveHTTPRequest 记录状态接口的请求。
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.add("croncat_http_requests_total", "HTTP requests served by the status server.",
		labels("handler", handler, "method", method, "code", strconv.Itoa(status)), 1)
	r.observe("croncat_http_request_duration_seconds", "HTTP request duration in seconds.",
		labels("handler", handler, "method", method), duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, r.Render())
	})
}

// Render 输出全部指标，按名称和 label 排序以保证输出稳定。
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.Grow(1024)
	for _, name := range names {
		fam := r.families[name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, fam.help, name, fam.kind)
		switch fam.kind {
		case "counter":
			writeSeries(&b, name, r.counters[name])
		case "gauge":
			writeSeries(&b, name, r.gauges[name])
		case "histogram":
			series := r.histograms[name]
			for _, l := range sortedLabels(series) {
				hist := series[l]
				for idx, bound := range hist.buckets {
					fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, join(l, labels("le", formatFloat(bound))), hist.counts[idx])
				}
				fmt.Fprintf(&b, "%s_bucket{%s} %d\n", name, join(l, labels("le", "+Inf")), hist.count)
				fmt.Fprintf(&b, "%s_sum%s %s\n", name, braces(l), formatFloat(hist.sum))
				fmt.Fprintf(&b, "%s_count%s %d\n", name, braces(l), hist.count)
			}
		}
	}
	return b.String()
}

func writeSeries(b *strings.Builder, name string, series map[label]float64) {
	for _, l := range sortedLabels(series) {
		fmt.Fprintf(b, "%s%s %s\n", name, braces(l), formatFloat(series[l]))
	}
}

func sortedLabels[V any](series map[label]V) []label {
	out := make([]label, 0, len(series))
	for l := range series {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func join(a, b label) string {
	if a == "" {
		return string(b)
	}
	return string(a) + "," + string(b)
}

func braces(l label) string {
	if l == "" {
		return ""
	}
	return "{" + string(l) + "}"
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
