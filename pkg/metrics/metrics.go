package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry accumulates gateway-wide counters. All counters are monotonic;
// gauges are set-latest-wins.
type Registry struct {
	mu              sync.RWMutex
	endpoint        map[string]*EndpointStat
	requests        int64
	rejected        map[string]int64
	rateLimited     map[string]int64
	providerCalls   map[string]int64
	inputTokens     int64
	outputTokens    int64
	costTotal       float64
	trustViolations int64
	gauges          map[string]float64
	Histograms      *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt     string                  `json:"generated_at"`
	Endpoints       map[string]EndpointStat `json:"endpoints"`
	RequestsTotal   int64                   `json:"requests_total"`
	RejectedTotals  map[string]int64        `json:"rejected_totals"`
	RateLimitTotals map[string]int64        `json:"rate_limit_totals"`
	ProviderTotals  map[string]int64        `json:"provider_totals"`
	InputTokens     int64                   `json:"input_tokens_total"`
	OutputTokens    int64                   `json:"output_tokens_total"`
	TokensTotal     int64                   `json:"tokens_total"`
	CostTotal       float64                 `json:"cost_total"`
	TrustViolations int64                   `json:"trust_violations_total"`
	Gauges          map[string]float64      `json:"gauges"`
	Histograms      []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:      map[string]*EndpointStat{},
		rejected:      map[string]int64{},
		rateLimited:   map[string]int64{},
		providerCalls: map[string]int64{},
		gauges:        map[string]float64{},
		Histograms:    NewHistogramRegistry(),
	}
}

// Observe records one HTTP request against its endpoint stat.
func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) IncRequest() {
	r.mu.Lock()
	r.requests++
	r.mu.Unlock()
}

// IncRejected counts a pipeline rejection by stage (input_filter,
// output_filter, rate_limit, trust, provider).
func (r *Registry) IncRejected(stage string) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return
	}
	r.mu.Lock()
	r.rejected[stage]++
	r.mu.Unlock()
}

func (r *Registry) IncRateLimited(layer string) {
	layer = strings.TrimSpace(layer)
	if layer == "" {
		return
	}
	r.mu.Lock()
	r.rateLimited[layer]++
	r.mu.Unlock()
}

func (r *Registry) IncProviderCall(provider string) {
	if provider == "" {
		return
	}
	r.mu.Lock()
	r.providerCalls[provider]++
	r.mu.Unlock()
}

func (r *Registry) AddTokens(input, output int) {
	r.mu.Lock()
	r.inputTokens += int64(input)
	r.outputTokens += int64(output)
	r.mu.Unlock()
}

func (r *Registry) AddCost(cost float64) {
	if cost <= 0 {
		return
	}
	r.mu.Lock()
	r.costTotal += cost
	r.mu.Unlock()
}

func (r *Registry) IncTrustViolation() {
	r.mu.Lock()
	r.trustViolations++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) ObserveProviderLatency(provider string, d time.Duration) {
	r.Histograms.ObserveDuration("provider:"+provider, d)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		Endpoints:       make(map[string]EndpointStat, len(r.endpoint)),
		RequestsTotal:   r.requests,
		RejectedTotals:  make(map[string]int64, len(r.rejected)),
		RateLimitTotals: make(map[string]int64, len(r.rateLimited)),
		ProviderTotals:  make(map[string]int64, len(r.providerCalls)),
		InputTokens:     r.inputTokens,
		OutputTokens:    r.outputTokens,
		TokensTotal:     r.inputTokens + r.outputTokens,
		CostTotal:       r.costTotal,
		TrustViolations: r.trustViolations,
		Gauges:          make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.rejected {
		out.RejectedTotals[k] = v
	}
	for k, v := range r.rateLimited {
		out.RateLimitTotals[k] = v
	}
	for k, v := range r.providerCalls {
		out.ProviderTotals[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP aegis_requests_total completed pipeline requests\n")
		b.WriteString("# TYPE aegis_requests_total counter\n")
		fmt.Fprintf(b, "aegis_requests_total %d\n", snap.RequestsTotal)

		b.WriteString("# HELP aegis_rejected_total pipeline rejections by stage\n")
		b.WriteString("# TYPE aegis_rejected_total counter\n")
		for _, stage := range SortedKeys(snap.RejectedTotals) {
			fmt.Fprintf(b, "aegis_rejected_total{stage=%q} %d\n", stage, snap.RejectedTotals[stage])
		}

		b.WriteString("# HELP aegis_rate_limited_total admission rejections by layer\n")
		b.WriteString("# TYPE aegis_rate_limited_total counter\n")
		for _, layer := range SortedKeys(snap.RateLimitTotals) {
			fmt.Fprintf(b, "aegis_rate_limited_total{layer=%q} %d\n", layer, snap.RateLimitTotals[layer])
		}

		b.WriteString("# HELP aegis_provider_calls_total provider completions by provider\n")
		b.WriteString("# TYPE aegis_provider_calls_total counter\n")
		for _, p := range SortedKeys(snap.ProviderTotals) {
			fmt.Fprintf(b, "aegis_provider_calls_total{provider=%q} %d\n", p, snap.ProviderTotals[p])
		}

		b.WriteString("# HELP aegis_tokens_total tokens processed\n")
		b.WriteString("# TYPE aegis_tokens_total counter\n")
		fmt.Fprintf(b, "aegis_tokens_total{direction=%q} %d\n", "input", snap.InputTokens)
		fmt.Fprintf(b, "aegis_tokens_total{direction=%q} %d\n", "output", snap.OutputTokens)

		b.WriteString("# HELP aegis_cost_total accumulated provider cost\n")
		b.WriteString("# TYPE aegis_cost_total counter\n")
		fmt.Fprintf(b, "aegis_cost_total %.6f\n", snap.CostTotal)

		b.WriteString("# HELP aegis_trust_violations_total trust violations recorded\n")
		b.WriteString("# TYPE aegis_trust_violations_total counter\n")
		fmt.Fprintf(b, "aegis_trust_violations_total %d\n", snap.TrustViolations)

		b.WriteString("# HELP aegis_endpoint_count requests by endpoint\n")
		b.WriteString("# TYPE aegis_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "aegis_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
			fmt.Fprintf(b, "aegis_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
			fmt.Fprintf(b, "aegis_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, stat.AverageMillis)
		}

		b.WriteString("# HELP aegis_gauge operational gauges\n")
		b.WriteString("# TYPE aegis_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "aegis_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}

		for _, h := range snap.Histograms {
			b.WriteString("# HELP aegis_latency_seconds latency histogram\n")
			b.WriteString("# TYPE aegis_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "aegis_latency_seconds_bucket{name=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "aegis_latency_seconds_bucket{name=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "aegis_latency_seconds_sum{name=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "aegis_latency_seconds_count{name=%q} %d\n", h.Name, h.Count)
		}

		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
