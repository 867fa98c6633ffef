package control

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// The kernel exposes its own control-plane request metrics in Prometheus
// text exposition format, built by hand rather than via a client library.

type requestKey struct {
	path   string
	method string
	code   string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	latency  map[requestKey]*histogram
}

var httpCollector = &collector{
	requests: make(map[requestKey]uint64),
	latency:  make(map[requestKey]*histogram),
}

// ObserveHTTPRequest records one completed control-plane HTTP request.
func ObserveHTTPRequest(path, method string, status int, duration time.Duration) {
	httpCollector.observe(path, method, status, duration)
}

func (c *collector) observe(path, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := requestKey{path: path, method: method, code: strconv.Itoa(status)}
	c.requests[key]++
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// MetricsHandler exposes the collector in Prometheus text format.
func MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type requestMetric struct {
		requestKey
		value uint64
	}
	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].path != reqs[j].path {
			return reqs[i].path < reqs[j].path
		}
		return reqs[i].method < reqs[j].method
	})

	var b strings.Builder
	b.WriteString("# HELP kernel_control_requests_total Total control-plane HTTP requests.\n")
	b.WriteString("# TYPE kernel_control_requests_total counter\n")
	for _, m := range reqs {
		fmt.Fprintf(&b, "kernel_control_requests_total{path=%q,method=%q,code=%q} %d\n", m.path, m.method, m.code, m.value)
	}

	b.WriteString("# HELP kernel_control_request_duration_seconds Control-plane HTTP request duration.\n")
	b.WriteString("# TYPE kernel_control_request_duration_seconds histogram\n")
	for key, hist := range c.latency {
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&b, "kernel_control_request_duration_seconds_bucket{path=%q,method=%q,le=%q} %d\n",
				key.path, key.method, strconv.FormatFloat(bound, 'f', -1, 64), hist.counts[idx])
		}
		fmt.Fprintf(&b, "kernel_control_request_duration_seconds_bucket{path=%q,method=%q,le=\"+Inf\"} %d\n", key.path, key.method, hist.count)
		fmt.Fprintf(&b, "kernel_control_request_duration_seconds_sum{path=%q,method=%q} %s\n", key.path, key.method, strconv.FormatFloat(hist.sum, 'f', -1, 64))
		fmt.Fprintf(&b, "kernel_control_request_duration_seconds_count{path=%q,method=%q} %d\n", key.path, key.method, hist.count)
	}
	return b.String()
}
