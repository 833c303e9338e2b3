// Package metrics 维护进程内的运行指标并以 Prometheus 文本格式导出。
// 不引入外部指标库：计数器与直方图都是进程内哈希表，由 /metrics 端点
// 在读取时汇总渲染。
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

// 请求时延直方图的桶边界，单位秒。超过最后一个桶的样本只计入总数。
var latencyBounds = []float64{0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 15}

type requestKey struct {
	route  string
	method string
	code   string
}

type routeKey struct {
	route  string
	method string
}

type eventKey struct {
	event   string
	outcome string
}

// latency 按桶记录命中次数，渲染时再累加成 Prometheus 的累积形式。
type latency struct {
	hits  []uint64
	sum   float64
	total uint64
}

func (l *latency) observe(seconds float64) {
	l.total++
	l.sum += seconds
	for i, bound := range latencyBounds {
		if seconds <= bound {
			l.hits[i]++
			return
		}
	}
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	duration map[routeKey]*latency
	events   map[eventKey]uint64
}

var std = newCollector()

func newCollector() *collector {
	return &collector{
		requests: make(map[requestKey]uint64),
		duration: make(map[routeKey]*latency),
		events:   make(map[eventKey]uint64),
	}
}

// ObserveRequest 记录一次 HTTP 请求的状态码与耗时。
func ObserveRequest(route, method string, status int, elapsed time.Duration) {
	std.observeRequest(route, method, status, elapsed)
}

// CountEvent 累加一个业务事件计数，如 ("turns", "completed") 或
// ("notary_jobs", "requeued")。
func CountEvent(event, outcome string) {
	std.countEvent(event, outcome)
}

// Handler 以 Prometheus 文本格式导出全部指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, std.render())
	})
}

func (c *collector) observeRequest(route, method string, status int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{route: route, method: method, code: strconv.Itoa(status)}]++

	key := routeKey{route: route, method: method}
	lat := c.duration[key]
	if lat == nil {
		lat = &latency{hits: make([]uint64, len(latencyBounds))}
		c.duration[key] = lat
	}
	lat.observe(elapsed.Seconds())
}

func (c *collector) countEvent(event, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[eventKey{event: event, outcome: outcome}]++
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP nexus_http_requests_total Total HTTP requests handled.\n")
	b.WriteString("# TYPE nexus_http_requests_total counter\n")
	for _, key := range sortedRequestKeys(c.requests) {
		fmt.Fprintf(&b, "nexus_http_requests_total{route=%q,method=%q,code=%q} %d\n",
			key.route, key.method, key.code, c.requests[key])
	}

	b.WriteString("# HELP nexus_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE nexus_http_request_duration_seconds histogram\n")
	for _, key := range sortedRouteKeys(c.duration) {
		lat := c.duration[key]
		cumulative := uint64(0)
		for i, bound := range latencyBounds {
			cumulative += lat.hits[i]
			fmt.Fprintf(&b, "nexus_http_request_duration_seconds_bucket{route=%q,method=%q,le=%q} %d\n",
				key.route, key.method, formatBound(bound), cumulative)
		}
		fmt.Fprintf(&b, "nexus_http_request_duration_seconds_bucket{route=%q,method=%q,le=\"+Inf\"} %d\n",
			key.route, key.method, lat.total)
		fmt.Fprintf(&b, "nexus_http_request_duration_seconds_sum{route=%q,method=%q} %s\n",
			key.route, key.method, formatBound(lat.sum))
		fmt.Fprintf(&b, "nexus_http_request_duration_seconds_count{route=%q,method=%q} %d\n",
			key.route, key.method, lat.total)
	}

	b.WriteString("# HELP nexus_events_total Domain events by outcome (turns, notary jobs, alerts).\n")
	b.WriteString("# TYPE nexus_events_total counter\n")
	for _, key := range sortedEventKeys(c.events) {
		fmt.Fprintf(&b, "nexus_events_total{event=%q,outcome=%q} %d\n",
			key.event, key.outcome, c.events[key])
	}

	return b.String()
}

func sortedRequestKeys(m map[requestKey]uint64) []requestKey {
	keys := make([]requestKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].code < keys[j].code
	})
	return keys
}

func sortedRouteKeys(m map[routeKey]*latency) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		return keys[i].method < keys[j].method
	})
	return keys
}

func sortedEventKeys(m map[eventKey]uint64) []eventKey {
	keys := make([]eventKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].event != keys[j].event {
			return keys[i].event < keys[j].event
		}
		return keys[i].outcome < keys[j].outcome
	})
	return keys
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
