package observability

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type key struct {
	Method string
	Route  string
	Status int
}

type stat struct {
	Count     int64
	LatencyMS float64
}

// Collector keeps per-route request counters for /metrics and writes one
// JSON access log line per request.
type Collector struct {
	db *sql.DB

	mu           sync.RWMutex
	requestStats map[key]stat
	startedAt    time.Time
}

func NewCollector(db *sql.DB) *Collector {
	return &Collector{
		db:           db,
		requestStats: make(map[key]stat),
		startedAt:    time.Now(),
	}
}

func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
		route := routeLabel(r)

		c.mu.Lock()
		k := key{Method: r.Method, Route: route, Status: status}
		s := c.requestStats[k]
		s.Count++
		s.LatencyMS += latencyMS
		c.requestStats[k] = s
		c.mu.Unlock()

		entry := map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"latency_ms": latencyMS,
			"remote_ip":  strings.TrimSpace(r.RemoteAddr),
		}
		if id := resourceID(r.URL.Path, "test", "tests"); id > 0 {
			entry["test_id"] = id
		}
		if id := resourceID(r.URL.Path, "attempts"); id > 0 {
			entry["attempt_id"] = id
		}
		b, _ := json.Marshal(entry)
		log.Printf("%s", string(b))
	})
}

func (c *Collector) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	statsCopy := make(map[key]stat, len(c.requestStats))
	for k, v := range c.requestStats {
		statsCopy[k] = v
	}
	startedAt := c.startedAt
	c.mu.RUnlock()

	keys := make([]key, 0, len(statsCopy))
	for k := range statsCopy {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Route != keys[j].Route {
			return keys[i].Route < keys[j].Route
		}
		if keys[i].Method != keys[j].Method {
			return keys[i].Method < keys[j].Method
		}
		return keys[i].Status < keys[j].Status
	})

	var sb strings.Builder
	sb.WriteString("# TYPE quizlms_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "quizlms_uptime_seconds %.0f\n", time.Since(startedAt).Seconds())

	sb.WriteString("# TYPE quizlms_http_requests_total counter\n")
	sb.WriteString("# TYPE quizlms_http_request_latency_ms_sum counter\n")
	for _, k := range keys {
		s := statsCopy[k]
		labels := fmt.Sprintf("method=%q,route=%q,status=\"%d\"", k.Method, k.Route, k.Status)
		fmt.Fprintf(&sb, "quizlms_http_requests_total{%s} %d\n", labels, s.Count)
		fmt.Fprintf(&sb, "quizlms_http_request_latency_ms_sum{%s} %.3f\n", labels, s.LatencyMS)
	}

	if c.db != nil {
		dbs := c.db.Stats()
		sb.WriteString("# TYPE quizlms_db_open_connections gauge\n")
		fmt.Fprintf(&sb, "quizlms_db_open_connections %d\n", dbs.OpenConnections)
		sb.WriteString("# TYPE quizlms_db_in_use_connections gauge\n")
		fmt.Fprintf(&sb, "quizlms_db_in_use_connections %d\n", dbs.InUse)
		sb.WriteString("# TYPE quizlms_db_wait_count counter\n")
		fmt.Fprintf(&sb, "quizlms_db_wait_count %d\n", dbs.WaitCount)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// routeLabel prefers the matched chi pattern so ids do not explode the
// label set. Unmatched paths fall back to replacing numeric segments.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizedPath(r.URL.Path)
}

func normalizedPath(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// resourceID returns the number following the first of segments that is
// directly followed by a numeric part, or 0.
func resourceID(path string, segments ...string) int64 {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		for _, s := range segments {
			if parts[i] != s {
				continue
			}
			if id, err := strconv.ParseInt(parts[i+1], 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}
