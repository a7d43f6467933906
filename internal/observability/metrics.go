package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shuttle_roster"

var (
	LocationReports  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_reports_total", Help: "Driver location reports accepted"})
	LocationReads    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "location_reads_total", Help: "Location reads by result"}, []string{"result"})
	CachedLocations  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "cached_locations", Help: "Drivers with a cached location in this process"})
	MessagesPosted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_posted_total", Help: "Chat messages appended"})
	AttendanceWrites = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "attendance_reports_total", Help: "Attendance upserts by period and status"}, []string{"period", "status"})
	AssignmentOps    = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "assignment_operations_total", Help: "Assignment mutations by operation"}, []string{"op"})
	EntityOps        = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "entity_operations_total", Help: "User and service edits by operation"}, []string{"op"})
	AuthzDenied      = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "authorization_denied_total", Help: "Requests refused by the membership or role check"}, []string{"op"})
	EventPublishErrs = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "event_publish_errors_total", Help: "Domain events that failed to publish"}, []string{"type"})
	WSSessions       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Open realtime websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
