package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	syncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sync_runs_total",
			Help: "Total number of reconciliation runs by outcome.",
		},
		[]string{"result"},
	)
	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_sync_duration_seconds",
			Help:    "Reconciliation run latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	messagesPushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_pushed_total",
			Help: "Total number of pending messages confirmed by the server.",
		},
	)
	messagesPulledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_pulled_total",
			Help: "Total number of messages applied from pulls.",
		},
	)
	pushFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_failures_total",
			Help: "Total number of failed push attempts.",
		},
		[]string{"kind"},
	)
	malformedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_malformed_records_total",
			Help: "Total number of server records dropped as malformed.",
		},
		[]string{"source"},
	)
	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_live_connections",
			Help: "Number of open live feed connections.",
		},
	)
	liveEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_live_events_total",
			Help: "Total number of live feed events.",
		},
		[]string{"event"},
	)
	busDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_bus_dropped_events_total",
			Help: "Total number of events not delivered to a full subscriber.",
		},
		[]string{"family"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the daemon.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
)

func init() {
	prometheus.MustRegister(
		syncRunsTotal,
		syncDuration,
		messagesPushedTotal,
		messagesPulledTotal,
		pushFailuresTotal,
		malformedRecordsTotal,
		liveConnections,
		liveEventsTotal,
		busDroppedTotal,
		grpcServerHandledTotal,
	)
}

// ObserveSync records one reconciliation run.
func ObserveSync(started time.Time, pushed, pulled int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	syncRunsTotal.WithLabelValues(result).Inc()
	syncDuration.Observe(time.Since(started).Seconds())
	messagesPushedTotal.Add(float64(pushed))
	messagesPulledTotal.Add(float64(pulled))
}

// IncPushFailure counts a failed push. kind is "transient", "permanent" or
// "unauthorized".
func IncPushFailure(kind string) {
	pushFailuresTotal.WithLabelValues(kind).Inc()
}

// IncMalformed counts a dropped server record. source is "pull", "push" or "live".
func IncMalformed(source string) {
	malformedRecordsTotal.WithLabelValues(source).Inc()
}

func IncLiveActive() {
	liveConnections.Inc()
}

func DecLiveActive() {
	liveConnections.Dec()
}

func IncLiveEvent(event string) {
	liveEventsTotal.WithLabelValues(event).Inc()
}

// IncBusDropped counts an event the bus could not deliver.
func IncBusDropped(family string) {
	busDroppedTotal.WithLabelValues(family).Inc()
}

// GRPCServerUnaryInterceptor counts unary calls by method and status code.
func GRPCServerUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// GRPCServerStreamInterceptor counts streaming calls once they end.
func GRPCServerStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}
