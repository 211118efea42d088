package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestSplitFullMethod(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/chatsync.v1.ChatSync/Send", "chatsync.v1.ChatSync", "Send"},
		{"bogus", "unknown", "unknown"},
	}
	for _, tt := range tests {
		s, m := splitFullMethod(tt.in)
		if s != tt.service || m != tt.method {
			t.Errorf("splitFullMethod(%q) = %q, %q", tt.in, s, m)
		}
	}
}

func TestObserveSync(t *testing.T) {
	okBefore := counterValue(t, syncRunsTotal.WithLabelValues("ok"))
	errBefore := counterValue(t, syncRunsTotal.WithLabelValues("error"))
	pushedBefore := counterValue(t, messagesPushedTotal)

	ObserveSync(time.Now(), 2, 3, nil)
	ObserveSync(time.Now(), 0, 0, errors.New("boom"))

	if got := counterValue(t, syncRunsTotal.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok runs delta = %v, want 1", got)
	}
	if got := counterValue(t, syncRunsTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("error runs delta = %v, want 1", got)
	}
	if got := counterValue(t, messagesPushedTotal) - pushedBefore; got != 2 {
		t.Errorf("pushed delta = %v, want 2", got)
	}
}

func TestGRPCServerUnaryInterceptor(t *testing.T) {
	interceptor := GRPCServerUnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/chatsync.v1.ChatSync/Retry"}
	counter := grpcServerHandledTotal.WithLabelValues("chatsync.v1.ChatSync", "Retry", codes.NotFound.String())
	before := counterValue(t, counter)

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("err = %v, want NotFound passthrough", err)
	}
	if got := counterValue(t, counter) - before; got != 1 {
		t.Errorf("handled delta = %v, want 1", got)
	}
}
