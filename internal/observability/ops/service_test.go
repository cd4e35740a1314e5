package ops

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"songbot/internal/metrics"
	logx "songbot/pkg/logx"
)

func get(t *testing.T, h http.Handler, path, auth string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(b)
}

func TestHandlerEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewBroadcast(reg)
	m.Delivery("sent")

	healthy := true
	s := New(Config{}, reg, func(ctx context.Context) error {
		if !healthy {
			return errors.New("storage unavailable")
		}
		return nil
	}, logx.Nop())
	h := s.Handler(Config{})

	if code, body := get(t, h, "/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	healthy = false
	if code, body := get(t, h, "/healthz", ""); code != http.StatusServiceUnavailable || !strings.Contains(body, "storage") {
		t.Fatalf("unhealthy: %d %q", code, body)
	}
	if code, body := get(t, h, "/metrics", ""); code != http.StatusOK || !strings.Contains(body, "songbot_broadcast_deliveries_total") {
		t.Fatalf("metrics: %d\n%s", code, body)
	}
	if code, _ := get(t, h, "/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof should be off, got %d", code)
	}
	if code, _ := get(t, s.Handler(Config{Pprof: true}), "/debug/pprof/", ""); code != http.StatusOK {
		t.Fatalf("pprof on: %d", code)
	}
}

func TestHandlerAuth(t *testing.T) {
	s := New(Config{}, prometheus.NewRegistry(), nil, logx.Nop())
	h := s.Handler(Config{Token: "s3cret"})

	tests := []struct {
		path, auth string
		want       int
	}{
		{"/healthz", "", http.StatusUnauthorized},
		{"/healthz", "Bearer wrong", http.StatusUnauthorized},
		{"/healthz", "Bearer s3cret", http.StatusOK},
		{"/healthz?token=s3cret", "", http.StatusOK},
		{"/metrics?token=nope", "Bearer s3cret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		if code, _ := get(t, h, tt.path, tt.auth); code != tt.want {
			t.Fatalf("%s auth=%q: got %d want %d", tt.path, tt.auth, code, tt.want)
		}
	}
}

func TestCheckBind(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{}, false},
		{Config{Addr: "localhost:9090"}, false},
		{Config{Addr: "[::1]:9090"}, false},
		{Config{Addr: ":9090"}, true},
		{Config{Addr: "0.0.0.0:9090", Token: "x"}, false},
		{Config{Addr: "0.0.0.0:9090", AllowInsecure: true}, false},
		{Config{Addr: "no-port"}, true},
	}
	for _, tt := range tests {
		if err := CheckBind(tt.cfg); (err != nil) != tt.wantErr {
			t.Fatalf("CheckBind(%+v) = %v", tt.cfg, err)
		}
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, prometheus.NewRegistry(), nil, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // idempotent
	s.Reconfigure(ctx, Config{Enabled: false})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || s.srv != nil {
		t.Fatalf("server still running after disable")
	}
}
