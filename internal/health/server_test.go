package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postalsys/udp-relay/internal/metrics"
	"github.com/postalsys/udp-relay/internal/relay"
	"github.com/postalsys/udp-relay/internal/sysinfo"
)

// mockStatsProvider implements StatsProvider for testing.
type mockStatsProvider struct {
	stats relay.Stats
}

func (m *mockStatsProvider) Stats() relay.Stats {
	return m.stats
}

var testConfig = ServerConfig{
	Address:      "127.0.0.1:0",
	ReadTimeout:  5 * time.Second,
	WriteTimeout: 5 * time.Second,
}

func startedProvider() *mockStatsProvider {
	return &mockStatsProvider{stats: relay.Stats{
		Started:         true,
		LocalAddr:       "127.0.0.1:34243",
		PendingInbound:  2,
		PendingOutbound: 1,
	}}
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_handleHealth(t *testing.T) {
	s := NewServer(testConfig, startedProvider(), prometheus.NewRegistry(), nil)

	rec := serve(s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if body := rec.Body.String(); body != "OK\n" {
		t.Errorf("expected body 'OK\\n', got %q", body)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(testConfig, startedProvider(), prometheus.NewRegistry(), nil)

	for _, path := range []string{"/health", "/healthz", "/ready", "/info"} {
		t.Run(path, func(t *testing.T) {
			if rec := serve(s, http.MethodPost, path); rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
			}
		})
	}
}

func TestServer_handleHealthz_Started(t *testing.T) {
	s := NewServer(testConfig, startedProvider(), prometheus.NewRegistry(), nil)

	rec := serve(s, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["local_addr"] != "127.0.0.1:34243" {
		t.Errorf("local_addr = %v", body["local_addr"])
	}
	if body["pending_inbound"] != float64(2) {
		t.Errorf("pending_inbound = %v, want 2", body["pending_inbound"])
	}
}

func TestServer_handleHealthz_NotStarted(t *testing.T) {
	tests := []struct {
		name     string
		provider StatsProvider
	}{
		{"not started", &mockStatsProvider{}},
		{"nil provider", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(testConfig, tc.provider, prometheus.NewRegistry(), nil)

			if rec := serve(s, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
				t.Errorf("healthz status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
			if rec := serve(s, http.MethodGet, "/ready"); rec.Code != http.StatusServiceUnavailable {
				t.Errorf("ready status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

func TestServer_handleReady(t *testing.T) {
	s := NewServer(testConfig, startedProvider(), prometheus.NewRegistry(), nil)

	rec := serve(s, http.MethodGet, "/ready")
	if rec.Code != http.StatusOK || rec.Body.String() != "READY\n" {
		t.Errorf("ready = %d %q, want 200 READY", rec.Code, rec.Body.String())
	}
}

func TestServer_handleInfo(t *testing.T) {
	s := NewServer(testConfig, nil, prometheus.NewRegistry(), nil)

	rec := serve(s, http.MethodGet, "/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("info status = %d, want %d", rec.Code, http.StatusOK)
	}

	var info sysinfo.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.OS == "" || info.Arch == "" || info.Version == "" {
		t.Errorf("incomplete info: %+v", info)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	m.RecordSent(4)

	s := NewServer(testConfig, startedProvider(), reg, nil)

	rec := serve(s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "udp_relay_datagrams_sent_total 1") {
		t.Errorf("expected sent counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestServer_StartStop(t *testing.T) {
	cfg := ServerConfig{
		Address:      "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	s := NewServer(cfg, startedProvider(), prometheus.NewRegistry(), nil)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected server to be running")
	}

	addr := s.Address()
	if addr == nil {
		t.Fatal("expected non-nil address")
	}

	var resp *http.Response
	var err error
	for i := 0; i < 10; i++ {
		resp, err = http.Get("http://" + addr.String() + "/health")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("request failed after retries: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK\n" {
		t.Errorf("got %d %q, want 200 OK", resp.StatusCode, body)
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
}
