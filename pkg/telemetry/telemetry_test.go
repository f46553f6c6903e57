package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func clearOtelEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AEGIS_OTEL_ENDPOINT", "AEGIS_OTEL_HEADERS", "AEGIS_OTEL_INSECURE",
		"AEGIS_OTEL_REQUIRED", "AEGIS_OTEL_SAMPLE_RATIO", "AEGIS_OTEL_TIMEOUT_SEC",
	} {
		t.Setenv(key, "")
	}
}

func TestSampleRatio(t *testing.T) {
	clearOtelEnv(t)
	if got := sampleRatio(); got != 1 {
		t.Fatalf("default ratio must be 1, got %f", got)
	}
	t.Setenv("AEGIS_OTEL_SAMPLE_RATIO", "0.25")
	if got := sampleRatio(); got != 0.25 {
		t.Fatalf("expected 0.25, got %f", got)
	}
	t.Setenv("AEGIS_OTEL_SAMPLE_RATIO", "7")
	if got := sampleRatio(); got != 1 {
		t.Fatalf("ratio must clamp to 1, got %f", got)
	}
	t.Setenv("AEGIS_OTEL_SAMPLE_RATIO", "-0.5")
	if got := sampleRatio(); got != 0 {
		t.Fatalf("ratio must clamp to 0, got %f", got)
	}
	t.Setenv("AEGIS_OTEL_SAMPLE_RATIO", "lots")
	if got := sampleRatio(); got != 1 {
		t.Fatalf("garbage must fall back to 1, got %f", got)
	}
}

func TestExportTimeout(t *testing.T) {
	clearOtelEnv(t)
	if got := exportTimeout(); got != 5*time.Second {
		t.Fatalf("default timeout must be 5s, got %v", got)
	}
	t.Setenv("AEGIS_OTEL_TIMEOUT_SEC", "2")
	if got := exportTimeout(); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	t.Setenv("AEGIS_OTEL_TIMEOUT_SEC", "-3")
	if got := exportTimeout(); got != 5*time.Second {
		t.Fatalf("non-positive value must fall back, got %v", got)
	}
}

func TestHeaderMap(t *testing.T) {
	t.Parallel()

	h := headerMap("authorization=Bearer abc, x-tenant = prod ,=orphan,broken")
	if len(h) != 2 {
		t.Fatalf("expected 2 usable headers, got %d (%#v)", len(h), h)
	}
	if h["authorization"] != "Bearer abc" || h["x-tenant"] != "prod" {
		t.Fatalf("unexpected parse: %#v", h)
	}
	if got := headerMap(""); len(got) != 0 {
		t.Fatalf("empty input must yield no headers, got %#v", got)
	}
}

func TestInitLocalOnly(t *testing.T) {
	clearOtelEnv(t)
	shutdown, err := Init(context.Background(), "gateway-test")
	if err != nil {
		t.Fatalf("Init without endpoint must succeed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown function")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiredExporterFailure(t *testing.T) {
	clearOtelEnv(t)
	t.Setenv("AEGIS_OTEL_ENDPOINT", "localhost:4318")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	shutdown, err := Init(ctx, "gateway-test")
	if err != nil {
		t.Fatalf("optional exporter failure must degrade, got %v", err)
	}
	_ = shutdown(context.Background())

	t.Setenv("AEGIS_OTEL_REQUIRED", "true")
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if _, err := Init(ctx2, "gateway-test"); err == nil {
		t.Fatal("required exporter failure must abort startup")
	}
}

func TestInitWithCollector(t *testing.T) {
	clearOtelEnv(t)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/traces") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()
	u, err := url.Parse(collector.URL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	t.Setenv("AEGIS_OTEL_ENDPOINT", u.Host)
	t.Setenv("AEGIS_OTEL_INSECURE", "true")
	t.Setenv("AEGIS_OTEL_HEADERS", "x-check=1")
	t.Setenv("AEGIS_OTEL_REQUIRED", "true")
	t.Setenv("AEGIS_OTEL_TIMEOUT_SEC", "1")

	shutdown, err := Init(context.Background(), "")
	if err != nil {
		t.Fatalf("Init against a live collector must succeed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHTTPMiddleware(t *testing.T) {
	handler := HTTPMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 through the middleware, got %d", rec.Code)
	}
}

func TestInstrumentClient(t *testing.T) {
	client := InstrumentClient(nil)
	if client == nil || client.Transport == nil {
		t.Fatal("nil client must come back usable and instrumented")
	}

	own := &http.Client{}
	if got := InstrumentClient(own); got != own {
		t.Fatal("existing client must be wrapped in place")
	}
	if own.Transport == nil {
		t.Fatal("expected transport to be installed")
	}
}
