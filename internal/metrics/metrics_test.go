package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestRecordStageIncrementsCounter(t *testing.T) {
	before := value(t, stageRuns.WithLabelValues("fw", "periodic", "success"))
	RecordStage("fw", "periodic", "success", 2*time.Second)
	after := value(t, stageRuns.WithLabelValues("fw", "periodic", "success"))
	if after-before != 1 {
		t.Fatalf("expected increment of 1, got %v", after-before)
	}
}

func TestRecordLinesSkipsZero(t *testing.T) {
	RecordLines("quiet", 0, 0)
	RecordLines("busy", 10, 4)
	if got := value(t, linesRead.WithLabelValues("busy")); got != 10 {
		t.Fatalf("lines read = %v", got)
	}
	if got := value(t, linesDeferred.WithLabelValues("busy")); got != 4 {
		t.Fatalf("lines deferred = %v", got)
	}
}

func TestSetBuffer(t *testing.T) {
	SetBuffer("fw", 1, 3)
	if got := value(t, bufferCount.WithLabelValues("fw", "1")); got != 3 {
		t.Fatalf("buffer gauge = %v", got)
	}
}

func TestNilServerIsNoop(t *testing.T) {
	srv := NewServer("  ", nil)
	if srv != nil {
		t.Fatal("expected nil server for empty address")
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start on nil: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on nil: %v", err)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	RecordLLMAttempt("primary")
	srv := NewServer("127.0.0.1:0", nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `logsentinel_llm_attempts_total{alias="primary"}`) {
		t.Fatalf("metrics output missing llm attempts:\n%s", body)
	}
}
