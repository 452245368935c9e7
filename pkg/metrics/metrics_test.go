package metrics

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/YuminosukeSato/fastinference/pkg/log"
)

func counterValue(t *testing.T, r *Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			if m.GetHistogram() != nil {
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestRecorder(t *testing.T) {
	r := NewRecorder("test")

	r.ObserveBuild("after_item", nil)
	r.ObserveBuild("after_item", nil)
	r.ObserveBuild("after_batch", errors.New("boom"))
	r.ObserveTransform("Resize", time.Millisecond, nil)
	r.ObserveTransform("Resize", time.Millisecond, errors.New("boom"))
	r.ObservePredict(3)
	r.ObservePredict(0)

	tests := []struct {
		metric string
		labels map[string]string
		want   float64
	}{
		{"test_pipeline_builds_total", map[string]string{"stage": "after_item", "outcome": OutcomeOK}, 2},
		{"test_pipeline_builds_total", map[string]string{"stage": "after_batch", "outcome": OutcomeError}, 1},
		{"test_transform_calls_total", map[string]string{"transform": "Resize", "outcome": OutcomeOK}, 1},
		{"test_transform_calls_total", map[string]string{"transform": "Resize", "outcome": OutcomeError}, 1},
		{"test_transform_duration_seconds", map[string]string{"transform": "Resize"}, 2},
		{"test_predicted_items_total", nil, 3},
	}
	for _, tt := range tests {
		if got := counterValue(t, r, tt.metric, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.metric, tt.labels, got, tt.want)
		}
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveBuild("after_item", nil)
	r.ObserveTransform("Resize", time.Second, nil)
	r.ObservePredict(1)
	if r.Registry() != nil {
		t.Error("nil recorder should have no registry")
	}
}

func TestHandler(t *testing.T) {
	r := NewRecorder("handler")
	r.ObserveBuild("after_batch", nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "handler_pipeline_builds_total") {
		t.Errorf("body lacks build counter:\n%s", rec.Body.String())
	}
}

func TestServeLogsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	logger, _ := log.NewTestLogger(log.LevelDebug)
	addr := ln.Addr().String()
	if err := NewRecorder("serve_test").serve(addr, logger); err == nil {
		t.Fatal("serving on a port in use should fail")
	}
	if !logger.ContainsMessage("metrics server stopped") {
		t.Error("bind failure should be logged")
	}
	if !logger.ContainsField(log.MetricsAddrKey, addr) {
		t.Error("log entry should carry the listen address")
	}
}
