package usage

import (
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestObserveOp_ObservesHistogram(t *testing.T) {
	OpDuration.Reset()

	done := observeOp("hist_test")
	done()

	ch := make(chan prometheus.Metric, 10)
	OpDuration.Collect(ch)
	close(ch)

	found := false
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil && m.Histogram.GetSampleCount() == 1 {
			found = true
		}
	}
	if !found {
		t.Error("expected histogram with 1 sample")
	}
}

func TestAppendsTotal_CountsByResult(t *testing.T) {
	AppendsTotal.Reset()

	AppendsTotal.WithLabelValues("accepted").Inc()
	AppendsTotal.WithLabelValues("accepted").Inc()
	AppendsTotal.WithLabelValues("duplicate").Inc()

	m := &dto.Metric{}
	counter, err := AppendsTotal.GetMetricWithLabelValues("accepted")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2, got %f", m.Counter.GetValue())
	}
}
