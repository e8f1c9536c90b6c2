package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/goIdentity/metrics"
)

type fakeSource struct {
	snapshot metrics.Snapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() metrics.Snapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64              { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporter(fakeSource{snapshot: metrics.New(metrics.Config{}).Snapshot()})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCountersAndHistograms(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: metrics.Snapshot{
			Counters: map[metrics.ID]uint64{
				metrics.LoginSuccess:     7,
				metrics.OutboxDispatched: 4,
			},
			Histograms: map[metrics.ID][]uint64{
				metrics.ValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"identity_login_success_total 7",
		"identity_outbox_dispatched_total 4",
		"identity_consumer_duplicate_total 0",
		"identity_validate_latency_seconds_bucket{le=\"0.005\"} 1",
		"identity_validate_latency_seconds_bucket{le=\"+Inf\"} 36",
		"identity_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "identity_outbox_publish_latency_seconds") {
		t.Fatalf("histogram absent from snapshot must not be rendered:\n%s", out)
	}
}

func TestRenderFromLiveCollector(t *testing.T) {
	m := metrics.New(metrics.Config{Enabled: true})
	m.Inc(metrics.ConsumerApplied)
	m.Inc(metrics.ConsumerApplied)

	out := NewExporter(fakeSource{snapshot: m.Snapshot()}).Render()
	if !strings.Contains(out, "identity_consumer_applied_total 2") {
		t.Fatalf("expected consumer counter, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: metrics.Snapshot{
			Counters:   map[metrics.ID]uint64{metrics.LoginSuccess: 1},
			Histograms: map[metrics.ID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporter(fakeSource{
		snapshot: metrics.Snapshot{
			Counters: map[metrics.ID]uint64{
				metrics.LoginSuccess:      1000,
				metrics.LoginFailure:      40,
				metrics.OutboxDispatched:  800,
				metrics.OutboxRetried:     10,
				metrics.ConsumerApplied:   800,
				metrics.ConsumerDuplicate: 20,
			},
			Histograms: map[metrics.ID][]uint64{
				metrics.ValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
