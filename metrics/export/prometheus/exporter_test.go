package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/tabauth"
)

type fakeSource struct {
	snapshot tabauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tabauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func emptySource() fakeSource {
	return fakeSource{snapshot: tabauth.MetricsSnapshot{
		Counters:   map[tabauth.MetricID]uint64{},
		Histograms: map[tabauth.MetricID][]uint64{},
	}}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSources(emptySource(), emptySource())
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got:\n%s", got)
	}
	if got := NewExporter().Render(); got != "" {
		t.Fatalf("expected empty output without tabs, got:\n%s", got)
	}
}

func TestRenderSumsAcrossTabs(t *testing.T) {
	exp := NewExporterFromSources(
		fakeSource{
			snapshot: tabauth.MetricsSnapshot{
				Counters: map[tabauth.MetricID]uint64{
					tabauth.MetricAutoLoginSuccess: 1,
					tabauth.MetricPollQuery:        4,
				},
				Histograms: map[tabauth.MetricID][]uint64{
					tabauth.MetricAutoLoginLatency: {1, 0, 0, 0, 0, 0, 0, 0},
				},
			},
			dropped: 2,
		},
		fakeSource{
			snapshot: tabauth.MetricsSnapshot{
				Counters: map[tabauth.MetricID]uint64{
					tabauth.MetricAutoLoginClaimLost: 1,
					tabauth.MetricPollQuery:          3,
				},
				Histograms: map[tabauth.MetricID][]uint64{
					tabauth.MetricAutoLoginLatency: {0, 2, 0, 0, 0, 0, 0, 1},
				},
			},
		},
	)

	out := exp.Render()
	for _, want := range []string{
		"tabauth_autologin_success_total 1",
		"tabauth_autologin_claim_lost_total 1",
		"tabauth_poll_query_total 7",
		`tabauth_autologin_latency_seconds_bucket{le="0.05"} 1`,
		`tabauth_autologin_latency_seconds_bucket{le="0.1"} 3`,
		`tabauth_autologin_latency_seconds_bucket{le="+Inf"} 4`,
		"tabauth_autologin_latency_seconds_count 4",
		"tabauth_audit_dropped_total 2",
		"# TYPE tabauth_logout_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	src := emptySource()
	src.snapshot.Counters[tabauth.MetricLoginSuccess] = 1
	exp := NewExporterFromSources(src)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tabauth_login_success_total 1") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporterFromSources(fakeSource{
		snapshot: tabauth.MetricsSnapshot{
			Counters: map[tabauth.MetricID]uint64{
				tabauth.MetricLoginSuccess:     1000,
				tabauth.MetricPollQuery:        40000,
				tabauth.MetricAutoLoginSuccess: 800,
			},
			Histograms: map[tabauth.MetricID][]uint64{
				tabauth.MetricAutoLoginLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
