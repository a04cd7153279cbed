package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authguard "github.com/velodyn/authguard"
)

type fakeSource struct {
	snapshot authguard.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authguard.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestRenderExpositionFormat(t *testing.T) {
	source := &fakeSource{dropped: 3}
	source.snapshot.Counters[authguard.MetricLoginCheckAllowed] = 42
	source.snapshot.Counters[authguard.MetricIPRateLimited] = 7

	out := NewPrometheusExporterFromSource(source).Render()

	for _, want := range []string{
		"# HELP authguard_login_check_allowed_total ",
		"# TYPE authguard_login_check_allowed_total counter\n",
		"authguard_login_check_allowed_total 42\n",
		"authguard_ip_rate_limited_total 7\n",
		"authguard_audit_dropped_total 3\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	// Every defined counter appears even at zero.
	if !strings.Contains(out, "authguard_key_revoked_total 0\n") {
		t.Fatalf("zero-valued counter missing:\n%s", out)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	source := &fakeSource{}
	source.snapshot.Counters[authguard.MetricAccountLocked] = 1

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	NewPrometheusExporterFromSource(source).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "authguard_account_locked_total 1\n") {
		t.Fatalf("body missing counter:\n%s", rec.Body.String())
	}
}

func TestRenderNilSafe(t *testing.T) {
	var exporter *PrometheusExporter
	if out := exporter.Render(); out != "" {
		t.Fatalf("expected empty render from nil exporter, got %q", out)
	}
	if out := (&PrometheusExporter{}).Render(); out != "" {
		t.Fatalf("expected empty render without source, got %q", out)
	}
}
