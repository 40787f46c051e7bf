package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/chain"
	"github.com/jmerrifield20/auditchain/internal/sweep"
	"github.com/jmerrifield20/auditchain/internal/webhooks"
)

// The Record* functions must satisfy the component callback types.
var (
	_ audit.MetricsRecorder    = RecordEmission
	_ chain.MetricsRecorder    = RecordLedger
	_ sweep.MetricsRecordFunc  = RecordSweep
	_ webhooks.MetricsRecorder = RecordWebhookDelivery
)

// value reads the current value of a counter or gauge.
func value(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read metric: %v", err)
	}
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}

func TestRecordEmission(t *testing.T) {
	before := value(t, auditEmissionsTotal.WithLabelValues("user.role.change", "success"))
	RecordEmission("user.role.change", true)
	RecordEmission("user.role.change", false)

	if got := value(t, auditEmissionsTotal.WithLabelValues("user.role.change", "success")); got != before+1 {
		t.Errorf("success count: got %v, want %v", got, before+1)
	}
	if got := value(t, auditEmissionsTotal.WithLabelValues("user.role.change", "failure")); got < 1 {
		t.Errorf("failure count: got %v, want >= 1", got)
	}
}

func TestRecordLedger(t *testing.T) {
	before := value(t, ledgerOpsTotal.WithLabelValues("append", "conflict"))
	RecordLedger("append", "conflict")
	if got := value(t, ledgerOpsTotal.WithLabelValues("append", "conflict")); got != before+1 {
		t.Errorf("got %v, want %v", got, before+1)
	}
}

func TestRecordSweep(t *testing.T) {
	before := value(t, sweepsTotal.WithLabelValues("failure"))
	RecordSweep(false, 20*time.Millisecond)
	if got := value(t, sweepsTotal.WithLabelValues("failure")); got != before+1 {
		t.Errorf("got %v, want %v", got, before+1)
	}
}

func TestRecordWebhookDelivery(t *testing.T) {
	before := value(t, webhookDeliveriesTotal.WithLabelValues("success"))
	RecordWebhookDelivery(true)
	if got := value(t, webhookDeliveriesTotal.WithLabelValues("success")); got != before+1 {
		t.Errorf("got %v, want %v", got, before+1)
	}
}

func TestObserveChains(t *testing.T) {
	ObserveChains([]chain.ChainHead{
		{Chain: "attendance/T/S1", Length: 3},
		{Chain: "attendance/T/S2", Length: 4},
		{Chain: "grades/T/student-1", Length: 2},
	})
	if got := value(t, chainsByKind.WithLabelValues("attendance")); got != 2 {
		t.Errorf("attendance chains: got %v, want 2", got)
	}
	if got := value(t, recordsByKind.WithLabelValues("attendance")); got != 7 {
		t.Errorf("attendance records: got %v, want 7", got)
	}
	if got := value(t, recordsByKind.WithLabelValues("grades")); got != 2 {
		t.Errorf("grades records: got %v, want 2", got)
	}

	// A later listing replaces the earlier one.
	ObserveChains([]chain.ChainHead{{Chain: "grades/T/student-1", Length: 5}})
	if got := value(t, recordsByKind.WithLabelValues("grades")); got != 5 {
		t.Errorf("grades records: got %v, want 5", got)
	}
	if n := testCollectorCount(t, chainsByKind); n != 1 {
		t.Errorf("expected stale kinds to be dropped, got %d series", n)
	}
}

func TestKind(t *testing.T) {
	for key, want := range map[string]string{
		"attendance/tenant-T/session-S": "attendance",
		"roles":                         "roles",
		"/x":                            "unknown",
		"":                              "unknown",
	} {
		if got := Kind(key); got != want {
			t.Errorf("Kind(%q) = %q, want %q", key, got, want)
		}
	}
}

func testCollectorCount(t *testing.T, c prometheus.Collector) int {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	return n
}
