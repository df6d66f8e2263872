package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Metric registration sanity checks. Describe() is used rather than Gather()
// because *Vec metrics without observed label sets are absent from Gather output.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"audit_events_total", AuditEventsTotal},
		{"audit_write_failures_total", AuditWriteFailuresTotal},
		{"public_config_reads_total", PublicConfigReadsTotal},
		{"config_upserts_total", ConfigUpsertsTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_AuditEventsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"action": "CREATE_CONFIG", "status": "SUCCESS"}
	before := counterValue(t, AuditEventsTotal, labels)
	AuditEventsTotal.With(labels).Inc()
	if after := counterValue(t, AuditEventsTotal, labels); after-before < 1 {
		t.Errorf("AuditEventsTotal did not increase (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_AuditWriteFailures_CanBeIncremented(t *testing.T) {
	before := plainCounterValue(t, AuditWriteFailuresTotal)
	AuditWriteFailuresTotal.Inc()
	if after := plainCounterValue(t, AuditWriteFailuresTotal); after-before < 1 {
		t.Errorf("AuditWriteFailuresTotal did not increase")
	}
}

func TestMetrics_PublicConfigReads_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"outcome": "ok"}
	before := counterValue(t, PublicConfigReadsTotal, labels)
	PublicConfigReadsTotal.With(labels).Inc()
	if after := counterValue(t, PublicConfigReadsTotal, labels); after-before < 1 {
		t.Errorf("PublicConfigReadsTotal did not increase")
	}
}

func TestStartDBStatsCollector_StopsOnCancel(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	orig := DBStatsInterval
	DBStatsInterval = 10 * time.Millisecond
	defer func() { DBStatsInterval = orig }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartDBStatsCollector(ctx, db)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collector did not stop after cancel")
	}
}

func TestCaptureError_DisabledIsNoop(t *testing.T) {
	if err := InitSentry("", "test", "dev", 0); err != nil {
		t.Fatalf("InitSentry with empty DSN: %v", err)
	}
	CaptureError(context.Canceled, map[string]string{"path": "/api/config"})
	FlushSentry(time.Millisecond)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// plainCounterValue reads the value of a plain (non-vec) Counter.
func plainCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		return dm.GetCounter().GetValue()
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
