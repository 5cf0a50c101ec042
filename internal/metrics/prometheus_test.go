package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	pm.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "gvmscan_system_uptime_seconds") {
		t.Fatalf("expected uptime metric in output")
	}
}

func TestPrometheusMetrics_RunMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RunStarted()
	if got := testutil.ToFloat64(pm.activeRuns); got != 1 {
		t.Errorf("expected 1 active run, got %v", got)
	}

	pm.RunFinished("Full and fast", "done", 42*time.Minute)
	pm.RunStarted()
	pm.RunFinished("Full and fast", "failed", time.Minute)

	if got := testutil.ToFloat64(pm.activeRuns); got != 0 {
		t.Errorf("expected 0 active runs, got %v", got)
	}
	if count := testutil.CollectAndCount(pm.runsTotal); count != 2 {
		t.Errorf("expected 2 outcome combinations, got %d", count)
	}
	if got := testutil.ToFloat64(pm.runsTotal.WithLabelValues("Full and fast", "done")); got != 1 {
		t.Errorf("expected 1 done run, got %v", got)
	}

	pm.RecordStateTransition("Polling")
	pm.RecordStateTransition("Polling")
	pm.RecordStateTransition("Done")
	if got := testutil.ToFloat64(pm.stateTransitions.WithLabelValues("Polling")); got != 2 {
		t.Errorf("expected 2 Polling transitions, got %v", got)
	}

	pm.RecordPoll("ok")
	pm.RecordPoll("transport_error")
	if count := testutil.CollectAndCount(pm.polls); count != 2 {
		t.Errorf("expected 2 poll results, got %d", count)
	}

	pm.SetTaskProgress(45)
	if got := testutil.ToFloat64(pm.taskProgress); got != 45 {
		t.Errorf("expected progress 45, got %v", got)
	}
}

func TestPrometheusMetrics_CommandMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordCommand("get_tasks", 20*time.Millisecond, "")
	pm.RecordCommand("get_tasks", 30*time.Millisecond, "TRANSPORT")
	pm.RecordCommand("create_target", 10*time.Millisecond, "")

	if got := testutil.ToFloat64(pm.commandsTotal.WithLabelValues("get_tasks", "error")); got != 1 {
		t.Errorf("expected 1 failed get_tasks, got %v", got)
	}
	if got := testutil.ToFloat64(pm.commandErrors.WithLabelValues("get_tasks", "TRANSPORT")); got != 1 {
		t.Errorf("expected 1 transport error, got %v", got)
	}
	if count := testutil.CollectAndCount(pm.commandDuration); count != 2 {
		t.Errorf("expected 2 command histograms, got %d", count)
	}
}

func TestPrometheusMetrics_CleanupAndReport(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordCleanupObject("task", "deleted")
	pm.RecordCleanupObject("target", "failed")
	pm.RecordReportBytes("PDF", 1024)
	pm.RecordReportBytes("PDF", 1024)

	if count := testutil.CollectAndCount(pm.cleanupObjects); count != 2 {
		t.Errorf("expected 2 cleanup combinations, got %d", count)
	}
	if got := testutil.ToFloat64(pm.reportBytes.WithLabelValues("PDF")); got != 2048 {
		t.Errorf("expected 2048 bytes, got %v", got)
	}
}

func TestPrometheusMetrics_WriteTextfile(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.RecordPoll("ok")

	path := filepath.Join(t.TempDir(), "gvmscan.prom")
	if err := pm.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	if !strings.Contains(string(data), `gvmscan_run_polls_total{result="ok"} 1`) {
		t.Errorf("expected poll counter in textfile, got %s", data)
	}
}

func TestPrometheusMetrics_NilIsNoop(t *testing.T) {
	var pm *PrometheusMetrics

	pm.RunStarted()
	pm.RunFinished("Empty", "done", time.Second)
	pm.RecordStateTransition("Idle")
	pm.RecordPoll("ok")
	pm.SetTaskProgress(10)
	pm.RecordCommand("get_tasks", time.Second, "")
	pm.RecordCleanupObject("task", "deleted")
	pm.RecordReportBytes("XML", 1)

	if pm.GetRegistry() != nil {
		t.Error("nil metrics should have no registry")
	}
	if err := pm.WriteTextfile("/nonexistent/gvmscan.prom"); err != nil {
		t.Errorf("nil metrics should not write, got %v", err)
	}

	rr := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil handler, got %d", rr.Code)
	}
}

func TestGetGlobalMetrics(t *testing.T) {
	if GetGlobalMetrics() != GetGlobalMetrics() {
		t.Error("global metrics should be a singleton")
	}
}
