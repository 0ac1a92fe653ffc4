package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Date(2026, 10, 17, 3, 0, 0, 0, time.UTC)

	m.RecordRun("wallet-reconcile", 250*time.Millisecond, finished, nil)
	m.RecordRun("wallet-reconcile", 100*time.Millisecond, finished.Add(time.Minute), errors.New("db down"))
	m.RecordRun("", time.Millisecond, finished, nil)
	m.IncSkipped()
	m.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "cron_job_runs_total")
	if got := sumWhere(runs, map[string]string{"job": "wallet-reconcile", "outcome": "success"}); got != 1 {
		t.Fatalf("expected one success, got %f", got)
	}
	if got := sumWhere(runs, map[string]string{"job": "wallet-reconcile", "outcome": "failure"}); got != 1 {
		t.Fatalf("expected one failure, got %f", got)
	}
	if got := sumWhere(runs, map[string]string{"job": "unknown"}); got != 1 {
		t.Fatalf("expected blank job name to be labelled unknown, got %f", got)
	}

	// the failed run must not move the staleness gauge
	if got, err := fetchGaugeValue(mfs, "cron_job_last_success_timestamp_seconds", "job", "wallet-reconcile"); err != nil {
		t.Fatalf("fetch last success: %v", err)
	} else if got != float64(finished.Unix()) {
		t.Fatalf("expected last success %d, got %f", finished.Unix(), got)
	}

	if got, err := fetchHistogramSum(mfs, "cron_job_duration_seconds", "job", "wallet-reconcile"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got < 0.35 || got > 0.36 {
		t.Fatalf("expected duration sum 0.35, got %f", got)
	}

	skipped := findMetricFamily(mfs, "cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("expected two skipped cycles")
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.RecordRun("x", time.Second, time.Now(), nil)
	m.IncSkipped()
	NewCronJobMetrics(nil).RecordRun("x", time.Second, time.Now(), errors.New("boom"))
}

func sumWhere(mf *dto.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, metric := range mf.GetMetric() {
		ok := true
		for name, value := range labels {
			if !matchesLabel(metric.GetLabel(), name, value) {
				ok = false
				break
			}
		}
		if ok {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	return sumWhere(mf, map[string]string{label: value}), nil
}

func fetchGaugeValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetGauge().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("gauge %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
