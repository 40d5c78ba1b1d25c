package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, registry *prometheus.Registry, name string, label, value string) float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if label == "" {
				return metric.GetCounter().GetValue()
			}
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPipelineMetrics_CountersAndLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := SetPipelineForTest(registry)

	m.IncJobRun("schedule_rules")
	m.IncJobRun("schedule_rules")
	m.IncJobError("schedule_rules")
	m.AddRulesScheduled(3)
	m.AddRulesScheduled(0)
	m.IncTargetOutcome(TargetOutcomeApplied)
	m.IncTargetOutcome(TargetOutcomeSkipped)
	m.IncOutboxDispatch(DispatchOutcomeDeadLettered)
	m.ObserveJobDuration("schedule_rules", 50*time.Millisecond)

	assert.Equal(t, float64(2), counterValue(t, registry, "repricer_pipeline_job_runs_total", "job", "schedule_rules"))
	assert.Equal(t, float64(1), counterValue(t, registry, "repricer_pipeline_job_errors_total", "job", "schedule_rules"))
	assert.Equal(t, float64(3), counterValue(t, registry, "repricer_rules_scheduled_total", "", ""))
	assert.Equal(t, float64(1), counterValue(t, registry, "repricer_targets_total", "outcome", TargetOutcomeApplied))
	assert.Equal(t, float64(1), counterValue(t, registry, "repricer_targets_total", "outcome", TargetOutcomeSkipped))
	assert.Equal(t, float64(1), counterValue(t, registry, "repricer_outbox_dispatch_total", "outcome", DispatchOutcomeDeadLettered))
}

func TestPipelineMetrics_ConstLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newPipelineMetrics(registry, Config{ServiceName: "repricer", Environment: "test"})
	m.IncJobRun("apply_runs")

	families, err := registry.Gather()
	require.NoError(t, err)

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "repricer_pipeline_job_runs_total" {
			family = f
		}
	}
	require.NotNil(t, family)

	labels := map[string]string{}
	for _, pair := range family.GetMetric()[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, "repricer", labels["service"])
	assert.Equal(t, "test", labels["env"])
}

func TestBacklogGaugeClampsNegativeAge(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := SetPipelineForTest(registry)
	m.SetOutboxBacklogAge(-5 * time.Second)

	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == "repricer_outbox_backlog_age_seconds" {
			assert.Equal(t, float64(0), family.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
