package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "roundtable"

// Metrics holds all Roundtable metric instruments.
type Metrics struct {
	RunsStarted        metric.Int64Counter
	RunsCompleted      metric.Int64Counter
	RunsFailed         metric.Int64Counter
	Steps              metric.Int64Counter
	Delegations        metric.Int64Counter
	ChangeSetsCreated  metric.Int64Counter
	ChangeSetDecisions metric.Int64Counter
	RunDuration        metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("roundtable.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("roundtable.runs.completed",
		metric.WithDescription("Number of runs that reached a terminal status"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("roundtable.runs.failed",
		metric.WithDescription("Number of runs that ended in error"))
	if err != nil {
		return nil, err
	}

	m.Steps, err = meter.Int64Counter("roundtable.steps",
		metric.WithDescription("Number of workflow steps executed"))
	if err != nil {
		return nil, err
	}

	m.Delegations, err = meter.Int64Counter("roundtable.delegations",
		metric.WithDescription("Number of router delegations to specialists"))
	if err != nil {
		return nil, err
	}

	m.ChangeSetsCreated, err = meter.Int64Counter("roundtable.changesets.created",
		metric.WithDescription("Number of change-sets staged for approval"))
	if err != nil {
		return nil, err
	}

	m.ChangeSetDecisions, err = meter.Int64Counter("roundtable.changesets.decisions",
		metric.WithDescription("Number of human change-set decisions"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("roundtable.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
