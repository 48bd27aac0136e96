package metric

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	answersSubmittedCounter     otelmetric.Int64Counter
	updateConflictCounter       otelmetric.Int64Counter
	statusTransitionCounter     otelmetric.Int64Counter
	dashboardRecomputeHistogram otelmetric.Float64Histogram
)

// InitOTelMetrics creates the engine's OTel instruments on the global meter provider.
func InitOTelMetrics() {
	meter := otel.Meter("compass")

	c, err := meter.Int64Counter(
		"compass.answers.submitted",
		otelmetric.WithDescription("Number of accepted answer submissions"),
	)
	if err == nil {
		answersSubmittedCounter = c
	}

	c, err = meter.Int64Counter(
		"compass.assessment.update_conflicts",
		otelmetric.WithDescription("Optimistic concurrency conflicts on assessment updates"),
	)
	if err == nil {
		updateConflictCounter = c
	}

	c, err = meter.Int64Counter(
		"compass.assessment.status_transitions",
		otelmetric.WithDescription("Assessment lifecycle transitions"),
	)
	if err == nil {
		statusTransitionCounter = c
	}

	h, err := meter.Float64Histogram(
		"compass.dashboard.recompute_duration",
		otelmetric.WithDescription("Duration of dashboard analytics recomputation in seconds"),
		otelmetric.WithUnit("s"),
	)
	if err == nil {
		dashboardRecomputeHistogram = h
	}
}

// RecordAnswerSubmitted counts an accepted answer, split by question type and new-vs-resubmitted.
func RecordAnswerSubmitted(ctx context.Context, questionType string, wasNew bool) {
	if answersSubmittedCounter == nil {
		return
	}
	answersSubmittedCounter.Add(ctx, 1,
		otelmetric.WithAttributes(
			attribute.String("question.type", questionType),
			attribute.Bool("answer.new", wasNew),
		),
	)
}

// RecordUpdateConflict counts one lost compare-and-swap on an assessment record.
func RecordUpdateConflict(ctx context.Context) {
	if updateConflictCounter == nil {
		return
	}
	updateConflictCounter.Add(ctx, 1)
}

// RecordStatusTransition counts a lifecycle move.
func RecordStatusTransition(ctx context.Context, from, to string) {
	if statusTransitionCounter == nil {
		return
	}
	statusTransitionCounter.Add(ctx, 1,
		otelmetric.WithAttributes(
			attribute.String("status.from", from),
			attribute.String("status.to", to),
		),
	)
}

// RecordDashboardRecompute records how long a matrix rollup took.
func RecordDashboardRecompute(ctx context.Context, duration time.Duration, matrixID string, scopes int) {
	if dashboardRecomputeHistogram == nil {
		return
	}
	dashboardRecomputeHistogram.Record(ctx, duration.Seconds(),
		otelmetric.WithAttributes(
			attribute.String("matrix.id", matrixID),
			attribute.Int("dashboard.scopes", scopes),
		),
	)
}
