package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type instruments struct {
	pairs        otelmetric.Int64Counter
	pairFailures otelmetric.Int64Counter
	pageFailures otelmetric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter("pipeline")
	var in instruments
	var err error
	if in.pairs, err = meter.Int64Counter("pipeline_pairs_evaluated_total"); err != nil {
		zap.L().Warn("pairs counter unavailable", zap.Error(err))
	}
	if in.pairFailures, err = meter.Int64Counter("pipeline_pair_failures_total"); err != nil {
		zap.L().Warn("pair failure counter unavailable", zap.Error(err))
	}
	if in.pageFailures, err = meter.Int64Counter("pipeline_classification_failures_total"); err != nil {
		zap.L().Warn("classification failure counter unavailable", zap.Error(err))
	}
	return &in
}

func add(ctx context.Context, c otelmetric.Int64Counter, category string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("category", category)))
}
