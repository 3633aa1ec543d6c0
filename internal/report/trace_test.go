package report_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/grievance/internal/report"
)

func TestTransition_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.move(t, f.newReport(t), "waiting_admitted")

	_, err := f.svc.ApplyTransition(ctx, member, report.TransitionInput{ReportID: r.ID, StatusCode: report.StatusArchived})
	if !errors.Is(err, report.ErrMissingComment) {
		t.Fatalf("err = %v, want missing comment", err)
	}

	var spans []tracetest.SpanStub
	for _, s := range exporter.GetSpans() {
		if s.Name == "report.transition" {
			spans = append(spans, s)
		}
	}
	if len(spans) != 2 {
		t.Fatalf("report.transition spans = %d, want 2", len(spans))
	}

	attrs := func(s tracetest.SpanStub) map[string]string {
		m := make(map[string]string, len(s.Attributes))
		for _, kv := range s.Attributes {
			m[string(kv.Key)] = kv.Value.Emit()
		}
		return m
	}

	admitted := attrs(spans[0])
	if admitted["report.to_status"] != "waiting_admitted" || admitted["report.filter_decision"] != "true" {
		t.Errorf("filter span attributes = %v", admitted)
	}
	if _, ok := admitted["report.error_kind"]; ok {
		t.Error("successful transition should not carry an error kind")
	}

	rejected := attrs(spans[1])
	if rejected["report.error_kind"] != string(report.KindMissingComment) {
		t.Errorf("report.error_kind = %q, want %q", rejected["report.error_kind"], report.KindMissingComment)
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("a domain rejection should not mark the span as failed")
	}
}
