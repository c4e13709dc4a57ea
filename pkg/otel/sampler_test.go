package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestReservationSampler(t *testing.T) {
	sampler := reservationSampler{ratio: sdktrace.NeverSample()}
	traceID := trace.TraceID{1}

	for name, want := range map[string]sdktrace.SamplingDecision{
		"POST /v1/pickup-locations/:id/reservations": sdktrace.RecordAndSample,
		"POST /v1/pickup-locations/transfer":         sdktrace.RecordAndSample,
		"POST /v1/registration/transport/confirm":    sdktrace.RecordAndSample,
		"GET /v1/events/:event_id/pickup-locations":  sdktrace.Drop,
		"PUT /v1/registration/personal-info":         sdktrace.Drop,
	} {
		got := sampler.ShouldSample(sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       traceID,
			Name:          name,
		})
		assert.Equal(t, want, got.Decision, name)
	}
}
