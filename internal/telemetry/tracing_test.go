/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracerConfig{Enabled: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	// no endpoint means no exporter; spans are no-ops
	_, span := StartSpan(context.Background(), "rotation.switch", AttrSessionID.String("s1"))
	if span.SpanContext().IsValid() {
		t.Fatalf("expected a no-op span")
	}
	EndSpan(span, errors.New("ignored"))
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		got := samplerFor(tt.rate).Description()
		if !strings.HasPrefix(got, "ParentBased{root:") || !strings.Contains(got, tt.want) {
			t.Fatalf("samplerFor(%v) = %s, want root %s", tt.rate, got, tt.want)
		}
	}
}
