/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gopkg.in/yaml.v3"
)

// TestAlertsFileValid checks the shipped alert rules parse and only reference exported metrics.
func TestAlertsFileValid(t *testing.T) {
	data, err := os.ReadFile("../../deploy/prometheus/alerts.yml")
	if err != nil {
		t.Skipf("alerts file not found: %v", err)
	}

	var doc struct {
		Groups []struct {
			Name  string `yaml:"name"`
			Rules []struct {
				Alert string `yaml:"alert"`
				Expr  string `yaml:"expr"`
			} `yaml:"rules"`
		} `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("invalid YAML in alerts.yml: %v", err)
	}
	if len(doc.Groups) == 0 {
		t.Fatal("alerts.yml has no groups")
	}
	for _, g := range doc.Groups {
		for _, r := range g.Rules {
			if r.Alert == "" || r.Expr == "" {
				t.Errorf("group %s has a rule without alert/expr", g.Name)
			}
			if !strings.Contains(r.Expr, namespace+"_") {
				t.Errorf("alert %s does not reference a %s metric", r.Alert, namespace)
			}
		}
	}
}

func TestSetRotationState(t *testing.T) {
	all := []string{"PLAYING", "EXHAUSTED"}
	SetRotationState("PLAYING", all)
	SetRotationState("EXHAUSTED", all)

	if got := testutil.ToFloat64(RotationState.WithLabelValues("EXHAUSTED")); got != 1 {
		t.Fatalf("EXHAUSTED = %v, want 1", got)
	}
	if got := testutil.ToFloat64(RotationState.WithLabelValues("PLAYING")); got != 0 {
		t.Fatalf("PLAYING = %v, want 0", got)
	}
}
