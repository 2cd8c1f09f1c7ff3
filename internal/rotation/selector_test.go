/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/friendsincode/loopcast/internal/models"
)

func names(groups []models.ContentGroup) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.Name
	}
	return out
}

func TestSelectGroups(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(h int) *time.Time {
		v := base.Add(time.Duration(h) * time.Hour)
		return &v
	}
	group := func(name string, last *time.Time, prio int) models.ContentGroup {
		return models.ContentGroup{Name: name, SourceURL: "https://example.com/" + name, Enabled: true, LastSelectedAt: last, Priority: prio}
	}

	tests := []struct {
		name     string
		groups   []models.ContentGroup
		min, max int
		exclude  map[string]bool
		want     []string
		wantErr  error
	}{
		{
			name:   "never selected first then oldest",
			groups: []models.ContentGroup{group("A", at(3), 0), group("B", nil, 0), group("C", at(1), 0), group("D", at(2), 0)},
			min:    2, max: 3,
			want: []string{"B", "C", "D"},
		},
		{
			name:   "priority breaks recency ties",
			groups: []models.ContentGroup{group("A", nil, 5), group("B", nil, 1), group("C", nil, 1)},
			min:    1, max: 2,
			want: []string{"B", "C"},
		},
		{
			name:   "exactly min eligible",
			groups: []models.ContentGroup{group("A", at(1), 0), group("B", at(2), 0)},
			min:    2, max: 2,
			want: []string{"A", "B"},
		},
		{
			name:   "oldest wins a single slot",
			groups: []models.ContentGroup{group("Y", at(-24), 0), group("X", at(-240), 0)},
			min:    1, max: 1,
			want: []string{"X"},
		},
		{
			name:   "two of two regardless of recency",
			groups: []models.ContentGroup{group("A", at(-1), 0), group("B", at(-1000), 9)},
			min:    2, max: 2,
			want: []string{"B", "A"},
		},
		{
			name:   "current groups excluded case-insensitively",
			groups: []models.ContentGroup{group("A", nil, 0), group("B", at(1), 0), group("C", at(2), 0)},
			min:    2, max: 2,
			exclude: excludeSet([]string{"a"}),
			want:    []string{"B", "C"},
		},
		{
			name: "disabled and sourceless groups skipped",
			groups: []models.ContentGroup{
				{Name: "A", SourceURL: "x", Enabled: false},
				{Name: "B", Enabled: true},
				group("C", nil, 0),
			},
			min: 1, max: 3,
			want: []string{"C"},
		},
		{
			name:    "too few eligible",
			groups:  []models.ContentGroup{group("A", nil, 0), group("B", nil, 0)},
			min:     2, max: 2,
			exclude: excludeSet([]string{"B"}),
			wantErr: ErrNotEnoughGroups,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectGroups(tt.groups, tt.min, tt.max, tt.exclude)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectGroups: %v", err)
			}
			if diff := cmp.Diff(tt.want, names(got)); diff != "" {
				t.Fatalf("selection mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
