/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/friendsincode/loopcast/internal/models"
)

// ErrNotEnoughGroups means fewer than the minimum groups are eligible.
var ErrNotEnoughGroups = errors.New("not enough eligible groups")

// SelectGroups picks between min and max enabled groups that are not in
// exclude. Never-selected groups come first, then the oldest selection; equal
// recency falls back to the lower priority value, then the name. The result is
// in play order.
func SelectGroups(groups []models.ContentGroup, min, max int, exclude map[string]bool) ([]models.ContentGroup, error) {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}

	eligible := make([]models.ContentGroup, 0, len(groups))
	for _, g := range groups {
		if !g.Enabled || g.SourceURL == "" || exclude[strings.ToLower(g.Name)] {
			continue
		}
		eligible = append(eligible, g)
	}
	if len(eligible) < min {
		return nil, fmt.Errorf("%w: %d eligible, %d required", ErrNotEnoughGroups, len(eligible), min)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		switch {
		case a.LastSelectedAt == nil && b.LastSelectedAt != nil:
			return true
		case a.LastSelectedAt != nil && b.LastSelectedAt == nil:
			return false
		case a.LastSelectedAt != nil && !a.LastSelectedAt.Equal(*b.LastSelectedAt):
			return a.LastSelectedAt.Before(*b.LastSelectedAt)
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})

	if len(eligible) > max {
		eligible = eligible[:max]
	}
	return eligible, nil
}

// excludeSet folds group names for SelectGroups.
func excludeSet(lists ...[]string) map[string]bool {
	out := make(map[string]bool)
	for _, l := range lists {
		for _, n := range l {
			out[strings.ToLower(n)] = true
		}
	}
	return out
}
