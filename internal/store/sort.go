package store

import (
	"sort"

	"fleetwatch/internal/domain"
)

// sortAlertsByTimestamp orders alerts by creation time.
// Params: alerts slice and ascending flag.
// Returns: slice sorted in place, id-tiebroken for determinism.
func sortAlertsByTimestamp(alerts []domain.Alert, oldestFirst bool) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].Timestamp.Equal(alerts[j].Timestamp) {
			if oldestFirst {
				return alerts[i].Timestamp.Before(alerts[j].Timestamp)
			}
			return alerts[i].Timestamp.After(alerts[j].Timestamp)
		}
		return alerts[i].ID < alerts[j].ID
	})
}

// sortRulesByPriority orders rules by priority descending.
// Params: rules slice.
// Returns: slice sorted in place, id-tiebroken for determinism.
func sortRulesByPriority(rules []domain.Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
