// Package eligibility decides which task templates an entitlement unlocks.
package eligibility

import (
	"sort"

	"adoptline/internal/domain"
)

// Set is a set of template ids.
type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs returns the members in ascending order.
func (s Set) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Eligible reports whether a single template is unlocked by ent. Inactive
// templates are never eligible.
func Eligible(ent domain.Entitlement, tpl domain.TaskTemplate) bool {
	if !tpl.Active {
		return false
	}
	if tpl.ProductID != "" && ent.ProductID != "" && tpl.ProductID != ent.ProductID {
		return false
	}
	if tpl.LicenseTier > ent.LicenseTier {
		return false
	}
	return selectionMatches(tpl.OutcomeIDs, ent.OutcomeIDs) &&
		selectionMatches(tpl.ReleaseIDs, ent.ReleaseIDs)
}

// selectionMatches passes when either side is ALL or the explicit sets intersect.
func selectionMatches(tpl, ent domain.Selection) bool {
	if tpl.All || ent.All {
		return true
	}
	return tpl.Intersects(ent)
}

// Resolve returns the ids of every template ent makes eligible.
func Resolve(ent domain.Entitlement, templates []domain.TaskTemplate) Set {
	out := make(Set, len(templates))
	for _, tpl := range templates {
		if Eligible(ent, tpl) {
			out[tpl.ID] = struct{}{}
		}
	}
	return out
}

// Filter returns the eligible templates ordered by sequence number, then id.
func Filter(ent domain.Entitlement, templates []domain.TaskTemplate) []domain.TaskTemplate {
	var out []domain.TaskTemplate
	for _, tpl := range templates {
		if Eligible(ent, tpl) {
			out = append(out, tpl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SequenceNumber != out[j].SequenceNumber {
			return out[i].SequenceNumber < out[j].SequenceNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TotalWeight sums the weights of the given templates.
func TotalWeight(templates []domain.TaskTemplate) float64 {
	var total float64
	for _, tpl := range templates {
		total += tpl.Weight
	}
	return total
}
