// Package grouping partitions a tenant's active leads into duplicate groups.
package grouping

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Grouper runs matchers in priority order. A lead claimed by a group from an
// earlier matcher is invisible to later matchers, so every lead lands in at most one group.
type Grouper struct {
	matchers []Matcher
}

func NewGrouper(matchers ...Matcher) *Grouper {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Grouper{matchers: matchers}
}

// SortLeads orders leads by created_at, then id. Grouping output depends only on this order.
func SortLeads(leads []models.Lead) {
	sort.SliceStable(leads, func(i, j int) bool {
		if !leads[i].CreatedAt.Equal(leads[j].CreatedAt) {
			return leads[i].CreatedAt.Before(leads[j].CreatedAt)
		}
		return leads[i].ID < leads[j].ID
	})
}

// Group returns duplicate groups of two or more active leads.
// Groups come out in matcher priority order and, within a matcher, by the position of their first member.
func (g *Grouper) Group(leads []models.Lead) []models.DuplicateGroup {
	candidates := make([]models.Lead, 0, len(leads))
	for i := range leads {
		if leads[i].IsActive() {
			candidates = append(candidates, leads[i])
		}
	}
	SortLeads(candidates)

	claimed := make(map[string]bool, len(candidates))
	var groups []models.DuplicateGroup

	for _, matcher := range g.matchers {
		buckets := make(map[string][]int)
		var keys []string

		for i := range candidates {
			if claimed[candidates[i].ID] {
				continue
			}
			key, ok := matcher.Key(&candidates[i])
			if !ok {
				continue
			}
			if _, seen := buckets[key]; !seen {
				keys = append(keys, key)
			}
			buckets[key] = append(buckets[key], i)
		}

		for _, key := range keys {
			idx := buckets[key]
			if len(idx) < 2 {
				continue
			}
			group := models.DuplicateGroup{
				MatchType: matcher.Type(),
				MatchKey:  key,
				Members:   make([]models.Lead, 0, len(idx)),
			}
			for _, i := range idx {
				group.Members = append(group.Members, candidates[i])
				claimed[candidates[i].ID] = true
			}
			groups = append(groups, group)
		}
	}

	return groups
}

// Matcher returns the configured matcher for t.
func (g *Grouper) Matcher(t models.MatchType) (Matcher, bool) {
	for _, m := range g.matchers {
		if m.Type() == t {
			return m, true
		}
	}
	return nil, false
}
