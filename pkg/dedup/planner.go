package dedup

import (
	"github.com/Ramsey-B/clover/pkg/grouping"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/survivor"
)

// Planner computes merge plans in memory. It never touches a store.
type Planner struct {
	grouper  *grouping.Grouper
	selector *survivor.Selector
	merger   *merging.FieldMerger
}

func NewPlanner(grouper *grouping.Grouper, selector *survivor.Selector, merger *merging.FieldMerger) *Planner {
	return &Planner{
		grouper:  grouper,
		selector: selector,
		merger:   merger,
	}
}

// DefaultPlanner uses the standard matchers and completeness weights.
func DefaultPlanner() *Planner {
	return NewPlanner(grouping.NewGrouper(), survivor.NewSelector(survivor.DefaultWeights()), merging.NewFieldMerger())
}

// Plan groups leads and plans every group. Equal input always yields equal plans.
func (p *Planner) Plan(leads []models.Lead) []models.MergePlan {
	groups := p.grouper.Group(leads)
	plans := make([]models.MergePlan, 0, len(groups))
	for _, group := range groups {
		plans = append(plans, p.PlanGroup(group))
	}
	return plans
}

// PlanGroup selects the survivor of one group and computes its patch.
func (p *Planner) PlanGroup(group models.DuplicateGroup) models.MergePlan {
	winner, duplicates := p.selector.Select(group.Members)
	return models.MergePlan{
		Group:      group,
		Survivor:   winner,
		Duplicates: duplicates,
		Patch:      p.merger.BuildPatch(winner, duplicates),
	}
}

// StillMatches reports whether every lead still produces the group's key.
func (p *Planner) StillMatches(group models.DuplicateGroup, leads []models.Lead) bool {
	matcher, ok := p.grouper.Matcher(group.MatchType)
	if !ok {
		return false
	}
	for i := range leads {
		key, ok := matcher.Key(&leads[i])
		if !ok || key != group.MatchKey {
			return false
		}
	}
	return true
}
