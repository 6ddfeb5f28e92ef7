// Package survivor picks the canonical lead of a duplicate group.
package survivor

import (
	"github.com/Ramsey-B/clover/pkg/models"
)

// Weights are the completeness points each populated field earns.
type Weights struct {
	CompanyName    int
	Phone          int
	Email          int
	ContactName    int
	City           int
	Category       int
	EstimatedValue int
	Notes          int
}

func DefaultWeights() Weights {
	return Weights{
		CompanyName:    2,
		Phone:          2,
		Email:          2,
		ContactName:    1,
		City:           1,
		Category:       1,
		EstimatedValue: 1,
		Notes:          1,
	}
}

type Selector struct {
	weights Weights
}

func NewSelector(weights Weights) *Selector {
	return &Selector{weights: weights}
}

// Score returns the completeness score of lead.
func (s *Selector) Score(lead *models.Lead) int {
	score := 0
	add := func(value string, points int) {
		if !models.IsBlank(value) {
			score += points
		}
	}
	add(lead.CompanyName, s.weights.CompanyName)
	add(lead.Phone, s.weights.Phone)
	add(lead.Email, s.weights.Email)
	add(lead.ContactName, s.weights.ContactName)
	add(lead.City, s.weights.City)
	add(lead.Category, s.weights.Category)
	add(lead.Notes, s.weights.Notes)
	if lead.EstimatedValue != nil {
		score += s.weights.EstimatedValue
	}
	return score
}

// Less reports whether a ranks ahead of b: higher score, then more recent activity,
// then earlier creation, then lower id.
func (s *Selector) Less(a, b *models.Lead) bool {
	if sa, sb := s.Score(a), s.Score(b); sa != sb {
		return sa > sb
	}
	if ra, rb := a.RecentActivity(), b.RecentActivity(); !ra.Equal(rb) {
		return ra.After(rb)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Select returns the survivor and the remaining members in their original group order.
func (s *Selector) Select(members []models.Lead) (models.Lead, []models.Lead) {
	if len(members) == 0 {
		return models.Lead{}, nil
	}

	best := 0
	for i := 1; i < len(members); i++ {
		if s.Less(&members[i], &members[best]) {
			best = i
		}
	}

	duplicates := make([]models.Lead, 0, len(members)-1)
	for i := range members {
		if i != best {
			duplicates = append(duplicates, members[i])
		}
	}
	return members[best], duplicates
}
