package survivor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

var t0 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestSelector_Score(t *testing.T) {
	s := NewSelector(DefaultWeights())

	full := models.Lead{
		CompanyName:    "Acme",
		Phone:          "5551234567",
		Email:          "a@x.com",
		ContactName:    "Ana",
		City:           "Lisbon",
		Category:       "retail",
		EstimatedValue: ptr(10.0),
		Notes:          "met at fair",
	}
	assert.Equal(t, 11, s.Score(&full))
	assert.Equal(t, 0, s.Score(&models.Lead{CompanyName: "   "}))
	assert.Equal(t, 1, s.Score(&models.Lead{EstimatedValue: ptr(0.0)}), "a zero value is still a value")
}

func TestSelector_Select(t *testing.T) {
	s := NewSelector(DefaultWeights())

	tests := []struct {
		name     string
		members  []models.Lead
		expected string
	}{
		{
			name: "most complete wins",
			members: []models.Lead{
				{ID: "L1", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0},
				{ID: "L2", Email: "a@x.com", Phone: "5551234567", CompanyName: "Acme", CreatedAt: t0.Add(time.Hour), UpdatedAt: t0.Add(time.Hour)},
			},
			expected: "L2",
		},
		{
			name: "equal score prefers recent activity",
			members: []models.Lead{
				{ID: "L1", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0, LastActivityAt: ptr(t0.Add(48 * time.Hour))},
				{ID: "L2", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0.Add(24 * time.Hour)},
			},
			expected: "L1",
		},
		{
			name: "updated_at counts when it is later than last activity",
			members: []models.Lead{
				{ID: "L1", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0, LastActivityAt: ptr(t0.Add(time.Hour))},
				{ID: "L2", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0.Add(2 * time.Hour)},
			},
			expected: "L2",
		},
		{
			name: "equal recency prefers earliest created",
			members: []models.Lead{
				{ID: "L1", Email: "a@x.com", CreatedAt: t0.Add(time.Minute), UpdatedAt: t0.Add(time.Hour)},
				{ID: "L2", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0.Add(time.Hour)},
			},
			expected: "L2",
		},
		{
			name: "full tie falls back to lowest id",
			members: []models.Lead{
				{ID: "L9", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0},
				{ID: "L3", Email: "a@x.com", CreatedAt: t0, UpdatedAt: t0},
			},
			expected: "L3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			survivor, duplicates := s.Select(tt.members)
			assert.Equal(t, tt.expected, survivor.ID)
			assert.Len(t, duplicates, len(tt.members)-1)
			for _, d := range duplicates {
				assert.NotEqual(t, survivor.ID, d.ID)
			}
		})
	}
}

func TestSelector_DuplicatesKeepGroupOrder(t *testing.T) {
	s := NewSelector(DefaultWeights())
	members := []models.Lead{
		{ID: "L1", CreatedAt: t0, UpdatedAt: t0},
		{ID: "L2", CompanyName: "Acme", CreatedAt: t0, UpdatedAt: t0},
		{ID: "L3", CreatedAt: t0, UpdatedAt: t0},
	}
	survivor, duplicates := s.Select(members)
	assert.Equal(t, "L2", survivor.ID)
	assert.Equal(t, "L1", duplicates[0].ID)
	assert.Equal(t, "L3", duplicates[1].ID)
}
