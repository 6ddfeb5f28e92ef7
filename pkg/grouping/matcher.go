package grouping

import (
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Matcher derives one normalized identity key from a lead.
// Leads with equal keys from the same matcher are duplicates of each other.
type Matcher interface {
	Type() models.MatchType
	Key(lead *models.Lead) (string, bool)
}

type EmailMatcher struct{}

func (EmailMatcher) Type() models.MatchType { return models.MatchTypeEmail }

func (EmailMatcher) Key(lead *models.Lead) (string, bool) {
	return normalizers.EmailKey(lead.Email)
}

type PhoneMatcher struct{}

func (PhoneMatcher) Type() models.MatchType { return models.MatchTypePhone }

func (PhoneMatcher) Key(lead *models.Lead) (string, bool) {
	return normalizers.PhoneKey(lead.Phone)
}

type NameCityMatcher struct{}

func (NameCityMatcher) Type() models.MatchType { return models.MatchTypeNameCity }

func (NameCityMatcher) Key(lead *models.Lead) (string, bool) {
	return normalizers.NameCityKey(lead.CompanyName, lead.City)
}

// DefaultMatchers returns the matchers in priority order: email, phone, company+city.
func DefaultMatchers() []Matcher {
	return []Matcher{EmailMatcher{}, PhoneMatcher{}, NameCityMatcher{}}
}
