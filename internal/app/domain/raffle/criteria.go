package raffle

import (
	"fmt"
	"strings"

	"github.com/raffleworks/raffle-engine/internal/app/domain/profile"
)

// Criteria is the eligibility predicate a user profile must satisfy to
// enter a raffle. Zero values disable the corresponding check.
type Criteria struct {
	MinAge       int      `json:"min_age,omitempty"`
	MaxAge       int      `json:"max_age,omitempty"`
	Countries    []string `json:"countries,omitempty"`    // allowed countries, empty = all
	Subscription string   `json:"subscription,omitempty"` // required subscription tier
}

// Evaluate reports whether the profile satisfies the criteria and, when it
// does not, the first failing reason.
func (c Criteria) Evaluate(p profile.UserProfile) (bool, string) {
	if c.MinAge > 0 && p.Age < c.MinAge {
		return false, fmt.Sprintf("minimum age is %d", c.MinAge)
	}
	if c.MaxAge > 0 && p.Age > c.MaxAge {
		return false, fmt.Sprintf("maximum age is %d", c.MaxAge)
	}
	if len(c.Countries) > 0 {
		allowed := false
		for _, country := range c.Countries {
			if strings.EqualFold(country, p.Country) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, fmt.Sprintf("country %s is not eligible", p.Country)
		}
	}
	if c.Subscription != "" && !strings.EqualFold(c.Subscription, p.Subscription) {
		return false, fmt.Sprintf("subscription %q is required", c.Subscription)
	}
	return true, ""
}
