package models

import (
	"strings"
	"time"

	id "profilegate/pkg/domain"
)

// Profile is a member's profile row. Several rows may exist for one user; the
// gate never assumes uniqueness.
type Profile struct {
	ID        id.ProfileID
	UserID    id.UserID
	FullName  string
	FirstName string
	LastName  string
	Company   string
	JobTitle  string
	Bio       string
	Email     string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName is the full-name-equivalent of the profile: the full_name
// column when set, otherwise first and last name joined.
func (p *Profile) DisplayName() string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
}

// IsComplete reports whether the profile has both a name and a company after
// trimming whitespace.
func (p *Profile) IsComplete() bool {
	return p.DisplayName() != "" && strings.TrimSpace(p.Company) != ""
}

// Score counts the populated identity fields used to pick between duplicate
// rows: full_name, company, first_name and last_name.
func (p *Profile) Score() int {
	score := 0
	for _, v := range []string{p.FullName, p.Company, p.FirstName, p.LastName} {
		if strings.TrimSpace(v) != "" {
			score++
		}
	}
	return score
}

// SelectBest returns the highest-scoring profile. Ties go to the earliest row
// in store order. It returns nil for an empty slice.
func SelectBest(rows []*Profile) *Profile {
	var best *Profile
	bestScore := -1
	for _, p := range rows {
		if p == nil {
			continue
		}
		if s := p.Score(); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}
