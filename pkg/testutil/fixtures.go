package testutil

import (
	"time"

	"github.com/google/uuid"

	"profilegate/internal/profile/models"
	id "profilegate/pkg/domain"
)

// TestIDs provides pre-generated IDs for deterministic test data.
var TestIDs = struct {
	UserID1   id.UserID
	UserID2   id.UserID
	DeviceID1 id.DeviceID
	DeviceID2 id.DeviceID
}{
	UserID1:   id.UserID(uuid.MustParse("11111111-1111-1111-1111-111111111111")),
	UserID2:   id.UserID(uuid.MustParse("22222222-2222-2222-2222-222222222222")),
	DeviceID1: id.DeviceID(uuid.MustParse("dddd0000-0000-0000-0000-000000000001")),
	DeviceID2: id.DeviceID(uuid.MustParse("dddd0000-0000-0000-0000-000000000002")),
}

// ProfileBuilder provides a fluent interface for building profile rows.
type ProfileBuilder struct {
	profile *models.Profile
}

// NewProfileBuilder starts from an empty row owned by TestIDs.UserID1.
func NewProfileBuilder() *ProfileBuilder {
	now := time.Now()
	return &ProfileBuilder{
		profile: &models.Profile{
			ID:        id.ProfileID(uuid.New()),
			UserID:    TestIDs.UserID1,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *ProfileBuilder) ForUser(userID id.UserID) *ProfileBuilder {
	b.profile.UserID = userID
	return b
}

func (b *ProfileBuilder) WithFullName(name string) *ProfileBuilder {
	b.profile.FullName = name
	return b
}

func (b *ProfileBuilder) WithName(firstName, lastName string) *ProfileBuilder {
	b.profile.FirstName = firstName
	b.profile.LastName = lastName
	return b
}

func (b *ProfileBuilder) WithCompany(company string) *ProfileBuilder {
	b.profile.Company = company
	return b
}

// Complete fills the fields the gate requires.
func (b *ProfileBuilder) Complete() *ProfileBuilder {
	return b.WithFullName("Ada Lovelace").WithCompany("Analytical Engines")
}

func (b *ProfileBuilder) Build() *models.Profile {
	cp := *b.profile
	return &cp
}
