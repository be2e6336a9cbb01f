package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"profilegate/internal/profile/models"
	id "profilegate/pkg/domain"
)

// listByUserQuery never uses single-row semantics: a user may own zero, one
// or several rows. ORDER BY id gives a stable store order for tie-breaking.
const listByUserQuery = `
SELECT id, user_id, full_name, first_name, last_name, company, job_title, created_at, updated_at
FROM profiles
WHERE user_id = $1
ORDER BY id`

// PostgresStore reads profiles from PostgreSQL. It is read-only: the
// onboarding flow owns writes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed profile store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListByUser returns every profile row for userID.
func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, listByUserQuery, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list profiles by user: %w", err)
	}
	defer rows.Close()

	profiles := make([]*models.Profile, 0, 1)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*models.Profile, error) {
	var (
		profileID, userID                                uuid.UUID
		fullName, firstName, lastName, company, jobTitle sql.NullString
		createdAt, updatedAt                             sql.NullTime
	)
	if err := row.Scan(&profileID, &userID, &fullName, &firstName, &lastName, &company, &jobTitle, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return &models.Profile{
		ID:        id.ProfileID(profileID),
		UserID:    id.UserID(userID),
		FullName:  fullName.String,
		FirstName: firstName.String,
		LastName:  lastName.String,
		Company:   company.String,
		JobTitle:  jobTitle.String,
		CreatedAt: createdAt.Time,
		UpdatedAt: updatedAt.Time,
	}, nil
}
