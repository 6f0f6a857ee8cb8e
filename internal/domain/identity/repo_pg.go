package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type directoryPG struct {
	pool *pgxpool.Pool
}

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

const identityQuery = `
	SELECT u.id, COALESCE(u.subject, ''), u.email, u.first_name, u.last_name, u.role, u.created_at,
	       d.id, p.id
	FROM users u
	LEFT JOIN doctors d ON d.user_id = u.id
	LEFT JOIN patients p ON p.user_id = u.id
	WHERE u.subject = $1 OR u.email = $1
	ORDER BY (u.subject = $1) DESC NULLS LAST
	LIMIT 1`

func (r *directoryPG) FindBySubject(ctx context.Context, subject string) (*Identity, error) {
	ident, err := scanIdentity(r.pool.QueryRow(ctx, identityQuery, subject))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	return ident, nil
}

func scanIdentity(row pgx.Row) (*Identity, error) {
	var (
		i    Identity
		role string
	)
	if err := row.Scan(&i.UserID, &i.Subject, &i.Email, &i.FirstName, &i.LastName, &role, &i.CreatedAt,
		&i.DoctorID, &i.PatientID); err != nil {
		return nil, err
	}
	i.Role = Role(role)
	return &i, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// EnsureDevUsers inserts the development seed users if they are missing.
func EnsureDevUsers(ctx context.Context, q querier) error {
	for _, u := range devSeed() {
		var userID int64
		err := q.QueryRow(ctx, `
			INSERT INTO users (subject, email, first_name, last_name, role)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (email) DO UPDATE SET subject = EXCLUDED.subject
			RETURNING id`,
			u.Subject, u.Email, u.FirstName, u.LastName, string(u.Role)).Scan(&userID)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		switch u.Role {
		case RoleDoctor:
			_, err = q.Exec(ctx, `INSERT INTO doctors (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
		case RolePatient:
			_, err = q.Exec(ctx, `INSERT INTO patients (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
		}
		if err != nil {
			return fmt.Errorf("seed role row for %s: %w", u.Email, err)
		}
	}
	return nil
}
