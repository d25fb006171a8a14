package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medtracker/medtracker/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, username, email, role, created_at`

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (username, email, role)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		u.Username, u.Email, string(u.Role),
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("user create: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("user get by id: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, fmt.Errorf("user get by email: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// -- Mapping Repository --

type mappingRepoPG struct {
	pool *pgxpool.Pool
}

func NewMappingRepo(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepoPG{pool: pool}
}

func (r *mappingRepoPG) Create(ctx context.Context, m *Mapping) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO caretaker_patient_mappings (caretaker_id, patient_id)
		VALUES ($1, $2)
		RETURNING id, created_at`,
		m.CaretakerID, m.PatientID,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("mapping create: %w", err)
	}
	return nil
}

func (r *mappingRepoPG) Exists(ctx context.Context, caretakerID, patientID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM caretaker_patient_mappings
			WHERE caretaker_id = $1 AND patient_id = $2
		)`, caretakerID, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("mapping exists: %w", err)
	}
	return exists, nil
}

func (r *mappingRepoPG) ListPatients(ctx context.Context, caretakerID int64, limit, offset int) ([]*User, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM caretaker_patient_mappings WHERE caretaker_id = $1`,
		caretakerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("mapping count patients: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT u.id, u.username, u.email, u.role, u.created_at
		FROM caretaker_patient_mappings m
		JOIN users u ON u.id = m.patient_id
		WHERE m.caretaker_id = $1
		ORDER BY u.username, u.id
		LIMIT $2 OFFSET $3`, caretakerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("mapping list patients: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("mapping scan patient: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("mapping list patients: %w", err)
	}
	return users, total, nil
}
