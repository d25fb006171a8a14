package medication

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medtracker/medtracker/internal/platform/db"
	"github.com/medtracker/medtracker/pkg/caldate"
)

// -- Tablet Repository --

type tabletRepoPG struct {
	pool *pgxpool.Pool
}

func NewTabletRepo(pool *pgxpool.Pool) TabletRepository {
	return &tabletRepoPG{pool: pool}
}

func (r *tabletRepoPG) Create(ctx context.Context, t *Tablet) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO tablets (name, dosage, type)
		VALUES ($1, $2, $3)
		RETURNING id`,
		t.Name, t.Dosage, t.Type,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("tablet create: %w", err)
	}
	return nil
}

func (r *tabletRepoPG) GetByID(ctx context.Context, id int64) (*Tablet, error) {
	var t Tablet
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, dosage, type FROM tablets WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Dosage, &t.Type)
	if err != nil {
		return nil, fmt.Errorf("tablet get by id: %w", err)
	}
	return &t, nil
}

func (r *tabletRepoPG) List(ctx context.Context) ([]*Tablet, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, name, dosage, type FROM tablets ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("tablet list: %w", err)
	}
	defer rows.Close()

	var tablets []*Tablet
	for rows.Next() {
		var t Tablet
		if err := rows.Scan(&t.ID, &t.Name, &t.Dosage, &t.Type); err != nil {
			return nil, fmt.Errorf("tablet scan: %w", err)
		}
		tablets = append(tablets, &t)
	}
	return tablets, rows.Err()
}

// -- Schedule Repository --

type scheduleRepoPG struct {
	pool *pgxpool.Pool
}

func NewScheduleRepo(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

const scheduleCols = `id, user_id, dose_time, expected_time, start_date, end_date, created_at`

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication_schedules (user_id, dose_time, expected_time, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		s.UserID, s.DoseTime, s.ExpectedTime, s.StartDate, s.EndDate,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("schedule create: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id int64) (*Schedule, error) {
	s, err := scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+scheduleCols+` FROM medication_schedules WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("schedule get by id: %w", err)
	}
	return s, nil
}

func (r *scheduleRepoPG) ListByUser(ctx context.Context, userID int64) ([]*Schedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+scheduleCols+` FROM medication_schedules
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("schedule list by user: %w", err)
	}
	return collectSchedules(rows)
}

func (r *scheduleRepoPG) ListActiveOn(ctx context.Context, userID int64, day caldate.Date) ([]*Schedule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+scheduleCols+` FROM medication_schedules
		WHERE user_id = $1
		  AND start_date <= $2
		  AND (end_date IS NULL OR end_date >= $2)
		ORDER BY expected_time ASC NULLS LAST, id`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("schedule list active: %w", err)
	}
	return collectSchedules(rows)
}

func (r *scheduleRepoPG) AddTablet(ctx context.Context, st *ScheduleTablet) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO schedule_tablets (schedule_id, tablet_id, quantity)
		VALUES ($1, $2, $3)`,
		st.ScheduleID, st.TabletID, st.Quantity)
	if err != nil {
		return fmt.Errorf("schedule add tablet: %w", err)
	}
	return nil
}

func (r *scheduleRepoPG) TabletsFor(ctx context.Context, scheduleIDs []int64) ([]ScheduleTablet, error) {
	if len(scheduleIDs) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT st.schedule_id, st.tablet_id, st.quantity, t.name, t.dosage, t.type
		FROM schedule_tablets st
		JOIN tablets t ON t.id = st.tablet_id
		WHERE st.schedule_id = ANY($1)
		ORDER BY st.schedule_id, st.tablet_id`, scheduleIDs)
	if err != nil {
		return nil, fmt.Errorf("schedule tablets: %w", err)
	}
	defer rows.Close()

	var out []ScheduleTablet
	for rows.Next() {
		var st ScheduleTablet
		if err := rows.Scan(&st.ScheduleID, &st.TabletID, &st.Quantity, &st.Name, &st.Dosage, &st.Type); err != nil {
			return nil, fmt.Errorf("schedule tablet scan: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	if err := row.Scan(&s.ID, &s.UserID, &s.DoseTime, &s.ExpectedTime, &s.StartDate, &s.EndDate, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]*Schedule, error) {
	defer rows.Close()
	var out []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("schedule scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// -- Log Repository --

type logRepoPG struct {
	pool *pgxpool.Pool
}

func NewLogRepo(pool *pgxpool.Pool) LogRepository {
	return &logRepoPG{pool: pool}
}

const logCols = `id, schedule_id, log_date, is_taken, taken_at, photo_ref, updated_at`

func (r *logRepoPG) Upsert(ctx context.Context, l *Log) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication_logs (schedule_id, log_date, is_taken, taken_at, photo_ref)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (schedule_id, log_date) DO UPDATE SET
			is_taken = EXCLUDED.is_taken,
			taken_at = EXCLUDED.taken_at,
			photo_ref = EXCLUDED.photo_ref,
			updated_at = NOW()
		RETURNING id, updated_at`,
		l.ScheduleID, l.LogDate, l.IsTaken, l.TakenAt, l.PhotoRef,
	).Scan(&l.ID, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("log upsert: %w", err)
	}
	return nil
}

func (r *logRepoPG) ListOn(ctx context.Context, scheduleIDs []int64, day caldate.Date) ([]*Log, error) {
	if len(scheduleIDs) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+logCols+` FROM medication_logs
		WHERE schedule_id = ANY($1) AND log_date = $2`, scheduleIDs, day)
	if err != nil {
		return nil, fmt.Errorf("log list on: %w", err)
	}
	return collectLogs(rows)
}

func (r *logRepoPG) ListForUser(ctx context.Context, userID int64, start, end caldate.Date) ([]*Log, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT l.id, l.schedule_id, l.log_date, l.is_taken, l.taken_at, l.photo_ref, l.updated_at
		FROM medication_logs l
		JOIN medication_schedules s ON s.id = l.schedule_id
		WHERE s.user_id = $1 AND l.log_date BETWEEN $2 AND $3
		ORDER BY l.log_date, l.schedule_id`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("log list for user: %w", err)
	}
	return collectLogs(rows)
}

func collectLogs(rows pgx.Rows) ([]*Log, error) {
	defer rows.Close()
	var out []*Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.ScheduleID, &l.LogDate, &l.IsTaken, &l.TakenAt, &l.PhotoRef, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("log scan: %w", err)
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
