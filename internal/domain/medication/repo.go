package medication

import (
	"context"

	"github.com/medtracker/medtracker/pkg/caldate"
)

type TabletRepository interface {
	Create(ctx context.Context, t *Tablet) error
	GetByID(ctx context.Context, id int64) (*Tablet, error)
	List(ctx context.Context) ([]*Tablet, error)
}

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id int64) (*Schedule, error)
	ListByUser(ctx context.Context, userID int64) ([]*Schedule, error)
	ListActiveOn(ctx context.Context, userID int64, day caldate.Date) ([]*Schedule, error)

	// Tablets
	AddTablet(ctx context.Context, st *ScheduleTablet) error
	TabletsFor(ctx context.Context, scheduleIDs []int64) ([]ScheduleTablet, error)
}

type LogRepository interface {
	// Upsert inserts or fully replaces the log for (ScheduleID, LogDate).
	Upsert(ctx context.Context, l *Log) error
	ListOn(ctx context.Context, scheduleIDs []int64, day caldate.Date) ([]*Log, error)
	ListForUser(ctx context.Context, userID int64, start, end caldate.Date) ([]*Log, error)
}
