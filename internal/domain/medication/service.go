package medication

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/domain/identity"
	"github.com/medtracker/medtracker/internal/platform/apperr"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/internal/platform/blobstore"
	"github.com/medtracker/medtracker/internal/platform/db"
	"github.com/medtracker/medtracker/pkg/caldate"
)

// UserLookup resolves the target of a schedule.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*identity.User, error)
}

// Authorizer gates access to another user's data.
type Authorizer interface {
	Authorize(ctx context.Context, p auth.Principal, targetUserID int64) error
}

// Recorder receives domain events for metrics.
type Recorder interface {
	IntakeLogged(taken bool)
	ScheduleCreated()
}

type nopRecorder struct{}

func (nopRecorder) IntakeLogged(bool) {}
func (nopRecorder) ScheduleCreated()  {}

type Service struct {
	schedules ScheduleRepository
	logs      LogRepository
	tablets   TabletRepository
	users     UserLookup
	authz     Authorizer
	tx        db.Transactor

	recorder     Recorder
	photos       blobstore.BlobStore
	strictWindow bool
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithPhotoStore enables photo uploads on MarkTaken.
func WithPhotoStore(store blobstore.BlobStore) Option {
	return func(s *Service) { s.photos = store }
}

// WithStrictLogWindow rejects logs dated outside the schedule's active window.
func WithStrictLogWindow(strict bool) Option {
	return func(s *Service) { s.strictWindow = strict }
}

func NewService(schedules ScheduleRepository, logs LogRepository, tablets TabletRepository,
	users UserLookup, authz Authorizer, tx db.Transactor, opts ...Option) *Service {
	s := &Service{
		schedules: schedules,
		logs:      logs,
		tablets:   tablets,
		users:     users,
		authz:     authz,
		tx:        tx,
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Daily view --

// ResolveDaily lists every tablet due for targetUserID on day together with
// the intake state recorded for it, if any.
func (s *Service) ResolveDaily(ctx context.Context, p auth.Principal, targetUserID int64, day caldate.Date) ([]DailyEntry, error) {
	if day.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	if err := s.authz.Authorize(ctx, p, targetUserID); err != nil {
		return nil, err
	}

	schedules, err := s.schedules.ListActiveOn(ctx, targetUserID, day)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	ids := scheduleIDs(schedules)
	tablets, err := s.schedules.TabletsFor(ctx, ids)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	logs, err := s.logs.ListOn(ctx, ids, day)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	return assembleDaily(day, schedules, tablets, logs), nil
}

// -- Schedules --

// AddSchedule creates a schedule and its tablet rows for a mapped patient.
// Either everything is stored or nothing is.
func (s *Service) AddSchedule(ctx context.Context, p auth.Principal, in AddScheduleInput) (*ScheduleWithTablets, error) {
	if !identity.RoleOf(p).CanManageSchedules() {
		return nil, apperr.Forbidden("only caretakers can add schedules")
	}
	in.normalize()
	if err := validateSchedule(in); err != nil {
		return nil, err
	}

	target, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(apperr.FromDB(err, ""), apperr.ErrNotFound) {
			return nil, apperr.Validation("user %d does not exist", in.UserID)
		}
		return nil, apperr.FromDB(err, "")
	}
	if target.Role != identity.RolePatient {
		return nil, apperr.Validation("user %d is not a patient", in.UserID)
	}
	if err := s.authz.Authorize(ctx, p, in.UserID); err != nil {
		return nil, err
	}
	for _, t := range in.Tablets {
		if t.Quantity <= 0 {
			return nil, apperr.Validation("quantity for tablet %d must be positive", t.TabletID)
		}
	}

	out := &ScheduleWithTablets{}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		sched := &Schedule{
			UserID:       in.UserID,
			DoseTime:     in.DoseTime,
			ExpectedTime: in.ExpectedTime,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
		}
		if err := s.schedules.Create(ctx, sched); err != nil {
			return apperr.FromDB(err, "")
		}

		tablets := make([]ScheduleTablet, 0, len(in.Tablets))
		for _, tq := range in.Tablets {
			tab, err := s.tablets.GetByID(ctx, tq.TabletID)
			if err != nil {
				if errors.Is(apperr.FromDB(err, ""), apperr.ErrNotFound) {
					return apperr.Validation("tablet %d does not exist", tq.TabletID)
				}
				return apperr.FromDB(err, "")
			}
			st := ScheduleTablet{
				ScheduleID: sched.ID,
				TabletID:   tab.ID,
				Quantity:   tq.Quantity,
				Name:       tab.Name,
				Dosage:     tab.Dosage,
				Type:       tab.Type,
			}
			if err := s.schedules.AddTablet(ctx, &st); err != nil {
				return apperr.FromDB(err, "")
			}
			tablets = append(tablets, st)
		}

		out.Schedule = sched
		out.Tablets = tablets
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.ScheduleCreated()
	zerolog.Ctx(ctx).Info().
		Int64("schedule_id", out.Schedule.ID).
		Int64("patient_id", in.UserID).
		Int("tablets", len(out.Tablets)).
		Msg("schedule created")
	return out, nil
}

func validateSchedule(in AddScheduleInput) error {
	if in.UserID <= 0 {
		return apperr.Validation("user_id is required")
	}
	if in.DoseTime == "" {
		return apperr.Validation("dose_time is required")
	}
	if in.StartDate.IsZero() {
		return apperr.Validation("start_date is required")
	}
	if len(in.Tablets) == 0 {
		return apperr.Validation("at least one tablet is required")
	}
	if in.ExpectedTime != nil && !validClock(*in.ExpectedTime) {
		return apperr.Validation("expected_time must be HH:MM")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return apperr.Validation("end_date must not be before start_date")
	}
	seen := make(map[int64]bool, len(in.Tablets))
	for _, t := range in.Tablets {
		if t.TabletID <= 0 {
			return apperr.Validation("tablet_id is required")
		}
		if seen[t.TabletID] {
			return apperr.Validation("tablet %d is listed more than once", t.TabletID)
		}
		seen[t.TabletID] = true
	}
	return nil
}

func validClock(v string) bool {
	if len(v) != 5 {
		return false
	}
	_, err := time.Parse("15:04", v)
	return err == nil
}

// -- Intake logs --

// MarkTaken records the intake state of a schedule for one day. A second
// call for the same day replaces the first.
func (s *Service) MarkTaken(ctx context.Context, p auth.Principal, in MarkTakenInput) (*Log, error) {
	if in.ScheduleID <= 0 {
		return nil, apperr.Validation("schedule_id is required")
	}
	if in.LogDate.IsZero() {
		return nil, apperr.Validation("log_date is required")
	}
	if in.IsTaken == nil {
		return nil, apperr.Validation("is_taken is required")
	}

	sched, err := s.schedules.GetByID(ctx, in.ScheduleID)
	if err != nil {
		return nil, apperr.FromDB(err, "schedule not found")
	}
	if sched.UserID != p.UserID || !identity.RoleOf(p).CanLogIntake() {
		return nil, apperr.Forbidden("schedule does not belong to you")
	}

	if !sched.ActiveOn(in.LogDate) {
		if s.strictWindow {
			return nil, apperr.Validation("log_date %s is outside the schedule's active period", in.LogDate)
		}
		zerolog.Ctx(ctx).Warn().
			Int64("schedule_id", sched.ID).
			Str("log_date", in.LogDate.String()).
			Msg("intake logged outside schedule window")
	}

	entry := &Log{
		ScheduleID: in.ScheduleID,
		LogDate:    in.LogDate,
		IsTaken:    *in.IsTaken,
		TakenAt:    in.TakenAt,
	}

	prev, err := s.logs.ListOn(ctx, []int64{in.ScheduleID}, in.LogDate)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}

	var stored string
	if in.Photo != nil {
		ref, err := s.storePhoto(ctx, p, in.Photo)
		if err != nil {
			return nil, err
		}
		stored = ref
		entry.PhotoRef = &ref
	}

	if err := s.logs.Upsert(ctx, entry); err != nil {
		s.discardPhoto(ctx, stored)
		return nil, apperr.FromDB(err, "")
	}
	// The replaced log's photo is no longer referenced by any row.
	for _, old := range prev {
		if old.PhotoRef != nil && *old.PhotoRef != stored {
			s.discardPhoto(ctx, *old.PhotoRef)
		}
	}

	s.recorder.IntakeLogged(entry.IsTaken)
	return entry, nil
}

func (s *Service) discardPhoto(ctx context.Context, ref string) {
	if ref == "" || s.photos == nil {
		return
	}
	if err := s.photos.Delete(ctx, ref); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("photo_ref", ref).Msg("photo cleanup failed")
	}
}

func (s *Service) storePhoto(ctx context.Context, p auth.Principal, photo *PhotoUpload) (string, error) {
	if s.photos == nil {
		return "", apperr.Validation("photo uploads are not enabled")
	}
	meta, err := s.photos.Put(ctx, blobstore.Metadata{
		OwnerID:     p.UserID,
		FileName:    photo.FileName,
		ContentType: strings.TrimSpace(photo.ContentType),
	}, photo.Content)
	if err != nil {
		return "", photoError(err)
	}
	return meta.Ref, nil
}

// OpenPhoto returns a stored intake photo if p may access its owner's data.
// The caller closes the reader.
func (s *Service) OpenPhoto(ctx context.Context, p auth.Principal, ref string) (io.ReadCloser, *blobstore.Metadata, error) {
	if s.photos == nil {
		return nil, nil, apperr.NotFound("photo not found")
	}
	rc, meta, err := s.photos.Get(ctx, ref)
	if err != nil {
		return nil, nil, photoError(err)
	}
	if err := s.authz.Authorize(ctx, p, meta.OwnerID); err != nil {
		rc.Close()
		return nil, nil, err
	}
	return rc, meta, nil
}

func photoError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrBlobNotFound), errors.Is(err, blobstore.ErrInvalidRef):
		return apperr.NotFound("photo not found")
	case errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrEmptyContent):
		return apperr.Validation("%s", err.Error())
	}
	return apperr.Storage(err, "photo storage failure")
}

// ListLogs returns targetUserID's logs in [start, end] with schedule and
// tablet details.
func (s *Service) ListLogs(ctx context.Context, p auth.Principal, targetUserID int64, start, end caldate.Date) ([]LogEntry, error) {
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, p, targetUserID); err != nil {
		return nil, err
	}

	schedules, tablets, err := s.schedulesWithTablets(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListForUser(ctx, targetUserID, start, end)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	return assembleLogEntries(schedules, tablets, logs), nil
}

// -- Adherence --

// ComputeAdherence summarises how many logged doses were taken in
// [start, end], per schedule and overall.
func (s *Service) ComputeAdherence(ctx context.Context, p auth.Principal, targetUserID int64, start, end caldate.Date) (*AdherenceReport, error) {
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, p, targetUserID); err != nil {
		return nil, err
	}

	schedules, tablets, err := s.schedulesWithTablets(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	logs, err := s.logs.ListForUser(ctx, targetUserID, start, end)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	return computeReport(start, end, schedules, tablets, logs), nil
}

func validatePeriod(start, end caldate.Date) error {
	if start.IsZero() || end.IsZero() {
		return apperr.Validation("start_date and end_date are required")
	}
	if end.Before(start) {
		return apperr.Validation("end_date must not be before start_date")
	}
	return nil
}

func (s *Service) schedulesWithTablets(ctx context.Context, userID int64) ([]*Schedule, []ScheduleTablet, error) {
	schedules, err := s.schedules.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, apperr.FromDB(err, "")
	}
	tablets, err := s.schedules.TabletsFor(ctx, scheduleIDs(schedules))
	if err != nil {
		return nil, nil, apperr.FromDB(err, "")
	}
	return schedules, tablets, nil
}

func scheduleIDs(schedules []*Schedule) []int64 {
	ids := make([]int64, 0, len(schedules))
	for _, sc := range schedules {
		ids = append(ids, sc.ID)
	}
	return ids
}

// -- Catalog --

func (s *Service) ListTablets(ctx context.Context) ([]*Tablet, error) {
	tablets, err := s.tablets.List(ctx)
	if err != nil {
		return nil, apperr.FromDB(err, "")
	}
	return tablets, nil
}

func (s *Service) CreateTablet(ctx context.Context, t *Tablet) error {
	t.Name = strings.TrimSpace(t.Name)
	t.Dosage = strings.TrimSpace(t.Dosage)
	t.Type = strings.TrimSpace(t.Type)
	if t.Name == "" {
		return apperr.Validation("name is required")
	}
	if t.Dosage == "" {
		return apperr.Validation("dosage is required")
	}
	if t.Type == "" {
		return apperr.Validation("type is required")
	}
	return apperr.FromDB(s.tablets.Create(ctx, t), "")
}
