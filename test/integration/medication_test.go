//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medtracker/medtracker/internal/domain/identity"
	"github.com/medtracker/medtracker/internal/domain/medication"
	"github.com/medtracker/medtracker/internal/platform/apperr"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/pkg/caldate"
)

type medFixture struct {
	env       *env
	patient   auth.Principal
	other     auth.Principal
	caretaker auth.Principal
	stranger  auth.Principal
	t1, t2    *medication.Tablet
}

func newMedFixture(t *testing.T) *medFixture {
	t.Helper()
	resetDB(t)
	e := newEnv()
	f := &medFixture{
		env:       e,
		patient:   e.user(t, "p1", identity.RolePatient),
		other:     e.user(t, "p2", identity.RolePatient),
		caretaker: e.user(t, "c1", identity.RoleCaretaker),
		stranger:  e.user(t, "c2", identity.RoleCaretaker),
		t1:        e.tablet(t, "Metformin"),
		t2:        e.tablet(t, "Lisinopril"),
	}
	if _, err := e.identity.CreateMapping(context.Background(), f.caretaker.UserID, f.patient.UserID); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	return f
}

func (f *medFixture) schedule(t *testing.T, in medication.AddScheduleInput) *medication.Schedule {
	t.Helper()
	out, err := f.env.medication.AddSchedule(context.Background(), f.caretaker, in)
	if err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	return out.Schedule
}

func boolPtr(b bool) *bool { return &b }

func TestMedication_DailyAndMarkTaken(t *testing.T) {
	f := newMedFixture(t)
	ctx := context.Background()
	day := caldate.MustParse("2024-01-01")

	s := f.schedule(t, medication.AddScheduleInput{
		UserID:    f.patient.UserID,
		DoseTime:  "Morning",
		StartDate: day,
		Tablets:   []medication.TabletQuantity{{TabletID: f.t1.ID, Quantity: 2}},
	})

	entries, err := f.env.medication.ResolveDaily(ctx, f.patient, f.patient.UserID, day)
	if err != nil {
		t.Fatalf("ResolveDaily: %v", err)
	}
	if len(entries) != 1 || entries[0].Quantity != 2 || entries[0].IsTaken != nil {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].EndDate != nil || !entries[0].StartDate.Equal(day) {
		t.Errorf("unexpected schedule dates %+v", entries[0])
	}

	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	if _, err := f.env.medication.MarkTaken(ctx, f.patient, medication.MarkTakenInput{
		ScheduleID: s.ID, LogDate: day, IsTaken: boolPtr(true), TakenAt: &at,
	}); err != nil {
		t.Fatalf("MarkTaken: %v", err)
	}

	entries, err = f.env.medication.ResolveDaily(ctx, f.caretaker, f.patient.UserID, day)
	if err != nil {
		t.Fatalf("ResolveDaily: %v", err)
	}
	if entries[0].IsTaken == nil || !*entries[0].IsTaken || entries[0].TakenAt == nil || !entries[0].TakenAt.Equal(at) {
		t.Errorf("expected taken entry, got %+v", entries[0])
	}

	if _, err := f.env.medication.ResolveDaily(ctx, f.stranger, f.patient.UserID, day); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected authorization error for unmapped caretaker, got %v", err)
	}
}

func TestMedication_UpsertKeepsOneRow(t *testing.T) {
	f := newMedFixture(t)
	ctx := context.Background()
	day := caldate.MustParse("2024-01-02")
	s := f.schedule(t, medication.AddScheduleInput{
		UserID:    f.patient.UserID,
		DoseTime:  "Morning",
		StartDate: caldate.MustParse("2024-01-01"),
		Tablets:   []medication.TabletQuantity{{TabletID: f.t1.ID, Quantity: 1}},
	})

	ref := "photo"
	first := &medication.Log{ScheduleID: s.ID, LogDate: day, IsTaken: true, PhotoRef: &ref}
	if err := f.env.logs.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second := &medication.Log{ScheduleID: s.ID, LogDate: day, IsTaken: false}
	if err := f.env.logs.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if n := countRows(t, "medication_logs"); n != 1 {
		t.Fatalf("expected 1 log row, got %d", n)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same row id, got %d and %d", first.ID, second.ID)
	}

	logs, err := f.env.logs.ListOn(ctx, []int64{s.ID}, day)
	if err != nil {
		t.Fatalf("ListOn: %v", err)
	}
	if len(logs) != 1 || logs[0].IsTaken || logs[0].PhotoRef != nil {
		t.Errorf("expected the last write to replace every field, got %+v", logs)
	}
}

func TestMedication_WindowBoundaries(t *testing.T) {
	f := newMedFixture(t)
	end := caldate.MustParse("2024-01-20")
	f.schedule(t, medication.AddScheduleInput{
		UserID:    f.patient.UserID,
		DoseTime:  "Evening",
		StartDate: caldate.MustParse("2024-01-10"),
		EndDate:   &end,
		Tablets:   []medication.TabletQuantity{{TabletID: f.t1.ID, Quantity: 1}},
	})

	for day, want := range map[string]int{"2024-01-09": 0, "2024-01-10": 1, "2024-01-20": 1, "2024-01-21": 0} {
		entries, err := f.env.medication.ResolveDaily(context.Background(), f.patient, f.patient.UserID, caldate.MustParse(day))
		if err != nil {
			t.Fatalf("%s: %v", day, err)
		}
		if len(entries) != want {
			t.Errorf("%s: expected %d entries, got %d", day, want, len(entries))
		}
	}
}

func TestMedication_AddScheduleRollsBack(t *testing.T) {
	f := newMedFixture(t)

	_, err := f.env.medication.AddSchedule(context.Background(), f.caretaker, medication.AddScheduleInput{
		UserID:    f.patient.UserID,
		DoseTime:  "Morning",
		StartDate: caldate.MustParse("2024-01-01"),
		Tablets: []medication.TabletQuantity{
			{TabletID: f.t1.ID, Quantity: 1},
			{TabletID: 9999, Quantity: 1},
		},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := countRows(t, "medication_schedules"); n != 0 {
		t.Errorf("expected no schedule rows, got %d", n)
	}
	if n := countRows(t, "schedule_tablets"); n != 0 {
		t.Errorf("expected no schedule tablet rows, got %d", n)
	}
}

func TestMedication_Adherence(t *testing.T) {
	f := newMedFixture(t)
	ctx := context.Background()
	s := f.schedule(t, medication.AddScheduleInput{
		UserID:    f.patient.UserID,
		DoseTime:  "Morning",
		StartDate: caldate.MustParse("2024-01-01"),
		Tablets: []medication.TabletQuantity{
			{TabletID: f.t1.ID, Quantity: 1},
			{TabletID: f.t2.ID, Quantity: 1},
		},
	})
	for d := 1; d <= 10; d++ {
		if _, err := f.env.medication.MarkTaken(ctx, f.patient, medication.MarkTakenInput{
			ScheduleID: s.ID,
			LogDate:    caldate.New(2024, time.January, d),
			IsTaken:    boolPtr(d <= 7),
		}); err != nil {
			t.Fatalf("MarkTaken day %d: %v", d, err)
		}
	}

	report, err := f.env.medication.ComputeAdherence(ctx, f.caretaker, f.patient.UserID,
		caldate.MustParse("2024-01-01"), caldate.MustParse("2024-01-31"))
	if err != nil {
		t.Fatalf("ComputeAdherence: %v", err)
	}
	if report.OverallAdherence != 70 || report.Schedules[0].AdherencePercentage != 70 {
		t.Errorf("expected 70%%, got %+v", report)
	}
	if len(report.Schedules[0].Tablets) != 2 {
		t.Errorf("expected both tablets in the report, got %+v", report.Schedules[0].Tablets)
	}

	logs, err := f.env.medication.ListLogs(ctx, f.patient, f.patient.UserID,
		caldate.MustParse("2024-01-01"), caldate.MustParse("2024-01-05"))
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 10 {
		t.Errorf("expected 10 log entries (5 days x 2 tablets), got %d", len(logs))
	}

	if _, err := f.env.medication.ComputeAdherence(ctx, f.other, f.patient.UserID,
		caldate.MustParse("2024-01-01"), caldate.MustParse("2024-01-31")); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected authorization error for another patient, got %v", err)
	}
}
