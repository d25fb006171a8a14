package medication

import (
	"io"
	"strings"
	"time"

	"github.com/medtracker/medtracker/pkg/caldate"
)

// Tablet is a catalog entry.
type Tablet struct {
	ID     int64  `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	Dosage string `db:"dosage" json:"dosage"`
	Type   string `db:"type" json:"type"`
}

// Schedule is a recurring dose slot for one patient. EndDate is inclusive;
// nil means open-ended.
type Schedule struct {
	ID           int64         `db:"id" json:"id"`
	UserID       int64         `db:"user_id" json:"user_id"`
	DoseTime     string        `db:"dose_time" json:"dose_time"`
	ExpectedTime *string       `db:"expected_time" json:"expected_time"`
	StartDate    caldate.Date  `db:"start_date" json:"start_date"`
	EndDate      *caldate.Date `db:"end_date" json:"end_date"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// ActiveOn reports whether the schedule is due on day.
func (s *Schedule) ActiveOn(day caldate.Date) bool {
	return day.Within(s.StartDate, s.EndDate)
}

// ScheduleTablet is one tablet a schedule requires. The catalog fields are
// filled on read.
type ScheduleTablet struct {
	ScheduleID int64  `db:"schedule_id" json:"schedule_id"`
	TabletID   int64  `db:"tablet_id" json:"tablet_id"`
	Quantity   int    `db:"quantity" json:"quantity"`
	Name       string `db:"name" json:"name"`
	Dosage     string `db:"dosage" json:"dosage"`
	Type       string `db:"type" json:"type"`
}

// Log is the single intake record for a (schedule, day) pair.
type Log struct {
	ID         int64        `db:"id" json:"id"`
	ScheduleID int64        `db:"schedule_id" json:"schedule_id"`
	LogDate    caldate.Date `db:"log_date" json:"log_date"`
	IsTaken    bool         `db:"is_taken" json:"is_taken"`
	TakenAt    *time.Time   `db:"taken_at" json:"taken_at"`
	PhotoRef   *string      `db:"photo_ref" json:"photo_ref"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// DailyEntry is one tablet due on a day. IsTaken, TakenAt and PhotoRef are
// null when no log exists yet, which is distinct from a log with
// is_taken=false.
type DailyEntry struct {
	ScheduleID   int64         `json:"schedule_id"`
	DoseTime     string        `json:"dose_time"`
	ExpectedTime *string       `json:"expected_time"`
	StartDate    caldate.Date  `json:"start_date"`
	EndDate      *caldate.Date `json:"end_date"`
	TabletID     int64         `json:"tablet_id"`
	Name         string        `json:"name"`
	Dosage       string        `json:"dosage"`
	Type         string        `json:"type"`
	Quantity     int           `json:"quantity"`
	IsTaken      *bool         `json:"is_taken"`
	TakenAt      *time.Time    `json:"taken_at"`
	PhotoRef     *string       `json:"photo_ref"`
}

// LogEntry is a log joined with its schedule and one of its tablets.
type LogEntry struct {
	ID           int64        `json:"id"`
	ScheduleID   int64        `json:"schedule_id"`
	LogDate      caldate.Date `json:"log_date"`
	IsTaken      bool         `json:"is_taken"`
	TakenAt      *time.Time   `json:"taken_at"`
	PhotoRef     *string      `json:"photo_ref"`
	DoseTime     string       `json:"dose_time"`
	ExpectedTime *string      `json:"expected_time"`
	TabletID     int64        `json:"tablet_id"`
	Name         string       `json:"name"`
	Dosage       string       `json:"dosage"`
	Type         string       `json:"type"`
	Quantity     int          `json:"quantity"`
}

// ScheduleWithTablets is returned when a schedule is created.
type ScheduleWithTablets struct {
	Schedule *Schedule        `json:"schedule"`
	Tablets  []ScheduleTablet `json:"tablets"`
}

// -- Adherence --

type ScheduleAdherence struct {
	ScheduleID          int64            `json:"schedule_id"`
	DoseTime            string           `json:"dose_time"`
	Tablets             []ScheduleTablet `json:"tablets"`
	TotalDoses          int              `json:"total_doses"`
	TakenDoses          int              `json:"taken_doses"`
	AdherencePercentage float64          `json:"adherence_percentage"`
}

type Period struct {
	StartDate caldate.Date `json:"start_date"`
	EndDate   caldate.Date `json:"end_date"`
}

type AdherenceReport struct {
	OverallAdherence float64             `json:"overallAdherence"`
	Schedules        []ScheduleAdherence `json:"schedules"`
	Period           Period              `json:"period"`
}

// -- Inputs --

type TabletQuantity struct {
	TabletID int64 `json:"tablet_id"`
	Quantity int   `json:"quantity"`
}

type AddScheduleInput struct {
	UserID       int64            `json:"user_id"`
	DoseTime     string           `json:"dose_time"`
	ExpectedTime *string          `json:"expected_time"`
	StartDate    caldate.Date     `json:"start_date"`
	EndDate      *caldate.Date    `json:"end_date"`
	Tablets      []TabletQuantity `json:"tablets"`
}

// normalize trims free text and drops empty optional values.
func (in *AddScheduleInput) normalize() {
	in.DoseTime = strings.TrimSpace(in.DoseTime)
	if in.ExpectedTime != nil {
		v := strings.TrimSpace(*in.ExpectedTime)
		if v == "" {
			in.ExpectedTime = nil
		} else {
			in.ExpectedTime = &v
		}
	}
	if in.EndDate != nil && in.EndDate.IsZero() {
		in.EndDate = nil
	}
}

// PhotoUpload is an intake photo received with a mark-taken request.
type PhotoUpload struct {
	FileName    string
	ContentType string
	Content     io.Reader
}

type MarkTakenInput struct {
	ScheduleID int64        `json:"schedule_id"`
	LogDate    caldate.Date `json:"log_date"`
	IsTaken    *bool        `json:"is_taken"`
	TakenAt    *time.Time   `json:"taken_at"`
	Photo      *PhotoUpload `json:"-"`
}
