package medication

import (
	"sort"

	"github.com/medtracker/medtracker/pkg/caldate"
)

// compareExpected orders expected times ascending with unset times last.
func compareExpected(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func groupTablets(tablets []ScheduleTablet) map[int64][]ScheduleTablet {
	out := make(map[int64][]ScheduleTablet)
	for _, t := range tablets {
		out[t.ScheduleID] = append(out[t.ScheduleID], t)
	}
	return out
}

// assembleDaily builds one entry per (schedule, tablet) for schedules active
// on day. Schedules with no tablets produce no entries. Log fields stay nil
// when the schedule has no log for day.
func assembleDaily(day caldate.Date, schedules []*Schedule, tablets []ScheduleTablet, logs []*Log) []DailyEntry {
	byTablet := groupTablets(tablets)
	bySchedule := make(map[int64]*Log, len(logs))
	for _, l := range logs {
		if l.LogDate.Equal(day) {
			bySchedule[l.ScheduleID] = l
		}
	}

	entries := []DailyEntry{}
	for _, s := range schedules {
		if !s.ActiveOn(day) {
			continue
		}
		dayLog := bySchedule[s.ID]
		for _, t := range byTablet[s.ID] {
			e := DailyEntry{
				ScheduleID:   s.ID,
				DoseTime:     s.DoseTime,
				ExpectedTime: s.ExpectedTime,
				StartDate:    s.StartDate,
				EndDate:      s.EndDate,
				TabletID:     t.TabletID,
				Name:         t.Name,
				Dosage:       t.Dosage,
				Type:         t.Type,
				Quantity:     t.Quantity,
			}
			if dayLog != nil {
				taken := dayLog.IsTaken
				e.IsTaken = &taken
				e.TakenAt = dayLog.TakenAt
				e.PhotoRef = dayLog.PhotoRef
			}
			entries = append(entries, e)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if c := compareExpected(a.ExpectedTime, b.ExpectedTime); c != 0 {
			return c < 0
		}
		if a.ScheduleID != b.ScheduleID {
			return a.ScheduleID < b.ScheduleID
		}
		return a.TabletID < b.TabletID
	})
	return entries
}

// assembleLogEntries expands each log into one entry per tablet of its
// schedule, ordered by log date then expected time.
func assembleLogEntries(schedules []*Schedule, tablets []ScheduleTablet, logs []*Log) []LogEntry {
	byTablet := groupTablets(tablets)
	byID := make(map[int64]*Schedule, len(schedules))
	for _, s := range schedules {
		byID[s.ID] = s
	}

	entries := []LogEntry{}
	for _, l := range logs {
		s, ok := byID[l.ScheduleID]
		if !ok {
			continue
		}
		for _, t := range byTablet[s.ID] {
			entries = append(entries, LogEntry{
				ID:           l.ID,
				ScheduleID:   l.ScheduleID,
				LogDate:      l.LogDate,
				IsTaken:      l.IsTaken,
				TakenAt:      l.TakenAt,
				PhotoRef:     l.PhotoRef,
				DoseTime:     s.DoseTime,
				ExpectedTime: s.ExpectedTime,
				TabletID:     t.TabletID,
				Name:         t.Name,
				Dosage:       t.Dosage,
				Type:         t.Type,
				Quantity:     t.Quantity,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.LogDate.Equal(b.LogDate) {
			return a.LogDate.Before(b.LogDate)
		}
		if c := compareExpected(a.ExpectedTime, b.ExpectedTime); c != 0 {
			return c < 0
		}
		if a.ScheduleID != b.ScheduleID {
			return a.ScheduleID < b.ScheduleID
		}
		return a.TabletID < b.TabletID
	})
	return entries
}
