package medication

import (
	"math"

	"github.com/medtracker/medtracker/pkg/caldate"
)

// computeReport aggregates logs per schedule over [start, end]. The
// denominator is the number of logged days, not the number of scheduled
// days, so days without any log do not count against adherence.
func computeReport(start, end caldate.Date, schedules []*Schedule, tablets []ScheduleTablet, logs []*Log) *AdherenceReport {
	byTablet := groupTablets(tablets)

	type tally struct{ total, taken int }
	counts := make(map[int64]*tally, len(schedules))
	for _, s := range schedules {
		counts[s.ID] = &tally{}
	}
	for _, l := range logs {
		t, ok := counts[l.ScheduleID]
		if !ok || !l.LogDate.Within(start, &end) {
			continue
		}
		t.total++
		if l.IsTaken {
			t.taken++
		}
	}

	report := &AdherenceReport{
		Schedules: make([]ScheduleAdherence, 0, len(schedules)),
		Period:    Period{StartDate: start, EndDate: end},
	}
	var total, taken int
	for _, s := range schedules {
		c := counts[s.ID]
		tabs := byTablet[s.ID]
		if tabs == nil {
			tabs = []ScheduleTablet{}
		}
		report.Schedules = append(report.Schedules, ScheduleAdherence{
			ScheduleID:          s.ID,
			DoseTime:            s.DoseTime,
			Tablets:             tabs,
			TotalDoses:          c.total,
			TakenDoses:          c.taken,
			AdherencePercentage: percentage(c.taken, c.total),
		})
		total += c.total
		taken += c.taken
	}
	report.OverallAdherence = math.Round(percentage(taken, total)*100) / 100
	return report
}

func percentage(taken, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(taken) / float64(total) * 100
}
