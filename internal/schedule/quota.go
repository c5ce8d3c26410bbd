// Package schedule turns the posting budget into timed slots and dispatches
// a content unit for each slot.
package schedule

import "time"

const (
	// PostsPerUnit is the number of linked posts in one content unit:
	// the primary and its two replies.
	PostsPerUnit = 3
	// DaysPerMonth is the divisor used to spread the monthly cap.
	DaysPerMonth = 30

	Day = 24 * time.Hour
)

// Quota is derived from configuration on every plan and never stored.
type Quota struct {
	MonthlyCap     int           `json:"monthly_cap"`
	DailyCapConfig int           `json:"daily_cap_config"`
	DailyCap       int           `json:"daily_cap"`
	UnitCount      int           `json:"unit_count"`
	Interval       time.Duration `json:"interval"`
}

// ComputeQuota caps the configured daily posts by the monthly budget and
// converts posts into whole content units. Negative inputs count as zero.
func ComputeQuota(monthlyCap, dailyCapConfig int) Quota {
	q := Quota{MonthlyCap: max(monthlyCap, 0), DailyCapConfig: max(dailyCapConfig, 0)}
	q.DailyCap = min(q.DailyCapConfig, q.MonthlyCap/DaysPerMonth)
	q.UnitCount = q.DailyCap / PostsPerUnit
	if q.UnitCount > 0 {
		q.Interval = Day / time.Duration(q.UnitCount)
	}
	return q
}

// Slot is one publication opportunity. FireAt is the offset from the start
// of the planned day.
type Slot struct {
	Index  int           `json:"index"`
	FireAt time.Duration `json:"fire_at"`
}

// PlanDay returns UnitCount evenly spaced slots starting at offset zero.
// A zero unit count plans nothing.
func PlanDay(monthlyCap, dailyCapConfig int) []Slot {
	q := ComputeQuota(monthlyCap, dailyCapConfig)
	slots := make([]Slot, 0, q.UnitCount)
	for i := 0; i < q.UnitCount; i++ {
		slots = append(slots, Slot{Index: i, FireAt: time.Duration(i) * q.Interval})
	}
	return slots
}
