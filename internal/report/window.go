package report

import "time"

// ComputeWindow returns the reporting window for a run started on today.
// On Mondays the window covers the preceding Saturday and Sunday, since the
// dashboard has no separate weekend exports; on any other day it is yesterday.
func ComputeWindow(today time.Time) DateWindow {
	day := truncateDay(today)
	end := day.AddDate(0, 0, -1)
	if day.Weekday() == time.Monday {
		return DateWindow{Start: day.AddDate(0, 0, -2), End: end}
	}
	return DateWindow{Start: end, End: end}
}

// truncateDay drops the clock part while keeping the location, so that
// AddDate stays on calendar boundaries across DST changes.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
