package views

import "time"

// formatTimestamp renders epoch ms as a clock time for today and a date
// otherwise. Zero renders as "-".
func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return "-"
	}
	t := time.UnixMilli(ms).In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}
