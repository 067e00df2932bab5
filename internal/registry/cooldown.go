package registry

import "time"

// NextQuotaReset returns the next instant strictly after now whose
// wall-clock time in the given IANA zone reads resetHour:00, converted
// to UTC. Unknown or empty zone names fall back to UTC.
func NextQuotaReset(now time.Time, timezone string, resetHour int) time.Time {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), resetHour, 0, 0, 0, loc)
	if !reset.After(local) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset.UTC()
}
