// Package calendar вычисляет границы календарных суток в заданном часовом поясе.
package calendar

import "time"

// DayStart возвращает момент начала суток, содержащих ref, в часовом поясе loc.
// Результат выражен в loc; nil трактуется как UTC.
func DayStart(loc *time.Location, ref time.Time) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := ref.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// NextDayStart возвращает начало следующих суток после ref в часовом поясе loc.
func NextDayStart(loc *time.Location, ref time.Time) time.Time {
	start := DayStart(loc, ref)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, start.Location())
}

// UTCDate возвращает полночь UTC суток, содержащих ref.
func UTCDate(ref time.Time) time.Time {
	return DayStart(time.UTC, ref)
}
