package calendar

import "time"

// calculateEaster returns the date of Easter Sunday for year, in the
// given calendar system. Uses the standard computus algorithm.
func calculateEaster(year int, ct easterType) time.Time {
	if ct == julianEaster {
		return calculateJulianEaster(year)
	}
	return calculateGregorianEaster(year)
}

func calculateGregorianEaster(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func calculateJulianEaster(year int) time.Time {
	a := year % 19
	b := year % 4
	c := year % 7
	d := (19*a + 15) % 30
	e := (2*b + 4*c + 6*d + 6) % 7
	julianDay := 22 + d + e
	julianMonth := time.March
	if julianDay > 31 {
		julianDay -= 31
		julianMonth = time.April
	}
	julianDate := time.Date(year, julianMonth, julianDay, 0, 0, 0, 0, time.UTC)
	// Valid for 1900-2099; the recognized markets don't need Orthodox Easter
	// today, but the offset keeps the formula correct if one ever does.
	return julianDate.AddDate(0, 0, 13)
}

// findNthWeekday finds the nth (1-based) occurrence of weekday in month/year.
func findNthWeekday(year, month int, weekday time.Weekday, n int) time.Time {
	date := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	daysToAdd := int(weekday - date.Weekday())
	if daysToAdd < 0 {
		daysToAdd += 7
	}
	date = date.AddDate(0, 0, daysToAdd)
	return date.AddDate(0, 0, (n-1)*7)
}

// findLastWeekday finds the last occurrence of weekday in month/year.
func findLastWeekday(year, month int, weekday time.Weekday) time.Time {
	date := time.Date(year, time.Month(month+1), 0, 0, 0, 0, 0, time.UTC)
	daysToSubtract := int(date.Weekday() - weekday)
	if daysToSubtract < 0 {
		daysToSubtract += 7
	}
	return date.AddDate(0, 0, -daysToSubtract)
}

// observeOnWeekday shifts a weekend date to the nearest weekday:
// Saturday -> Friday, Sunday -> Monday.
func observeOnWeekday(date time.Time) time.Time {
	switch date.Weekday() {
	case time.Saturday:
		return date.AddDate(0, 0, -1)
	case time.Sunday:
		return date.AddDate(0, 0, 1)
	default:
		return date
	}
}

// holidaysForYear evaluates a market's full rule set for one calendar
// year and returns the resulting dates (unsorted, deduplication handled
// by the caller via day-granularity set membership).
func holidaysForYear(cfg marketConfig, year int) []time.Time {
	rules := cfg.Holidays
	holidays := make([]time.Time, 0, len(rules.Fixed)+len(rules.RuleBased)+len(rules.EasterDays))

	for _, h := range rules.Fixed {
		date := time.Date(year, time.Month(h.Month), h.Day, 0, 0, 0, 0, cfg.Timezone)
		if h.ObserveOnWeekday {
			date = observeOnWeekday(date)
		}
		holidays = append(holidays, date)
	}

	for _, h := range rules.RuleBased {
		var date time.Time
		if h.N == -1 {
			date = findLastWeekday(year, h.Month, h.Weekday)
		} else {
			date = findNthWeekday(year, h.Month, h.Weekday, h.N)
		}
		holidays = append(holidays, date)
	}

	for _, h := range rules.EasterDays {
		easter := calculateEaster(year, rules.EasterType)
		holidays = append(holidays, easter.AddDate(0, 0, h.DaysOffset))
	}

	return holidays
}
