package calendar

import (
	"strings"
	"time"

	"github.com/aristath/quantdb/internal/errs"
)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("calendar: failed to load timezone " + name + ": " + err.Error())
	}
	return loc
}

// marketConfigs holds the holiday rule set and timezone for every
// recognized market. Both markets observe public holidays in addition
// to weekends; the Chinese mainland's lunar-calendar holidays (Spring
// Festival, Qingming, Dragon Boat, Mid-Autumn) move every year and are
// not representable as fixed/rule/Easter rules, so CN_A's table covers
// only its fixed-Gregorian-date holidays. Refresh rebuilds from these
// rules alone and consults no other source, so CN_A's lunar-calendar
// holidays are reported as trading days when they fall on a weekday.
var marketConfigs = map[Market]marketConfig{
	CNA: {
		Market:   CNA,
		Timezone: mustLoadLocation("Asia/Shanghai"),
		Holidays: holidayRuleSet{
			Fixed: []fixedDateHoliday{
				{Month: 1, Day: 1, ObserveOnWeekday: false},  // New Year's Day
				{Month: 5, Day: 1, ObserveOnWeekday: false},  // Labour Day
				{Month: 10, Day: 1, ObserveOnWeekday: false}, // National Day
				{Month: 10, Day: 2, ObserveOnWeekday: false}, // National Day holiday week
				{Month: 10, Day: 3, ObserveOnWeekday: false},
			},
		},
	},
	HK: {
		Market:   HK,
		Timezone: mustLoadLocation("Asia/Hong_Kong"),
		Holidays: holidayRuleSet{
			Fixed: []fixedDateHoliday{
				{Month: 1, Day: 1, ObserveOnWeekday: false},
				{Month: 5, Day: 1, ObserveOnWeekday: false},
				{Month: 7, Day: 1, ObserveOnWeekday: false}, // HKSAR Establishment Day
				{Month: 10, Day: 1, ObserveOnWeekday: false},
				{Month: 12, Day: 25, ObserveOnWeekday: false},
				{Month: 12, Day: 26, ObserveOnWeekday: false},
			},
			EasterDays: []easterBasedHoliday{
				{DaysOffset: -2}, // Good Friday
				{DaysOffset: 1},  // Easter Monday
			},
			EasterType: gregorianEaster,
		},
	},
}

// inferMarket implements §4.1's symbol-shape inference rule.
func inferMarket(symbol string) (Market, error) {
	s := strings.TrimSpace(symbol)
	if strings.HasPrefix(s, "HK.") {
		return HK, nil
	}
	digits := s
	if strings.HasPrefix(digits, "HK.") {
		digits = digits[3:]
	}
	allDigits := len(digits) > 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if allDigits {
		switch len(digits) {
		case 6:
			return CNA, nil
		case 5:
			return HK, nil
		}
	}
	return "", errs.UnrecognizedSymbol(symbol)
}
