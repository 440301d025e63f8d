package utils

import (
	"time"
)

// CST is China Standard Time (UTC+8), the exchange clock for SSE/SZSE.
var CST *time.Location

func init() {
	var err error
	CST, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		CST = time.FixedZone("CST", 8*60*60)
	}
}

// NowCST returns the current time in CST.
func NowCST() time.Time {
	return time.Now().In(CST)
}

// MarketOpenTime returns the continuous auction start (9:30 CST) for a given date.
func MarketOpenTime(date time.Time) time.Time {
	d := date.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 30, 0, 0, CST)
}

// MarketCloseTime returns the market close (15:00 CST) for a given date.
func MarketCloseTime(date time.Time) time.Time {
	d := date.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 0, 0, 0, CST)
}

// IsMarketOpenAt checks whether continuous trading is running at t.
// Sessions are 9:30-11:30 and 13:00-15:00 CST.
func IsMarketOpenAt(t time.Time) bool {
	t = t.In(CST)
	if !IsTradingDay(t) {
		return false
	}

	morningEnd := time.Date(t.Year(), t.Month(), t.Day(), 11, 30, 0, 0, CST)
	afternoonStart := time.Date(t.Year(), t.Month(), t.Day(), 13, 0, 0, 0, CST)

	inMorning := !t.Before(MarketOpenTime(t)) && !t.After(morningEnd)
	inAfternoon := !t.Before(afternoonStart) && !t.After(MarketCloseTime(t))
	return inMorning || inAfternoon
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(CST)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsTradingHoliday(t)
}

// IsTradingHoliday checks if the given date is an exchange holiday.
func IsTradingHoliday(t time.Time) bool {
	_, ok := exchangeHolidays[t.In(CST).Format("2006-01-02")]
	return ok
}

// SameTradingDate reports whether a and b fall on the same CST calendar date.
func SameTradingDate(a, b time.Time) bool {
	return FormatDateCST(a) == FormatDateCST(b)
}

// TradingDaysBetween returns the number of trading days in (start, end].
// Holding periods are counted this way: a position bought on Monday has
// been held one day on Tuesday.
func TradingDaysBetween(start, end time.Time) int {
	s := startOfDay(start)
	e := startOfDay(end)
	count := 0
	for d := s.AddDate(0, 0, 1); !d.After(e); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			count++
		}
	}
	return count
}

// ParseDateCST parses a date string in "2006-01-02" format and returns it in CST.
func ParseDateCST(dateStr string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", dateStr, CST)
}

// FormatDateCST formats a time.Time to "2006-01-02" in CST.
func FormatDateCST(t time.Time) string {
	return t.In(CST).Format("2006-01-02")
}

// FormatDateTimeCST formats a time.Time to "2006-01-02 15:04:05 CST".
func FormatDateTimeCST(t time.Time) string {
	return t.In(CST).Format("2006-01-02 15:04:05") + " CST"
}

func startOfDay(t time.Time) time.Time {
	d := t.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, CST)
}

// SSE/SZSE closures for 2026 (update annually from the exchange notice).
var exchangeHolidays = map[string]string{
	"2026-01-01": "New Year",
	"2026-01-02": "New Year",
	"2026-02-16": "Spring Festival",
	"2026-02-17": "Spring Festival",
	"2026-02-18": "Spring Festival",
	"2026-02-19": "Spring Festival",
	"2026-02-20": "Spring Festival",
	"2026-02-23": "Spring Festival",
	"2026-04-06": "Qingming",
	"2026-05-01": "Labour Day",
	"2026-05-04": "Labour Day",
	"2026-05-05": "Labour Day",
	"2026-06-19": "Dragon Boat",
	"2026-09-25": "Mid-Autumn",
	"2026-10-01": "National Day",
	"2026-10-02": "National Day",
	"2026-10-05": "National Day",
	"2026-10-06": "National Day",
	"2026-10-07": "National Day",
}
