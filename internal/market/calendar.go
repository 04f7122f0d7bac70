package market

import (
	"fmt"
	"time"
)

// Calendar answers "is the exchange trading right now" and "did we cross the
// daily boundary", the two signals the engine needs from the venue schedule.
// Daily counters (risk state, rate budget) reset at midnight exchange time,
// regardless of whether that day is a trading day.
type Calendar interface {
	// SessionOpen reports whether the regular session is open at t.
	SessionOpen(t time.Time) bool
	// AcceptsIntents reports whether new order intents are admitted at t.
	// The venue stops accepting new entries shortly before the close.
	AcceptsIntents(t time.Time) bool
	// TradingDay reports whether t falls on a trading day.
	TradingDay(t time.Time) bool
	// SameTradingDay reports whether a and b fall on the same exchange-local
	// calendar day.
	SameTradingDay(a, b time.Time) bool
	// NextReset returns the next daily boundary strictly after t.
	NextReset(t time.Time) time.Time
}

// KRXCalendar implements Calendar for the Korea Exchange: regular session
// 09:00-15:30 KST, new entries accepted until 15:20, closed on weekends and
// listed holidays.
type KRXCalendar struct {
	loc      *time.Location
	holidays map[string]bool // "2006-01-02" in exchange time
}

const (
	sessionOpenMinutes  = 9 * 60         // 09:00
	sessionCloseMinutes = 15*60 + 30     // 15:30
	intentCutoffMinutes = 15*60 + 20     // 15:20, last new entry before the closing auction
)

// NewKRXCalendar builds the calendar in Asia/Seoul with the bundled KRX
// holiday table. Extra closures (ad-hoc half days, election days) can be
// passed in exchange-local "2006-01-02" form.
func NewKRXCalendar(extraClosures ...string) (*KRXCalendar, error) {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return nil, fmt.Errorf("load exchange timezone: %w", err)
	}
	c := &KRXCalendar{loc: loc, holidays: make(map[string]bool, len(krxHolidays)+len(extraClosures))}
	for _, d := range krxHolidays {
		c.holidays[d] = true
	}
	for _, d := range extraClosures {
		c.holidays[d] = true
	}
	return c, nil
}

// Location returns the exchange time zone.
func (c *KRXCalendar) Location() *time.Location { return c.loc }

func (c *KRXCalendar) TradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	if wd := lt.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[lt.Format("2006-01-02")]
}

func (c *KRXCalendar) SessionOpen(t time.Time) bool {
	if !c.TradingDay(t) {
		return false
	}
	m := minutesIntoDay(t.In(c.loc))
	return m >= sessionOpenMinutes && m < sessionCloseMinutes
}

func (c *KRXCalendar) AcceptsIntents(t time.Time) bool {
	if !c.TradingDay(t) {
		return false
	}
	m := minutesIntoDay(t.In(c.loc))
	return m >= sessionOpenMinutes && m < intentCutoffMinutes
}

func (c *KRXCalendar) SameTradingDay(a, b time.Time) bool {
	la, lb := a.In(c.loc), b.In(c.loc)
	return la.Year() == lb.Year() && la.YearDay() == lb.YearDay()
}

func (c *KRXCalendar) NextReset(t time.Time) time.Time {
	lt := t.In(c.loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
	return midnight.AddDate(0, 0, 1)
}

// NextTradingDay returns the first trading day strictly after t, capped at a
// two-week scan so a misconfigured holiday table cannot loop forever.
func (c *KRXCalendar) NextTradingDay(t time.Time) time.Time {
	lt := t.In(c.loc)
	for i := 0; i < 14; i++ {
		lt = lt.AddDate(0, 0, 1)
		if c.TradingDay(lt) {
			return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
		}
	}
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
}

func minutesIntoDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

// KRX closures, maintained by year. Lunar-calendar holidays need a yearly
// refresh.
var krxHolidays = []string{
	// 2024
	"2024-01-01",
	"2024-02-09", "2024-02-10", "2024-02-11", "2024-02-12",
	"2024-03-01",
	"2024-04-10",
	"2024-05-05", "2024-05-06", "2024-05-15",
	"2024-06-06",
	"2024-08-15",
	"2024-09-16", "2024-09-17", "2024-09-18",
	"2024-10-03", "2024-10-09",
	"2024-12-25", "2024-12-31",
	// 2025
	"2025-01-01",
	"2025-01-28", "2025-01-29", "2025-01-30",
	"2025-03-01",
	"2025-05-05", "2025-05-06",
	"2025-06-06",
	"2025-08-15",
	"2025-10-03", "2025-10-05", "2025-10-06", "2025-10-07", "2025-10-08", "2025-10-09",
	"2025-12-25", "2025-12-31",
	// 2026
	"2026-01-01",
	"2026-02-16", "2026-02-17", "2026-02-18",
	"2026-03-01", "2026-03-02",
	"2026-05-05", "2026-05-24", "2026-05-25",
	"2026-06-06",
	"2026-08-15", "2026-08-17",
	"2026-09-24", "2026-09-25", "2026-09-26",
	"2026-10-03", "2026-10-05", "2026-10-09",
	"2026-12-25", "2026-12-31",
}
