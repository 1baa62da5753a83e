package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ExchangeMode selects which venue legs a schedule fires on.
type ExchangeMode string

const (
	ModeGlobal      ExchangeMode = "global"
	ModeBinanceOnly ExchangeMode = "binance"
	ModeOKXOnly     ExchangeMode = "okx"
	ModeSplit       ExchangeMode = "both"
)

// Schedule is a weekly DCA schedule row. The core treats schedules as
// read-only: they are created and edited by the external admin surface and
// cached here with a short TTL.
type Schedule struct {
	ID        int64
	// TimeOfDay is "HH:MM" in the business timezone.
	TimeOfDay string
	Weekdays  map[time.Weekday]bool
	// AmountUSDT is the global-mode amount; the per-exchange amounts apply
	// in single-exchange and split modes.
	AmountUSDT    decimal.Decimal
	AmountBinance decimal.Decimal
	AmountOKX     decimal.Decimal
	Mode          ExchangeMode
	Active        bool
}

// FireWindow is the maximum clock distance at which a schedule time counts
// as due.
const FireWindow = 15 * time.Second

// DueAt reports whether the schedule should fire at now: the weekday must be
// enabled and now must fall within FireWindow of the configured time-of-day.
// A malformed time-of-day yields an error so the caller can skip just this
// schedule.
func (s *Schedule) DueAt(now time.Time) (bool, error) {
	if !s.Active {
		return false, nil
	}
	if !s.Weekdays[now.Weekday()] {
		return false, nil
	}
	hh, mm, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return false, err
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= FireWindow, nil
}

// FireMarker identifies one schedule occurrence ("id YYYY-MM-DD HH:MM"),
// used to suppress duplicate fires within the same match window. The id
// keeps two schedules configured at the same time-of-day independent.
func (s *Schedule) FireMarker(now time.Time) string {
	return fmt.Sprintf("%d %s %s", s.ID, now.Format("2006-01-02"), s.TimeOfDay)
}

func parseTimeOfDay(v string) (int, int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d:%d", &hh, &mm); err != nil {
		return 0, 0, errors.Wrapf(err, "malformed time of day %q", v)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, errors.Errorf("time of day %q out of range", v)
	}
	return hh, mm, nil
}

// ParseWeekdays parses a comma-separated weekday list ("mon,tue,...") into a
// set. An empty string yields an empty set.
func ParseWeekdays(csv string) (map[time.Weekday]bool, error) {
	out := make(map[time.Weekday]bool)
	if strings.TrimSpace(csv) == "" {
		return out, nil
	}
	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
		"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
	}
	for _, part := range strings.Split(csv, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		day, ok := names[name]
		if !ok {
			return nil, errors.Errorf("unknown weekday %q", part)
		}
		out[day] = true
	}
	return out, nil
}

// WeekdaysCSV renders the weekday set back into the storage format.
func WeekdaysCSV(days map[time.Weekday]bool) string {
	order := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	short := map[time.Weekday]string{
		time.Monday: "mon", time.Tuesday: "tue", time.Wednesday: "wed", time.Thursday: "thu",
		time.Friday: "fri", time.Saturday: "sat", time.Sunday: "sun",
	}
	var parts []string
	for _, d := range order {
		if days[d] {
			parts = append(parts, short[d])
		}
	}
	return strings.Join(parts, ",")
}
