package services

import (
	"fmt"
	"time"

	"dsolar/internal/config"
)

// 预约状态。
const (
	StatusPendingCustomer = "pending-customer"
	StatusPendingAdmin    = "pending-admin"
	StatusConfirmed       = "confirmed"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
	StatusArchived        = "archived"
)

// 允许的状态迁移。
var transitions = map[string][]string{
	StatusPendingCustomer: {StatusPendingAdmin, StatusCancelled, StatusArchived},
	StatusPendingAdmin:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusCompleted, StatusCancelled, StatusArchived},
	StatusCompleted:       {StatusArchived},
	StatusCancelled:       {StatusArchived},
}

// ValidStatus 判断是否为已知状态。
func ValidStatus(s string) bool {
	if s == StatusArchived {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition 判断 from → to 是否合法。
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func statusLabel(s string) string {
	switch s {
	case StatusPendingCustomer:
		return "awaiting your confirmation"
	case StatusPendingAdmin:
		return "awaiting review"
	case StatusConfirmed:
		return "confirmed"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return s
	}
}

// Slot 某一天中的一个可预约时段。
type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Label     string    `json:"label"`
	Remaining int       `json:"remaining"`
	Available bool      `json:"available"`
}

// DayAvailability 某日的时段列表；Open=false 表示非工作日。
type DayAvailability struct {
	Date     string `json:"date"`
	Timezone string `json:"timezone"`
	Open     bool   `json:"open"`
	Slots    []Slot `json:"slots"`
}

// slotRules 将预约配置转换为具体时段计算。
type slotRules struct {
	cfg config.BookingConfig
	loc *time.Location
}

func newSlotRules(cfg config.BookingConfig) slotRules {
	if cfg.SlotMinutes <= 0 {
		cfg.SlotMinutes = 60
	}
	if cfg.CapacityPerSlot <= 0 {
		cfg.CapacityPerSlot = 1
	}
	return slotRules{cfg: cfg, loc: cfg.Location()}
}

func (r slotRules) length() time.Duration { return time.Duration(r.cfg.SlotMinutes) * time.Minute }

// parseDay 解析 YYYY-MM-DD 为预约时区的零点。
func (r slotRules) parseDay(date string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", date, r.loc)
	if err != nil {
		return time.Time{}, invalid("date", "expected_yyyy_mm_dd")
	}
	return d, nil
}

func (r slotRules) workingDay(day time.Time) bool {
	wd := int(day.Weekday())
	for _, w := range r.cfg.Weekdays {
		if w == wd {
			return true
		}
	}
	return false
}

// daySlots 返回某日全部时段的开始时间（不考虑占用与提前量）。
func (r slotRules) daySlots(day time.Time) []time.Time {
	if !r.workingDay(day) {
		return nil
	}
	y, m, d := day.Date()
	open := time.Date(y, m, d, r.cfg.OpenHour, 0, 0, 0, r.loc)
	closeAt := time.Date(y, m, d, r.cfg.CloseHour, 0, 0, 0, r.loc)
	var out []time.Time
	for t := open; !t.Add(r.length()).After(closeAt); t = t.Add(r.length()) {
		out = append(out, t)
	}
	return out
}

// parseSlot 解析本地日期与 HH:MM，并校验其落在时段网格上。
func (r slotRules) parseSlot(date, hhmm string) (time.Time, error) {
	day, err := r.parseDay(date)
	if err != nil {
		return time.Time{}, err
	}
	tod, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, invalid("time", "expected_hh_mm")
	}
	y, m, d := day.Date()
	start := time.Date(y, m, d, tod.Hour(), tod.Minute(), 0, 0, r.loc)
	for _, s := range r.daySlots(day) {
		if s.Equal(start) {
			return start, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %s is not a bookable slot", ErrSlotUnavailable, date, hhmm)
}

// bookable 校验提前量与可预约范围。
func (r slotRules) bookable(start, now time.Time) error {
	if start.Before(now.Add(r.cfg.MinLeadTime)) {
		return fmt.Errorf("%w: too soon", ErrSlotUnavailable)
	}
	if r.cfg.HorizonDays > 0 {
		y, m, d := now.In(r.loc).Date()
		limit := time.Date(y, m, d, 0, 0, 0, 0, r.loc).AddDate(0, 0, r.cfg.HorizonDays+1)
		if !start.Before(limit) {
			return fmt.Errorf("%w: beyond booking horizon", ErrSlotUnavailable)
		}
	}
	return nil
}
