package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dsolar/internal/config"
)

func TestTransitions(t *testing.T) {
	allowed := [][2]string{
		{StatusPendingCustomer, StatusPendingAdmin},
		{StatusPendingCustomer, StatusCancelled},
		{StatusPendingCustomer, StatusArchived},
		{StatusPendingAdmin, StatusConfirmed},
		{StatusPendingAdmin, StatusCancelled},
		{StatusConfirmed, StatusCompleted},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusArchived},
		{StatusCompleted, StatusArchived},
		{StatusCancelled, StatusArchived},
	}
	for _, tr := range allowed {
		require.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	rejected := [][2]string{
		{StatusPendingCustomer, StatusConfirmed},
		{StatusPendingAdmin, StatusCompleted},
		{StatusCancelled, StatusConfirmed},
		{StatusCompleted, StatusCancelled},
		{StatusArchived, StatusConfirmed},
		{StatusConfirmed, StatusPendingAdmin},
	}
	for _, tr := range rejected {
		require.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	require.True(t, ValidStatus(StatusArchived))
	require.False(t, ValidStatus("done"))
}

func TestSlotRulesGrid(t *testing.T) {
	cfg := config.Default().Booking
	cfg.OpenHour, cfg.CloseHour, cfg.SlotMinutes = 8, 10, 45
	r := newSlotRules(cfg)
	day, err := r.parseDay("2025-03-04")
	require.NoError(t, err)
	slots := r.daySlots(day)
	// 08:00 与 08:45 可用；09:30 结束于 10:15 超出营业时间
	require.Len(t, slots, 2)
	require.Equal(t, "08:45", slots[1].In(r.loc).Format("15:04"))

	_, err = r.parseSlot("2025-03-04", "09:30")
	require.ErrorIs(t, err, ErrSlotUnavailable)
	_, err = r.parseSlot("2025-03-04", "8am")
	require.ErrorIs(t, err, ErrValidation)
	start, err := r.parseSlot("2025-03-04", "08:45")
	require.NoError(t, err)
	require.Equal(t, 8, start.In(r.loc).Hour())
}

func TestSlotRulesHorizon(t *testing.T) {
	cfg := config.Default().Booking
	cfg.HorizonDays = 2
	cfg.MinLeadTime = time.Hour
	r := newSlotRules(cfg)
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, r.loc)

	require.ErrorIs(t, r.bookable(now.Add(30*time.Minute), now), ErrSlotUnavailable)
	require.NoError(t, r.bookable(now.Add(2*time.Hour), now))
	require.NoError(t, r.bookable(time.Date(2025, 3, 5, 16, 0, 0, 0, r.loc), now))
	require.ErrorIs(t, r.bookable(time.Date(2025, 3, 6, 9, 0, 0, 0, r.loc), now), ErrSlotUnavailable)
}
