package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dsolar/internal/config"
	"dsolar/internal/storage"
)

func TestAvailabilityWorkingDay(t *testing.T) {
	env := newBookingEnv(t)
	day, err := env.appts.Availability(context.Background(), "2025-03-05")
	require.NoError(t, err)
	require.True(t, day.Open)
	require.Equal(t, "Asia/Manila", day.Timezone)
	require.Len(t, day.Slots, 8)
	require.Equal(t, "09:00", day.Slots[0].Label)
	require.Equal(t, "16:00", day.Slots[7].Label)
	for _, s := range day.Slots {
		require.True(t, s.Available, s.Label)
		require.Equal(t, 1, s.Remaining)
	}
}

func TestAvailabilityClosedDayAndLeadTime(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()

	sunday, err := env.appts.Availability(ctx, "2025-03-09")
	require.NoError(t, err)
	require.False(t, sunday.Open)
	require.Empty(t, sunday.Slots)

	today, err := env.appts.Availability(ctx, "2025-03-03")
	require.NoError(t, err)
	require.True(t, today.Open)
	for _, s := range today.Slots {
		require.False(t, s.Available, s.Label)
	}

	_, err = env.appts.Availability(ctx, "03/05/2025")
	require.ErrorIs(t, err, ErrValidation)
}

func TestBookCreatesPendingAndSendsConfirmation(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()

	res, err := env.appts.Book(ctx, sampleBooking(" Juan@Example.com ", "2025-03-05", "10:00"))
	require.NoError(t, err)
	require.True(t, res.EmailSent)
	a := res.Appointment
	require.Equal(t, StatusPendingCustomer, a.Status)
	require.Equal(t, "juan@example.com", a.Email)
	require.Len(t, a.Token, env.cfg.Booking.TokenLength)
	require.NotNil(t, a.TokenExpiresAt)
	require.True(t, a.SlotStart.Equal(time.Date(2025, 3, 5, 2, 0, 0, 0, time.UTC)), a.SlotStart.String())

	msg := env.mailer.last(t)
	require.Equal(t, []string{"juan@example.com"}, msg.To)
	require.Equal(t, TplConfirmBooking, msg.Template)
	require.Equal(t, a.Token, linkToken(t, msg.Text))
	require.Contains(t, msg.HTML, "https://d-solar.test/appointments/confirm?token=")

	day, err := env.appts.Availability(ctx, "2025-03-05")
	require.NoError(t, err)
	require.False(t, day.Slots[1].Available)
	require.Equal(t, 0, day.Slots[1].Remaining)
	require.True(t, day.Slots[2].Available)
}

func TestBookRejectsTakenSlotAndDuplicates(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	_, err := env.appts.Book(ctx, sampleBooking("a@example.com", "2025-03-05", "10:00"))
	require.NoError(t, err)

	_, err = env.appts.Book(ctx, sampleBooking("a@example.com", "2025-03-05", "10:00"))
	require.ErrorIs(t, err, ErrConflict)

	_, err = env.appts.Book(ctx, sampleBooking("b@example.com", "2025-03-05", "10:00"))
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookValidation(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	cases := []struct {
		name string
		mut  func(*BookingInput)
		want error
	}{
		{"bad email", func(in *BookingInput) { in.Email = "not-an-email" }, ErrValidation},
		{"missing name", func(in *BookingInput) { in.Name = " " }, ErrValidation},
		{"bad phone", func(in *BookingInput) { in.Phone = "call me" }, ErrValidation},
		{"off grid time", func(in *BookingInput) { in.Time = "10:30" }, ErrSlotUnavailable},
		{"after closing", func(in *BookingInput) { in.Time = "17:00" }, ErrSlotUnavailable},
		{"sunday", func(in *BookingInput) { in.Date = "2025-03-09" }, ErrSlotUnavailable},
		{"too soon", func(in *BookingInput) { in.Date = "2025-03-03"; in.Time = "15:00" }, ErrSlotUnavailable},
		{"beyond horizon", func(in *BookingInput) { in.Date = "2025-06-02" }, ErrSlotUnavailable},
		{"unknown package", func(in *BookingInput) { id := uint64(999); in.PackageID = &id }, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := sampleBooking("c@example.com", "2025-03-05", "11:00")
			tc.mut(&in)
			_, err := env.appts.Book(ctx, in)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Equal(t, 0, env.mailer.count())
}

func TestConfirmPromotesAndIsIdempotent(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	res, err := env.appts.Book(ctx, sampleBooking("d@example.com", "2025-03-06", "09:00"))
	require.NoError(t, err)
	token := linkToken(t, env.mailer.last(t).Text)

	env.clock.Advance(time.Hour)
	out, err := env.appts.Confirm(ctx, token)
	require.NoError(t, err)
	require.False(t, out.Already)
	require.Equal(t, StatusPendingAdmin, out.Appointment.Status)
	require.NotNil(t, out.Appointment.CustomerConfirmedAt)
	require.Nil(t, out.Appointment.TokenExpiresAt)

	admin := env.mailer.last(t)
	require.Equal(t, TplAdminNewBooking, admin.Template)
	require.Equal(t, []string{env.cfg.Mail.AdminTo}, admin.To)
	require.Contains(t, admin.Text, "d@example.com")

	again, err := env.appts.Confirm(ctx, token)
	require.NoError(t, err)
	require.True(t, again.Already)
	require.Equal(t, res.Appointment.ID, again.Appointment.ID)

	_, err = env.appts.Confirm(ctx, "unknown-token")
	require.ErrorIs(t, err, ErrTokenInvalid)
	_, err = env.appts.Confirm(ctx, "")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestExpiredTokenFreesSlotAndSweepArchives(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	res, err := env.appts.Book(ctx, sampleBooking("e@example.com", "2025-03-07", "13:00"))
	require.NoError(t, err)
	token := res.Appointment.Token

	env.clock.Advance(25 * time.Hour)
	_, err = env.appts.Confirm(ctx, token)
	require.ErrorIs(t, err, ErrTokenExpired)

	day, err := env.appts.Availability(ctx, "2025-03-07")
	require.NoError(t, err)
	require.True(t, day.Slots[4].Available, "expired request must not block the slot")

	n, err := env.appts.SweepExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	a, err := env.appts.Get(ctx, res.Appointment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, a.Status)

	_, err = env.appts.Confirm(ctx, token)
	require.ErrorIs(t, err, ErrTokenExpired)

	n, err = env.appts.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResendRefusesTakenSlot(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	_, err := env.appts.Book(ctx, sampleBooking("f@example.com", "2025-03-08", "09:00"))
	require.NoError(t, err)

	// 第一条过期后时段被他人预约并确认
	env.clock.Advance(25 * time.Hour)
	second, err := env.appts.Book(ctx, sampleBooking("g@example.com", "2025-03-08", "09:00"))
	require.NoError(t, err)
	_, err = env.appts.Confirm(ctx, second.Appointment.Token)
	require.NoError(t, err)

	err = env.appts.Resend(ctx, "f@example.com")
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestResendIssuesFreshToken(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	res, err := env.appts.Book(ctx, sampleBooking("h@example.com", "2025-03-08", "14:00"))
	require.NoError(t, err)
	old := res.Appointment.Token

	env.clock.Advance(25 * time.Hour)
	require.NoError(t, env.appts.Resend(ctx, "H@example.com"))
	fresh := linkToken(t, env.mailer.last(t).Text)
	require.NotEqual(t, old, fresh)

	_, err = env.appts.Confirm(ctx, old)
	require.ErrorIs(t, err, ErrTokenInvalid)
	out, err := env.appts.Confirm(ctx, fresh)
	require.NoError(t, err)
	require.Equal(t, StatusPendingAdmin, out.Appointment.Status)

	require.ErrorIs(t, env.appts.Resend(ctx, "nobody@example.com"), ErrNotFound)
}

func TestAdminStatusFlowAndManageLink(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	res, err := env.appts.Book(ctx, sampleBooking("i@example.com", "2025-03-10", "11:00"))
	require.NoError(t, err)
	id := res.Appointment.ID

	_, err = env.appts.UpdateStatus(ctx, id, StatusConfirmed, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.appts.UpdateStatus(ctx, id, "bogus", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.appts.Confirm(ctx, res.Appointment.Token)
	require.NoError(t, err)
	a, err := env.appts.UpdateStatus(ctx, id, StatusConfirmed, "Engineer: Ana")
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, a.Status)
	require.Equal(t, "Engineer: Ana", a.AdminNote)

	msg := env.mailer.last(t)
	require.Equal(t, TplAppointmentStatus, msg.Template)
	require.Contains(t, msg.Subject, "confirmed")
	require.Contains(t, msg.Text, "Engineer: Ana")
	manage := linkToken(t, msg.Text)

	cancelled, err := env.appts.CancelByLink(ctx, manage)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	again, err := env.appts.CancelByLink(ctx, manage)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, again.Status)

	_, err = env.appts.UpdateStatus(ctx, id, StatusConfirmed, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	a, err = env.appts.UpdateStatus(ctx, id, StatusArchived, "")
	require.NoError(t, err)
	require.Equal(t, StatusArchived, a.Status)

	_, err = env.appts.CancelByLink(ctx, "garbage")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestCancelByLinkRejectsMismatchedEmail(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	res, err := env.appts.Book(ctx, sampleBooking("j@example.com", "2025-03-11", "09:00"))
	require.NoError(t, err)
	_, err = env.appts.Confirm(ctx, res.Appointment.Token)
	require.NoError(t, err)

	forged := *res.Appointment
	forged.Email = "other@example.com"
	tok, err := env.links.Issue(&forged)
	require.NoError(t, err)
	_, err = env.appts.CancelByLink(ctx, tok)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestListFiltersAndDelete(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	for i, email := range []string{"k@example.com", "l@example.com", "maria@example.com"} {
		_, err := env.appts.Book(ctx, sampleBooking(email, "2025-03-12", []string{"09:00", "10:00", "11:00"}[i]))
		require.NoError(t, err)
	}
	all, total, err := env.appts.List(ctx, AppointmentFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, all, 3)

	found, total, err := env.appts.List(ctx, AppointmentFilter{Query: "MARIA"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "maria@example.com", found[0].Email)

	_, total, err = env.appts.List(ctx, AppointmentFilter{Status: StatusConfirmed})
	require.NoError(t, err)
	require.Zero(t, total)

	from := time.Date(2025, 3, 12, 2, 0, 0, 0, time.UTC)
	ranged, _, err := env.appts.List(ctx, AppointmentFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, ranged, 2)

	counts, err := env.appts.Counts(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, counts[StatusPendingCustomer])

	require.NoError(t, env.appts.Delete(ctx, all[0].ID))
	require.ErrorIs(t, env.appts.Delete(ctx, all[0].ID), ErrNotFound)
	_, err = env.appts.Get(ctx, all[0].ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBookSurvivesMailFailure(t *testing.T) {
	env := newBookingEnv(t)
	env.mailer.err = errors.New("relay down")
	res, err := env.appts.Book(context.Background(), sampleBooking("n@example.com", "2025-03-13", "09:00"))
	require.NoError(t, err)
	require.False(t, res.EmailSent)

	var stored storage.Appointment
	require.NoError(t, env.db.First(&stored, res.Appointment.ID).Error)
	require.Equal(t, StatusPendingCustomer, stored.Status)
}

func TestCapacityAllowsSeveralBookingsPerSlot(t *testing.T) {
	env := newBookingEnv(t, func(c *config.Config) { c.Booking.CapacityPerSlot = 2 })
	ctx := context.Background()

	day, err := env.appts.Availability(ctx, "2025-03-05")
	require.NoError(t, err)
	require.Equal(t, 2, day.Slots[1].Remaining)

	first, err := env.appts.Book(ctx, sampleBooking("o@example.com", "2025-03-05", "10:00"))
	require.NoError(t, err)
	day, err = env.appts.Availability(ctx, "2025-03-05")
	require.NoError(t, err)
	require.Equal(t, 1, day.Slots[1].Remaining)
	require.True(t, day.Slots[1].Available)

	second, err := env.appts.Book(ctx, sampleBooking("p@example.com", "2025-03-05", "10:00"))
	require.NoError(t, err)
	day, err = env.appts.Availability(ctx, "2025-03-05")
	require.NoError(t, err)
	require.Zero(t, day.Slots[1].Remaining)
	require.False(t, day.Slots[1].Available)

	_, err = env.appts.Book(ctx, sampleBooking("q@example.com", "2025-03-05", "10:00"))
	require.ErrorIs(t, err, ErrSlotUnavailable)

	// 两条都可确认：各自排除自身后仍有名额
	_, err = env.appts.Confirm(ctx, first.Appointment.Token)
	require.NoError(t, err)
	_, err = env.appts.Confirm(ctx, second.Appointment.Token)
	require.NoError(t, err)
}

func TestConfirmRechecksSlotCapacity(t *testing.T) {
	env := newBookingEnv(t, func(c *config.Config) { c.Booking.CapacityPerSlot = 2 })
	ctx := context.Background()
	first, err := env.appts.Book(ctx, sampleBooking("r@example.com", "2025-03-06", "15:00"))
	require.NoError(t, err)
	_, err = env.appts.Book(ctx, sampleBooking("s@example.com", "2025-03-06", "15:00"))
	require.NoError(t, err)

	// 运营将名额调为 1 后，同一数据库上的服务确认时须复核
	cfg := env.cfg
	cfg.Booking.CapacityPerSlot = 1
	ms, err := NewMailService(env.mailer, cfg)
	require.NoError(t, err)
	strict := NewAppointmentService(env.db, cfg, ms, env.links)
	strict.SetClock(env.clock.Now)

	sent := env.mailer.count()
	_, err = strict.Confirm(ctx, first.Appointment.Token)
	require.ErrorIs(t, err, ErrSlotUnavailable)
	require.Equal(t, sent, env.mailer.count(), "no admin notification for a refused confirmation")

	a, err := env.appts.Get(ctx, first.Appointment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingCustomer, a.Status)
	require.NotNil(t, a.TokenExpiresAt)
	require.Nil(t, a.CustomerConfirmedAt)
}

func TestAdminPromotionRechecksSlot(t *testing.T) {
	env := newBookingEnv(t)
	ctx := context.Background()
	stale, err := env.appts.Book(ctx, sampleBooking("t@example.com", "2025-03-06", "09:00"))
	require.NoError(t, err)

	// 第一条过期后时段被他人预约并确认
	env.clock.Advance(25 * time.Hour)
	other, err := env.appts.Book(ctx, sampleBooking("u@example.com", "2025-03-06", "09:00"))
	require.NoError(t, err)
	_, err = env.appts.Confirm(ctx, other.Appointment.Token)
	require.NoError(t, err)

	_, err = env.appts.UpdateStatus(ctx, stale.Appointment.ID, StatusPendingAdmin, "called the customer")
	require.ErrorIs(t, err, ErrSlotUnavailable)
	a, err := env.appts.Get(ctx, stale.Appointment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingCustomer, a.Status)
	require.Empty(t, a.AdminNote)

	var blockingCount int64
	require.NoError(t, env.db.Model(&storage.Appointment{}).
		Where("slot_start = ? AND status IN ?", stale.Appointment.SlotStart, []string{StatusPendingAdmin, StatusConfirmed}).
		Count(&blockingCount).Error)
	require.EqualValues(t, 1, blockingCount)

	// 空闲时段仍可由管理员代为确认
	free, err := env.appts.Book(ctx, sampleBooking("v@example.com", "2025-03-06", "10:00"))
	require.NoError(t, err)
	promoted, err := env.appts.UpdateStatus(ctx, free.Appointment.ID, StatusPendingAdmin, "confirmed by phone")
	require.NoError(t, err)
	require.Equal(t, StatusPendingAdmin, promoted.Status)
	require.Nil(t, promoted.TokenExpiresAt)
	require.Equal(t, "confirmed by phone", promoted.AdminNote)
}
