package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dsolar/internal/config"
	"dsolar/internal/storage"
)

func testAppointment() *storage.Appointment {
	return &storage.Appointment{
		ID:          7,
		Name:        "Ana <Reyes>",
		Email:       "ana@example.com",
		Phone:       "09175550101",
		Address:     "1 Rizal Ave",
		City:        "Makati",
		SlotStart:   time.Date(2025, 3, 5, 2, 0, 0, 0, time.UTC),
		MonthlyBill: 4200,
		Notes:       "Two-storey house",
		Status:      StatusPendingAdmin,
	}
}

func TestMailTemplatesRender(t *testing.T) {
	cfg := config.Default()
	fm := &fakeMailer{}
	ms, err := NewMailService(fm, cfg)
	require.NoError(t, err)
	ctx := context.Background()
	a := testAppointment()

	require.NoError(t, ms.SendBookingConfirmation(ctx, a, "https://x.test/appointments/confirm?token=abc"))
	m := fm.last(t)
	require.Equal(t, "D-Solar: please confirm your consultation", m.Subject)
	require.Contains(t, m.Text, "Wednesday, 5 March 2025 at 10:00")
	require.Contains(t, m.HTML, "Ana &lt;Reyes&gt;")
	require.Contains(t, m.Text, "Ana <Reyes>")

	pkg := &storage.Package{Name: "Hybrid 6kW", Type: PackageHybrid, SystemKW: 6}
	require.NoError(t, ms.NotifyAdminNewBooking(ctx, a, pkg, "https://x.test/admin?appointment=7"))
	m = fm.last(t)
	require.Equal(t, []string{cfg.Mail.AdminTo}, m.To)
	require.Contains(t, m.Text, "Package: Hybrid 6kW (hybrid, 6 kW)")
	require.Contains(t, m.Text, "Bill:    4200.00")
	require.Contains(t, m.Text, "  Two-storey house")

	a.Status = StatusCancelled
	a.AdminNote = "Typhoon warning"
	require.NoError(t, ms.SendStatusUpdate(ctx, a, ""))
	m = fm.last(t)
	require.Contains(t, m.Subject, "cancelled")
	require.Contains(t, m.Text, "has been cancelled")
	require.Contains(t, m.Text, "Typhoon warning")
	require.NotContains(t, m.Text, "Cancel here")
}

func TestAdminNotificationSkippedWithoutRecipient(t *testing.T) {
	cfg := config.Default()
	cfg.Mail.AdminTo = ""
	fm := &fakeMailer{}
	ms, err := NewMailService(fm, cfg)
	require.NoError(t, err)
	require.NoError(t, ms.NotifyAdminNewBooking(context.Background(), testAppointment(), nil, ""))
	require.Zero(t, fm.count())
}

func TestNewMailerSelectsImplementation(t *testing.T) {
	require.IsType(t, LogMailer{}, NewMailer(config.MailConfig{}))
	require.IsType(t, &SMTPMailer{}, NewMailer(config.MailConfig{Host: "smtp.example.com", Port: 587}))
	require.NoError(t, LogMailer{}.Send(context.Background(), Message{To: []string{"a@example.com"}}))
}

func TestSMTPMailerRejectsBadAddresses(t *testing.T) {
	m := &SMTPMailer{cfg: config.MailConfig{Host: "127.0.0.1", Port: 1, From: "not an address"}}
	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "x", Text: "y"})
	require.Error(t, err)

	m.cfg.From = "site@example.com"
	_, err = m.build(Message{To: []string{"bad address"}})
	require.Error(t, err)
}
