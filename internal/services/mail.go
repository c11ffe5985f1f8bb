package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	log "github.com/sirupsen/logrus"

	"dsolar/internal/config"
	"dsolar/internal/metrics"
	"dsolar/internal/storage"
)

//go:embed mailtpl/*.html mailtpl/*.txt
var mailFS embed.FS

// 邮件模板名。
const (
	TplConfirmBooking    = "confirm_booking"
	TplAdminNewBooking   = "admin_new_booking"
	TplAppointmentStatus = "appointment_status"
)

// MailService 负责渲染模板并通过 Mailer 发送站点邮件。
type MailService struct {
	mailer Mailer
	cfg    config.Config
	html   *htmltemplate.Template
	text   *texttemplate.Template
}

func NewMailService(mailer Mailer, cfg config.Config) (*MailService, error) {
	h, err := htmltemplate.New("mail").Funcs(sprig.FuncMap()).ParseFS(mailFS, "mailtpl/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html mail templates: %w", err)
	}
	t, err := texttemplate.New("mail").Funcs(sprig.TxtFuncMap()).ParseFS(mailFS, "mailtpl/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text mail templates: %w", err)
	}
	return &MailService{mailer: mailer, cfg: cfg, html: h, text: t}, nil
}

// mailData 模板公共上下文。
type mailData struct {
	Site        string
	BaseURL     string
	Appointment *storage.Appointment
	Package     *storage.Package
	When        string
	Link        string
	Status      string
	Note        string
}

func (s *MailService) data(a *storage.Appointment) mailData {
	loc := s.cfg.Booking.Location()
	return mailData{
		Site:        s.cfg.SiteName,
		BaseURL:     s.cfg.BaseURL,
		Appointment: a,
		When:        a.SlotStart.In(loc).Format("Monday, 2 January 2006 at 15:04 (MST)"),
	}
}

func (s *MailService) render(name string, d mailData) (string, string, error) {
	var hb, tb bytes.Buffer
	if err := s.html.ExecuteTemplate(&hb, name+".html", d); err != nil {
		return "", "", fmt.Errorf("render %s.html: %w", name, err)
	}
	if err := s.text.ExecuteTemplate(&tb, name+".txt", d); err != nil {
		return "", "", fmt.Errorf("render %s.txt: %w", name, err)
	}
	return hb.String(), tb.String(), nil
}

func (s *MailService) send(ctx context.Context, name string, to []string, subject string, d mailData) error {
	html, text, err := s.render(name, d)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	err = s.mailer.Send(ctx, Message{To: to, Subject: subject, HTML: html, Text: text, Template: name})
	outcome := "sent"
	if err != nil {
		outcome = "failed"
		log.WithError(err).WithField("template", name).Error("send mail")
	}
	metrics.EmailsSent.WithLabelValues(name, outcome).Inc()
	return err
}

// SendBookingConfirmation 向客户发送确认链接。
func (s *MailService) SendBookingConfirmation(ctx context.Context, a *storage.Appointment, confirmURL string) error {
	d := s.data(a)
	d.Link = confirmURL
	subject := fmt.Sprintf("%s: please confirm your consultation", s.cfg.SiteName)
	return s.send(ctx, TplConfirmBooking, []string{a.Email}, subject, d)
}

// NotifyAdminNewBooking 客户确认后通知管理员审核。
func (s *MailService) NotifyAdminNewBooking(ctx context.Context, a *storage.Appointment, pkg *storage.Package, adminURL string) error {
	if s.cfg.Mail.AdminTo == "" {
		return nil
	}
	d := s.data(a)
	d.Package = pkg
	d.Link = adminURL
	subject := fmt.Sprintf("New consultation request #%d from %s", a.ID, a.Name)
	return s.send(ctx, TplAdminNewBooking, []string{s.cfg.Mail.AdminTo}, subject, d)
}

// SendStatusUpdate 通知客户预约状态变化；manageURL 可为空。
func (s *MailService) SendStatusUpdate(ctx context.Context, a *storage.Appointment, manageURL string) error {
	d := s.data(a)
	d.Status = a.Status
	d.Note = a.AdminNote
	d.Link = manageURL
	subject := fmt.Sprintf("%s: your consultation is %s", s.cfg.SiteName, statusLabel(a.Status))
	return s.send(ctx, TplAppointmentStatus, []string{a.Email}, subject, d)
}
