package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dsolar/internal/config"
	"dsolar/internal/metrics"
	"dsolar/internal/storage"
	"dsolar/internal/utils"
)

// BookingInput 访客提交的预约表单。
type BookingInput struct {
	Name        string  `json:"name" form:"name"`
	Email       string  `json:"email" form:"email"`
	Phone       string  `json:"phone" form:"phone"`
	Address     string  `json:"address" form:"address"`
	City        string  `json:"city" form:"city"`
	Date        string  `json:"date" form:"date"`
	Time        string  `json:"time" form:"time"`
	Notes       string  `json:"notes" form:"notes"`
	PackageID   *uint64 `json:"package_id" form:"package_id"`
	MonthlyBill float64 `json:"monthly_bill" form:"monthly_bill"`
}

func (in *BookingInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.City = strings.TrimSpace(in.City)
	in.Date = strings.TrimSpace(in.Date)
	in.Time = strings.TrimSpace(in.Time)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.PackageID != nil && *in.PackageID == 0 {
		in.PackageID = nil
	}
}

func (in *BookingInput) validate() error {
	if in.Name == "" || len(in.Name) > 190 {
		return invalid("name", "required")
	}
	if err := validEmail(in.Email); err != nil {
		return err
	}
	if !validPhone(in.Phone) {
		return invalid("phone", "invalid_phone")
	}
	if in.Address == "" || len(in.Address) > 255 {
		return invalid("address", "required")
	}
	if len(in.City) > 128 {
		return invalid("city", "too_long")
	}
	if len(in.Notes) > 2000 {
		return invalid("notes", "too_long")
	}
	if in.MonthlyBill < 0 {
		return invalid("monthly_bill", "must_not_be_negative")
	}
	return nil
}

func validEmail(s string) error {
	if s == "" || len(s) > 190 {
		return invalid("email", "required")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return invalid("email", "invalid_email")
	}
	return nil
}

// validPhone 允许数字、空格、+、-、括号，至少 7 位数字。
func validPhone(s string) bool {
	if len(s) > 32 {
		return false
	}
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '+' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7
}

// BookingResult 预约创建结果；EmailSent=false 时前端提示可重发确认邮件。
type BookingResult struct {
	Appointment *storage.Appointment `json:"appointment"`
	EmailSent   bool                 `json:"email_sent"`
}

// ConfirmResult 客户确认结果；Already=true 表示重复访问确认链接。
type ConfirmResult struct {
	Appointment *storage.Appointment
	Already     bool
}

// AppointmentFilter 管理端列表筛选条件。
type AppointmentFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	Query  string
	Limit  int
	Offset int
}

// AppointmentService 预约业务：时段、创建、确认、管理与过期清理。
type AppointmentService struct {
	db    *gorm.DB
	cfg   config.Config
	rules slotRules
	mail  *MailService
	links *ManageLinkService
	now   func() time.Time
	// 串行化同一进程内的占位写入
	mu sync.Mutex
}

func NewAppointmentService(db *gorm.DB, cfg config.Config, mail *MailService, links *ManageLinkService) *AppointmentService {
	return &AppointmentService{
		db:    db,
		cfg:   cfg,
		rules: newSlotRules(cfg.Booking),
		mail:  mail,
		links: links,
		now:   time.Now,
	}
}

// SetClock 测试用：替换时间来源。
func (s *AppointmentService) SetClock(now func() time.Time) { s.now = now }

// blocking 限定为占用时段的状态；exceptID 非 0 时排除自身。
func blocking(now time.Time, exceptID uint64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("(status IN ? OR (status = ? AND token_expires_at > ?))",
			[]string{StatusPendingAdmin, StatusConfirmed}, StatusPendingCustomer, now.UTC())
		if exceptID != 0 {
			db = db.Where("id <> ?", exceptID)
		}
		return db
	}
}

func (s *AppointmentService) occupied(tx *gorm.DB, start time.Time, exceptID uint64) (int64, error) {
	var n int64
	err := tx.Model(&storage.Appointment{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(blocking(s.now(), exceptID)).
		Where("slot_start >= ? AND slot_start < ?", start.UTC(), start.Add(s.rules.length()).UTC()).
		Count(&n).Error
	return n, err
}

// Availability 返回指定日期的时段及剩余名额。
func (s *AppointmentService) Availability(ctx context.Context, date string) (*DayAvailability, error) {
	day, err := s.rules.parseDay(date)
	if err != nil {
		return nil, err
	}
	out := &DayAvailability{Date: date, Timezone: s.rules.loc.String(), Slots: []Slot{}}
	starts := s.rules.daySlots(day)
	if len(starts) == 0 {
		return out, nil
	}
	out.Open = true
	now := s.now()
	var taken []storage.Appointment
	err = s.db.WithContext(ctx).Select("id", "slot_start").
		Scopes(blocking(now, 0)).
		Where("slot_start >= ? AND slot_start < ?", starts[0].UTC(), starts[len(starts)-1].Add(s.rules.length()).UTC()).
		Find(&taken).Error
	if err != nil {
		return nil, err
	}
	counts := map[int64]int{}
	for _, a := range taken {
		counts[a.SlotStart.Unix()]++
	}
	for _, st := range starts {
		remaining := s.rules.cfg.CapacityPerSlot - counts[st.Unix()]
		if remaining < 0 {
			remaining = 0
		}
		out.Slots = append(out.Slots, Slot{
			Start:     st,
			End:       st.Add(s.rules.length()),
			Label:     st.Format("15:04"),
			Remaining: remaining,
			Available: remaining > 0 && s.rules.bookable(st, now) == nil,
		})
	}
	return out, nil
}

// Book 创建待客户确认的预约并发送确认邮件。
func (s *AppointmentService) Book(ctx context.Context, in BookingInput) (*BookingResult, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	start, err := s.rules.parseSlot(in.Date, in.Time)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.rules.bookable(start, now); err != nil {
		return nil, err
	}
	if in.PackageID != nil {
		var pkg storage.Package
		err := s.db.WithContext(ctx).Where("id = ? AND active = ?", *in.PackageID, true).First(&pkg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid("package_id", "unknown_package")
		}
		if err != nil {
			return nil, err
		}
	}
	token, err := utils.RandURLSafeString(s.cfg.Booking.TokenLength)
	if err != nil {
		return nil, err
	}
	exp := now.Add(s.cfg.Booking.TokenTTL).UTC()
	a := &storage.Appointment{
		Name:           in.Name,
		Email:          in.Email,
		Phone:          in.Phone,
		Address:        in.Address,
		City:           in.City,
		SlotStart:      start.UTC(),
		Notes:          in.Notes,
		PackageID:      in.PackageID,
		MonthlyBill:    in.MonthlyBill,
		Status:         StatusPendingCustomer,
		Token:          token,
		TokenExpiresAt: &exp,
	}

	s.mu.Lock()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dup int64
		if err := tx.Model(&storage.Appointment{}).Scopes(blocking(now, 0)).
			Where("email = ? AND slot_start = ?", a.Email, a.SlotStart).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return fmt.Errorf("%w: already booked for this slot", ErrConflict)
		}
		n, err := s.occupied(tx, start, 0)
		if err != nil {
			return err
		}
		if n >= int64(s.rules.cfg.CapacityPerSlot) {
			return ErrSlotUnavailable
		}
		return tx.Create(a).Error
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	metrics.AppointmentsBooked.Inc()
	log.WithFields(log.Fields{"appointment": a.ID, "slot": a.SlotStart}).Info("appointment booked")

	res := &BookingResult{Appointment: a}
	if err := s.mail.SendBookingConfirmation(ctx, a, s.confirmURL(token)); err == nil {
		res.EmailSent = true
	}
	return res, nil
}

func (s *AppointmentService) confirmURL(token string) string {
	return s.cfg.BaseURL + "/appointments/confirm?token=" + url.QueryEscape(token)
}

func (s *AppointmentService) cancelURL(token string) string {
	return s.cfg.BaseURL + "/appointments/cancel?token=" + url.QueryEscape(token)
}

// Confirm 处理客户点击确认链接。
func (s *AppointmentService) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	var a storage.Appointment
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	now := s.now()
	switch a.Status {
	case StatusPendingAdmin, StatusConfirmed, StatusCompleted:
		return &ConfirmResult{Appointment: &a, Already: true}, nil
	case StatusCancelled:
		return nil, ErrInvalidTransition
	case StatusArchived:
		if a.CustomerConfirmedAt == nil {
			return nil, ErrTokenExpired
		}
		return &ConfirmResult{Appointment: &a, Already: true}, nil
	}
	if a.TokenExpiresAt == nil || !now.Before(*a.TokenExpiresAt) {
		return nil, ErrTokenExpired
	}

	confirmedAt := now.UTC()
	promoted := false
	s.mu.Lock()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.occupied(tx, a.SlotStart, a.ID)
		if err != nil {
			return err
		}
		if n >= int64(s.rules.cfg.CapacityPerSlot) {
			return ErrSlotUnavailable
		}
		res := tx.Model(&storage.Appointment{}).
			Where("id = ? AND status = ?", a.ID, StatusPendingCustomer).
			Updates(map[string]any{
				"status":                StatusPendingAdmin,
				"customer_confirmed_at": confirmedAt,
				"token_expires_at":      nil,
			})
		if res.Error != nil {
			return res.Error
		}
		promoted = res.RowsAffected == 1
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// 重新读取到新变量：gorm 不会把 NULL 列写回已赋值的指针字段
	var fresh storage.Appointment
	if err := s.db.WithContext(ctx).First(&fresh, a.ID).Error; err != nil {
		return nil, err
	}
	a = fresh
	if !promoted {
		return &ConfirmResult{Appointment: &a, Already: true}, nil
	}
	metrics.AppointmentsConfirmed.Inc()
	log.WithField("appointment", a.ID).Info("appointment confirmed by customer")

	var pkg *storage.Package
	if a.PackageID != nil {
		var p storage.Package
		if err := s.db.WithContext(ctx).First(&p, *a.PackageID).Error; err == nil {
			pkg = &p
		}
	}
	adminURL := fmt.Sprintf("%s/admin?appointment=%d", s.cfg.BaseURL, a.ID)
	_ = s.mail.NotifyAdminNewBooking(ctx, &a, pkg, adminURL)
	return &ConfirmResult{Appointment: &a}, nil
}

// Resend 为该邮箱最近一条待确认预约重新签发令牌并发送邮件。
func (s *AppointmentService) Resend(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validEmail(email); err != nil {
		return err
	}
	now := s.now()
	var a storage.Appointment
	err := s.db.WithContext(ctx).
		Where("email = ? AND status = ? AND slot_start > ?", email, StatusPendingCustomer, now.UTC()).
		Order("created_at desc").Order("id desc").First(&a).Error
	if err != nil {
		return notFound(err)
	}
	if err := s.rules.bookable(a.SlotStart, now); err != nil {
		return err
	}
	token, err := utils.RandURLSafeString(s.cfg.Booking.TokenLength)
	if err != nil {
		return err
	}
	exp := now.Add(s.cfg.Booking.TokenTTL).UTC()

	s.mu.Lock()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.occupied(tx, a.SlotStart, a.ID)
		if err != nil {
			return err
		}
		if n >= int64(s.rules.cfg.CapacityPerSlot) {
			return ErrSlotUnavailable
		}
		return tx.Model(&a).Updates(map[string]any{"token": token, "token_expires_at": exp}).Error
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	a.Token = token
	a.TokenExpiresAt = &exp
	return s.mail.SendBookingConfirmation(ctx, &a, s.confirmURL(token))
}

// CancelByLink 客户通过管理链接取消预约；重复取消视为成功。
func (s *AppointmentService) CancelByLink(ctx context.Context, token string) (*storage.Appointment, error) {
	id, email, err := s.links.Parse(token)
	if err != nil {
		return nil, err
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !strings.EqualFold(a.Email, email) {
		return nil, ErrTokenInvalid
	}
	switch a.Status {
	case StatusCancelled:
		return a, nil
	case StatusPendingAdmin, StatusConfirmed:
	default:
		return nil, ErrInvalidTransition
	}
	if err := s.setStatus(ctx, a, StatusCancelled, ""); err != nil {
		return nil, err
	}
	log.WithField("appointment", a.ID).Info("appointment cancelled by customer")
	_ = s.mail.SendStatusUpdate(ctx, a, "")
	return a, nil
}

// List 管理端分页查询，返回结果与总数。
func (s *AppointmentService) List(ctx context.Context, f AppointmentFilter) ([]storage.Appointment, int64, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	q := s.db.WithContext(ctx).Model(&storage.Appointment{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("slot_start >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("slot_start < ?", f.To.UTC())
	}
	if qs := strings.TrimSpace(f.Query); qs != "" {
		like := "%" + strings.ToLower(qs) + "%"
		q = q.Where("(LOWER(name) LIKE ? OR LOWER(email) LIKE ?)", like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []storage.Appointment
	err := q.Order("slot_start desc").Order("id desc").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, total, err
}

func (s *AppointmentService) Get(ctx context.Context, id uint64) (*storage.Appointment, error) {
	var a storage.Appointment
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// UpdateStatus 管理端变更状态；确认或取消时通知客户。
func (s *AppointmentService) UpdateStatus(ctx context.Context, id uint64, to, note string) (*storage.Appointment, error) {
	to = strings.TrimSpace(to)
	if !ValidStatus(to) {
		return nil, invalid("status", "unknown_status")
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	if err := s.setStatus(ctx, a, to, strings.TrimSpace(note)); err != nil {
		return nil, err
	}
	switch to {
	case StatusConfirmed:
		manage := ""
		if tok, err := s.links.Issue(a); err == nil {
			manage = s.cancelURL(tok)
		} else {
			log.WithError(err).Warn("issue manage link")
		}
		_ = s.mail.SendStatusUpdate(ctx, a, manage)
	case StatusCancelled:
		_ = s.mail.SendStatusUpdate(ctx, a, "")
	}
	return a, nil
}

func (s *AppointmentService) setStatus(ctx context.Context, a *storage.Appointment, to, note string) error {
	// 待客户确认 -> 待审核会重新占用时段，需与 Confirm 一样复核名额
	if a.Status == StatusPendingCustomer && to == StatusPendingAdmin {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := s.occupied(tx, a.SlotStart, a.ID)
			if err != nil {
				return err
			}
			if n >= int64(s.rules.cfg.CapacityPerSlot) {
				return ErrSlotUnavailable
			}
			return applyStatus(tx, a, to, note)
		})
	}
	return applyStatus(s.db.WithContext(ctx), a, to, note)
}

func applyStatus(db *gorm.DB, a *storage.Appointment, to, note string) error {
	updates := map[string]any{"status": to}
	if note != "" {
		updates["admin_note"] = note
	}
	if a.Status == StatusPendingCustomer {
		updates["token_expires_at"] = nil
	}
	res := db.Model(&storage.Appointment{}).
		Where("id = ? AND status = ?", a.ID, a.Status).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: status changed concurrently", ErrConflict)
	}
	if note != "" {
		a.AdminNote = note
	}
	if a.Status == StatusPendingCustomer {
		a.TokenExpiresAt = nil
	}
	a.Status = to
	return nil
}

func (s *AppointmentService) Delete(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&storage.Appointment{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SweepExpired 归档令牌已过期的待确认预约，返回处理条数。
func (s *AppointmentService) SweepExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&storage.Appointment{}).
		Where("status = ? AND token_expires_at IS NOT NULL AND token_expires_at <= ?", StatusPendingCustomer, s.now().UTC()).
		Update("status", StatusArchived)
	return res.RowsAffected, res.Error
}

// Counts 按状态统计，供后台首页展示。
func (s *AppointmentService) Counts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&storage.Appointment{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
