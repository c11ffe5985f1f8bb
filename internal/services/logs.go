package services

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"dsolar/internal/storage"
)

// LogService 将审计日志持久化到数据库。
type LogService struct{ db *gorm.DB }

func NewLogService(db *gorm.DB) *LogService { return &LogService{db: db} }

// AuditEntry 一条审计事件；AdminID 为空表示访客触发（如客户确认预约）。
type AuditEntry struct {
	Level       string
	Event       string
	AdminID     *uint64
	Subject     string
	Description string
	IP          string
	RequestID   string
}

// Write 写入一条审计日志；写库失败只记录告警，不影响主流程。
func (s *LogService) Write(ctx context.Context, e AuditEntry) {
	if e.Level == "" {
		e.Level = "INFO"
	}
	err := s.db.WithContext(ctx).Create(&storage.LogRecord{
		Timestamp:   time.Now(),
		Level:       e.Level,
		Event:       e.Event,
		AdminID:     e.AdminID,
		Subject:     e.Subject,
		Description: e.Description,
		IPAddress:   e.IP,
		RequestID:   e.RequestID,
	}).Error
	if err != nil {
		log.WithError(err).WithField("event", e.Event).Warn("audit write failed")
	}
}

// LogFilter 审计日志查询条件。
type LogFilter struct {
	Event   string
	Subject string
	Since   *time.Time
	Limit   int
	Offset  int
}

// List 按时间倒序查询审计日志。
func (s *LogService) List(ctx context.Context, f LogFilter) ([]storage.LogRecord, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	q := s.db.WithContext(ctx).Model(&storage.LogRecord{})
	if f.Event != "" {
		q = q.Where("event = ?", f.Event)
	}
	if f.Subject != "" {
		q = q.Where("subject = ?", f.Subject)
	}
	if f.Since != nil {
		q = q.Where("timestamp >= ?", *f.Since)
	}
	var out []storage.LogRecord
	err := q.Order("timestamp desc").Order("id desc").Limit(f.Limit).Offset(f.Offset).Find(&out).Error
	return out, err
}
