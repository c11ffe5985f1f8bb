package storage

import (
	"time"

	"gorm.io/gorm"
)

// 本文件定义站点使用的所有 GORM 模型，集中管理数据结构。

// AdminUser 后台管理员账户。
type AdminUser struct {
	ID                      uint64 `gorm:"primaryKey;autoIncrement"`
	Username                string `gorm:"size:190;uniqueIndex"`
	Password                string `gorm:"size:255"` // bcrypt 哈希
	Email                   string `gorm:"size:190;index"`
	Name                    string `gorm:"size:190"`
	MFAEnabled              bool   `gorm:"index"`
	MFASecret               string `gorm:"size:128"`
	MFARecoveryCodes        string `gorm:"type:text"`
	MFAPendingSecret        string `gorm:"size:128"`
	MFAPendingRecoveryCodes string `gorm:"type:text"`
	MFAEnrolledAt           *time.Time
	MFALastUsedAt           *time.Time
	LastLoginAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Setting 键值配置（值为 JSON），计算器参数即保存于此。
type Setting struct {
	Key       string `gorm:"primaryKey;size:190"`
	Value     string `gorm:"type:longtext"`
	UpdatedAt time.Time
}

// Post 博客文章，Content 为 Markdown 原文。
type Post struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug        string     `gorm:"size:190;uniqueIndex" json:"slug"`
	Title       string     `gorm:"size:255" json:"title"`
	Summary     string     `gorm:"size:500" json:"summary"`
	Content     string     `gorm:"type:longtext" json:"content"`
	CoverImage  string     `gorm:"size:500" json:"cover_image"`
	Tags        string     `gorm:"size:255" json:"tags"` // 以逗号分隔
	Published   bool       `gorm:"index" json:"published"`
	PublishedAt *time.Time `gorm:"index" json:"published_at,omitempty"`
	AuthorID    uint64     `gorm:"index" json:"author_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Package 太阳能系统报价套餐。
type Package struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:190" json:"name"`
	Type        string    `gorm:"size:16;index" json:"type"` // hybrid | on-grid
	SystemKW    float64   `json:"system_kw"`
	PanelCount  int       `json:"panel_count"`
	PanelWatt   int       `json:"panel_watt"`
	BatteryKWh  float64   `json:"battery_kwh"`
	Inverter    string    `gorm:"size:190" json:"inverter"`
	Price       float64   `gorm:"index" json:"price"`
	Description string    `gorm:"type:text" json:"description"`
	Active      bool      `gorm:"index" json:"active"`
	SortOrder   int       `gorm:"index" json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Appointment 客户预约的上门咨询。
// SlotStart 以 UTC 存储；展示时按预约时区换算。
type Appointment struct {
	ID                  uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                string     `gorm:"size:190" json:"name"`
	Email               string     `gorm:"size:190;index" json:"email"`
	Phone               string     `gorm:"size:64" json:"phone"`
	Address             string     `gorm:"size:255" json:"address"`
	City                string     `gorm:"size:128" json:"city"`
	SlotStart           time.Time  `gorm:"index" json:"slot_start"`
	Notes               string     `gorm:"type:text" json:"notes"`
	PackageID           *uint64    `gorm:"index" json:"package_id,omitempty"`
	MonthlyBill         float64    `json:"monthly_bill"`
	Status              string     `gorm:"size:32;index" json:"status"`
	Token               string     `gorm:"size:128;index" json:"-"`
	TokenExpiresAt      *time.Time `gorm:"index" json:"-"`
	CustomerConfirmedAt *time.Time `json:"customer_confirmed_at,omitempty"`
	AdminNote           string     `gorm:"type:text" json:"admin_note"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// LogRecord 审计日志：管理端操作与预约关键事件。
type LogRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	Level       string    `gorm:"size:16;index" json:"level"`
	Event       string    `gorm:"size:64;index" json:"event"`
	AdminID     *uint64   `gorm:"index" json:"admin_id,omitempty"`
	Subject     string    `gorm:"size:190;index" json:"subject"` // 如 appointment:12、post:hello-world
	Description string    `gorm:"type:text" json:"description"`
	IPAddress   string    `gorm:"size:64" json:"ip"`
	RequestID   string    `gorm:"size:64;index" json:"request_id"`
}

// AutoMigrate 执行数据库自动迁移。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&AdminUser{}, &Setting{}, &Post{}, &Package{}, &Appointment{}, &LogRecord{})
}
