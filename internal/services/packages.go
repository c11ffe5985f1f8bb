package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"dsolar/internal/storage"
)

// 套餐类型。
const (
	PackageHybrid = "hybrid"
	PackageOnGrid = "on-grid"
)

// PackageInput 管理端创建/更新套餐的请求体。
type PackageInput struct {
	Name        string  `json:"name" form:"name"`
	Type        string  `json:"type" form:"type"`
	SystemKW    float64 `json:"system_kw" form:"system_kw"`
	PanelCount  int     `json:"panel_count" form:"panel_count"`
	PanelWatt   int     `json:"panel_watt" form:"panel_watt"`
	BatteryKWh  float64 `json:"battery_kwh" form:"battery_kwh"`
	Inverter    string  `json:"inverter" form:"inverter"`
	Price       float64 `json:"price" form:"price"`
	Description string  `json:"description" form:"description"`
	Active      *bool   `json:"active" form:"active"`
	SortOrder   int     `json:"sort_order" form:"sort_order"`
}

func (in *PackageInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.Inverter = strings.TrimSpace(in.Inverter)
	in.Description = strings.TrimSpace(in.Description)
}

func (in *PackageInput) validate() error {
	if in.Name == "" {
		return invalid("name", "required")
	}
	switch in.Type {
	case PackageHybrid:
		if in.BatteryKWh <= 0 {
			return invalid("battery_kwh", "required_for_hybrid")
		}
	case PackageOnGrid:
		if in.BatteryKWh != 0 {
			return invalid("battery_kwh", "must_be_zero_for_on_grid")
		}
	default:
		return invalid("type", "must_be_hybrid_or_on_grid")
	}
	if in.SystemKW <= 0 {
		return invalid("system_kw", "must_be_positive")
	}
	if in.Price <= 0 {
		return invalid("price", "must_be_positive")
	}
	if in.PanelCount < 0 || in.PanelWatt < 0 {
		return invalid("panels", "must_not_be_negative")
	}
	return nil
}

func (in *PackageInput) applyTo(p *storage.Package) {
	p.Name = in.Name
	p.Type = in.Type
	p.SystemKW = in.SystemKW
	p.PanelCount = in.PanelCount
	p.PanelWatt = in.PanelWatt
	p.BatteryKWh = in.BatteryKWh
	p.Inverter = in.Inverter
	p.Price = in.Price
	p.Description = in.Description
	p.SortOrder = in.SortOrder
	if in.Active != nil {
		p.Active = *in.Active
	}
}

// PackageService 维护报价套餐。
type PackageService struct{ db *gorm.DB }

func NewPackageService(db *gorm.DB) *PackageService { return &PackageService{db: db} }

// ListActive 返回上架套餐；pkgType 为空时返回全部类型。
func (s *PackageService) ListActive(ctx context.Context, pkgType string) ([]storage.Package, error) {
	q := s.db.WithContext(ctx).Where("active = ?", true)
	if pkgType != "" {
		q = q.Where("type = ?", pkgType)
	}
	var list []storage.Package
	err := q.Order("sort_order").Order("price").Find(&list).Error
	return list, err
}

// ListAll 管理端列表（含下架）。
func (s *PackageService) ListAll(ctx context.Context) ([]storage.Package, error) {
	var list []storage.Package
	err := s.db.WithContext(ctx).Order("sort_order").Order("id").Find(&list).Error
	return list, err
}

func (s *PackageService) Get(ctx context.Context, id uint64) (*storage.Package, error) {
	var p storage.Package
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Create 新建套餐；未指定 active 时默认上架。
func (s *PackageService) Create(ctx context.Context, in PackageInput) (*storage.Package, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	p := &storage.Package{Active: true}
	in.applyTo(p)
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PackageService) Update(ctx context.Context, id uint64, in PackageInput) (*storage.Package, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in.applyTo(p)
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// SetActive 上架/下架。
func (s *PackageService) SetActive(ctx context.Context, id uint64, active bool) error {
	res := s.db.WithContext(ctx).Model(&storage.Package{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PackageService) Delete(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&storage.Package{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Cheapest 返回指定类型中价格最低的上架套餐。
func (s *PackageService) Cheapest(ctx context.Context, pkgType string) (*storage.Package, error) {
	var p storage.Package
	err := s.db.WithContext(ctx).Where("active = ? AND type = ?", true, pkgType).Order("price").First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// BestMatch 返回功率不小于 kw 的最小上架套餐；都不满足时返回功率最大的套餐。
func (s *PackageService) BestMatch(ctx context.Context, kw float64, pkgType string) (*storage.Package, error) {
	q := func() *gorm.DB {
		q := s.db.WithContext(ctx).Where("active = ?", true)
		if pkgType != "" {
			q = q.Where("type = ?", pkgType)
		}
		return q
	}
	var p storage.Package
	err := q().Where("system_kw >= ?", kw).Order("system_kw").Order("price").First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err := q().Order("system_kw desc").Order("price").First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// SeedDefaults 在套餐表为空时写入示例套餐，返回写入数量。
func (s *PackageService) SeedDefaults(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&storage.Package{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	defaults := []PackageInput{
		{Name: "Starter On-Grid 3kW", Type: PackageOnGrid, SystemKW: 3, PanelCount: 6, PanelWatt: 550, Inverter: "3kW grid-tie", Price: 165000, SortOrder: 10},
		{Name: "Family On-Grid 6kW", Type: PackageOnGrid, SystemKW: 6, PanelCount: 11, PanelWatt: 550, Inverter: "6kW grid-tie", Price: 295000, SortOrder: 20},
		{Name: "Business On-Grid 10kW", Type: PackageOnGrid, SystemKW: 10, PanelCount: 18, PanelWatt: 550, Inverter: "10kW three-phase", Price: 470000, SortOrder: 30},
		{Name: "Hybrid 3kW + 5kWh", Type: PackageHybrid, SystemKW: 3, PanelCount: 6, PanelWatt: 550, BatteryKWh: 5, Inverter: "3kW hybrid", Price: 255000, SortOrder: 40},
		{Name: "Hybrid 6kW + 10kWh", Type: PackageHybrid, SystemKW: 6, PanelCount: 11, PanelWatt: 550, BatteryKWh: 10, Inverter: "6kW hybrid", Price: 445000, SortOrder: 50},
	}
	n := 0
	for _, in := range defaults {
		if _, err := s.Create(ctx, in); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
