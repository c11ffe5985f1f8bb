package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"dsolar/internal/storage"
)

// calculatorKey 计算器参数在 settings 表中的键。
const calculatorKey = "calculator_params"

// Region 区域电价与日照表中的一行。
type Region struct {
	Code           string  `json:"code" yaml:"code"`
	Name           string  `json:"name" yaml:"name"`
	RatePerKWh     float64 `json:"rate_per_kwh" yaml:"rate_per_kwh"`
	PeakSunHours   float64 `json:"peak_sun_hours" yaml:"peak_sun_hours"`
	InstallCostKW  float64 `json:"install_cost_per_kw" yaml:"install_cost_per_kw"`
	GridEmissionKg float64 `json:"grid_emission_kg_per_kwh" yaml:"grid_emission_kg_per_kwh"`
}

// Assumptions 估算使用的默认假设。
type Assumptions struct {
	MonthlyBill        float64 `json:"monthly_bill" yaml:"monthly_bill"`
	SelfConsumption    float64 `json:"self_consumption_ratio" yaml:"self_consumption_ratio"`
	SystemLoss         float64 `json:"system_loss_ratio" yaml:"system_loss_ratio"`
	PanelWatt          int     `json:"panel_watt" yaml:"panel_watt"`
	TariffIncrease     float64 `json:"annual_tariff_increase" yaml:"annual_tariff_increase"`
	PanelDegradation   float64 `json:"annual_panel_degradation" yaml:"annual_panel_degradation"`
	AnalysisYears      int     `json:"analysis_years" yaml:"analysis_years"`
	DefaultRegion      string  `json:"default_region" yaml:"default_region"`
	HybridCostPerKWh   float64 `json:"battery_cost_per_kwh" yaml:"battery_cost_per_kwh"`
	HybridBatteryHours float64 `json:"battery_backup_hours" yaml:"battery_backup_hours"`
}

// CalculatorParams 单一配置文档：区域成本表与默认假设。
type CalculatorParams struct {
	Currency    string      `json:"currency" yaml:"currency"`
	Regions     []Region    `json:"regions" yaml:"regions"`
	Assumptions Assumptions `json:"assumptions" yaml:"assumptions"`
}

// DefaultCalculatorParams 未配置时使用的内置参数。
func DefaultCalculatorParams() CalculatorParams {
	return CalculatorParams{
		Currency: "PHP",
		Regions: []Region{
			{Code: "ncr", Name: "Metro Manila", RatePerKWh: 11.5, PeakSunHours: 4.5, InstallCostKW: 50000, GridEmissionKg: 0.7},
			{Code: "luzon", Name: "Luzon (outside NCR)", RatePerKWh: 10.8, PeakSunHours: 4.6, InstallCostKW: 52000, GridEmissionKg: 0.7},
			{Code: "visayas", Name: "Visayas", RatePerKWh: 12.2, PeakSunHours: 4.8, InstallCostKW: 54000, GridEmissionKg: 0.68},
			{Code: "mindanao", Name: "Mindanao", RatePerKWh: 10.1, PeakSunHours: 5.0, InstallCostKW: 55000, GridEmissionKg: 0.6},
		},
		Assumptions: Assumptions{
			MonthlyBill: 5000, SelfConsumption: 0.8, SystemLoss: 0.2, PanelWatt: 550,
			TariffIncrease: 0.03, PanelDegradation: 0.005, AnalysisYears: 25, DefaultRegion: "ncr",
			HybridCostPerKWh: 25000, HybridBatteryHours: 4,
		},
	}
}

// Validate 校验参数文档的一致性。
func (p *CalculatorParams) Validate() error {
	if len(p.Regions) == 0 {
		return invalid("regions", "required")
	}
	seen := map[string]bool{}
	for i := range p.Regions {
		r := &p.Regions[i]
		r.Code = strings.ToLower(strings.TrimSpace(r.Code))
		if r.Code == "" {
			return invalid("regions.code", "required")
		}
		if seen[r.Code] {
			return invalid("regions.code", "duplicate_"+r.Code)
		}
		seen[r.Code] = true
		if r.RatePerKWh <= 0 || r.PeakSunHours <= 0 || r.InstallCostKW <= 0 {
			return invalid("regions."+r.Code, "rates_must_be_positive")
		}
	}
	a := p.Assumptions
	if a.SelfConsumption <= 0 || a.SelfConsumption > 1 {
		return invalid("assumptions.self_consumption_ratio", "out_of_range")
	}
	if a.SystemLoss < 0 || a.SystemLoss >= 1 {
		return invalid("assumptions.system_loss_ratio", "out_of_range")
	}
	if a.PanelWatt <= 0 {
		return invalid("assumptions.panel_watt", "must_be_positive")
	}
	if a.AnalysisYears <= 0 || a.AnalysisYears > 50 {
		return invalid("assumptions.analysis_years", "out_of_range")
	}
	if a.DefaultRegion != "" && !seen[strings.ToLower(a.DefaultRegion)] {
		return invalid("assumptions.default_region", "unknown_region")
	}
	return nil
}

func (p *CalculatorParams) region(code string) (*Region, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		code = strings.ToLower(p.Assumptions.DefaultRegion)
	}
	for i := range p.Regions {
		if p.Regions[i].Code == code {
			return &p.Regions[i], true
		}
	}
	return nil, false
}

// EstimateRequest 估算输入。
type EstimateRequest struct {
	MonthlyBill float64 `json:"monthly_bill" form:"monthly_bill"`
	Region      string  `json:"region" form:"region"`
	SystemType  string  `json:"system_type" form:"system_type"`
}

// Estimate 估算结果；金额单位为参数中的 Currency。
type Estimate struct {
	Region          string           `json:"region"`
	SystemType      string           `json:"system_type"`
	MonthlyKWh      float64          `json:"monthly_kwh"`
	RecommendedKW   float64          `json:"recommended_kw"`
	PanelCount      int              `json:"panel_count"`
	BatteryKWh      float64          `json:"battery_kwh"`
	EstimatedCost   float64          `json:"estimated_cost"`
	FirstYearSaving float64          `json:"first_year_savings"`
	TotalSavings    float64          `json:"total_savings"`
	PaybackYears    *float64         `json:"payback_years,omitempty"` // 分析期内无法回本时为空
	CO2KgPerYear    float64          `json:"co2_kg_per_year"`
	Currency        string           `json:"currency"`
	Package         *storage.Package `json:"package,omitempty"`
}

// CalculatorService 读写计算器参数并提供服务端估算。
type CalculatorService struct {
	settings *SettingService
	packages *PackageService
}

func NewCalculatorService(settings *SettingService, packages *PackageService) *CalculatorService {
	return &CalculatorService{settings: settings, packages: packages}
}

// Params 返回已保存的参数；未保存时返回内置默认值。
func (s *CalculatorService) Params(ctx context.Context) (*CalculatorParams, error) {
	var p CalculatorParams
	ok, err := s.settings.GetJSON(ctx, calculatorKey, &p)
	if err != nil {
		return nil, fmt.Errorf("load calculator params: %w", err)
	}
	if !ok {
		p = DefaultCalculatorParams()
	}
	return &p, nil
}

// SaveParams 校验后整体替换参数文档。
func (s *CalculatorService) SaveParams(ctx context.Context, p *CalculatorParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Currency == "" {
		p.Currency = "PHP"
	}
	return s.settings.SetJSON(ctx, calculatorKey, p)
}

// Estimate 根据月电费估算系统规模、成本与回本周期，并匹配最接近的套餐。
func (s *CalculatorService) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	params, err := s.Params(ctx)
	if err != nil {
		return nil, err
	}
	est, err := ComputeEstimate(params, req)
	if err != nil {
		return nil, err
	}
	if s.packages != nil {
		pkgType := ""
		if est.SystemType == PackageHybrid || est.SystemType == PackageOnGrid {
			pkgType = est.SystemType
		}
		if pkg, err := s.packages.BestMatch(ctx, est.RecommendedKW, pkgType); err == nil {
			est.Package = pkg
		}
	}
	return est, nil
}

// ComputeEstimate 为纯计算部分，不访问存储。
func ComputeEstimate(p *CalculatorParams, req EstimateRequest) (*Estimate, error) {
	a := p.Assumptions
	bill := req.MonthlyBill
	if bill == 0 {
		bill = a.MonthlyBill
	}
	if bill <= 0 || bill > 10_000_000 {
		return nil, invalid("monthly_bill", "out_of_range")
	}
	region, ok := p.region(req.Region)
	if !ok {
		return nil, invalid("region", "unknown_region")
	}
	sysType := strings.ToLower(strings.TrimSpace(req.SystemType))
	if sysType == "" {
		sysType = PackageOnGrid
	}
	if sysType != PackageOnGrid && sysType != PackageHybrid {
		return nil, invalid("system_type", "must_be_hybrid_or_on_grid")
	}

	monthlyKWh := bill / region.RatePerKWh
	dailyKWh := monthlyKWh / 30
	// 每 kW 每天的有效发电量 = 峰值日照 × (1 - 系统损耗)
	kw := dailyKWh / (region.PeakSunHours * (1 - a.SystemLoss))
	kw = math.Ceil(kw*10) / 10
	panels := int(math.Ceil(kw * 1000 / float64(a.PanelWatt)))
	cost := kw * region.InstallCostKW
	battery := 0.0
	if sysType == PackageHybrid {
		battery = math.Ceil(dailyKWh/24*a.HybridBatteryHours*10) / 10
		cost += battery * a.HybridCostPerKWh
	}

	annualKWh := kw * region.PeakSunHours * (1 - a.SystemLoss) * 365
	// 自用比例之外的电量按零计价（不计净计量收益）
	usable := math.Min(annualKWh, monthlyKWh*12) * a.SelfConsumption
	if sysType == PackageHybrid {
		usable = math.Min(annualKWh, monthlyKWh*12)
	}
	firstYear := usable * region.RatePerKWh

	total := 0.0
	var payback *float64
	cumulative := 0.0
	for y := 0; y < a.AnalysisYears; y++ {
		saving := firstYear * math.Pow(1+a.TariffIncrease, float64(y)) * math.Pow(1-a.PanelDegradation, float64(y))
		if payback == nil && cumulative+saving >= cost && saving > 0 {
			v := round2(float64(y) + (cost-cumulative)/saving)
			payback = &v
		}
		cumulative += saving
		total += saving
	}

	return &Estimate{
		Region:          region.Code,
		SystemType:      sysType,
		MonthlyKWh:      round2(monthlyKWh),
		RecommendedKW:   kw,
		PanelCount:      panels,
		BatteryKWh:      battery,
		EstimatedCost:   round2(cost),
		FirstYearSaving: round2(firstYear),
		TotalSavings:    round2(total),
		PaybackYears:    payback,
		CO2KgPerYear:    round2(usable * region.GridEmissionKg),
		Currency:        p.Currency,
	}, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
