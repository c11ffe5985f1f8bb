package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"dsolar/internal/testutil"
)

func TestComputeEstimateOnGrid(t *testing.T) {
	p := DefaultCalculatorParams()
	est, err := ComputeEstimate(&p, EstimateRequest{MonthlyBill: 5000, Region: "NCR"})
	require.NoError(t, err)
	require.Equal(t, "ncr", est.Region)
	require.Equal(t, PackageOnGrid, est.SystemType)
	require.InDelta(t, 434.78, est.MonthlyKWh, 0.01)
	require.InDelta(t, 4.1, est.RecommendedKW, 1e-9)
	require.Equal(t, 8, est.PanelCount)
	require.InDelta(t, 205000, est.EstimatedCost, 0.01)
	require.InDelta(t, 48000, est.FirstYearSaving, 0.01)
	require.NotNil(t, est.PaybackYears)
	require.Greater(t, *est.PaybackYears, 4.0)
	require.Less(t, *est.PaybackYears, 4.3)
	require.Greater(t, est.TotalSavings, 25*48000.0)
	require.Zero(t, est.BatteryKWh)
	require.Equal(t, "PHP", est.Currency)
}

func TestComputeEstimateHybridAddsBattery(t *testing.T) {
	p := DefaultCalculatorParams()
	onGrid, err := ComputeEstimate(&p, EstimateRequest{MonthlyBill: 5000})
	require.NoError(t, err)
	hybrid, err := ComputeEstimate(&p, EstimateRequest{MonthlyBill: 5000, SystemType: "hybrid"})
	require.NoError(t, err)
	require.Greater(t, hybrid.BatteryKWh, 0.0)
	require.Greater(t, hybrid.EstimatedCost, onGrid.EstimatedCost)
	require.Greater(t, hybrid.FirstYearSaving, onGrid.FirstYearSaving)
}

func TestComputeEstimateWithoutPaybackInAnalysisPeriod(t *testing.T) {
	p := DefaultCalculatorParams()
	p.Assumptions.AnalysisYears = 2
	est, err := ComputeEstimate(&p, EstimateRequest{MonthlyBill: 5000})
	require.NoError(t, err)
	require.Nil(t, est.PaybackYears)
	require.Less(t, est.TotalSavings, est.EstimatedCost)

	b, err := json.Marshal(est)
	require.NoError(t, err)
	require.NotContains(t, string(b), "payback_years")
}

func TestComputeEstimateRejectsBadInput(t *testing.T) {
	p := DefaultCalculatorParams()
	_, err := ComputeEstimate(&p, EstimateRequest{MonthlyBill: -1})
	require.ErrorIs(t, err, ErrValidation)
	_, err = ComputeEstimate(&p, EstimateRequest{MonthlyBill: 3000, Region: "atlantis"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = ComputeEstimate(&p, EstimateRequest{MonthlyBill: 3000, SystemType: "off-grid"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCalculatorParamsPersistence(t *testing.T) {
	db := testutil.NewDB(t)
	pkgs := NewPackageService(db)
	svc := NewCalculatorService(NewSettingService(db), pkgs)
	ctx := context.Background()

	p, err := svc.Params(ctx)
	require.NoError(t, err)
	require.Len(t, p.Regions, 4)

	p.Regions = p.Regions[:1]
	p.Regions[0].RatePerKWh = 20
	p.Currency = ""
	require.NoError(t, svc.SaveParams(ctx, p))
	got, err := svc.Params(ctx)
	require.NoError(t, err)
	require.Len(t, got.Regions, 1)
	require.Equal(t, 20.0, got.Regions[0].RatePerKWh)
	require.Equal(t, "PHP", got.Currency)

	bad := *got
	bad.Assumptions.DefaultRegion = "visayas"
	require.ErrorIs(t, svc.SaveParams(ctx, &bad), ErrValidation)
	bad = *got
	bad.Regions = append(bad.Regions, bad.Regions[0])
	require.ErrorIs(t, svc.SaveParams(ctx, &bad), ErrValidation)
}

func TestEstimateAttachesBestPackage(t *testing.T) {
	db := testutil.NewDB(t)
	pkgs := NewPackageService(db)
	ctx := context.Background()
	_, err := pkgs.SeedDefaults(ctx)
	require.NoError(t, err)
	svc := NewCalculatorService(NewSettingService(db), pkgs)

	est, err := svc.Estimate(ctx, EstimateRequest{MonthlyBill: 5000})
	require.NoError(t, err)
	require.NotNil(t, est.Package)
	require.Equal(t, "Family On-Grid 6kW", est.Package.Name)

	est, err = svc.Estimate(ctx, EstimateRequest{MonthlyBill: 60000})
	require.NoError(t, err)
	require.Equal(t, "Business On-Grid 10kW", est.Package.Name)
}
