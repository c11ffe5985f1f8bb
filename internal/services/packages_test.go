package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"dsolar/internal/testutil"
)

func TestPackageValidation(t *testing.T) {
	svc := NewPackageService(testutil.NewDB(t))
	ctx := context.Background()
	cases := []PackageInput{
		{Name: "", Type: PackageOnGrid, SystemKW: 3, Price: 1},
		{Name: "x", Type: "off-grid", SystemKW: 3, Price: 1},
		{Name: "x", Type: PackageHybrid, SystemKW: 3, Price: 1},
		{Name: "x", Type: PackageOnGrid, SystemKW: 3, Price: 1, BatteryKWh: 5},
		{Name: "x", Type: PackageOnGrid, SystemKW: 0, Price: 1},
		{Name: "x", Type: PackageOnGrid, SystemKW: 3, Price: 0},
	}
	for i, in := range cases {
		_, err := svc.Create(ctx, in)
		require.ErrorIs(t, err, ErrValidation, "case %d", i)
	}
}

func TestPackageCRUDAndQueries(t *testing.T) {
	svc := NewPackageService(testutil.NewDB(t))
	ctx := context.Background()
	n, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	n, err = svc.SeedDefaults(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	hybrids, err := svc.ListActive(ctx, PackageHybrid)
	require.NoError(t, err)
	require.Len(t, hybrids, 2)

	cheapest, err := svc.Cheapest(ctx, PackageOnGrid)
	require.NoError(t, err)
	require.Equal(t, "Starter On-Grid 3kW", cheapest.Name)

	require.NoError(t, svc.SetActive(ctx, cheapest.ID, false))
	cheapest, err = svc.Cheapest(ctx, PackageOnGrid)
	require.NoError(t, err)
	require.Equal(t, "Family On-Grid 6kW", cheapest.Name)
	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)

	match, err := svc.BestMatch(ctx, 4, PackageHybrid)
	require.NoError(t, err)
	require.Equal(t, "Hybrid 6kW + 10kWh", match.Name)
	match, err = svc.BestMatch(ctx, 50, "")
	require.NoError(t, err)
	require.Equal(t, "Business On-Grid 10kW", match.Name)

	upd, err := svc.Update(ctx, match.ID, PackageInput{Name: "Business 12kW", Type: PackageOnGrid, SystemKW: 12, Price: 520000})
	require.NoError(t, err)
	require.Equal(t, 12.0, upd.SystemKW)
	require.True(t, upd.Active)

	require.NoError(t, svc.Delete(ctx, upd.ID))
	_, err = svc.Get(ctx, upd.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, upd.ID), ErrNotFound)
	_, err = svc.Cheapest(ctx, "nothing")
	require.ErrorIs(t, err, ErrNotFound)
}
