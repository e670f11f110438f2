package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeBrokenSet(t *testing.T) {
	units := []Unit{
		{ID: 1, ProductID: 7, Name: "top", RequiredQty: 2, Balance: 9},
		{ID: 2, ProductID: 7, Name: "legs", RequiredQty: 1, Balance: 4},
	}
	report := ComputeBrokenSet(7, units)
	require.EqualValues(t, 4, report.MaxCompleteSets)
	require.EqualValues(t, 4, report.TargetSets)
	require.Len(t, report.Items, 2)
	require.EqualValues(t, 1, report.Items[0].Leftover)
	require.EqualValues(t, 0, report.Items[0].Shortfall)
	require.EqualValues(t, 0, report.Items[1].Leftover)
}

func TestComputeBrokenSetShortfall(t *testing.T) {
	units := []Unit{
		{ID: 1, ProductID: 3, Name: "frame", RequiredQty: 1, Balance: 10},
		{ID: 2, ProductID: 3, Name: "cushion", RequiredQty: 4, Balance: 6},
	}
	report := ComputeBrokenSet(3, units)
	require.EqualValues(t, 1, report.MaxCompleteSets) // limited by cushions
	require.EqualValues(t, 10, report.TargetSets)     // frames could do 10
	require.EqualValues(t, 0, report.Items[0].Shortfall)
	require.EqualValues(t, 2, report.Items[1].Leftover)   // 6 - 1*4
	require.EqualValues(t, 34, report.Items[1].Shortfall) // 4*10 - 6
}

func TestComputeBrokenSetIgnoresNonSubUnits(t *testing.T) {
	units := []Unit{
		{ID: 1, ProductID: 5, RequiredQty: 0, Balance: 100},
		{ID: 2, ProductID: 5, Name: "panel", RequiredQty: 3, Balance: 7},
	}
	report := ComputeBrokenSet(5, units)
	require.EqualValues(t, 2, report.MaxCompleteSets)
	require.Len(t, report.Items, 1)
}
