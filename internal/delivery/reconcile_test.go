package delivery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func line(productID, sold, delivered int64) Line {
	remaining := sold - delivered
	if remaining < 0 {
		remaining = 0
	}
	return Line{
		ProductID:         productID,
		QuantitySold:      sold,
		QuantityDelivered: delivered,
		QuantityRemaining: remaining,
		FullyDelivered:    remaining == 0,
	}
}

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusNone, DeriveStatus([]Line{line(1, 5, 0)}, false))
	require.Equal(t, StatusPartial, DeriveStatus([]Line{line(1, 5, 2)}, false))
	require.Equal(t, StatusFull, DeriveStatus([]Line{line(1, 5, 5)}, false))

	// outstanding on-order rows cap the status at partial
	require.Equal(t, StatusPartial, DeriveStatus([]Line{line(1, 5, 5)}, true))
	require.Equal(t, StatusNone, DeriveStatus(nil, false))
}

func TestReconcileEditDownCreatesReturn(t *testing.T) {
	d := Delivery{ID: 1, SaleID: 10, Lines: []Line{line(1, 2, 2)}}

	res := ReconcileAfterEdit(d, nil, map[Key]int64{{ProductID: 1}: 0}, false)

	require.Len(t, res.Returns, 1)
	require.EqualValues(t, 2, res.Returns[0].QuantityReturned)
	require.False(t, res.Returns[0].Received)
	// delivered quantity is left in place until the return is received
	require.EqualValues(t, 2, res.Lines[0].QuantityDelivered)
	require.EqualValues(t, 0, res.Lines[0].QuantitySold)
}

func TestReconcileRepeatedEditsAccumulateOneReturn(t *testing.T) {
	d := Delivery{ID: 1, SaleID: 10, Lines: []Line{line(1, 5, 5)}}

	res := ReconcileAfterEdit(d, nil, map[Key]int64{{ProductID: 1}: 3}, false)
	require.Len(t, res.Returns, 1)
	require.EqualValues(t, 2, res.Returns[0].QuantityReturned)

	// second edit down: the pending amount is recomputed, not summed
	d.Lines = res.Lines
	res = ReconcileAfterEdit(d, res.Returns, map[Key]int64{{ProductID: 1}: 1}, false)
	require.Len(t, res.Returns, 1)
	require.EqualValues(t, 4, res.Returns[0].QuantityReturned)
}

func TestReconcileReceivedReturnForcesDeliveredDown(t *testing.T) {
	d := Delivery{ID: 1, SaleID: 10, Lines: []Line{line(1, 2, 5)}}
	returns := []Return{{SaleID: 10, ProductID: 1, Received: true}}

	res := ReconcileAfterEdit(d, returns, map[Key]int64{{ProductID: 1}: 2}, false)

	require.Empty(t, res.Returns)
	require.EqualValues(t, 2, res.Lines[0].QuantityDelivered)
	require.True(t, res.Lines[0].FullyDelivered)
}

func TestReconcileEditUpClearsPendingReturn(t *testing.T) {
	d := Delivery{ID: 1, SaleID: 10, Lines: []Line{line(1, 3, 5)}}
	returns := []Return{{ID: 7, SaleID: 10, ProductID: 1, QuantityReturned: 2}}

	res := ReconcileAfterEdit(d, returns, map[Key]int64{{ProductID: 1}: 5}, false)

	require.Len(t, res.Returns, 1)
	require.EqualValues(t, 0, res.Returns[0].QuantityReturned)
	require.True(t, res.Returns[0].Received)
	require.True(t, res.Lines[0].FullyDelivered)
}

func TestReconcileAppendsNewLines(t *testing.T) {
	d := Delivery{ID: 1, SaleID: 10, Lines: []Line{line(1, 2, 0)}}

	res := ReconcileAfterEdit(d, nil, map[Key]int64{{ProductID: 1}: 2, {ProductID: 9}: 4}, false)

	require.Len(t, res.Lines, 2)
	added := res.Lines[1]
	require.EqualValues(t, 9, added.ProductID)
	require.EqualValues(t, 4, added.QuantitySold)
	require.EqualValues(t, 0, added.QuantityDelivered)
	require.False(t, added.FullyDelivered)
	require.Equal(t, StatusNone, res.Status)
}

func TestReconcileZeroLineCountsAsDelivered(t *testing.T) {
	// a line edited to zero with nothing delivered must not hold the sale at
	// partial status
	d := Delivery{ID: 1, SaleID: 10, Lines: []Line{line(1, 5, 5), line(2, 3, 0)}}

	res := ReconcileAfterEdit(d, nil, map[Key]int64{{ProductID: 1}: 5, {ProductID: 2}: 0}, false)

	require.Empty(t, res.Returns)
	require.True(t, res.Lines[1].FullyDelivered)
	require.Equal(t, StatusFull, res.Status)
}
