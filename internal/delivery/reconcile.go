package delivery

// DeriveStatus computes the aggregate delivery status. Fully delivered
// requires every line delivered in full AND no on-order rows outstanding for
// the sale; any delivered quantity (or a delivered-in-full sale still waiting
// on backordered rows) reads as partial.
func DeriveStatus(lines []Line, onOrderPresent bool) Status {
	anyDelivered := false
	allDelivered := len(lines) > 0
	for _, l := range lines {
		if l.QuantityDelivered > 0 {
			anyDelivered = true
		}
		if !l.FullyDelivered {
			allDelivered = false
		}
	}
	switch {
	case allDelivered && !onOrderPresent:
		return StatusFull
	case anyDelivered || (allDelivered && onOrderPresent):
		return StatusPartial
	default:
		return StatusNone
	}
}

// ReconcileResult is the outcome of reconciling a delivery against an edited
// sale's new reserved quantities.
type ReconcileResult struct {
	Lines   []Line
	Returns []Return
	Status  Status
}

// ReconcileAfterEdit aligns delivery lines with the reserved quantities of an
// edited sale. newSold maps each line key to its new reserved quantity; a
// line absent from the map is treated as reduced to zero.
//
// Where more was already delivered than is now owed, the excess becomes a
// pending Return for that line. Because QuantityDelivered is stable between
// edits, delivered-minus-sold is already the accumulated shortfall across
// repeated edits, so the pending amount is overwritten, not summed. A return
// already marked received instead forces QuantityDelivered back down to the
// new sold quantity: the goods are physically back, nothing is outstanding.
func ReconcileAfterEdit(d Delivery, returns []Return, newSold map[Key]int64, onOrderPresent bool) ReconcileResult {
	received := make(map[Key]bool, len(returns))
	pending := make(map[Key]Return, len(returns))
	for _, r := range returns {
		k := Key{ProductID: r.ProductID, SubProductID: r.SubProductID}
		if r.Received {
			received[k] = true
		} else {
			pending[k] = r
		}
	}

	res := ReconcileResult{Lines: make([]Line, 0, len(d.Lines))}
	seen := make(map[Key]bool, len(d.Lines))
	for _, l := range d.Lines {
		k := l.key()
		seen[k] = true
		l.QuantitySold = newSold[k]
		if excess := l.QuantityDelivered - l.QuantitySold; excess > 0 {
			if received[k] {
				l.QuantityDelivered = l.QuantitySold
			} else {
				res.Returns = append(res.Returns, Return{
					SaleID:           d.SaleID,
					ProductID:        l.ProductID,
					SubProductID:     l.SubProductID,
					QuantityReturned: excess,
				})
			}
		} else if r, ok := pending[k]; ok && r.QuantityReturned > 0 {
			// The edit grew the line back past what was delivered; the
			// previously booked shortfall is no longer owed back.
			r.QuantityReturned = 0
			r.Received = true
			res.Returns = append(res.Returns, r)
		}
		l.QuantityRemaining = l.QuantitySold - l.QuantityDelivered
		if l.QuantityRemaining < 0 {
			l.QuantityRemaining = 0
		}
		l.FullyDelivered = l.QuantityRemaining == 0
		res.Lines = append(res.Lines, l)
	}

	for k, qty := range newSold {
		if seen[k] || qty <= 0 {
			continue
		}
		res.Lines = append(res.Lines, Line{
			DeliveryID:        d.ID,
			ProductID:         k.ProductID,
			SubProductID:      k.SubProductID,
			QuantitySold:      qty,
			QuantityRemaining: qty,
		})
	}

	res.Status = DeriveStatus(res.Lines, onOrderPresent)
	return res
}
