package ledger

import "time"

// ComputeBrokenSet derives the broken-set report for a set product from its
// sub-product counters. The assemblable set count is limited by the least
// available sub-product; the shortfall targets the best sub-product's
// achievable count.
func ComputeBrokenSet(productID int64, units []Unit) BrokenSetReport {
	report := BrokenSetReport{ProductID: productID, ComputedAt: time.Now().UTC()}
	first := true
	for _, u := range units {
		if u.RequiredQty <= 0 {
			continue
		}
		sets := u.Balance / u.RequiredQty
		if sets < 0 {
			sets = 0
		}
		if first {
			report.MaxCompleteSets = sets
			report.TargetSets = sets
			first = false
			continue
		}
		if sets < report.MaxCompleteSets {
			report.MaxCompleteSets = sets
		}
		if sets > report.TargetSets {
			report.TargetSets = sets
		}
	}
	for _, u := range units {
		if u.RequiredQty <= 0 {
			continue
		}
		item := BrokenSetItem{
			SubProductID: u.ID,
			Name:         u.Name,
			RequiredQty:  u.RequiredQty,
			Balance:      u.Balance,
			Leftover:     u.Balance - report.MaxCompleteSets*u.RequiredQty,
		}
		if shortfall := u.RequiredQty*report.TargetSets - u.Balance; shortfall > 0 {
			item.Shortfall = shortfall
		}
		report.Items = append(report.Items, item)
	}
	return report
}
