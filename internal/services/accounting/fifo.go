// Package accounting computes FIFO lot consumption and realized PnL from the
// purchase and sell ledgers.
package accounting

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// dust is the residual below which a lot counts as fully consumed.
var dust = decimal.New(1, -9)

// Lot is an open FIFO purchase lot.
type Lot struct {
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
	Time     time.Time
}

// Contribution describes how much one lot contributed to a sell's cost basis.
type Contribution struct {
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"cost_per_unit"`
	SourceTime string          `json:"source_time,omitempty"`
}

// FeeTotals sums the fees paid per fee asset across a venue's trade history.
// Rows without a fee asset or with a non-positive amount are ignored.
func FeeTotals(purchases []domain.PurchaseRecord, sells []domain.SellRecord) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	add := func(asset string, amount decimal.Decimal) {
		if asset == "" || amount.LessThanOrEqual(decimal.Zero) {
			return
		}
		totals[asset] = totals[asset].Add(amount)
	}
	for _, p := range purchases {
		add(p.FeeAsset, p.FeeAmount)
	}
	for _, s := range sells {
		add(s.FeeAsset, s.FeeAmount)
	}
	return totals
}

// OpenLots replays purchases oldest-first and consumes them with past sells
// oldest-first, returning the lots that remain open.
func OpenLots(purchases []domain.PurchaseRecord, sells []domain.SellRecord) []Lot {
	lots := make([]Lot, 0, len(purchases))
	for _, p := range purchases {
		if p.Qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		lots = append(lots, Lot{
			Qty:      p.Qty,
			UnitCost: p.QuoteSpent.Div(p.Qty),
			Time:     p.CreatedAt,
		})
	}

	for _, s := range sells {
		remaining := s.Qty
		for i := 0; i < len(lots) && remaining.GreaterThan(decimal.Zero); {
			available := lots[i].Qty
			if available.LessThanOrEqual(decimal.Zero) {
				i++
				continue
			}
			consume := decimal.Min(available, remaining)
			lots[i].Qty = available.Sub(consume)
			remaining = remaining.Sub(consume)
			if lots[i].Qty.LessThanOrEqual(dust) {
				lots[i].Qty = decimal.Zero
			} else {
				i++
			}
		}
	}

	open := lots[:0]
	for _, lot := range lots {
		if lot.Qty.GreaterThan(dust) {
			open = append(open, lot)
		}
	}
	return open
}

// RealizedPnL consumes open lots oldest-first against a sell and returns the
// realized PnL (proceeds minus FIFO cost basis) plus a breakdown for the sell
// ledger. Quantity beyond the available lots is treated as zero-cost and
// flagged in the metadata.
func RealizedPnL(lots []Lot, sellQty, proceeds decimal.Decimal) (decimal.Decimal, map[string]any) {
	remaining := sellQty
	cost := decimal.Zero
	var contributions []Contribution

	for _, lot := range lots {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if lot.Qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		consume := decimal.Min(lot.Qty, remaining)
		cost = cost.Add(consume.Mul(lot.UnitCost))
		contrib := Contribution{Qty: consume, UnitCost: lot.UnitCost}
		if !lot.Time.IsZero() {
			contrib.SourceTime = lot.Time.UTC().Format(time.RFC3339)
		}
		contributions = append(contributions, contrib)
		remaining = remaining.Sub(consume)
	}

	if remaining.LessThan(decimal.Zero) {
		remaining = decimal.Zero
	}

	shown := contributions
	if len(shown) > 5 {
		shown = shown[:5]
	}
	metadata := map[string]any{
		"method":        "fifo",
		"consumed_qty":  sellQty.Sub(remaining),
		"remaining_qty": remaining,
		"lots_used":     len(contributions),
		"lots_total":    len(lots),
		"contributions": shown,
		"cost_basis":    cost,
		"proceeds":      proceeds,
	}
	if remaining.GreaterThan(decimal.New(1, -6)) {
		metadata["note"] = "sold more than available FIFO lots; excess treated as zero-cost"
	}
	return proceeds.Sub(cost), metadata
}
