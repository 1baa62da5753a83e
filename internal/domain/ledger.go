package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRecord is an append-only audit row for one executed buy.
type PurchaseRecord struct {
	ID         int64
	Exchange   Exchange
	Symbol     string
	Qty        decimal.Decimal
	QuoteSpent decimal.Decimal
	Price      decimal.Decimal
	FeeAmount  decimal.Decimal
	FeeAsset   string
	OrderID    string
	RequestID  string
	// Source names the path that produced the buy: weekly_dca, reserve_buy
	// or rotation.
	Source    string
	CreatedAt time.Time
}

// SellRecord is an append-only audit row for one executed sell, including
// the FIFO realized PnL computed at write time.
type SellRecord struct {
	ID          int64
	Exchange    Exchange
	Symbol      string
	Qty         decimal.Decimal
	Proceeds    decimal.Decimal
	Price       decimal.Decimal
	FeeAmount   decimal.Decimal
	FeeAsset    string
	OrderID     string
	RequestID   string
	RealizedPnL decimal.Decimal
	// PnLDetail holds the FIFO breakdown (method, lots used, cost basis,
	// oversell note).
	PnLDetail map[string]any
	CreatedAt time.Time
}

// ReserveLedgerEntry records one reserve balance adjustment. Exchange is
// empty for the global reserve.
type ReserveLedgerEntry struct {
	ID        int64
	Exchange  Exchange
	Delta     decimal.Decimal
	Reason    string
	RequestID string
	CreatedAt time.Time
}

// RotationRecord records one BTC/gold rotation leg.
type RotationRecord struct {
	ID        int64
	Exchange  Exchange
	FromAsset string
	ToAsset   string
	Qty       decimal.Decimal
	Notional  decimal.Decimal
	DryRun    bool
	RequestID string
	CreatedAt time.Time
}
