package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// LedgerStore persists the append-only trade, reserve and rotation ledgers.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a ledger store over the shared pool.
func NewLedgerStore(client *Client) *LedgerStore {
	return &LedgerStore{pool: client.Pool()}
}

// RecordPurchase appends one executed buy.
func (s *LedgerStore) RecordPurchase(ctx context.Context, rec domain.PurchaseRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO purchase_history
			(exchange, symbol, qty, quote_spent, price, fee_amount, fee_asset, order_id, request_id, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.Exchange.String(), rec.Symbol, rec.Qty, rec.QuoteSpent, rec.Price,
		rec.FeeAmount, rec.FeeAsset, rec.OrderID, rec.RequestID, rec.Source)
	return errors.Wrap(err, "insert purchase")
}

// RecordSell appends one executed sell with its FIFO PnL breakdown.
func (s *LedgerStore) RecordSell(ctx context.Context, rec domain.SellRecord) error {
	var detail []byte
	if rec.PnLDetail != nil {
		var err error
		detail, err = json.Marshal(rec.PnLDetail)
		if err != nil {
			return errors.Wrap(err, "marshal pnl detail")
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sell_history
			(exchange, symbol, qty, proceeds, price, fee_amount, fee_asset, order_id, request_id, realized_pnl, pnl_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.Exchange.String(), rec.Symbol, rec.Qty, rec.Proceeds, rec.Price,
		rec.FeeAmount, rec.FeeAsset, rec.OrderID, rec.RequestID, rec.RealizedPnL, detail)
	return errors.Wrap(err, "insert sell")
}

// RecordReserveChange appends one reserve adjustment row.
func (s *LedgerStore) RecordReserveChange(ctx context.Context, entry domain.ReserveLedgerEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reserve_log (exchange, delta, reason, request_id)
		VALUES ($1, $2, $3, $4)`,
		entry.Exchange.String(), entry.Delta, entry.Reason, entry.RequestID)
	return errors.Wrap(err, "insert reserve log")
}

// RecordRotation appends one rotation leg.
func (s *LedgerStore) RecordRotation(ctx context.Context, rec domain.RotationRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rotation_log (exchange, from_asset, to_asset, qty, notional, dry_run, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Exchange.String(), rec.FromAsset, rec.ToAsset, rec.Qty, rec.Notional,
		rec.DryRun, rec.RequestID)
	return errors.Wrap(err, "insert rotation log")
}

// ListPurchases returns a venue's buys oldest-first for FIFO replay.
func (s *LedgerStore) ListPurchases(ctx context.Context, ex domain.Exchange) ([]domain.PurchaseRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, exchange, symbol, qty, quote_spent, price, fee_amount, fee_asset,
		       order_id, request_id, source, created_at
		FROM purchase_history
		WHERE exchange = $1
		ORDER BY created_at, id`, ex.String())
	if err != nil {
		return nil, errors.Wrap(err, "query purchases")
	}
	defer rows.Close()

	var records []domain.PurchaseRecord
	for rows.Next() {
		var (
			rec      domain.PurchaseRecord
			exchange string
		)
		if err := rows.Scan(&rec.ID, &exchange, &rec.Symbol, &rec.Qty, &rec.QuoteSpent,
			&rec.Price, &rec.FeeAmount, &rec.FeeAsset, &rec.OrderID, &rec.RequestID,
			&rec.Source, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan purchase")
		}
		rec.Exchange = domain.Exchange(exchange)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListSells returns a venue's sells oldest-first for FIFO replay.
func (s *LedgerStore) ListSells(ctx context.Context, ex domain.Exchange) ([]domain.SellRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, exchange, symbol, qty, proceeds, price, fee_amount, fee_asset,
		       order_id, request_id, realized_pnl, pnl_detail, created_at
		FROM sell_history
		WHERE exchange = $1
		ORDER BY created_at, id`, ex.String())
	if err != nil {
		return nil, errors.Wrap(err, "query sells")
	}
	defer rows.Close()

	var records []domain.SellRecord
	for rows.Next() {
		var (
			rec      domain.SellRecord
			exchange string
			detail   []byte
		)
		if err := rows.Scan(&rec.ID, &exchange, &rec.Symbol, &rec.Qty, &rec.Proceeds,
			&rec.Price, &rec.FeeAmount, &rec.FeeAsset, &rec.OrderID, &rec.RequestID,
			&rec.RealizedPnL, &detail, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan sell")
		}
		rec.Exchange = domain.Exchange(exchange)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &rec.PnLDetail); err != nil {
				return nil, errors.Wrap(err, "unmarshal pnl detail")
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
