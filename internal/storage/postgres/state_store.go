package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
)

// StateStore persists the singleton strategy state row.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a state store over the shared pool.
func NewStateStore(client *Client) *StateStore {
	return &StateStore{pool: client.Pool()}
}

// Load reads the strategy state.
func (s *StateStore) Load(ctx context.Context) (*domain.StrategyState, error) {
	st := domain.NewStrategyState()
	var (
		lastSignal     string
		activeExchange string
		policy         string
		halfSellAt     sql.NullTime
		transitionAt   sql.NullTime
	)
	var reserveBinance, reserveOKX, pctBinance, pctOKX, capBinance, capOKX decimal.Decimal

	err := s.pool.QueryRow(ctx, `
		SELECT last_signal, cdc_enabled, active_exchange,
		       reserve_usdt, reserve_binance_usdt, reserve_okx_usdt,
		       sell_percent, sell_percent_binance, sell_percent_okx,
		       half_sell_policy, max_notional_binance, max_notional_okx,
		       red_epoch_active, last_half_sell_at, last_transition_at
		FROM strategy_state
		WHERE id = 1`).Scan(
		&lastSignal, &st.CDCEnabled, &activeExchange,
		&st.ReserveUSDT, &reserveBinance, &reserveOKX,
		&st.SellPercent, &pctBinance, &pctOKX,
		&policy, &capBinance, &capOKX,
		&st.RedEpochActive, &halfSellAt, &transitionAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load strategy state")
	}

	st.LastSignal = domain.Signal(lastSignal)
	st.ActiveExchange = domain.Exchange(activeExchange)
	st.HalfSellPolicy = domain.HalfSellPolicy(policy)
	st.ReserveByExchange[domain.ExchangeBinance] = reserveBinance
	st.ReserveByExchange[domain.ExchangeOKX] = reserveOKX
	st.SellPercentByExchange[domain.ExchangeBinance] = pctBinance
	st.SellPercentByExchange[domain.ExchangeOKX] = pctOKX
	st.MaxNotionalByExchange[domain.ExchangeBinance] = capBinance
	st.MaxNotionalByExchange[domain.ExchangeOKX] = capOKX
	if halfSellAt.Valid {
		st.LastHalfSellAt = halfSellAt.Time
	}
	if transitionAt.Valid {
		st.LastTransitionAt = transitionAt.Time
	}
	return st, nil
}

// Save upserts the strategy state.
func (s *StateStore) Save(ctx context.Context, st *domain.StrategyState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO strategy_state (
			id, last_signal, cdc_enabled, active_exchange,
			reserve_usdt, reserve_binance_usdt, reserve_okx_usdt,
			sell_percent, sell_percent_binance, sell_percent_okx,
			half_sell_policy, max_notional_binance, max_notional_okx,
			red_epoch_active, last_half_sell_at, last_transition_at, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			last_signal = EXCLUDED.last_signal,
			cdc_enabled = EXCLUDED.cdc_enabled,
			active_exchange = EXCLUDED.active_exchange,
			reserve_usdt = EXCLUDED.reserve_usdt,
			reserve_binance_usdt = EXCLUDED.reserve_binance_usdt,
			reserve_okx_usdt = EXCLUDED.reserve_okx_usdt,
			sell_percent = EXCLUDED.sell_percent,
			sell_percent_binance = EXCLUDED.sell_percent_binance,
			sell_percent_okx = EXCLUDED.sell_percent_okx,
			half_sell_policy = EXCLUDED.half_sell_policy,
			max_notional_binance = EXCLUDED.max_notional_binance,
			max_notional_okx = EXCLUDED.max_notional_okx,
			red_epoch_active = EXCLUDED.red_epoch_active,
			last_half_sell_at = EXCLUDED.last_half_sell_at,
			last_transition_at = EXCLUDED.last_transition_at,
			updated_at = EXCLUDED.updated_at`,
		st.LastSignal.String(), st.CDCEnabled, st.ActiveExchange.String(),
		st.ReserveUSDT,
		st.ReserveByExchange[domain.ExchangeBinance],
		st.ReserveByExchange[domain.ExchangeOKX],
		st.SellPercent,
		st.SellPercentByExchange[domain.ExchangeBinance],
		st.SellPercentByExchange[domain.ExchangeOKX],
		string(st.HalfSellPolicy),
		st.MaxNotionalByExchange[domain.ExchangeBinance],
		st.MaxNotionalByExchange[domain.ExchangeOKX],
		st.RedEpochActive,
		nullTime(st.LastHalfSellAt), nullTime(st.LastTransitionAt),
		time.Now().UTC(),
	)
	return errors.Wrap(err, "save strategy state")
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
