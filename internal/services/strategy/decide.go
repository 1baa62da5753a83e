// Package strategy holds the pure CDC decision functions and the action
// orchestrator.
package strategy

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/stacker/internal/domain"
)

const dateLayout = "2006-01-02"

// WeeklyDCAInput carries everything needed to decide a weekly DCA event.
type WeeklyDCAInput struct {
	Now        time.Time
	ScheduleID int64
	Mode       domain.ExchangeMode
	// Amount is the global-mode amount; the per-venue amounts drive
	// single-exchange and split modes.
	Amount        decimal.Decimal
	AmountBinance decimal.Decimal
	AmountOKX     decimal.Decimal
	Signal        domain.Signal
	CDCEnabled    bool
}

// TransitionInput carries everything needed to decide a signal flip.
type TransitionInput struct {
	Now            time.Time
	Previous       domain.Signal
	Current        domain.Signal
	RedEpochActive bool
	Policy         domain.HalfSellPolicy

	SellPercentBinance decimal.Decimal
	SellPercentOKX     decimal.Decimal
	SellPercentGlobal  decimal.Decimal
	ActiveExchange     domain.Exchange

	ReserveUSDT    decimal.Decimal
	ReserveBinance decimal.Decimal
	ReserveOKX     decimal.Decimal
}

// DecideWeeklyDCA maps one due schedule onto actions. With the signal gate
// disabled the schedule always buys; with it enabled an up signal buys and a
// down signal moves the amount into reserve instead.
func DecideWeeklyDCA(in WeeklyDCAInput) []domain.StrategyAction {
	requestID := domain.NewRequestID("cdc-weekly")
	baseKey := domain.DedupeKeyFor("weekly-dca",
		strconv.FormatInt(in.ScheduleID, 10),
		in.Now.UTC().Format(dateLayout))

	if in.Mode == domain.ModeGlobal || in.Mode == "" {
		return []domain.StrategyAction{globalDCAAction(requestID, baseKey, in)}
	}

	var actions []domain.StrategyAction
	if (in.Mode == domain.ModeBinanceOnly || in.Mode == domain.ModeSplit) && in.AmountBinance.GreaterThan(decimal.Zero) {
		actions = append(actions, exchangeDCAAction(requestID, baseKey, domain.ExchangeBinance, in.AmountBinance, in))
	}
	if (in.Mode == domain.ModeOKXOnly || in.Mode == domain.ModeSplit) && in.AmountOKX.GreaterThan(decimal.Zero) {
		actions = append(actions, exchangeDCAAction(requestID, baseKey, domain.ExchangeOKX, in.AmountOKX, in))
	}
	return actions
}

func weeklyKind(in WeeklyDCAInput) domain.ActionKind {
	if !in.CDCEnabled || in.Signal == domain.SignalUp {
		return domain.ActionDCABuy
	}
	return domain.ActionReserveMove
}

func globalDCAAction(requestID, baseKey string, in WeeklyDCAInput) domain.StrategyAction {
	kind := weeklyKind(in)
	return domain.StrategyAction{
		Kind:       kind,
		RequestID:  requestID,
		DedupeKey:  domain.DedupeKeyFor(baseKey, "global", kind.String()),
		Amount:     in.Amount,
		ScheduleID: in.ScheduleID,
		Metadata: map[string]string{
			"mode":       string(in.Mode),
			"cdc_status": in.Signal.String(),
		},
	}
}

func exchangeDCAAction(requestID, baseKey string, ex domain.Exchange, amount decimal.Decimal, in WeeklyDCAInput) domain.StrategyAction {
	kind := weeklyKind(in)
	return domain.StrategyAction{
		Kind:       kind,
		RequestID:  requestID,
		DedupeKey:  domain.DedupeKeyFor(baseKey, ex.String(), kind.String(), amount.Round(8).String()),
		Exchange:   ex,
		Amount:     amount,
		ScheduleID: in.ScheduleID,
		Metadata: map[string]string{
			"mode":       string(in.Mode),
			"cdc_status": in.Signal.String(),
		},
	}
}

// DecideTransition maps a signal flip onto actions: half-sells on the flip
// to down (unless the red epoch is already active), reserve buys on the flip
// to up. Equal previous/current signals are a no-op.
func DecideTransition(in TransitionInput) []domain.StrategyAction {
	if in.Previous == in.Current {
		return nil
	}

	requestID := domain.NewRequestID("cdc-transition")
	baseKey := domain.DedupeKeyFor("cdc-transition",
		in.Previous.String(), in.Current.String(),
		in.Now.UTC().Format(dateLayout))

	switch in.Current {
	case domain.SignalDown:
		if in.RedEpochActive {
			return nil
		}
		return halfSellActions(requestID, baseKey, in)
	case domain.SignalUp:
		return reserveBuyActions(requestID, baseKey, in)
	}
	return nil
}

func halfSellActions(requestID, baseKey string, in TransitionInput) []domain.StrategyAction {
	// A venue without its own percent inherits the global one.
	pctFor := func(ex domain.Exchange) decimal.Decimal {
		var pct decimal.Decimal
		switch ex {
		case domain.ExchangeBinance:
			pct = in.SellPercentBinance
		case domain.ExchangeOKX:
			pct = in.SellPercentOKX
		}
		if pct.LessThanOrEqual(decimal.Zero) {
			pct = in.SellPercentGlobal
		}
		if pct.LessThan(decimal.Zero) {
			return decimal.Zero
		}
		return pct
	}

	var exchanges []domain.Exchange
	switch in.Policy {
	case domain.PolicyBinanceOnly:
		exchanges = []domain.Exchange{domain.ExchangeBinance}
	case domain.PolicyOKXOnly:
		exchanges = []domain.Exchange{domain.ExchangeOKX}
	default:
		for _, ex := range []domain.Exchange{domain.ExchangeBinance, domain.ExchangeOKX} {
			if pctFor(ex).GreaterThan(decimal.Zero) {
				exchanges = append(exchanges, ex)
			}
		}
		if len(exchanges) == 0 {
			active := in.ActiveExchange
			if !active.Valid() {
				active = domain.ExchangeBinance
			}
			exchanges = append(exchanges, active)
		}
	}

	seen := make(map[domain.Exchange]bool)
	var actions []domain.StrategyAction
	for _, ex := range exchanges {
		if seen[ex] {
			continue
		}
		seen[ex] = true
		pct := pctFor(ex)
		if pct.LessThanOrEqual(decimal.Zero) {
			continue
		}
		actions = append(actions, domain.StrategyAction{
			Kind:      domain.ActionHalfSell,
			RequestID: requestID,
			DedupeKey: domain.DedupeKeyFor(baseKey, "half_sell", ex.String(), pct.String()),
			Exchange:  ex,
			Percent:   pct,
		})
	}
	return actions
}

func reserveBuyActions(requestID, baseKey string, in TransitionInput) []domain.StrategyAction {
	globalAmount := in.ReserveUSDT
	if globalAmount.LessThan(decimal.Zero) {
		globalAmount = decimal.Zero
	}

	actions := []domain.StrategyAction{{
		Kind:      domain.ActionReserveBuy,
		RequestID: requestID,
		DedupeKey: domain.DedupeKeyFor(baseKey, "reserve_buy", "global"),
		Amount:    globalAmount,
		Metadata:  map[string]string{"mode": "global"},
	}}

	for _, leg := range []struct {
		ex     domain.Exchange
		amount decimal.Decimal
	}{
		{domain.ExchangeBinance, in.ReserveBinance},
		{domain.ExchangeOKX, in.ReserveOKX},
	} {
		if leg.amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		actions = append(actions, domain.StrategyAction{
			Kind:      domain.ActionReserveBuy,
			RequestID: requestID,
			DedupeKey: domain.DedupeKeyFor(baseKey, "reserve_buy", leg.ex.String(), leg.amount.Round(8).String()),
			Exchange:  leg.ex,
			Amount:    leg.amount,
			Metadata:  map[string]string{"mode": "exchange"},
		})
	}
	return actions
}
