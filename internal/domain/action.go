package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActionKind represents the type of strategy action to be performed.
type ActionKind string

const (
	ActionDCABuy       ActionKind = "DCA_BUY"
	ActionReserveMove  ActionKind = "RESERVE_MOVE"
	ActionHalfSell     ActionKind = "HALF_SELL"
	ActionReserveBuy   ActionKind = "RESERVE_BUY"
	ActionRotationFlip ActionKind = "ROTATION_FLIP"
)

func (k ActionKind) String() string {
	return string(k)
}

// ActionStatus is the outcome of one action execution attempt.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusSkipped ActionStatus = "skipped"
	StatusFailed  ActionStatus = "failed"
)

// Machine-readable skip/failure reasons. These are part of the notification
// contract: consumers match on the code, the wording lives elsewhere.
const (
	ReasonSpreadHigh        = "spread_high"
	ReasonInvalidTopOfBook  = "invalid_top_of_book"
	ReasonLiquidityError    = "liquidity_error"
	ReasonDepthInsufficient = "depth_insufficient"
	ReasonDepthNotSupported = "depth_not_supported"
	ReasonDepthError        = "depth_error"
	ReasonTWAPDeviation     = "twap_deviation"
	ReasonTWAPNotSupported  = "twap_not_supported"
	ReasonTWAPNoData        = "twap_no_data"
	ReasonTWAPInvalid       = "twap_invalid"
	ReasonTWAPError         = "twap_error"
	ReasonNotionalCap       = "notional_cap"
	ReasonBelowMinQty       = "below_minQty"
	ReasonBelowMinNotional  = "below_minNotional"
	ReasonSellPercentZero   = "sell_percent_zero"
	ReasonNoBalance         = "no_balance"
	ReasonNoReserve         = "no_reserve"
	ReasonDuplicateAction   = "duplicate_action"
	ReasonNoHandler         = "no_handler"
	ReasonBelowMinFlip      = "below_min_flip"
)

// StrategyAction is an immutable, idempotent unit of work emitted by the
// decision engine and executed at most once by the orchestrator.
type StrategyAction struct {
	Kind      ActionKind
	RequestID string
	// DedupeKey is a deterministic function of the action's logical identity;
	// re-deciding the same logical event always yields the same key.
	DedupeKey string

	// Exchange targets a single venue; empty means the global/active leg.
	Exchange Exchange
	// Amount is a quote-currency amount (DCA buy, reserve move, reserve buy).
	Amount decimal.Decimal
	// Percent is the half-sell percentage of free base balance.
	Percent decimal.Decimal
	// ScheduleID links weekly actions back to their schedule, 0 otherwise.
	ScheduleID int64

	Metadata map[string]string
}

// ActionResult is the outcome produced by a handler for one action.
type ActionResult struct {
	RequestID string
	DedupeKey string
	Status    ActionStatus
	// Detail holds the machine-readable reason code for skips and the error
	// text for failures.
	Detail string
	Data   map[string]any
}

// Skipped builds a SKIPPED result for the given action and reason code.
func Skipped(a StrategyAction, reason string, data map[string]any) ActionResult {
	return ActionResult{RequestID: a.RequestID, DedupeKey: a.DedupeKey, Status: StatusSkipped, Detail: reason, Data: data}
}

// Failed builds a FAILED result for the given action.
func Failed(a StrategyAction, detail string, data map[string]any) ActionResult {
	return ActionResult{RequestID: a.RequestID, DedupeKey: a.DedupeKey, Status: StatusFailed, Detail: detail, Data: data}
}

// Succeeded builds a SUCCESS result for the given action.
func Succeeded(a StrategyAction, data map[string]any) ActionResult {
	return ActionResult{RequestID: a.RequestID, DedupeKey: a.DedupeKey, Status: StatusSuccess, Data: data}
}

// NewRequestID generates a globally unique request identifier,
// optionally namespaced with a prefix.
func NewRequestID(prefix string) string {
	core := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return core
	}
	return fmt.Sprintf("%s-%s", prefix, core)
}

// DedupeKeyFor derives a deterministic dedupe key from ordered components.
func DedupeKeyFor(parts ...string) string {
	return strings.Join(parts, "|")
}
