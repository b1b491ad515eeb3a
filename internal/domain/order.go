// Package domain contains the core order-execution entities and the ports
// implemented by the adapters (storage, queue, routing, streaming).
//
// Everything in this package is transport-agnostic: no HTTP, Redis, or
// Postgres types leak in here.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType identifies the requested execution style. Only market orders are
// executable today; the other values are reserved and rejected at intake.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeSniper OrderType = "sniper"
)

// OrderStatus is the lifecycle state of an order. Transitions are strictly
// linear: pending → routing → building → submitted → confirmed, with failed
// reachable from any non-terminal state.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderRouting   OrderStatus = "routing"
	OrderBuilding  OrderStatus = "building"
	OrderSubmitted OrderStatus = "submitted"
	OrderConfirmed OrderStatus = "confirmed"
	OrderFailed    OrderStatus = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s OrderStatus) Terminal() bool {
	return s == OrderConfirmed || s == OrderFailed
}

// DEX identifies a venue the router can quote and execute against.
type DEX string

const (
	DEXRaydium DEX = "raydium"
	DEXMeteora DEX = "meteora"
)

// DefaultSlippage applies when the submission omits slippage.
var DefaultSlippage = decimal.NewFromFloat(0.01)

// Order is the canonical persisted record. Nullable columns are pointers so
// a partial update can distinguish "unset" from a zero value.
type Order struct {
	ID            string           `json:"order_id"`
	Type          OrderType        `json:"order_type"`
	TokenIn       string           `json:"token_in"`
	TokenOut      string           `json:"token_out"`
	AmountIn      decimal.Decimal  `json:"amount_in"`
	Slippage      decimal.Decimal  `json:"slippage"`
	Status        OrderStatus      `json:"status"`
	DexUsed       *DEX             `json:"dex_used,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executed_price,omitempty"`
	AmountOut     *decimal.Decimal `json:"amount_out,omitempty"`
	TxHash        *string          `json:"tx_hash,omitempty"`
	Error         *string          `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// OrderPatch is a partial mutation applied by Store.Update. Nil fields are
// left untouched; updated_at is always refreshed.
type OrderPatch struct {
	Status        *OrderStatus
	DexUsed       *DEX
	ExecutedPrice *decimal.Decimal
	AmountOut     *decimal.Decimal
	TxHash        *string
	Error         *string
}

// StatusPatch is shorthand for a patch that only advances the status.
func StatusPatch(s OrderStatus) OrderPatch {
	return OrderPatch{Status: &s}
}

// Quote is one venue's answer for a prospective swap. Quotes are ephemeral
// and never persisted.
type Quote struct {
	Dex          DEX             `json:"dex"`
	Price        decimal.Decimal `json:"price"`
	AmountOut    decimal.Decimal `json:"amount_out"`
	Fee          decimal.Decimal `json:"fee"`
	EstimatedGas decimal.Decimal `json:"estimated_gas"`
}

// RouteResult is the routing decision: the winning quote plus a
// human-readable trace of the comparison.
type RouteResult struct {
	SelectedDex DEX    `json:"selected_dex"`
	Quote       Quote  `json:"quote"`
	Reason      string `json:"reason"`
}

// SwapResult is the outcome of executing a swap on the selected venue.
type SwapResult struct {
	TxHash        string          `json:"tx_hash"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	AmountOut     decimal.Decimal `json:"amount_out"`
}

// TimestampLayout renders UTC instants the way clients expect them in frames
// and failure records (ISO-8601 with millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
