// Package domain holds the logical record types shared across the gateway,
// executor, reconciler, and store layers. These are plain value types; no
// method on them performs I/O.
package domain

import "time"

// ExchangeTag identifies one of the supported venues.
type ExchangeTag string

const (
	ExchangeBinance  ExchangeTag = "binance"
	ExchangeBybit    ExchangeTag = "bybit"
	ExchangeOKX      ExchangeTag = "okx"
	ExchangeCoinbase ExchangeTag = "coinbase"
	ExchangeBitget   ExchangeTag = "bitget"
)

// Action is the alert's requested effect.
type Action string

const (
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionClose    Action = "close"
	ActionCloseAll Action = "close_all"
)

// SizeMode selects how size_value is interpreted during sizing.
type SizeMode string

const (
	SizeModeQuote      SizeMode = "quote"
	SizeModeBase       SizeMode = "base"
	SizeModeContracts  SizeMode = "contracts"
	SizeModePercentage SizeMode = "percentage"
	SizeModeFixedUSDT  SizeMode = "fixed_usdt"
)

// MarketType tags the symbol's trading venue flavor.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
	MarketPerp    MarketType = "perp"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the order shapes the adapter layer accepts.
type OrderType string

const (
	OrderTypeMarket      OrderType = "market"
	OrderTypeLimit       OrderType = "limit"
	OrderTypeStop        OrderType = "stop"
	OrderTypeStopLimit   OrderType = "stop_limit"
	OrderTypeTakeProfit  OrderType = "take_profit"
)

// JobStatus is the lifecycle state of a durable alert commitment.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// OrderStatus mirrors the exchange-reported lifecycle of a submitted order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
	OrderFailed          OrderStatus = "failed"
)

// WebhookStatus is the operator-visible lifecycle of an ingress endpoint.
type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookPaused   WebhookStatus = "paused"
	WebhookDisabled WebhookStatus = "disabled"
	WebhookError    WebhookStatus = "error"
)

// PositionSide is long or short exposure.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// User is the identity envelope owning exchange accounts, webhooks, jobs, and PnL history.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Active      bool
}

// ExchangeAccount is a credential-scoped trading identity at one exchange.
// APIKeyCipher, SecretCipher, and PassphraseCipher hold vault ciphertext, never plaintext.
type ExchangeAccount struct {
	ID               string
	OwnerID          string
	DisplayName      string
	Exchange         ExchangeTag
	Testnet          bool
	Active           bool
	PrimaryForUser   bool
	APIKeyCipher     string
	SecretCipher     string
	PassphraseCipher string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RateLimitPolicy is a (per-minute, per-hour) cap pair enforced by the gateway.
type RateLimitPolicy struct {
	PerMinute int
	PerHour   int
}

// Webhook is a signed ingress endpoint bound to one owner.
type Webhook struct {
	ID               string
	OwnerID          string
	URLPath          string
	Secret           string
	Public           bool
	Status           WebhookStatus
	RateLimit        RateLimitPolicy
	ErrorThreshold   int
	ConsecutiveFails int
	DeliveryCount    int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Alert is the validated inbound payload, not persisted as such — it is folded into a Job.
type Alert struct {
	Ticker      string
	Action      Action
	AlertID     string
	Strategy    string
	SizeMode    SizeMode
	SizeValue   float64
	Quantity    float64
	Contracts   float64
	Leverage    int
	StopLoss    float64
	TakeProfit  float64
	ReduceOnly  bool
	Exchange    ExchangeTag
	MarketType  MarketType
	AccountID   string
	Extra       map[string]interface{}
}

// Job is the durable, deduplicated commitment to execute one alert.
type Job struct {
	ID          string
	AlertID     string
	AccountID   string
	UserID      string
	Alert       Alert
	Status      JobStatus
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Order is a submitted exchange order.
type Order struct {
	ID              string
	ClientOrderID   string
	ExchangeOrderID string
	AccountID       string
	Exchange        ExchangeTag
	Symbol          string
	Side            Side
	Type            OrderType
	Quantity        float64
	Price           float64
	Filled          float64
	Remaining       float64
	Status          OrderStatus
	ReduceOnly      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Trade is an execution fill against an Order.
type Trade struct {
	TradeID     string
	OrderID     string
	AccountID   string
	Symbol      string
	Side        Side
	Quantity    float64
	Price       float64
	FeeAmount   float64
	FeeCurrency string
	Timestamp   time.Time
}

// Position is the currently open exposure at an exchange for one symbol.
type Position struct {
	AccountID       string
	Symbol          string
	Exchange        ExchangeTag
	Side            PositionSide
	Size            float64
	EntryPrice      float64
	MarkPrice       float64
	UnrealizedPnL   float64
	RealizedPnL     float64
	Leverage        int
	LiquidationPx   float64
	UpdatedAt       time.Time
}

// PnLRecord is an append-only snapshot emitted by the reconciler.
type PnLRecord struct {
	ID          string
	AccountID   string
	UserID      string
	RealizedPnL float64
	UnrealPnL   float64
	Equity      float64
	Timestamp   time.Time
}

// Ticker is a spot/last price quote from an adapter.
type Ticker struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
