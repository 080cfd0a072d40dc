package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/signalbridge/internal/domain"
)

const (
	binanceLiveBaseURL    = "https://fapi.binance.com"
	binanceTestnetBaseURL = "https://testnet.binancefuture.com"
	binanceMinDelay       = 100 * time.Millisecond
)

// binanceAdapter implements Adapter against Binance USDT-M futures.
type binanceAdapter struct {
	http *signedHTTPClient
}

// NewBinanceFactory returns the Factory Register-able under ExchangeBinance.
func NewBinanceFactory() Factory {
	return func(creds Credentials, testnet bool) Adapter {
		base := binanceLiveBaseURL
		if testnet {
			base = binanceTestnetBaseURL
		}
		return &binanceAdapter{
			http: newSignedHTTPClient(base, creds.APIKey, creds.Secret, "", binanceMinDelay),
		}
	}
}

func (a *binanceAdapter) NormalizeSymbol(raw string) string {
	return normalizeSymbolUpper(raw)
}

func (a *binanceAdapter) Ping(ctx context.Context) error {
	_, err := a.http.Call(ctx, "GET", "/fapi/v1/ping", nil, false)
	return err
}

func (a *binanceAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	body, err := a.http.Call(ctx, "GET", "/fapi/v1/ticker/price?symbol="+a.NormalizeSymbol(symbol), nil, false)
	if err != nil {
		return domain.Ticker{}, err
	}
	var raw struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Ticker{}, domain.Classify(domain.ErrExchangeLogical, "decode ticker", err)
	}
	price, err := strconv.ParseFloat(raw.Price, 64)
	if err != nil {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "parse ticker price", err)
	}
	return domain.Ticker{Symbol: raw.Symbol, Price: price, Timestamp: time.Now()}, nil
}

func (a *binanceAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	body, err := a.http.Call(ctx, "GET", "/fapi/v2/balance", nil, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Asset   string `json:"asset"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Classify(domain.ErrExchangeLogical, "decode balance", err)
	}
	out := make(map[string]float64, len(raw))
	for _, b := range raw {
		v, err := strconv.ParseFloat(b.Balance, 64)
		if err != nil {
			continue
		}
		out[b.Asset] = v
	}
	return out, nil
}

func (a *binanceAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	path := "/fapi/v2/positionRisk"
	if symbol != "" {
		path += "?symbol=" + a.NormalizeSymbol(symbol)
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
		LiquidationPrice string `json:"liquidationPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Classify(domain.ErrExchangeLogical, "decode positions", err)
	}

	var out []domain.Position
	for _, p := range raw {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		side := domain.PositionLong
		if amt < 0 {
			side = domain.PositionShort
			amt = -amt
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		liq, _ := strconv.ParseFloat(p.LiquidationPrice, 64)
		out = append(out, domain.Position{
			Symbol: p.Symbol, Exchange: domain.ExchangeBinance, Side: side,
			Size: amt, EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: upnl,
			Leverage: lev, LiquidationPx: liq, UpdatedAt: time.Now(),
		})
	}
	return out, nil
}

func (a *binanceAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	path := "/fapi/v1/openOrders"
	if symbol != "" {
		path += "?symbol=" + a.NormalizeSymbol(symbol)
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var raw []binanceOrderDTO
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Classify(domain.ErrExchangeLogical, "decode open orders", err)
	}
	out := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		out = append(out, o.toDomain())
	}
	return out, nil
}

func (a *binanceAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	path := fmt.Sprintf("/fapi/v1/userTrades?symbol=%s&startTime=%d", a.NormalizeSymbol(symbol), since.UnixMilli())
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID          int64  `json:"id"`
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Qty         string `json:"qty"`
		Price       string `json:"price"`
		Commission  string `json:"commission"`
		CommAsset   string `json:"commissionAsset"`
		Time        int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Classify(domain.ErrExchangeLogical, "decode trades", err)
	}
	out := make([]domain.Trade, 0, len(raw))
	for _, t := range raw {
		qty, _ := strconv.ParseFloat(t.Qty, 64)
		price, _ := strconv.ParseFloat(t.Price, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)
		out = append(out, domain.Trade{
			TradeID: strconv.FormatInt(t.ID, 10), OrderID: strconv.FormatInt(t.OrderID, 10),
			Symbol: t.Symbol, Side: domain.Side(toLowerSide(t.Side)), Quantity: qty, Price: price,
			FeeAmount: fee, FeeCurrency: t.CommAsset, Timestamp: time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func (a *binanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	path := fmt.Sprintf("/fapi/v1/leverage?symbol=%s&leverage=%d", a.NormalizeSymbol(symbol), leverage)
	_, err := a.http.Call(ctx, "POST", path, nil, true)
	return err
}

func (a *binanceAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	path := fmt.Sprintf("/fapi/v1/order?symbol=%s&side=%s&type=%s&quantity=%v&newClientOrderId=%s",
		a.NormalizeSymbol(req.Symbol), toBinanceSide(req.Side), toBinanceType(req.Type), req.Amount, req.ClientOrderID)
	if req.Type != domain.OrderTypeMarket && req.Price > 0 {
		path += fmt.Sprintf("&price=%v&timeInForce=GTC", req.Price)
	}
	if req.ReduceOnly {
		path += "&reduceOnly=true"
	}
	body, err := a.http.Call(ctx, "POST", path, nil, true)
	if err != nil {
		return domain.Order{}, err
	}
	var dto binanceOrderDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return domain.Order{}, domain.Classify(domain.ErrExchangeLogical, "decode place order response", err)
	}
	return dto.toDomain(), nil
}

func (a *binanceAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	path := fmt.Sprintf("/fapi/v1/order?symbol=%s&orderId=%s", a.NormalizeSymbol(symbol), orderID)
	_, err := a.http.Call(ctx, "DELETE", path, nil, true)
	return err
}

func (a *binanceAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
	balances, err := a.GetBalance(ctx)
	if err != nil {
		return false, "", err
	}
	required := (amount * price) / float64(maxInt(leverage, 1))
	available := balances["USDT"]
	if available < required {
		return false, fmt.Sprintf("available USDT %.2f below required margin %.2f", available, required), nil
	}
	return true, "", nil
}

type binanceOrderDTO struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
}

func (o binanceOrderDTO) toDomain() domain.Order {
	qty, _ := strconv.ParseFloat(o.OrigQty, 64)
	filled, _ := strconv.ParseFloat(o.ExecutedQty, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)
	return domain.Order{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:   o.ClientOrderID,
		Exchange:        domain.ExchangeBinance,
		Symbol:          o.Symbol,
		Side:            domain.Side(toLowerSide(o.Side)),
		Type:            fromBinanceType(o.Type),
		Quantity:        qty,
		Price:           price,
		Filled:          filled,
		Remaining:       qty - filled,
		Status:          fromBinanceStatus(o.Status),
		UpdatedAt:       time.Now(),
	}
}

func toBinanceSide(s domain.Side) string {
	if s == domain.SideSell {
		return "SELL"
	}
	return "BUY"
}

func toLowerSide(s string) string {
	if s == "SELL" {
		return "sell"
	}
	return "buy"
}

func toBinanceType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeLimit:
		return "LIMIT"
	case domain.OrderTypeStop:
		return "STOP_MARKET"
	case domain.OrderTypeStopLimit:
		return "STOP"
	case domain.OrderTypeTakeProfit:
		return "TAKE_PROFIT_MARKET"
	default:
		return "MARKET"
	}
}

func fromBinanceType(t string) domain.OrderType {
	switch t {
	case "LIMIT":
		return domain.OrderTypeLimit
	case "STOP_MARKET":
		return domain.OrderTypeStop
	case "STOP":
		return domain.OrderTypeStopLimit
	case "TAKE_PROFIT_MARKET":
		return domain.OrderTypeTakeProfit
	default:
		return domain.OrderTypeMarket
	}
}

func fromBinanceStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.OrderOpen
	case "PARTIALLY_FILLED":
		return domain.OrderPartiallyFilled
	case "FILLED":
		return domain.OrderFilled
	case "CANCELED":
		return domain.OrderCancelled
	case "REJECTED":
		return domain.OrderRejected
	case "EXPIRED":
		return domain.OrderExpired
	default:
		return domain.OrderSubmitted
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
