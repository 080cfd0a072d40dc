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
	coinbaseLiveBaseURL = "https://api.coinbase.com"
	coinbaseMinDelay    = 150 * time.Millisecond
)

// coinbaseAdapter implements Adapter against Coinbase Advanced Trade.
// Coinbase has no perpetuals product for most retail accounts, so
// SetLeverage and ValidateBalance's margin math degrade to spot-account
// semantics (leverage is accepted but has no effect beyond bookkeeping).
type coinbaseAdapter struct {
	http *signedHTTPClient
}

func NewCoinbaseFactory() Factory {
	return func(creds Credentials, testnet bool) Adapter {
		return &coinbaseAdapter{http: newSignedHTTPClient(coinbaseLiveBaseURL, creds.APIKey, creds.Secret, creds.Passphrase, coinbaseMinDelay)}
	}
}

func (a *coinbaseAdapter) NormalizeSymbol(raw string) string { return normalizeSymbolDashed(raw) }

func (a *coinbaseAdapter) Ping(ctx context.Context) error {
	_, err := a.http.Call(ctx, "GET", "/api/v3/brokerage/time", nil, false)
	return err
}

func (a *coinbaseAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	body, err := a.http.Call(ctx, "GET", "/api/v3/brokerage/products/"+a.NormalizeSymbol(symbol), nil, true)
	if err != nil {
		return domain.Ticker{}, err
	}
	var res struct {
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return domain.Ticker{}, domain.Classify(domain.ErrExchangeLogical, "decode product", err)
	}
	price, err := strconv.ParseFloat(res.Price, 64)
	if err != nil {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "parse price", err)
	}
	return domain.Ticker{Symbol: res.ProductID, Price: price, Timestamp: time.Now()}, nil
}

func (a *coinbaseAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	body, err := a.http.Call(ctx, "GET", "/api/v3/brokerage/accounts", nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, domain.Classify(domain.ErrExchangeLogical, "decode accounts", err)
	}
	out := make(map[string]float64, len(res.Accounts))
	for _, acc := range res.Accounts {
		v, err := strconv.ParseFloat(acc.AvailableBalance.Value, 64)
		if err != nil {
			continue
		}
		out[acc.Currency] = v
	}
	return out, nil
}

// GetPositions returns no entries: spot holdings are balances, not
// leveraged positions, and Coinbase Advanced Trade exposes no perp
// position endpoint for the accounts this adapter targets.
func (a *coinbaseAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	return nil, nil
}

func (a *coinbaseAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	path := "/api/v3/brokerage/orders/historical/batch?order_status=OPEN"
	if symbol != "" {
		path += "&product_id=" + a.NormalizeSymbol(symbol)
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		Orders []coinbaseOrderDTO `json:"orders"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, domain.Classify(domain.ErrExchangeLogical, "decode orders", err)
	}
	out := make([]domain.Order, 0, len(res.Orders))
	for _, o := range res.Orders {
		out = append(out, o.toDomain())
	}
	return out, nil
}

func (a *coinbaseAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	path := fmt.Sprintf("/api/v3/brokerage/orders/historical/fills?product_id=%s&start_sequence_timestamp=%s",
		a.NormalizeSymbol(symbol), since.UTC().Format(time.RFC3339))
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		Fills []struct {
			TradeID   string `json:"trade_id"`
			OrderID   string `json:"order_id"`
			ProductID string `json:"product_id"`
			Side      string `json:"side"`
			Size      string `json:"size"`
			Price     string `json:"price"`
			Fee       string `json:"commission"`
			TradeTime string `json:"trade_time"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, domain.Classify(domain.ErrExchangeLogical, "decode fills", err)
	}
	out := make([]domain.Trade, 0, len(res.Fills))
	for _, f := range res.Fills {
		qty, _ := strconv.ParseFloat(f.Size, 64)
		price, _ := strconv.ParseFloat(f.Price, 64)
		fee, _ := strconv.ParseFloat(f.Fee, 64)
		ts, err := time.Parse(time.RFC3339, f.TradeTime)
		if err != nil {
			ts = time.Now()
		}
		out = append(out, domain.Trade{
			TradeID: f.TradeID, OrderID: f.OrderID, Symbol: f.ProductID, Side: domain.Side(f.Side),
			Quantity: qty, Price: price, FeeAmount: fee, Timestamp: ts,
		})
	}
	return out, nil
}

// SetLeverage is a no-op on Coinbase spot; no margin endpoint to call.
func (a *coinbaseAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (a *coinbaseAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	orderConfig := map[string]interface{}{}
	if req.Type == domain.OrderTypeMarket {
		orderConfig["market_market_ioc"] = map[string]interface{}{"base_size": fmt.Sprintf("%v", req.Amount)}
	} else {
		orderConfig["limit_limit_gtc"] = map[string]interface{}{
			"base_size": fmt.Sprintf("%v", req.Amount), "limit_price": fmt.Sprintf("%v", req.Price),
		}
	}
	body := map[string]interface{}{
		"client_order_id": req.ClientOrderID, "product_id": a.NormalizeSymbol(req.Symbol),
		"side": toCoinbaseSide(req.Side), "order_configuration": orderConfig,
	}
	respBody, err := a.http.Call(ctx, "POST", "/api/v3/brokerage/orders", body, true)
	if err != nil {
		return domain.Order{}, err
	}
	var res struct {
		Success     bool `json:"success"`
		SuccessResp struct {
			OrderID       string `json:"order_id"`
			ClientOrderID string `json:"client_order_id"`
		} `json:"success_response"`
	}
	if err := json.Unmarshal(respBody, &res); err != nil {
		return domain.Order{}, domain.Classify(domain.ErrExchangeLogical, "decode create order response", err)
	}
	if !res.Success {
		return domain.Order{}, domain.Classify(domain.ErrExchangeLogical, "order rejected", nil)
	}
	return domain.Order{
		ExchangeOrderID: res.SuccessResp.OrderID, ClientOrderID: res.SuccessResp.ClientOrderID,
		Exchange: domain.ExchangeCoinbase, Symbol: req.Symbol, Side: req.Side, Type: req.Type,
		Quantity: req.Amount, Price: req.Price, Status: domain.OrderSubmitted, UpdatedAt: time.Now(),
	}, nil
}

func (a *coinbaseAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{"order_ids": []string{orderID}}
	_, err := a.http.Call(ctx, "POST", "/api/v3/brokerage/orders/batch_cancel", body, true)
	return err
}

func (a *coinbaseAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
	balances, err := a.GetBalance(ctx)
	if err != nil {
		return false, "", err
	}
	required := amount * price
	if balances["USD"] < required {
		return false, fmt.Sprintf("available USD %.2f below required %.2f", balances["USD"], required), nil
	}
	return true, "", nil
}

type coinbaseOrderDTO struct {
	OrderID         string `json:"order_id"`
	ClientOrderID   string `json:"client_order_id"`
	ProductID       string `json:"product_id"`
	Side            string `json:"side"`
	Status          string `json:"status"`
	OrderType       string `json:"order_type"`
	FilledSize      string `json:"filled_size"`
	CompletionPerc  string `json:"completion_percentage"`
}

func (o coinbaseOrderDTO) toDomain() domain.Order {
	filled, _ := strconv.ParseFloat(o.FilledSize, 64)
	return domain.Order{
		ExchangeOrderID: o.OrderID, ClientOrderID: o.ClientOrderID, Exchange: domain.ExchangeCoinbase,
		Symbol: o.ProductID, Side: domain.Side(o.Side), Type: coinbaseOrderType(o.OrderType),
		Filled: filled, Status: fromCoinbaseStatus(o.Status), UpdatedAt: time.Now(),
	}
}

func toCoinbaseSide(s domain.Side) string {
	if s == domain.SideSell {
		return "SELL"
	}
	return "BUY"
}

func coinbaseOrderType(t string) domain.OrderType {
	if t == "LIMIT" {
		return domain.OrderTypeLimit
	}
	return domain.OrderTypeMarket
}

func fromCoinbaseStatus(s string) domain.OrderStatus {
	switch s {
	case "OPEN":
		return domain.OrderOpen
	case "FILLED":
		return domain.OrderFilled
	case "CANCELLED":
		return domain.OrderCancelled
	case "EXPIRED":
		return domain.OrderExpired
	case "FAILED":
		return domain.OrderFailed
	default:
		return domain.OrderSubmitted
	}
}
