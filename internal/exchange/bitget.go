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
	bitgetLiveBaseURL = "https://api.bitget.com"
	bitgetMinDelay    = 120 * time.Millisecond
)

type bitgetAdapter struct {
	http *signedHTTPClient
}

func NewBitgetFactory() Factory {
	return func(creds Credentials, testnet bool) Adapter {
		return &bitgetAdapter{http: newSignedHTTPClient(bitgetLiveBaseURL, creds.APIKey, creds.Secret, creds.Passphrase, bitgetMinDelay)}
	}
}

func (a *bitgetAdapter) NormalizeSymbol(raw string) string { return normalizeSymbolUnderscored(raw) }

type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *bitgetAdapter) decode(body []byte, into interface{}) error {
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Classify(domain.ErrExchangeLogical, "decode envelope", err)
	}
	if env.Code != "00000" {
		return domain.Classify(domain.ErrExchangeLogical, fmt.Sprintf("code=%s: %s", env.Code, env.Msg), nil)
	}
	if into == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		return domain.Classify(domain.ErrExchangeLogical, "decode data", err)
	}
	return nil
}

func (a *bitgetAdapter) Ping(ctx context.Context) error {
	_, err := a.http.Call(ctx, "GET", "/api/v2/public/time", nil, false)
	return err
}

func (a *bitgetAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	body, err := a.http.Call(ctx, "GET", "/api/v2/mix/market/ticker?symbol="+a.NormalizeSymbol(symbol)+"&productType=USDT-FUTURES", nil, false)
	if err != nil {
		return domain.Ticker{}, err
	}
	var res []struct {
		Symbol     string `json:"symbol"`
		LastPr     string `json:"lastPr"`
	}
	if err := a.decode(body, &res); err != nil {
		return domain.Ticker{}, err
	}
	if len(res) == 0 {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "empty ticker data", nil)
	}
	price, err := strconv.ParseFloat(res[0].LastPr, 64)
	if err != nil {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "parse price", err)
	}
	return domain.Ticker{Symbol: res[0].Symbol, Price: price, Timestamp: time.Now()}, nil
}

func (a *bitgetAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	body, err := a.http.Call(ctx, "GET", "/api/v2/mix/account/accounts?productType=USDT-FUTURES", nil, true)
	if err != nil {
		return nil, err
	}
	var res []struct {
		MarginCoin    string `json:"marginCoin"`
		Available     string `json:"available"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, acc := range res {
		v, err := strconv.ParseFloat(acc.Available, 64)
		if err != nil {
			continue
		}
		out[acc.MarginCoin] = v
	}
	return out, nil
}

func (a *bitgetAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	path := "/api/v2/mix/position/all-position?productType=USDT-FUTURES"
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res []struct {
		Symbol           string `json:"symbol"`
		HoldSide         string `json:"holdSide"`
		Total            string `json:"total"`
		OpenPriceAvg     string `json:"openPriceAvg"`
		MarkPrice        string `json:"markPrice"`
		UnrealizedPL     string `json:"unrealizedPL"`
		Leverage         string `json:"leverage"`
		LiquidationPrice string `json:"liquidationPrice"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	var out []domain.Position
	for _, p := range res {
		if symbol != "" && p.Symbol != a.NormalizeSymbol(symbol) {
			continue
		}
		size, _ := strconv.ParseFloat(p.Total, 64)
		if size == 0 {
			continue
		}
		side := domain.PositionLong
		if p.HoldSide == "short" {
			side = domain.PositionShort
		}
		entry, _ := strconv.ParseFloat(p.OpenPriceAvg, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealizedPL, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		liq, _ := strconv.ParseFloat(p.LiquidationPrice, 64)
		out = append(out, domain.Position{
			Symbol: p.Symbol, Exchange: domain.ExchangeBitget, Side: side, Size: size,
			EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: upnl, Leverage: lev,
			LiquidationPx: liq, UpdatedAt: time.Now(),
		})
	}
	return out, nil
}

func (a *bitgetAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	path := "/api/v2/mix/order/orders-pending?productType=USDT-FUTURES"
	if symbol != "" {
		path += "&symbol=" + a.NormalizeSymbol(symbol)
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		EntrustedList []bitgetOrderDTO `json:"entrustedList"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(res.EntrustedList))
	for _, o := range res.EntrustedList {
		out = append(out, o.toDomain())
	}
	return out, nil
}

func (a *bitgetAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	path := fmt.Sprintf("/api/v2/mix/order/fills?symbol=%s&productType=USDT-FUTURES&startTime=%d",
		a.NormalizeSymbol(symbol), since.UnixMilli())
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		FillList []struct {
			TradeID  string `json:"tradeId"`
			OrderID  string `json:"orderId"`
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			BaseVol  string `json:"baseVolume"`
			Price    string `json:"price"`
			Fee      string `json:"fee"`
			CTime    string `json:"cTime"`
		} `json:"fillList"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(res.FillList))
	for _, f := range res.FillList {
		qty, _ := strconv.ParseFloat(f.BaseVol, 64)
		price, _ := strconv.ParseFloat(f.Price, 64)
		fee, _ := strconv.ParseFloat(f.Fee, 64)
		ms, _ := strconv.ParseInt(f.CTime, 10, 64)
		out = append(out, domain.Trade{
			TradeID: f.TradeID, OrderID: f.OrderID, Symbol: f.Symbol, Side: domain.Side(f.Side),
			Quantity: qty, Price: price, FeeAmount: fee, Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

func (a *bitgetAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"symbol": a.NormalizeSymbol(symbol), "productType": "USDT-FUTURES",
		"marginCoin": "USDT", "leverage": fmt.Sprintf("%d", leverage),
	}
	_, err := a.http.Call(ctx, "POST", "/api/v2/mix/account/set-leverage", body, true)
	return err
}

func (a *bitgetAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	body := map[string]interface{}{
		"symbol": a.NormalizeSymbol(req.Symbol), "productType": "USDT-FUTURES", "marginCoin": "USDT",
		"side": toBitgetSide(req.Side), "orderType": toBitgetType(req.Type),
		"size": fmt.Sprintf("%v", req.Amount), "clientOid": req.ClientOrderID,
	}
	if req.Type != domain.OrderTypeMarket && req.Price > 0 {
		body["price"] = fmt.Sprintf("%v", req.Price)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = "YES"
	}
	respBody, err := a.http.Call(ctx, "POST", "/api/v2/mix/order/place-order", body, true)
	if err != nil {
		return domain.Order{}, err
	}
	var res struct {
		OrderID   string `json:"orderId"`
		ClientOid string `json:"clientOid"`
	}
	if err := a.decode(respBody, &res); err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ExchangeOrderID: res.OrderID, ClientOrderID: res.ClientOid, Exchange: domain.ExchangeBitget,
		Symbol: req.Symbol, Side: req.Side, Type: req.Type, Quantity: req.Amount, Price: req.Price,
		Status: domain.OrderSubmitted, UpdatedAt: time.Now(),
	}, nil
}

func (a *bitgetAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{
		"symbol": a.NormalizeSymbol(symbol), "productType": "USDT-FUTURES", "orderId": orderID,
	}
	_, err := a.http.Call(ctx, "POST", "/api/v2/mix/order/cancel-order", body, true)
	return err
}

func (a *bitgetAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
	balances, err := a.GetBalance(ctx)
	if err != nil {
		return false, "", err
	}
	required := (amount * price) / float64(maxInt(leverage, 1))
	if balances["USDT"] < required {
		return false, fmt.Sprintf("available USDT %.2f below required margin %.2f", balances["USDT"], required), nil
	}
	return true, "", nil
}

type bitgetOrderDTO struct {
	OrderID    string `json:"orderId"`
	ClientOid  string `json:"clientOid"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	OrderType  string `json:"orderType"`
	Status     string `json:"status"`
	Size       string `json:"size"`
	FilledQty  string `json:"baseVolume"`
	Price      string `json:"price"`
}

func (o bitgetOrderDTO) toDomain() domain.Order {
	qty, _ := strconv.ParseFloat(o.Size, 64)
	filled, _ := strconv.ParseFloat(o.FilledQty, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)
	return domain.Order{
		ExchangeOrderID: o.OrderID, ClientOrderID: o.ClientOid, Exchange: domain.ExchangeBitget,
		Symbol: o.Symbol, Side: domain.Side(o.Side), Type: toBitgetDomainType(o.OrderType),
		Quantity: qty, Price: price, Filled: filled, Remaining: qty - filled,
		Status: fromBitgetStatus(o.Status), UpdatedAt: time.Now(),
	}
}

func toBitgetSide(s domain.Side) string {
	if s == domain.SideSell {
		return "sell"
	}
	return "buy"
}

func toBitgetType(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return "limit"
	}
	return "market"
}

func toBitgetDomainType(t string) domain.OrderType {
	if t == "limit" {
		return domain.OrderTypeLimit
	}
	return domain.OrderTypeMarket
}

func fromBitgetStatus(s string) domain.OrderStatus {
	switch s {
	case "live":
		return domain.OrderOpen
	case "partially_filled":
		return domain.OrderPartiallyFilled
	case "filled":
		return domain.OrderFilled
	case "cancelled":
		return domain.OrderCancelled
	default:
		return domain.OrderSubmitted
	}
}
