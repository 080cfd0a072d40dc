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
	bybitLiveBaseURL    = "https://api.bybit.com"
	bybitTestnetBaseURL = "https://api-testnet.bybit.com"
	bybitMinDelay       = 100 * time.Millisecond
)

type bybitAdapter struct {
	http *signedHTTPClient
}

func NewBybitFactory() Factory {
	return func(creds Credentials, testnet bool) Adapter {
		base := bybitLiveBaseURL
		if testnet {
			base = bybitTestnetBaseURL
		}
		return &bybitAdapter{http: newSignedHTTPClient(base, creds.APIKey, creds.Secret, "", bybitMinDelay)}
	}
}

func (a *bybitAdapter) NormalizeSymbol(raw string) string { return normalizeSymbolUpper(raw) }

func (a *bybitAdapter) Ping(ctx context.Context) error {
	_, err := a.http.Call(ctx, "GET", "/v5/market/time", nil, false)
	return err
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (a *bybitAdapter) decode(body []byte, into interface{}) error {
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Classify(domain.ErrExchangeLogical, "decode envelope", err)
	}
	if env.RetCode != 0 {
		return domain.Classify(domain.ErrExchangeLogical, fmt.Sprintf("retCode=%d: %s", env.RetCode, env.RetMsg), nil)
	}
	if into == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, into); err != nil {
		return domain.Classify(domain.ErrExchangeLogical, "decode result", err)
	}
	return nil
}

func (a *bybitAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	body, err := a.http.Call(ctx, "GET", "/v5/market/tickers?category=linear&symbol="+a.NormalizeSymbol(symbol), nil, false)
	if err != nil {
		return domain.Ticker{}, err
	}
	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := a.decode(body, &res); err != nil {
		return domain.Ticker{}, err
	}
	if len(res.List) == 0 {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "empty ticker list", nil)
	}
	price, err := strconv.ParseFloat(res.List[0].LastPrice, 64)
	if err != nil {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "parse price", err)
	}
	return domain.Ticker{Symbol: res.List[0].Symbol, Price: price, Timestamp: time.Now()}, nil
}

func (a *bybitAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	body, err := a.http.Call(ctx, "GET", "/v5/account/wallet-balance?accountType=UNIFIED", nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			Coin []struct {
				Coin       string `json:"coin"`
				WalletBal  string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, acc := range res.List {
		for _, c := range acc.Coin {
			v, err := strconv.ParseFloat(c.WalletBal, 64)
			if err != nil {
				continue
			}
			out[c.Coin] = v
		}
	}
	return out, nil
}

func (a *bybitAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	path := "/v5/position/list?category=linear"
	if symbol != "" {
		path += "&symbol=" + a.NormalizeSymbol(symbol)
	} else {
		path += "&settleCoin=USDT"
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			Symbol       string `json:"symbol"`
			Side         string `json:"side"`
			Size         string `json:"size"`
			EntryPrice   string `json:"avgPrice"`
			MarkPrice    string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage     string `json:"leverage"`
			LiqPrice     string `json:"liqPrice"`
		} `json:"list"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	var out []domain.Position
	for _, p := range res.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}
		side := domain.PositionLong
		if p.Side == "Sell" {
			side = domain.PositionShort
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		lev, _ := strconv.Atoi(p.Leverage)
		liq, _ := strconv.ParseFloat(p.LiqPrice, 64)
		out = append(out, domain.Position{
			Symbol: p.Symbol, Exchange: domain.ExchangeBybit, Side: side, Size: size,
			EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: upnl, Leverage: lev,
			LiquidationPx: liq, UpdatedAt: time.Now(),
		})
	}
	return out, nil
}

func (a *bybitAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	path := "/v5/order/realtime?category=linear"
	if symbol != "" {
		path += "&symbol=" + a.NormalizeSymbol(symbol)
	} else {
		path += "&settleCoin=USDT"
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []bybitOrderDTO `json:"list"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(res.List))
	for _, o := range res.List {
		out = append(out, o.toDomain())
	}
	return out, nil
}

func (a *bybitAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	path := fmt.Sprintf("/v5/execution/list?category=linear&symbol=%s&startTime=%d", a.NormalizeSymbol(symbol), since.UnixMilli())
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			ExecID    string `json:"execId"`
			OrderID   string `json:"orderId"`
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			ExecQty   string `json:"execQty"`
			ExecPrice string `json:"execPrice"`
			ExecFee   string `json:"execFee"`
			ExecTime  string `json:"execTime"`
		} `json:"list"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(res.List))
	for _, t := range res.List {
		qty, _ := strconv.ParseFloat(t.ExecQty, 64)
		price, _ := strconv.ParseFloat(t.ExecPrice, 64)
		fee, _ := strconv.ParseFloat(t.ExecFee, 64)
		ms, _ := strconv.ParseInt(t.ExecTime, 10, 64)
		side := domain.SideBuy
		if t.Side == "Sell" {
			side = domain.SideSell
		}
		out = append(out, domain.Trade{
			TradeID: t.ExecID, OrderID: t.OrderID, Symbol: t.Symbol, Side: side,
			Quantity: qty, Price: price, FeeAmount: fee, Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

func (a *bybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"category": "linear", "symbol": a.NormalizeSymbol(symbol),
		"buyLeverage": fmt.Sprintf("%d", leverage), "sellLeverage": fmt.Sprintf("%d", leverage),
	}
	_, err := a.http.Call(ctx, "POST", "/v5/position/set-leverage", body, true)
	return err
}

func (a *bybitAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	body := map[string]interface{}{
		"category": "linear", "symbol": a.NormalizeSymbol(req.Symbol),
		"side": toBybitSide(req.Side), "orderType": toBybitType(req.Type),
		"qty": fmt.Sprintf("%v", req.Amount), "orderLinkId": req.ClientOrderID,
	}
	if req.Type != domain.OrderTypeMarket && req.Price > 0 {
		body["price"] = fmt.Sprintf("%v", req.Price)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	respBody, err := a.http.Call(ctx, "POST", "/v5/order/create", body, true)
	if err != nil {
		return domain.Order{}, err
	}
	var res struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := a.decode(respBody, &res); err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ExchangeOrderID: res.OrderID, ClientOrderID: res.OrderLinkID,
		Exchange: domain.ExchangeBybit, Symbol: req.Symbol, Side: req.Side, Type: req.Type,
		Quantity: req.Amount, Price: req.Price, Status: domain.OrderSubmitted, UpdatedAt: time.Now(),
	}, nil
}

func (a *bybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{"category": "linear", "symbol": a.NormalizeSymbol(symbol), "orderId": orderID}
	_, err := a.http.Call(ctx, "POST", "/v5/order/cancel", body, true)
	return err
}

func (a *bybitAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
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

type bybitOrderDTO struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	Price       string `json:"price"`
}

func (o bybitOrderDTO) toDomain() domain.Order {
	qty, _ := strconv.ParseFloat(o.Qty, 64)
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)
	side := domain.SideBuy
	if o.Side == "Sell" {
		side = domain.SideSell
	}
	return domain.Order{
		ExchangeOrderID: o.OrderID, ClientOrderID: o.OrderLinkID, Exchange: domain.ExchangeBybit,
		Symbol: o.Symbol, Side: side, Type: fromBybitType(o.OrderType), Quantity: qty, Price: price,
		Filled: filled, Remaining: qty - filled, Status: fromBybitStatus(o.OrderStatus), UpdatedAt: time.Now(),
	}
}

func toBybitSide(s domain.Side) string {
	if s == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}

func toBybitType(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return "Limit"
	}
	return "Market"
}

func fromBybitType(t string) domain.OrderType {
	if t == "Limit" {
		return domain.OrderTypeLimit
	}
	return domain.OrderTypeMarket
}

func fromBybitStatus(s string) domain.OrderStatus {
	switch s {
	case "New":
		return domain.OrderOpen
	case "PartiallyFilled":
		return domain.OrderPartiallyFilled
	case "Filled":
		return domain.OrderFilled
	case "Cancelled":
		return domain.OrderCancelled
	case "Rejected":
		return domain.OrderRejected
	default:
		return domain.OrderSubmitted
	}
}
