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
	okxLiveBaseURL = "https://www.okx.com"
	okxMinDelay    = 100 * time.Millisecond
)

// okxAdapter implements Adapter against OKX. OKX selects demo trading with a
// request header ("x-simulated-trading") rather than a distinct base URL.
// This adapter stores the testnet flag but sends no such header, so every
// request, for testnet accounts too, goes to the live okxLiveBaseURL.
type okxAdapter struct {
	http    *signedHTTPClient
	testnet bool
}

func NewOKXFactory() Factory {
	return func(creds Credentials, testnet bool) Adapter {
		return &okxAdapter{
			http:    newSignedHTTPClient(okxLiveBaseURL, creds.APIKey, creds.Secret, creds.Passphrase, okxMinDelay),
			testnet: testnet,
		}
	}
}

func (a *okxAdapter) NormalizeSymbol(raw string) string { return normalizeSymbolDashed(raw) + "-SWAP" }

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *okxAdapter) decode(body []byte, into interface{}) error {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Classify(domain.ErrExchangeLogical, "decode envelope", err)
	}
	if env.Code != "0" {
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

func (a *okxAdapter) Ping(ctx context.Context) error {
	_, err := a.http.Call(ctx, "GET", "/api/v5/public/time", nil, false)
	return err
}

func (a *okxAdapter) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	body, err := a.http.Call(ctx, "GET", "/api/v5/market/ticker?instId="+a.NormalizeSymbol(symbol), nil, false)
	if err != nil {
		return domain.Ticker{}, err
	}
	var res []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
	}
	if err := a.decode(body, &res); err != nil {
		return domain.Ticker{}, err
	}
	if len(res) == 0 {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "empty ticker data", nil)
	}
	price, err := strconv.ParseFloat(res[0].Last, 64)
	if err != nil {
		return domain.Ticker{}, domain.Classify(domain.ErrPriceFeedUnavailable, "parse price", err)
	}
	return domain.Ticker{Symbol: res[0].InstID, Price: price, Timestamp: time.Now()}, nil
}

func (a *okxAdapter) GetBalance(ctx context.Context) (map[string]float64, error) {
	body, err := a.http.Call(ctx, "GET", "/api/v5/account/balance", nil, true)
	if err != nil {
		return nil, err
	}
	var res []struct {
		Details []struct {
			Ccy     string `json:"ccy"`
			CashBal string `json:"cashBal"`
		} `json:"details"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, acc := range res {
		for _, d := range acc.Details {
			v, err := strconv.ParseFloat(d.CashBal, 64)
			if err != nil {
				continue
			}
			out[d.Ccy] = v
		}
	}
	return out, nil
}

func (a *okxAdapter) GetPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	path := "/api/v5/account/positions?instType=SWAP"
	if symbol != "" {
		path += "&instId=" + a.NormalizeSymbol(symbol)
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res []struct {
		InstID   string `json:"instId"`
		PosSide  string `json:"posSide"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		MarkPx   string `json:"markPx"`
		Upl      string `json:"upl"`
		Lever    string `json:"lever"`
		LiqPx    string `json:"liqPx"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	var out []domain.Position
	for _, p := range res {
		size, _ := strconv.ParseFloat(p.Pos, 64)
		if size == 0 {
			continue
		}
		side := domain.PositionLong
		if p.PosSide == "short" || size < 0 {
			side = domain.PositionShort
		}
		if size < 0 {
			size = -size
		}
		entry, _ := strconv.ParseFloat(p.AvgPx, 64)
		mark, _ := strconv.ParseFloat(p.MarkPx, 64)
		upnl, _ := strconv.ParseFloat(p.Upl, 64)
		lev, _ := strconv.Atoi(p.Lever)
		liq, _ := strconv.ParseFloat(p.LiqPx, 64)
		out = append(out, domain.Position{
			Symbol: p.InstID, Exchange: domain.ExchangeOKX, Side: side, Size: size,
			EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: upnl, Leverage: lev,
			LiquidationPx: liq, UpdatedAt: time.Now(),
		})
	}
	return out, nil
}

func (a *okxAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	path := "/api/v5/trade/orders-pending?instType=SWAP"
	if symbol != "" {
		path += "&instId=" + a.NormalizeSymbol(symbol)
	}
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res []okxOrderDTO
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(res))
	for _, o := range res {
		out = append(out, o.toDomain())
	}
	return out, nil
}

func (a *okxAdapter) GetTrades(ctx context.Context, symbol string, since time.Time) ([]domain.Trade, error) {
	path := fmt.Sprintf("/api/v5/trade/fills?instType=SWAP&instId=%s&begin=%d", a.NormalizeSymbol(symbol), since.UnixMilli())
	body, err := a.http.Call(ctx, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}
	var res []struct {
		TradeID string `json:"tradeId"`
		OrdID   string `json:"ordId"`
		InstID  string `json:"instId"`
		Side    string `json:"side"`
		FillSz  string `json:"fillSz"`
		FillPx  string `json:"fillPx"`
		Fee     string `json:"fee"`
		FeeCcy  string `json:"feeCcy"`
		Ts      string `json:"ts"`
	}
	if err := a.decode(body, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(res))
	for _, t := range res {
		qty, _ := strconv.ParseFloat(t.FillSz, 64)
		price, _ := strconv.ParseFloat(t.FillPx, 64)
		fee, _ := strconv.ParseFloat(t.Fee, 64)
		ms, _ := strconv.ParseInt(t.Ts, 10, 64)
		out = append(out, domain.Trade{
			TradeID: t.TradeID, OrderID: t.OrdID, Symbol: t.InstID, Side: domain.Side(t.Side),
			Quantity: qty, Price: price, FeeAmount: fee, FeeCurrency: t.FeeCcy, Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

func (a *okxAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]interface{}{
		"instId": a.NormalizeSymbol(symbol), "lever": fmt.Sprintf("%d", leverage), "mgnMode": "cross",
	}
	_, err := a.http.Call(ctx, "POST", "/api/v5/account/set-leverage", body, true)
	return err
}

func (a *okxAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	body := map[string]interface{}{
		"instId": a.NormalizeSymbol(req.Symbol), "tdMode": "cross", "side": string(req.Side),
		"ordType": toOKXType(req.Type), "sz": fmt.Sprintf("%v", req.Amount), "clOrdId": req.ClientOrderID,
	}
	if req.Type != domain.OrderTypeMarket && req.Price > 0 {
		body["px"] = fmt.Sprintf("%v", req.Price)
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	respBody, err := a.http.Call(ctx, "POST", "/api/v5/trade/order", body, true)
	if err != nil {
		return domain.Order{}, err
	}
	var res []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
	}
	if err := a.decode(respBody, &res); err != nil {
		return domain.Order{}, err
	}
	if len(res) == 0 {
		return domain.Order{}, domain.Classify(domain.ErrExchangeLogical, "empty order response", nil)
	}
	return domain.Order{
		ExchangeOrderID: res[0].OrdID, ClientOrderID: res[0].ClOrdID, Exchange: domain.ExchangeOKX,
		Symbol: req.Symbol, Side: req.Side, Type: req.Type, Quantity: req.Amount, Price: req.Price,
		Status: domain.OrderSubmitted, UpdatedAt: time.Now(),
	}, nil
}

func (a *okxAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{"instId": a.NormalizeSymbol(symbol), "ordId": orderID}
	_, err := a.http.Call(ctx, "POST", "/api/v5/trade/cancel-order", body, true)
	return err
}

func (a *okxAdapter) ValidateBalance(ctx context.Context, symbol string, side domain.Side, amount, price float64, leverage int) (bool, string, error) {
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

type okxOrderDTO struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	InstID  string `json:"instId"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	State   string `json:"state"`
	Sz      string `json:"sz"`
	FillSz  string `json:"accFillSz"`
	Px      string `json:"px"`
}

func (o okxOrderDTO) toDomain() domain.Order {
	qty, _ := strconv.ParseFloat(o.Sz, 64)
	filled, _ := strconv.ParseFloat(o.FillSz, 64)
	price, _ := strconv.ParseFloat(o.Px, 64)
	return domain.Order{
		ExchangeOrderID: o.OrdID, ClientOrderID: o.ClOrdID, Exchange: domain.ExchangeOKX,
		Symbol: o.InstID, Side: domain.Side(o.Side), Type: toOKXDomainType(o.OrdType),
		Quantity: qty, Price: price, Filled: filled, Remaining: qty - filled,
		Status: fromOKXStatus(o.State), UpdatedAt: time.Now(),
	}
}

func toOKXType(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return "limit"
	}
	return "market"
}

func toOKXDomainType(t string) domain.OrderType {
	if t == "limit" {
		return domain.OrderTypeLimit
	}
	return domain.OrderTypeMarket
}

func fromOKXStatus(s string) domain.OrderStatus {
	switch s {
	case "live":
		return domain.OrderOpen
	case "partially_filled":
		return domain.OrderPartiallyFilled
	case "filled":
		return domain.OrderFilled
	case "canceled":
		return domain.OrderCancelled
	default:
		return domain.OrderSubmitted
	}
}
