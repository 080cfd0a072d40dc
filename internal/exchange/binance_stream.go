package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/signalbridge/internal/domain"
)

const binanceStreamBaseURL = "wss://fstream.binance.com/ws"

// StreamTicker satisfies StreamingAdapter (§4.E fast-path): a single
// subscribed websocket stream, normalized into the same domain.Ticker the
// REST path produces. The executor's price-source chain does not call it;
// it reads prices through GetTicker only.
func (a *binanceAdapter) StreamTicker(ctx context.Context, symbol string) (<-chan domain.Ticker, error) {
	stream := strings.ToLower(a.NormalizeSymbol(symbol)) + "@markPrice@1s"
	conn, _, err := websocket.Dial(ctx, binanceStreamBaseURL+"/"+stream, nil)
	if err != nil {
		return nil, domain.Classify(domain.ErrExchangeTransient, "dial ticker stream", err)
	}

	out := make(chan domain.Ticker, 8)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			var raw json.RawMessage
			if err := wsjson.Read(ctx, conn, &raw); err != nil {
				return
			}
			var tick struct {
				Symbol string `json:"s"`
				Price  string `json:"p"`
				Time   int64  `json:"E"`
			}
			if err := json.Unmarshal(raw, &tick); err != nil {
				continue
			}
			price, err := strconv.ParseFloat(tick.Price, 64)
			if err != nil {
				continue
			}
			select {
			case out <- domain.Ticker{Symbol: tick.Symbol, Price: price, Timestamp: time.UnixMilli(tick.Time)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
