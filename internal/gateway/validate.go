package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aristath/signalbridge/internal/domain"
)

// rawAlert mirrors the wire schema (§6) before validation into domain.Alert.
// Fields this struct does not name are collected separately by parseAlert
// and preserved verbatim in domain.Alert.Extra.
type rawAlert struct {
	Ticker     string                 `json:"ticker"`
	Action     string                 `json:"action"`
	AlertID    string                 `json:"alert_id"`
	Strategy   string                 `json:"strategy"`
	SizeMode   string                 `json:"size_mode"`
	SizeValue  float64                `json:"size_value"`
	Quantity   float64                `json:"quantity"`
	Contracts  float64                `json:"contracts"`
	Leverage   int                    `json:"leverage"`
	StopLoss   float64                `json:"stop_loss"`
	TakeProfit float64                `json:"take_profit"`
	ReduceOnly bool                   `json:"reduce_only"`
	Exchange   string                 `json:"exchange"`
	MarketType string                 `json:"market_type"`
	AccountID  string                 `json:"account_id"`
}

var validActions = map[string]domain.Action{
	"buy":       domain.ActionBuy,
	"sell":      domain.ActionSell,
	"close":     domain.ActionClose,
	"close_all": domain.ActionCloseAll,
}

// parseAlert decodes body into a domain.Alert, validating required fields,
// the action enum, and that any present numeric field is positive and
// finite. Unknown fields are preserved into Alert.Extra.
func parseAlert(body []byte) (domain.Alert, error) {
	var raw rawAlert
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Alert{}, fmt.Errorf("gateway: malformed alert JSON: %w", err)
	}

	var extra map[string]interface{}
	if err := json.Unmarshal(body, &extra); err == nil {
		for _, known := range []string{
			"ticker", "action", "alert_id", "strategy", "size_mode", "size_value",
			"quantity", "contracts", "leverage", "stop_loss", "take_profit",
			"reduce_only", "exchange", "market_type", "account_id",
		} {
			delete(extra, known)
		}
	}

	if raw.Ticker == "" {
		return domain.Alert{}, fmt.Errorf("gateway: missing required field ticker")
	}
	action, ok := validActions[raw.Action]
	if !ok {
		return domain.Alert{}, fmt.Errorf("gateway: invalid action %q", raw.Action)
	}

	for name, v := range map[string]float64{
		"size_value": raw.SizeValue, "quantity": raw.Quantity, "contracts": raw.Contracts,
		"stop_loss": raw.StopLoss, "take_profit": raw.TakeProfit,
	} {
		if v != 0 && (!isFinitePositive(v)) {
			return domain.Alert{}, fmt.Errorf("gateway: field %s must be positive and finite, got %v", name, v)
		}
	}
	if raw.Leverage < 0 {
		return domain.Alert{}, fmt.Errorf("gateway: field leverage must be positive, got %d", raw.Leverage)
	}

	alertID := raw.AlertID
	if alertID == "" {
		alertID = fingerprint(raw)
	}

	return domain.Alert{
		Ticker:     raw.Ticker,
		Action:     action,
		AlertID:    alertID,
		Strategy:   raw.Strategy,
		SizeMode:   domain.SizeMode(raw.SizeMode),
		SizeValue:  raw.SizeValue,
		Quantity:   raw.Quantity,
		Contracts:  raw.Contracts,
		Leverage:   raw.Leverage,
		StopLoss:   raw.StopLoss,
		TakeProfit: raw.TakeProfit,
		ReduceOnly: raw.ReduceOnly,
		Exchange:   domain.ExchangeTag(raw.Exchange),
		MarketType: domain.MarketType(raw.MarketType),
		AccountID:  raw.AccountID,
		Extra:      extra,
	}, nil
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// fingerprint derives a deduplication identifier for alerts that omit
// alert_id: a hash over ticker|action|strategy|size_value|epoch-floored-to-seconds.
func fingerprint(raw rawAlert) string {
	epoch := time.Now().Unix()
	basis := fmt.Sprintf("%s|%s|%s|%v|%d", raw.Ticker, raw.Action, raw.Strategy, raw.SizeValue, epoch)
	sum := sha256.Sum256([]byte(basis))
	return "fp_" + hex.EncodeToString(sum[:16])
}
