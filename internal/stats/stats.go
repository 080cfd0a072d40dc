// Package stats computes the secondary, health-only realized-PnL statistic
// described in §11: a descriptive summary of recent trade notionals, never
// the authoritative PnL figure (that is the exchange-reported position
// field the reconciler snapshots directly).
package stats

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/signalbridge/internal/repository"
)

// Summary is a descriptive snapshot of an account's recent trade activity.
type Summary struct {
	AccountID string
	Window    time.Duration
	Count     int
	Mean      float64
	StdDev    float64
}

// Calculator derives Summary values from trade history. It holds no state
// of its own beyond the repository it reads from.
type Calculator struct {
	trades *repository.TradeRepository
}

func NewCalculator(trades *repository.TradeRepository) *Calculator {
	return &Calculator{trades: trades}
}

// Summarize computes mean and standard deviation of per-trade notionals for
// accountID over the trailing window. An account with fewer than two trades
// in the window gets a zero StdDev rather than an error, since gonum's
// stat.StdDev is only meaningful with at least two samples.
func (c *Calculator) Summarize(ctx context.Context, accountID string, window time.Duration) (Summary, error) {
	since := time.Now().Add(-window)
	deltas, err := c.trades.RealizedDeltasSince(ctx, accountID, since)
	if err != nil {
		return Summary{}, fmt.Errorf("stats: load realized deltas: %w", err)
	}

	summary := Summary{AccountID: accountID, Window: window, Count: len(deltas)}
	if len(deltas) == 0 {
		return summary, nil
	}

	summary.Mean = stat.Mean(deltas, nil)
	if len(deltas) >= 2 {
		summary.StdDev = stat.StdDev(deltas, nil)
	}
	return summary, nil
}
