// Package reconciler implements the periodic per-account reconciliation
// cycle (§4.D): pull authoritative exchange state, replace the local
// mirror, record new fills, and snapshot PnL.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/signalbridge/internal/breaker"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/events"
	"github.com/aristath/signalbridge/internal/exchange"
	"github.com/aristath/signalbridge/internal/queue"
	"github.com/aristath/signalbridge/internal/repository"
	"github.com/aristath/signalbridge/internal/retry"
	"github.com/aristath/signalbridge/internal/vault"
)

// releaser is satisfied by *queue.Scheduler; narrowed here so this package
// doesn't import queue for anything but the message type constant.
type releaser interface {
	ReleaseAccount(accountID string)
}

// Reconciler consumes reconcile_account messages and runs one cycle per
// delivery, always releasing the scheduler's re-entrance guard afterward.
type Reconciler struct {
	log       zerolog.Logger
	q         *queue.RedisQueue
	scheduler releaser
	vault     *vault.Vault
	registry  *exchange.Registry
	breakers  *breaker.Registry

	accounts  *repository.AccountRepository
	orders    *repository.OrderRepository
	trades    *repository.TradeRepository
	positions *repository.PositionRepository
	pnl       *repository.PnLRepository
	bus       *events.Bus
}

func New(
	log zerolog.Logger,
	q *queue.RedisQueue,
	scheduler releaser,
	v *vault.Vault,
	registry *exchange.Registry,
	breakers *breaker.Registry,
	accounts *repository.AccountRepository,
	orders *repository.OrderRepository,
	trades *repository.TradeRepository,
	positions *repository.PositionRepository,
	pnl *repository.PnLRepository,
	bus *events.Bus,
) *Reconciler {
	return &Reconciler{
		log: log.With().Str("component", "reconciler").Logger(),
		q: q, scheduler: scheduler, vault: v, registry: registry, breakers: breakers,
		accounts: accounts, orders: orders, trades: trades, positions: positions, pnl: pnl, bus: bus,
	}
}

// Run pops and handles reconcile_account deliveries until ctx is cancelled.
func (rc *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d, err := rc.q.Pop(ctx)
		if err != nil {
			rc.log.Error().Err(err).Msg("reconciler: pop failed")
			time.Sleep(time.Second)
			continue
		}
		if d == nil {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if d.Message.Type != queue.MessageReconcileAccount {
			// Not ours: put it back on the ready set for the executor worker.
			_ = d.Ack()
			if err := rc.q.Enqueue(ctx, d.Message); err != nil {
				rc.log.Error().Err(err).Str("message_id", d.Message.ID).Msg("reconciler: requeue foreign message failed")
			}
			continue
		}

		accountID := d.Message.AccountID
		if err := rc.cycle(ctx, accountID); err != nil {
			rc.log.Warn().Err(err).Str("account_id", accountID).Msg("reconciler: cycle failed")
			_ = d.Nack(domain.KindOf(err).Retryable())
		} else {
			_ = d.Ack()
		}
		rc.scheduler.ReleaseAccount(accountID)
	}
}

// cycle runs one reconciliation pass for accountID: sync positions, sync
// new trades and their order fills, snapshot PnL, and broadcast the result.
func (rc *Reconciler) cycle(ctx context.Context, accountID string) error {
	account, err := rc.accounts.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("reconciler: load account: %w", err)
	}
	if !account.Active {
		return nil
	}

	creds, err := rc.vault.DecryptCredentials(account.APIKeyCipher, account.SecretCipher, account.PassphraseCipher)
	if err != nil {
		return fmt.Errorf("reconciler: decrypt credentials: %w", err)
	}
	adapter, err := rc.registry.Get(account.Exchange, exchange.Credentials{
		APIKey: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase,
	}, account.Testnet)
	if err != nil {
		return fmt.Errorf("reconciler: resolve adapter: %w", err)
	}

	breakerKey := fmt.Sprintf("exchange-reconcile-%s", account.Exchange)

	// Positions sync is its own retry/breaker call: a failure here aborts
	// the whole cycle (§4.D — "partial state is worse than stale").
	var symbols []string
	err = rc.breakers.Execute(ctx, breakerKey, func(ctx context.Context) error {
		return retry.Do(ctx, rc.log, retry.ReconcilePolicy(), "reconcile_positions", func(ctx context.Context) error {
			syncedSymbols, syncErr := rc.syncPositions(ctx, account, adapter)
			if syncErr != nil {
				return syncErr
			}
			symbols = syncedSymbols
			return nil
		})
	})
	if err != nil {
		rc.deactivateIfCredentialsInvalid(ctx, account, err)
		return err
	}

	// Trades sync is a separate retry/breaker call: a failure here must not
	// skip the PnL snapshot, which still reflects the positions sync above.
	if err := rc.breakers.Execute(ctx, breakerKey, func(ctx context.Context) error {
		return retry.Do(ctx, rc.log, retry.ReconcilePolicy(), "reconcile_trades", func(ctx context.Context) error {
			return rc.syncTrades(ctx, account, adapter, symbols)
		})
	}); err != nil {
		rc.deactivateIfCredentialsInvalid(ctx, account, err)
		rc.log.Warn().Err(err).Str("account_id", account.ID).Msg("reconciler: trades sync failed, snapshotting pnl off current positions")
	}

	if err := rc.snapshotPnL(ctx, account); err != nil {
		rc.log.Warn().Err(err).Str("account_id", account.ID).Msg("reconciler: pnl snapshot failed")
	}

	rc.bus.Emit(events.AccountUpdate, "reconciler", map[string]interface{}{
		"account_id": account.ID,
		"user_id":    account.OwnerID,
		"exchange":   string(account.Exchange),
	})
	return nil
}

// deactivateIfCredentialsInvalid flags the account inactive the moment an
// exchange call classifies as auth/credentials_invalid, so the scheduler
// stops retrying a dead credential until an operator reactivates it.
func (rc *Reconciler) deactivateIfCredentialsInvalid(ctx context.Context, account domain.ExchangeAccount, err error) {
	if domain.KindOf(err) != domain.ErrAuthCredentialsInvalid {
		return
	}
	rc.log.Error().Str("account_id", account.ID).Msg("reconciler: credentials invalid, deactivating account")
	_ = rc.accounts.Deactivate(ctx, account.ID)
}

// syncPositions replaces the local position mirror with the exchange's
// current set, and returns the distinct symbols seen — either currently
// open or open just before this cycle — so syncTrades knows which symbols
// to pull fills for.
func (rc *Reconciler) syncPositions(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter) ([]string, error) {
	previouslyOpen, err := rc.positions.ListOpenByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("reconciler: list prior positions: %w", err)
	}

	live, err := adapter.GetPositions(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range live {
		live[i].AccountID = account.ID
		live[i].Exchange = account.Exchange
	}
	if err := rc.positions.ReplaceForAccount(ctx, account.ID, live); err != nil {
		return nil, fmt.Errorf("reconciler: replace positions: %w", err)
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, p := range previouslyOpen {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	for _, p := range live {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	return symbols, nil
}

func (rc *Reconciler) syncTrades(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, symbols []string) error {
	since, err := rc.trades.MostRecentTimestamp(ctx, account.ID)
	if err != nil {
		if err != repository.ErrNotFound {
			return fmt.Errorf("reconciler: load watermark: %w", err)
		}
		since = time.Now().Add(-24 * time.Hour)
	}

	for _, symbol := range symbols {
		fresh, err := adapter.GetTrades(ctx, symbol, since)
		if err != nil {
			return err
		}
		rc.ingestTrades(ctx, account, fresh)
	}
	return nil
}

func (rc *Reconciler) ingestTrades(ctx context.Context, account domain.ExchangeAccount, fresh []domain.Trade) {
	for _, t := range fresh {
		t.AccountID = account.ID
		inserted, err := rc.trades.InsertIfNew(ctx, t)
		if err != nil {
			rc.log.Warn().Err(err).Str("trade_id", t.TradeID).Msg("reconciler: insert trade failed")
			continue
		}
		if !inserted {
			continue
		}

		filled, sumErr := rc.trades.SumByOrder(ctx, t.OrderID)
		if sumErr != nil {
			rc.log.Warn().Err(sumErr).Str("order_id", t.OrderID).Msg("reconciler: sum trades by order failed")
			continue
		}
		order, getErr := rc.orders.GetByExchangeOrderID(ctx, account.ID, t.OrderID)
		if getErr != nil {
			continue // fill for an order we don't track locally (e.g. manual exchange activity)
		}
		status := domain.OrderPartiallyFilled
		remaining := order.Quantity - filled
		if remaining <= 0 {
			status = domain.OrderFilled
			remaining = 0
		}
		if updErr := rc.orders.UpdateFill(ctx, order.ID, filled, remaining, status); updErr != nil {
			rc.log.Warn().Err(updErr).Str("order_id", order.ID).Msg("reconciler: update fill failed")
		}
	}
}

func (rc *Reconciler) snapshotPnL(ctx context.Context, account domain.ExchangeAccount) error {
	openPositions, err := rc.positions.ListOpenByAccount(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("snapshot: list open positions: %w", err)
	}

	var realized, unrealized float64
	for _, p := range openPositions {
		realized += p.RealizedPnL
		unrealized += p.UnrealizedPnL
	}
	equity := realized + unrealized

	record := domain.PnLRecord{
		ID: uuid.NewString(), AccountID: account.ID, UserID: account.OwnerID,
		RealizedPnL: realized, UnrealPnL: unrealized, Equity: equity, Timestamp: time.Now(),
	}
	if err := rc.pnl.Insert(ctx, record); err != nil {
		return fmt.Errorf("snapshot: insert pnl record: %w", err)
	}
	return nil
}
