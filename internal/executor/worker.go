// Package executor implements the Execution Worker (§4.C): the ten-step
// pipeline that turns one durable Job into exchange-side effect.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/signalbridge/internal/breaker"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/exchange"
	"github.com/aristath/signalbridge/internal/queue"
	"github.com/aristath/signalbridge/internal/repository"
	"github.com/aristath/signalbridge/internal/retry"
	"github.com/aristath/signalbridge/internal/vault"
)

// Worker consumes execute_alert messages from the queue and drives them
// through the pipeline. Concurrency is bounded by Concurrency (default 5
// per §5); jobs for distinct alert identifiers run in parallel, a job
// already completed is refused outright to guard against redelivery.
type Worker struct {
	log         zerolog.Logger
	q           *queue.RedisQueue
	vault       *vault.Vault
	registry    *exchange.Registry
	breakers    *breaker.Registry
	accounts    *repository.AccountRepository
	jobs        *repository.JobRepository
	orders      *repository.OrderRepository
	positions   *repository.PositionRepository

	Concurrency int
}

func NewWorker(
	log zerolog.Logger,
	q *queue.RedisQueue,
	v *vault.Vault,
	registry *exchange.Registry,
	breakers *breaker.Registry,
	accounts *repository.AccountRepository,
	jobs *repository.JobRepository,
	orders *repository.OrderRepository,
	positions *repository.PositionRepository,
) *Worker {
	return &Worker{
		log: log.With().Str("component", "executor").Logger(),
		q: q, vault: v, registry: registry, breakers: breakers,
		accounts: accounts, jobs: jobs, orders: orders, positions: positions,
		Concurrency: 5,
	}
}

// Run pops and handles jobs until ctx is cancelled, bounding in-flight
// handlers to w.Concurrency.
func (w *Worker) Run(ctx context.Context) {
	sem := make(chan struct{}, w.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		default:
		}

		d, err := w.q.Pop(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("executor: pop failed")
			time.Sleep(time.Second)
			continue
		}
		if d == nil {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if d.Message.Type != queue.MessageExecuteAlert {
			// Not ours: put it back on the ready set for the reconciler consumer.
			_ = d.Ack()
			if err := w.q.Enqueue(ctx, d.Message); err != nil {
				w.log.Error().Err(err).Str("message_id", d.Message.ID).Msg("executor: requeue foreign message failed")
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.handle(ctx, d)
		}()
	}
}

func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	job, err := w.jobs.GetByID(ctx, d.Message.JobID)
	if err != nil {
		w.log.Error().Err(err).Str("job_id", d.Message.JobID).Msg("executor: load job failed")
		_ = d.Nack(true)
		return
	}
	if job.Status == domain.JobCompleted {
		// Idempotency guard (§4.C): a redelivered already-completed job is a no-op.
		_ = d.Ack()
		return
	}

	if err := w.jobs.MarkProcessing(ctx, job.ID); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("executor: mark processing failed")
	}

	outcome := w.execute(ctx, job)
	if outcome == nil {
		if err := w.jobs.MarkCompleted(ctx, job.ID, time.Now()); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("executor: mark completed failed")
		}
		_ = d.Ack()
		return
	}

	kind := domain.KindOf(outcome)
	if err := w.jobs.MarkFailed(ctx, job.ID, outcome.Error()); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("executor: mark failed failed")
	}
	_ = d.Nack(kind.Retryable())
}

// execute runs the full pipeline for one job, returning nil on success
// (including the "missing position on close" skip case, which completes
// the job) or a classified error otherwise.
func (w *Worker) execute(ctx context.Context, job domain.Job) error {
	account, err := w.accounts.GetByID(ctx, job.AccountID)
	if err != nil {
		return domain.Classify(domain.ErrConfigNoAccount, "load account", err)
	}
	if !account.Active {
		return domain.Classify(domain.ErrConfigAccountInactive, "account inactive", nil)
	}

	creds, err := w.vault.DecryptCredentials(account.APIKeyCipher, account.SecretCipher, account.PassphraseCipher)
	if err != nil {
		return domain.Classify(domain.ErrInternal, "decrypt credentials", err)
	}

	adapter, err := w.registry.Get(account.Exchange, exchange.Credentials{
		APIKey: creds.APIKey, Secret: creds.Secret, Passphrase: creds.Passphrase,
	}, account.Testnet)
	if err != nil {
		return err
	}

	symbol := adapter.NormalizeSymbol(job.Alert.Ticker)

	switch job.Alert.Action {
	case domain.ActionBuy, domain.ActionSell:
		return w.executeOpen(ctx, account, adapter, job, symbol)
	case domain.ActionClose:
		return w.executeClose(ctx, account, adapter, job, symbol)
	case domain.ActionCloseAll:
		return w.executeCloseAll(ctx, account, adapter, job)
	default:
		return domain.Classify(domain.ErrInternal, fmt.Sprintf("unhandled action %q", job.Alert.Action), nil)
	}
}

func (w *Worker) executeOpen(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, job domain.Job, symbol string) error {
	price, err := w.resolvePrice(ctx, account, adapter, symbol)
	if err != nil {
		return err
	}

	balances, err := adapter.GetBalance(ctx)
	if err != nil {
		return domain.Classify(domain.ErrExchangeTransient, "fetch balance", err)
	}
	freeBalance := balances["USDT"]

	qty, err := sizeOrder(job.Alert, price, freeBalance)
	if err != nil {
		return err
	}

	ok, reason, err := adapter.ValidateBalance(ctx, symbol, sideFor(job.Alert.Action), qty, price, job.Alert.Leverage)
	if err != nil {
		return domain.Classify(domain.ErrExchangeTransient, "validate balance", err)
	}
	if !ok {
		return domain.Classify(domain.ErrFundsInsufficient, reason, nil)
	}

	if job.Alert.Leverage > 1 {
		if err := adapter.SetLeverage(ctx, symbol, job.Alert.Leverage); err != nil {
			w.log.Warn().Err(err).Str("symbol", symbol).Msg("executor: set leverage failed, continuing")
		}
	}

	clientOrderID := fmt.Sprintf("tv_%s_%d", job.AlertID, time.Now().UnixMilli())
	req := exchange.OrderRequest{
		Symbol: symbol, Side: sideFor(job.Alert.Action), Amount: qty, Type: domain.OrderTypeMarket,
		ClientOrderID: clientOrderID, ReduceOnly: job.Alert.ReduceOnly,
		StopLoss: job.Alert.StopLoss, TakeProfit: job.Alert.TakeProfit,
	}

	order, err := w.submitOrder(ctx, account, adapter, req)
	if err != nil {
		return err
	}
	order.AccountID = account.ID
	if err := w.orders.Upsert(ctx, order); err != nil {
		return domain.Classify(domain.ErrInternal, "persist order", err)
	}

	if job.Alert.StopLoss > 0 || job.Alert.TakeProfit > 0 {
		w.submitProtectiveOrders(ctx, account, adapter, job, symbol, qty, clientOrderID)
	}

	return nil
}

func (w *Worker) submitProtectiveOrders(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, job domain.Job, symbol string, qty float64, clientOrderIDFamily string) {
	opposite := oppositeSide(sideFor(job.Alert.Action))
	if job.Alert.StopLoss > 0 {
		req := exchange.OrderRequest{
			Symbol: symbol, Side: opposite, Amount: qty, Type: domain.OrderTypeStop,
			Price: job.Alert.StopLoss, ClientOrderID: clientOrderIDFamily + "_sl", ReduceOnly: true,
		}
		if order, err := w.submitOrder(ctx, account, adapter, req); err != nil {
			w.log.Warn().Err(err).Msg("executor: stop-loss order failed")
		} else {
			order.AccountID = account.ID
			_ = w.orders.Upsert(ctx, order)
		}
	}
	if job.Alert.TakeProfit > 0 {
		req := exchange.OrderRequest{
			Symbol: symbol, Side: opposite, Amount: qty, Type: domain.OrderTypeTakeProfit,
			Price: job.Alert.TakeProfit, ClientOrderID: clientOrderIDFamily + "_tp", ReduceOnly: true,
		}
		if order, err := w.submitOrder(ctx, account, adapter, req); err != nil {
			w.log.Warn().Err(err).Msg("executor: take-profit order failed")
		} else {
			order.AccountID = account.ID
			_ = w.orders.Upsert(ctx, order)
		}
	}
}

func (w *Worker) executeClose(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, job domain.Job, symbol string) error {
	pos, err := w.positions.GetOpen(ctx, account.ID, symbol)
	if errors.Is(err, repository.ErrNotFound) {
		w.log.Info().Str("symbol", symbol).Str("account_id", account.ID).Msg("executor: close requested for non-existent position, skipping")
		return nil
	}
	if err != nil {
		return domain.Classify(domain.ErrInternal, "load position", err)
	}
	return w.closePosition(ctx, account, adapter, job, pos)
}

func (w *Worker) executeCloseAll(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, job domain.Job) error {
	positions, err := w.positions.ListOpenByAccount(ctx, account.ID)
	if err != nil {
		return domain.Classify(domain.ErrInternal, "list open positions", err)
	}
	if len(positions) == 0 {
		return nil
	}

	var anySucceeded bool
	var lastErr error
	for _, pos := range positions {
		if err := w.closePosition(ctx, account, adapter, job, pos); err != nil {
			lastErr = err
			w.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("executor: close_all leg failed")
			continue
		}
		anySucceeded = true
	}
	if !anySucceeded {
		if lastErr != nil {
			return lastErr
		}
		return domain.Classify(domain.ErrInternal, "close_all: no positions closed", nil)
	}
	return nil
}

func (w *Worker) closePosition(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, job domain.Job, pos domain.Position) error {
	side := domain.SideSell
	if pos.Side == domain.PositionShort {
		side = domain.SideBuy
	}
	clientOrderID := fmt.Sprintf("tv_close_%s_%d", job.AlertID, time.Now().UnixMilli())
	req := exchange.OrderRequest{
		Symbol: pos.Symbol, Side: side, Amount: pos.Size, Type: domain.OrderTypeMarket,
		ClientOrderID: clientOrderID, ReduceOnly: true,
	}
	order, err := w.submitOrder(ctx, account, adapter, req)
	if err != nil {
		return err
	}
	order.AccountID = account.ID
	if err := w.orders.Upsert(ctx, order); err != nil {
		return domain.Classify(domain.ErrInternal, "persist close order", err)
	}
	return nil
}

// resolvePrice runs the price-source fallback chain: adapter ticker, then
// mark price of the currently open position, then the most recent open
// order's price.
func (w *Worker) resolvePrice(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, symbol string) (float64, error) {
	breakerKey := fmt.Sprintf("exchange-ticker-%s", account.Exchange)
	var ticker domain.Ticker
	err := w.breakers.Execute(ctx, breakerKey, func(ctx context.Context) error {
		return retry.Do(ctx, w.log, retry.DefaultPolicy(), "get_ticker", func(ctx context.Context) error {
			t, err := adapter.GetTicker(ctx, symbol)
			if err != nil {
				return err
			}
			ticker = t
			return nil
		})
	})
	if err == nil && ticker.Price > 0 {
		return ticker.Price, nil
	}

	if pos, posErr := w.positions.GetOpen(ctx, account.ID, symbol); posErr == nil && pos.MarkPrice > 0 {
		return pos.MarkPrice, nil
	}

	if price, priceErr := w.orders.MostRecentOpenOrderPrice(ctx, account.ID, symbol); priceErr == nil && price > 0 {
		return price, nil
	}

	return 0, domain.Classify(domain.ErrPriceFeedUnavailable, "no price source yielded a positive price", err)
}

// submitOrder places req through the circuit breaker keyed per exchange,
// tagging the adapter call with a fresh idempotency-safe client order id if
// the caller didn't already set one.
func (w *Worker) submitOrder(ctx context.Context, account domain.ExchangeAccount, adapter exchange.Adapter, req exchange.OrderRequest) (domain.Order, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = "tv_" + uuid.NewString()
	}

	breakerKey := fmt.Sprintf("exchange-place-order-%s", account.Exchange)
	var order domain.Order
	err := w.breakers.Execute(ctx, breakerKey, func(ctx context.Context) error {
		return retry.Do(ctx, w.log, retry.DefaultPolicy(), "place_order", func(ctx context.Context) error {
			o, err := adapter.PlaceOrder(ctx, req)
			if err != nil {
				return err
			}
			order = o
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	order.Exchange = account.Exchange
	return order, nil
}

func sideFor(action domain.Action) domain.Side {
	if action == domain.ActionSell {
		return domain.SideSell
	}
	return domain.SideBuy
}

func oppositeSide(s domain.Side) domain.Side {
	if s == domain.SideBuy {
		return domain.SideSell
	}
	return domain.SideBuy
}
