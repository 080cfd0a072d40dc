package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// AccountLister is the read-only account enumeration the scheduler needs;
// satisfied by *repository.AccountRepository without importing it here.
type AccountLister interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// Scheduler drives the reconciler's per-tick account enumeration (ticker
// based, matching this lineage's own time-based job scheduler) and any
// cron-based periodic jobs such as the audit archival export.
type Scheduler struct {
	q        *RedisQueue
	accounts AccountLister
	log      zerolog.Logger
	interval time.Duration
	cron     *cron.Cron

	inFlight sync.Map // accountID -> struct{}, guards re-entrance

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(q *RedisQueue, accounts AccountLister, log zerolog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		q:        q,
		accounts: accounts,
		log:      log,
		interval: interval,
		cron:     cron.New(),
		stop:     make(chan struct{}),
	}
}

// AddCronJob registers fn to run on the given cron spec (e.g. the archival
// exporter's daily sweep), delegating to robfig/cron/v3.
func (s *Scheduler) AddCronJob(spec string, fn func()) error {
	_, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("scheduler: add cron job %q: %w", spec, err)
	}
	return nil
}

// Start begins the reconciliation ticker and the cron scheduler. It returns
// immediately; call Stop to end both.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.wg.Add(1)
	go s.reconcileLoop(ctx)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueueReconcileTick(ctx)
		}
	}
}

// enqueueReconcileTick enumerates active accounts and enqueues one
// reconcile message per account, staggered by up to 10 seconds of jitter,
// skipping any account whose previous cycle is still in flight.
func (s *Scheduler) enqueueReconcileTick(ctx context.Context) {
	ids, err := s.accounts.ListActiveIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduler: list active accounts failed")
		return
	}

	for _, accountID := range ids {
		if _, busy := s.inFlight.LoadOrStore(accountID, struct{}{}); busy {
			continue
		}

		jitter := time.Duration(rand.Intn(10_000)) * time.Millisecond
		msg := Message{
			ID:          uuid.NewString(),
			Type:        MessageReconcileAccount,
			AccountID:   accountID,
			Priority:    PriorityMedium,
			EnqueuedAt:  time.Now(),
			AvailableAt: time.Now().Add(jitter),
		}
		if err := s.q.Enqueue(ctx, msg); err != nil {
			s.log.Error().Err(err).Str("account_id", accountID).Msg("scheduler: enqueue reconcile failed")
			s.inFlight.Delete(accountID)
		}
	}
}

// ReleaseAccount must be called by the reconciler when an account's cycle
// finishes (success or failure), clearing the re-entrance guard.
func (s *Scheduler) ReleaseAccount(accountID string) {
	s.inFlight.Delete(accountID)
}
