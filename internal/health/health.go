// Package health backs the /health endpoint (§4.F): aggregate probes of
// the relational store, the queue's Redis backend, each configured
// exchange, and host memory pressure into one overall verdict.
package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/signalbridge/internal/breaker"
	"github.com/aristath/signalbridge/internal/database"
	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/exchange"
	"github.com/aristath/signalbridge/internal/stats"
)

// pnlStatsWindow is the trailing window the health report's secondary
// trade-derived PnL statistic (§11) is computed over.
const pnlStatsWindow = 24 * time.Hour

// Status is the overall verdict a probe round produces.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "unhealthy"
)

// memoryThresholdPercent flags the host as degraded once used memory
// crosses this fraction, giving an operator warning before the process
// actually gets OOM-killed.
const memoryThresholdPercent = 90.0

// Probe is the result of checking one dependency.
type Probe struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the full /health response body.
type Report struct {
	Status   Status          `json:"status"`
	Probes   []Probe         `json:"probes"`
	PnLStats []stats.Summary `json:"pnl_stats,omitempty"`
}

// Checker runs the health probe round. The exchange accounts to ping are
// passed to Check as ExchangePing values; callers typically pass one
// representative account per active exchange rather than every account.
type Checker struct {
	db       *database.DB
	redis    *redis.Client
	registry *exchange.Registry
	breakers *breaker.Registry
	stats    *stats.Calculator
}

func NewChecker(db *database.DB, redisClient *redis.Client, registry *exchange.Registry, breakers *breaker.Registry, statsCalc *stats.Calculator) *Checker {
	return &Checker{db: db, redis: redisClient, registry: registry, breakers: breakers, stats: statsCalc}
}

// ExchangePing names one exchange account the checker should ping.
type ExchangePing struct {
	Exchange domain.ExchangeTag
	Creds    exchange.Credentials
	Testnet  bool
}

// Check runs every probe and aggregates the worst status seen. accountIDs
// drives the secondary, informational PnL statistic (§11); a probe failure
// there never affects the overall Status, since it is reporting-only.
func (c *Checker) Check(ctx context.Context, pings []ExchangePing, accountIDs []string) Report {
	probes := []Probe{
		c.checkDatabase(ctx),
		c.checkRedis(ctx),
		c.checkMemory(),
	}
	for _, p := range pings {
		probes = append(probes, c.checkExchange(ctx, p))
	}

	report := Report{Status: worstOf(probes), Probes: probes}
	if c.stats != nil {
		for _, accountID := range accountIDs {
			summary, err := c.stats.Summarize(ctx, accountID, pnlStatsWindow)
			if err != nil {
				continue
			}
			report.PnLStats = append(report.PnLStats, summary)
		}
	}
	return report
}

func (c *Checker) checkDatabase(ctx context.Context) Probe {
	if err := c.db.HealthCheck(ctx); err != nil {
		return Probe{Name: "database", Status: StatusDown, Detail: err.Error()}
	}
	return Probe{Name: "database", Status: StatusHealthy}
}

func (c *Checker) checkRedis(ctx context.Context) Probe {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return Probe{Name: "redis", Status: StatusDown, Detail: err.Error()}
	}
	return Probe{Name: "redis", Status: StatusHealthy}
}

func (c *Checker) checkMemory() Probe {
	v, err := mem.VirtualMemory()
	if err != nil {
		return Probe{Name: "memory", Status: StatusDegraded, Detail: err.Error()}
	}
	if v.UsedPercent >= memoryThresholdPercent {
		return Probe{Name: "memory", Status: StatusDegraded, Detail: "used memory above threshold"}
	}
	return Probe{Name: "memory", Status: StatusHealthy}
}

func (c *Checker) checkExchange(ctx context.Context, p ExchangePing) Probe {
	name := "exchange:" + string(p.Exchange)

	if state := c.breakers.State(exchangeBreakerKey(p.Exchange)); state.String() == "open" {
		return Probe{Name: name, Status: StatusDegraded, Detail: "circuit open"}
	}

	adapter, err := c.registry.Get(p.Exchange, p.Creds, p.Testnet)
	if err != nil {
		return Probe{Name: name, Status: StatusDown, Detail: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := adapter.Ping(ctx); err != nil {
		return Probe{Name: name, Status: StatusDown, Detail: err.Error()}
	}
	return Probe{Name: name, Status: StatusHealthy}
}

func exchangeBreakerKey(tag domain.ExchangeTag) string {
	return "exchange-place-order-" + string(tag)
}

func worstOf(probes []Probe) Status {
	status := StatusHealthy
	for _, p := range probes {
		switch p.Status {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
