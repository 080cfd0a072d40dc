package archival

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/repository"
)

const (
	defaultBatchSize = 500
	defaultRetention  = 90 * 24 * time.Hour
)

// Exporter periodically moves settled orders out of the relational store
// and into cold object storage, keeping the live orders table bounded.
type Exporter struct {
	log    zerolog.Logger
	store  *Store
	orders *repository.OrderRepository

	BatchSize int
	Retention time.Duration
}

func NewExporter(log zerolog.Logger, store *Store, orders *repository.OrderRepository) *Exporter {
	return &Exporter{
		log: log.With().Str("component", "archival").Logger(),
		store: store, orders: orders,
		BatchSize: defaultBatchSize, Retention: defaultRetention,
	}
}

// Run executes one export sweep: pull up to BatchSize archivable orders
// older than Retention, upload them as one newline-delimited JSON object,
// and mark them archived only after the upload succeeds.
func (e *Exporter) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-e.Retention)
	batch, err := e.orders.ArchivableBatch(ctx, cutoff, e.BatchSize)
	if err != nil {
		return fmt.Errorf("archival: load batch: %w", err)
	}
	if len(batch) == 0 {
		e.log.Debug().Msg("archival: nothing to export")
		return nil
	}

	body, err := encodeBatch(batch)
	if err != nil {
		return fmt.Errorf("archival: encode batch: %w", err)
	}

	key := objectKey(time.Now())
	if err := e.store.Put(ctx, key, body); err != nil {
		return fmt.Errorf("archival: upload batch: %w", err)
	}

	ids := make([]string, len(batch))
	for i, o := range batch {
		ids[i] = o.ID
	}
	if err := e.orders.MarkArchived(ctx, ids); err != nil {
		// The upload already landed; a retry would just duplicate the object
		// under a new key, which is a harmless enough failure mode here.
		return fmt.Errorf("archival: mark archived after successful upload: %w", err)
	}

	e.log.Info().Str("key", key).Int("count", len(batch)).Msg("archival: export complete")
	return nil
}

func encodeBatch(orders []domain.Order) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, o := range orders {
		if err := enc.Encode(o); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
