package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/signalbridge/internal/domain"
	"github.com/aristath/signalbridge/internal/events"
	"github.com/aristath/signalbridge/internal/queue"
	"github.com/aristath/signalbridge/internal/ratelimit"
	"github.com/aristath/signalbridge/internal/repository"
)

// maxBodyBytes bounds the alert payload the gateway will read before
// rejecting, guarding against abusive or malformed oversized requests.
const maxBodyBytes = 1 << 20

// Handler implements the intake gateway's single HTTP ingress operation.
type Handler struct {
	log       zerolog.Logger
	webhooks  *repository.WebhookRepository
	accounts  *repository.AccountRepository
	jobs      *repository.JobRepository
	limiter   *ratelimit.Limiter
	queue     *queue.RedisQueue
	bus       *events.Bus
}

func NewHandler(
	log zerolog.Logger,
	webhooks *repository.WebhookRepository,
	accounts *repository.AccountRepository,
	jobs *repository.JobRepository,
	limiter *ratelimit.Limiter,
	q *queue.RedisQueue,
	bus *events.Bus,
) *Handler {
	return &Handler{
		log: log.With().Str("component", "gateway").Logger(),
		webhooks: webhooks, accounts: accounts, jobs: jobs,
		limiter: limiter, queue: q, bus: bus,
	}
}

// Routes mounts the gateway's endpoints onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhook/tv/{urlPath}", h.handleWebhook)
}

type acceptResponse struct {
	AlertID   string `json:"alert_id"`
	JobID     string `json:"job_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type rejectResponse struct {
	Error string          `json:"error"`
	Code  domain.ErrorKind `json:"code"`
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	urlPath := chi.URLParam(r, "urlPath")

	webhook, err := h.webhooks.GetByURLPath(ctx, urlPath)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrConfigNoAccount, "unknown webhook")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: lookup webhook failed")
		writeError(w, http.StatusInternalServerError, domain.ErrInternal, "store unavailable")
		return
	}
	if webhook.Status != domain.WebhookActive {
		writeError(w, http.StatusNotFound, domain.ErrConfigNoAccount, "webhook not active")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInternal, "failed to read request body")
		return
	}

	if sig := r.Header.Get("x-tradingview-signature"); webhook.Public {
		if sig != "" && !verifySignature(webhook.Secret, body, sig) {
			h.recordOutcome(ctx, webhook.ID, false)
			writeError(w, http.StatusUnauthorized, domain.ErrAuthSignatureInvalid, "signature mismatch")
			return
		}
	} else {
		if !verifySignature(webhook.Secret, body, r.Header.Get("x-tradingview-signature")) {
			h.recordOutcome(ctx, webhook.ID, false)
			writeError(w, http.StatusUnauthorized, domain.ErrAuthSignatureInvalid, "signature missing or invalid")
			return
		}
	}

	if err := h.limiter.Allow(ctx, webhook.ID, webhook.RateLimit); err != nil {
		h.recordOutcome(ctx, webhook.ID, false)
		writeError(w, http.StatusTooManyRequests, domain.ErrRateLimitExceeded, err.Error())
		return
	}

	alert, err := parseAlert(body)
	if err != nil {
		h.recordOutcome(ctx, webhook.ID, false)
		writeError(w, http.StatusBadRequest, domain.ErrConfigInvalidSize, err.Error())
		return
	}

	accountID := alert.AccountID
	if accountID == "" {
		account, err := h.accounts.GetPrimaryForUser(ctx, webhook.OwnerID, alert.Exchange)
		if errors.Is(err, repository.ErrNotFound) {
			h.recordOutcome(ctx, webhook.ID, false)
			writeError(w, http.StatusBadRequest, domain.ErrConfigNoAccount, "no resolvable account for exchange")
			return
		}
		if err != nil {
			h.log.Error().Err(err).Msg("gateway: resolve account failed")
			writeError(w, http.StatusInternalServerError, domain.ErrInternal, "store unavailable")
			return
		}
		accountID = account.ID
	}

	job := domain.Job{
		ID:        uuid.NewString(),
		AlertID:   alert.AlertID,
		AccountID: accountID,
		UserID:    webhook.OwnerID,
		Alert:     alert,
		Status:    domain.JobPending,
		CreatedAt: time.Now(),
	}

	persisted, created, err := h.jobs.InsertOrGetExisting(ctx, job)
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: insert job failed")
		writeError(w, http.StatusInternalServerError, domain.ErrInternal, "store unavailable")
		return
	}

	if created {
		msg := queueMessageFor(persisted)
		if err := h.queue.Enqueue(ctx, msg); err != nil {
			h.log.Error().Err(err).Str("job_id", persisted.ID).Msg("gateway: enqueue failed")
			h.recordOutcome(ctx, webhook.ID, false)
			writeError(w, http.StatusInternalServerError, domain.ErrInternal, "enqueue failed")
			return
		}
	}

	h.recordOutcome(ctx, webhook.ID, true)

	writeJSON(w, http.StatusOK, acceptResponse{
		AlertID: persisted.AlertID, JobID: persisted.ID, Duplicate: !created,
	})
}

func (h *Handler) recordOutcome(ctx context.Context, webhookID string, success bool) {
	status, err := h.webhooks.RecordOutcome(ctx, webhookID, success)
	if err != nil {
		h.log.Error().Err(err).Msg("gateway: record webhook outcome failed")
		return
	}
	if status == domain.WebhookPaused {
		h.bus.Emit(events.WebhookPaused, "gateway", map[string]interface{}{"webhook_id": webhookID})
	}
}

func queueMessageFor(job domain.Job) queue.Message {
	return queue.Message{
		ID: job.ID, Type: queue.MessageExecuteAlert, JobID: job.ID, AccountID: job.AccountID,
		DedupKey: job.AlertID, Priority: queue.PriorityHigh, EnqueuedAt: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, reason string) {
	writeJSON(w, status, rejectResponse{Error: reason, Code: kind})
}
