package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/signalbridge/internal/domain"
)

// requestJob is one queued HTTP call; result is delivered on done.
type requestJob struct {
	ctx    context.Context
	method string
	url    string
	body   []byte
	signed bool
	done   chan requestResult
}

type requestResult struct {
	status int
	body   []byte
	err    error
}

// signedHTTPClient is the shared single-flight worker-queue REST client
// every adapter embeds: a buffered job channel drained by one background
// goroutine enforcing a minimum inter-request delay, matching this
// lineage's own rate-limited upstream client rather than fanning out
// unbounded concurrent HTTP calls per adapter instance.
type signedHTTPClient struct {
	baseURL    string
	apiKey     string
	secret     string
	passphrase string
	httpClient *http.Client

	minDelay time.Duration

	requestQueue chan requestJob
	stopOnce     sync.Once
	stopChan     chan struct{}
	workerDone   chan struct{}
}

func newSignedHTTPClient(baseURL, apiKey, secret, passphrase string, minDelay time.Duration) *signedHTTPClient {
	c := &signedHTTPClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		secret:       secret,
		passphrase:   passphrase,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		minDelay:     minDelay,
		requestQueue: make(chan requestJob, 64),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}
	go c.worker()
	return c
}

func (c *signedHTTPClient) worker() {
	defer close(c.workerDone)
	ticker := time.NewTicker(c.minDelay)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case job := <-c.requestQueue:
			<-ticker.C
			status, body, err := c.doRequest(job)
			job.done <- requestResult{status: status, body: body, err: err}
		}
	}
}

func (c *signedHTTPClient) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		<-c.workerDone
	})
}

func (c *signedHTTPClient) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Call enqueues an HTTP call and blocks on its result, translating any
// non-2xx status or transport error into the taxonomy (§4.E: adapter-level
// errors are classified before returning to callers).
func (c *signedHTTPClient) Call(ctx context.Context, method, path string, body interface{}, signed bool) ([]byte, error) {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, domain.Classify(domain.ErrInternal, "marshal request body", err)
		}
	}

	job := requestJob{
		ctx:    ctx,
		method: method,
		url:    c.baseURL + path,
		body:   payload,
		signed: signed,
		done:   make(chan requestResult, 1),
	}

	select {
	case c.requestQueue <- job:
	case <-ctx.Done():
		return nil, domain.Classify(domain.ErrExchangeTransient, "request queue unavailable", ctx.Err())
	}

	select {
	case res := <-job.done:
		if res.err != nil {
			return nil, domain.Classify(domain.ErrExchangeTransient, "transport error", res.err)
		}
		if res.status == 401 || res.status == 403 {
			return nil, domain.Classify(domain.ErrAuthCredentialsInvalid, fmt.Sprintf("status %d", res.status), nil)
		}
		if res.status == 429 {
			return nil, domain.Classify(domain.ErrRateExchangeThrottled, "exchange returned 429", nil)
		}
		if res.status >= 500 {
			return nil, domain.Classify(domain.ErrExchangeTransient, fmt.Sprintf("status %d", res.status), nil)
		}
		if res.status >= 400 {
			return nil, domain.Classify(domain.ErrExchangeLogical, fmt.Sprintf("status %d: %s", res.status, truncate(res.body, 200)), nil)
		}
		return res.body, nil
	case <-ctx.Done():
		return nil, domain.Classify(domain.ErrExchangeTransient, "request cancelled", ctx.Err())
	}
}

func (c *signedHTTPClient) doRequest(job requestJob) (int, []byte, error) {
	req, err := http.NewRequestWithContext(job.ctx, job.method, job.url, bytes.NewReader(job.body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if job.signed {
		ts := fmt.Sprintf("%d", time.Now().UnixMilli())
		message := ts + job.method + job.url + string(job.body)
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("X-Api-Timestamp", ts)
		req.Header.Set("X-Api-Signature", c.sign(message))
		if c.passphrase != "" {
			req.Header.Set("X-Api-Passphrase", c.passphrase)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
