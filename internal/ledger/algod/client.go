// Package algod adapts an algod-style REST node to ledger.Ledger.
package algod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"consentledger/internal/ledger"
	"consentledger/internal/platform/tracer"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/platform/circuit"
)

const (
	pathParams  = "/v2/transactions/params"
	pathSubmit  = "/v2/transactions"
	pathPending = "/v2/transactions/pending/"

	tokenHeader    = "X-Algo-API-Token"
	validityRounds = 1000
	maxBodyBytes   = 1 << 20
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the node client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RequestsPerSecond paces outbound calls; zero means unlimited.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        HTTPDoer
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	doer    HTTPDoer
	limiter *rate.Limiter
	breaker *circuit.Breaker
	logger  *slog.Logger
	tracer  tracer.Tracer
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid algod base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL: base.String(),
		token:   cfg.Token,
		doer:    doer,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: circuit.New("algod"),
		tracer:  tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type paramsResponse struct {
	Fee         uint64 `json:"fee"`
	MinFee      uint64 `json:"min-fee"`
	LastRound   uint64 `json:"last-round"`
	GenesisID   string `json:"genesis-id"`
	GenesisHash []byte `json:"genesis-hash"`
}

type submitResponse struct {
	TxID string `json:"txId"`
}

type pendingResponse struct {
	ConfirmedRound uint64 `json:"confirmed-round"`
	PoolError      string `json:"pool-error"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// SubmissionParams fetches fee and validity-window values.
func (c *Client) SubmissionParams(ctx context.Context) (ledger.Params, error) {
	var body paramsResponse
	status, raw, err := c.call(ctx, http.MethodGet, pathParams, nil, "")
	if err != nil {
		return ledger.Params{}, dErrors.Wrap(err, dErrors.CodeSubmissionError, "fetch submission parameters")
	}
	if status != http.StatusOK {
		return ledger.Params{}, dErrors.New(dErrors.CodeSubmissionError,
			fmt.Sprintf("fetch submission parameters: %s", describe(status, raw)))
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ledger.Params{}, dErrors.Wrap(err, dErrors.CodeSubmissionError, "decode submission parameters")
	}
	fee := max(body.Fee, body.MinFee)
	return ledger.Params{
		Fee:         fee,
		FirstValid:  body.LastRound,
		LastValid:   body.LastRound + validityRounds,
		GenesisID:   body.GenesisID,
		GenesisHash: body.GenesisHash,
	}, nil
}

// Submit posts a signed blob. A 4xx answer is a rejection of the payload.
func (c *Client) Submit(ctx context.Context, signed []byte) (string, error) {
	status, raw, err := c.call(ctx, http.MethodPost, pathSubmit, signed, "application/x-binary")
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSubmissionError, "submit transaction")
	}
	switch {
	case status == http.StatusOK:
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
		return "", dErrors.New(dErrors.CodeSubmissionRejected, describe(status, raw))
	default:
		return "", dErrors.New(dErrors.CodeSubmissionError, describe(status, raw))
	}
	var body submitResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.TxID == "" {
		return "", dErrors.New(dErrors.CodeSubmissionError, "submit response carried no transaction id")
	}
	return body.TxID, nil
}

// Status queries the pending-transaction endpoint. 404 means the node does
// not know the transaction.
func (c *Client) Status(ctx context.Context, txID string) (ledger.TxStatus, error) {
	status, raw, err := c.call(ctx, http.MethodGet, pathPending+url.PathEscape(txID), nil, "")
	if err != nil {
		return ledger.TxStatus{}, dErrors.Wrap(err, dErrors.CodeTransientQuery, "query transaction status")
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return ledger.TxStatus{NotFound: true}, nil
	default:
		return ledger.TxStatus{}, dErrors.New(dErrors.CodeTransientQuery, describe(status, raw))
	}
	var body pendingResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return ledger.TxStatus{}, dErrors.Wrap(err, dErrors.CodeTransientQuery, "decode transaction status")
	}
	return ledger.TxStatus{ConfirmedRound: body.ConfirmedRound, PoolError: body.PoolError}, nil
}

var errCircuitOpen = errors.New("algod circuit open")

// call performs one paced request guarded by the breaker. Transport errors and
// 5xx/429 answers count as breaker failures.
func (c *Client) call(ctx context.Context, method, path string, body []byte, contentType string) (status int, raw []byte, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanLedgerCall, tracer.String(tracer.AttrEndpoint, endpointName(path)))
	defer func() { span.End(err) }()

	if !c.breaker.Allow() {
		return 0, nil, errCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		c.recordFailure(ctx)
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.recordFailure(ctx)
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.recordFailure(ctx)
	} else {
		c.recordSuccess(ctx)
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) recordFailure(ctx context.Context) {
	if change := c.breaker.RecordFailure(); change.Opened {
		c.log(ctx, slog.LevelWarn, "algod circuit opened", "breaker", c.breaker.Name())
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	if change := c.breaker.RecordSuccess(); change.Closed {
		c.log(ctx, slog.LevelInfo, "algod circuit closed", "breaker", c.breaker.Name())
	}
}

func (c *Client) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(ctx, level, msg, args...)
}

func endpointName(path string) string {
	switch {
	case path == pathParams:
		return "params"
	case path == pathSubmit:
		return "submit"
	default:
		return "pending"
	}
}

func describe(status int, raw []byte) string {
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return fmt.Sprintf("node answered %d: %s", status, e.Message)
	}
	return fmt.Sprintf("node answered %d", status)
}
