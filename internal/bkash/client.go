// Package bkash implements the tokenized checkout API of the bKash payment
// gateway: token grant, payment creation and payment execution.
package bkash

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StatusOK is the gateway status code of a successful call.
const StatusOK = "0000"

const maxResponseSize = 1 << 20

// Config holds gateway endpoint and merchant credentials.
type Config struct {
	BaseURL   string        `default:"https://tokenized.sandbox.bka.sh/v1.2.0-beta" usage:"bKash tokenized checkout base URL" flag:"bkash-base-url"`
	Username  string        `usage:"bKash merchant username"`
	Password  string        `usage:"bKash merchant password"`
	AppKey    string        `usage:"bKash application key" flag:"bkash-app-key"`
	AppSecret string        `usage:"bKash application secret" flag:"bkash-app-secret"`
	Timeout   time.Duration `default:"30s" usage:"Gateway HTTP request timeout"`
	TokenTTL  time.Duration `default:"1h" usage:"Reuse a granted token for this long" flag:"bkash-token-ttl"`
	Currency  string        `default:"BDT" usage:"Payment currency"`
	Intent    string        `default:"sale" usage:"Payment intent"`
	Mode      string        `default:"0011" usage:"Tokenized checkout mode"`
}

// GatewayError reports a call the gateway rejected, either with a non-OK
// status code or a non-2xx HTTP status.
type GatewayError struct {
	Op            string
	HTTPStatus    int
	StatusCode    string
	StatusMessage string
}

func (e *GatewayError) Error() string {
	if e.StatusCode != "" {
		return fmt.Sprintf("bkash %s: status %s: %s", e.Op, e.StatusCode, e.StatusMessage)
	}
	return fmt.Sprintf("bkash %s: http %d", e.Op, e.HTTPStatus)
}

// CreateRequest is the input of CreatePayment.
type CreateRequest struct {
	Amount                decimal.Decimal
	CallbackURL           string
	PayerReference        string
	MerchantInvoiceNumber string
}

// CreateResponse is the gateway answer to a create call.
type CreateResponse struct {
	StatusCode        string
	StatusMessage     string
	PaymentID         string
	BkashURL          string
	TransactionStatus string
}

// ExecuteResponse is the gateway answer to an execute call.
type ExecuteResponse struct {
	StatusCode            string
	StatusMessage         string
	PaymentID             string
	TrxID                 string
	Amount                string
	TransactionStatus     string
	CustomerMSISDN        string
	MerchantInvoiceNumber string
}

// OK reports whether the gateway accepted the execution.
func (r *ExecuteResponse) OK() bool {
	return r != nil && r.StatusCode == StatusOK
}

// PaidAmount parses the executed amount. Unparsable values yield zero.
func (r *ExecuteResponse) PaidAmount() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// TransactionID returns the gateway transaction id, falling back to the
// payment id when the gateway omitted it.
func (r *ExecuteResponse) TransactionID() string {
	if r.TrxID != "" {
		return r.TrxID
	}
	return r.PaymentID
}

type grantResponse struct {
	IDToken       string
	RefreshToken  string
	ExpiresIn     string
	StatusCode    string
	StatusMessage string
}

// Options configure optional Client dependencies.
type Options struct {
	HTTPClient     *http.Client
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client talks to the bKash tokenized checkout API.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *TokenCache
}

// NewClient creates a Client whose token is shared through store.
func NewClient(cfg Config, store TokenStore, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		var otelOpts []otelhttp.Option
		if opts.TracerProvider != nil {
			otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
		}
		if opts.MeterProvider != nil {
			otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
		}
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelOpts...),
		}
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}

	c := &Client{
		cfg:  cfg,
		http: httpClient,
	}
	c.tokens = newTokenCache(store, cfg.TokenTTL, cfg.Timeout, c.grantToken)
	return c
}

// CreatePayment starts a checkout and returns the URL the buyer must be sent
// to. A status code other than StatusOK is returned as *GatewayError.
func (c *Client) CreatePayment(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	body, err := c.authorized(ctx, "create", "/tokenized/checkout/create", encodeCreate(c.cfg, req))
	if err != nil {
		return nil, err
	}

	resp, err := decodeCreate(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode create response")
	}
	if resp.StatusCode != StatusOK || resp.BkashURL == "" {
		return &resp, &GatewayError{Op: "create", HTTPStatus: http.StatusOK, StatusCode: resp.StatusCode, StatusMessage: resp.StatusMessage}
	}

	zctx.From(ctx).Debug("Gateway payment created",
		zap.String("payment_id", resp.PaymentID),
		zap.String("invoice", req.MerchantInvoiceNumber),
	)
	return &resp, nil
}

// ExecutePayment finalizes a payment the buyer authorized. The response is
// returned even when its status code is not OK so callers can record it.
func (c *Client) ExecutePayment(ctx context.Context, paymentID string) (*ExecuteResponse, error) {
	body, err := c.authorized(ctx, "execute", "/tokenized/checkout/execute", encodeExecute(paymentID))
	if err != nil {
		return nil, err
	}

	resp, err := decodeExecute(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode execute response")
	}

	zctx.From(ctx).Debug("Gateway payment executed",
		zap.String("payment_id", paymentID),
		zap.String("status_code", resp.StatusCode),
		zap.String("trx_id", resp.TrxID),
	)
	return &resp, nil
}

// authorized posts body with the current token, retrying once with a fresh
// token when the gateway answers 401.
func (c *Client) authorized(ctx context.Context, op, path string, body []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "get token")
		}

		headers := http.Header{}
		headers.Set("Authorization", token)
		headers.Set("X-APP-Key", c.cfg.AppKey)

		out, err := c.post(ctx, op, path, headers, body)
		var gwErr *GatewayError
		if attempt == 0 && errors.As(err, &gwErr) && gwErr.HTTPStatus == http.StatusUnauthorized {
			c.tokens.Invalidate(token)
			continue
		}
		return out, err
	}
}

func (c *Client) grantToken(ctx context.Context) (Token, error) {
	headers := http.Header{}
	headers.Set("username", c.cfg.Username)
	headers.Set("password", c.cfg.Password)

	body, err := c.post(ctx, "grant", "/tokenized/checkout/token/grant", headers, encodeGrant(c.cfg.AppKey, c.cfg.AppSecret))
	if err != nil {
		return Token{}, err
	}

	resp, err := decodeGrant(body)
	if err != nil {
		return Token{}, errors.Wrap(err, "decode grant response")
	}
	if resp.IDToken == "" {
		return Token{}, &GatewayError{Op: "grant", HTTPStatus: http.StatusOK, StatusCode: resp.StatusCode, StatusMessage: resp.StatusMessage}
	}

	t := Token{
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ObtainedAt:   time.Now(),
	}
	if secs, err := strconv.Atoi(resp.ExpiresIn); err == nil {
		t.ExpiresIn = time.Duration(secs) * time.Second
	}

	zctx.From(ctx).Info("Gateway token granted", zap.Duration("expires_in", t.ExpiresIn))
	return t, nil
}

func (c *Client) post(ctx context.Context, op, path string, headers http.Header, body []byte) ([]byte, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", op)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "bkash %s", op)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response", op)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &GatewayError{Op: op, HTTPStatus: resp.StatusCode}
	}
	return data, nil
}
