package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

const (
	defaultBaseURL = "https://api.razorpay.com"
	defaultTimeout = 10 * time.Second
)

var (
	errKeyIDRequired     = errors.New("payment gateway key id is required")
	errKeySecretRequired = errors.New("payment gateway key secret is required")

	// ErrTimeout marks a request whose outcome at the gateway is unknown.
	ErrTimeout = errors.New("payment gateway timeout")
	// ErrSignatureMismatch is returned when a checkout callback fails HMAC
	// verification.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
)

// Payment statuses reported by the gateway.
const (
	PaymentCreated    = "created"
	PaymentAuthorized = "authorized"
	PaymentCaptured   = "captured"
	PaymentFailed     = "failed"
	PaymentRefunded   = "refunded"
)

// Client is the settlement-facing view of the payment gateway.
type Client interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	VerifySignature(gatewayOrderID, paymentID, signature string) error
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// RazorpayClient adapts the Razorpay SDK to Client. The SDK has no context
// support, so each call runs under the configured HTTP timeout and the
// caller's context bounds how long we wait for it.
type RazorpayClient struct {
	sdk       *razorpay.Client
	keySecret string
}

type options struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*options)

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithBaseURL points the client at another host. A trailing /v1 is dropped
// because the SDK adds the API version to every path.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
		trimmed = strings.TrimSuffix(trimmed, "/v1")
		if trimmed != "" {
			o.baseURL = trimmed
		}
	}
}

func NewClient(keyID, keySecret string, opts ...Option) (*RazorpayClient, error) {
	keyID = strings.TrimSpace(keyID)
	keySecret = strings.TrimSpace(keySecret)
	if keyID == "" {
		return nil, errKeyIDRequired
	}
	if keySecret == "" {
		return nil, errKeySecretRequired
	}

	o := options{baseURL: defaultBaseURL, httpClient: &http.Client{Timeout: defaultTimeout}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	sdk := razorpay.NewClient(keyID, keySecret)
	// every resource of one SDK client shares this request
	sdk.Order.Request.BaseURL = o.baseURL
	sdk.Order.Request.HTTPClient = o.httpClient
	return &RazorpayClient{sdk: sdk, keySecret: keySecret}, nil
}

// NewFromConfig builds the client from gateway settings.
func NewFromConfig(cfg config.GatewayConfig) (*RazorpayClient, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewClient(cfg.KeyID, cfg.KeySecret,
		WithBaseURL(cfg.BaseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
}

// IntentRequest creates a gateway order. Amount is in minor units.
type IntentRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

type Intent struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

type Payment struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Status   string
	Method   string
}

// Captured reports whether funds were taken.
func (p *Payment) Captured() bool {
	return p != nil && (p.Status == PaymentCaptured || p.Status == PaymentAuthorized)
}

func (c *RazorpayClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent currency is required")
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}
	body, err := call(ctx, "create payment intent", func() (map[string]interface{}, error) {
		return c.sdk.Order.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Intent{
		ID:       stringField(body, "id"),
		Amount:   intField(body, "amount"),
		Currency: stringField(body, "currency"),
		Receipt:  stringField(body, "receipt"),
		Status:   stringField(body, "status"),
	}, nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	trimmed := strings.TrimSpace(paymentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	body, err := call(ctx, "fetch payment", func() (map[string]interface{}, error) {
		return c.sdk.Payment.Fetch(trimmed, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Payment{
		ID:       stringField(body, "id"),
		OrderID:  stringField(body, "order_id"),
		Amount:   intField(body, "amount"),
		Currency: stringField(body, "currency"),
		Status:   stringField(body, "status"),
		Method:   stringField(body, "method"),
	}, nil
}

// VerifySignature checks the checkout callback signature over
// orderID|paymentID with the key secret.
func (c *RazorpayClient) VerifySignature(gatewayOrderID, paymentID, signature string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	return VerifySignature(c.keySecret, gatewayOrderID, paymentID, signature)
}

func VerifySignature(secret, gatewayOrderID, paymentID, signature string) error {
	params := map[string]interface{}{
		"razorpay_order_id":   gatewayOrderID,
		"razorpay_payment_id": paymentID,
	}
	provided := strings.ToLower(strings.TrimSpace(signature))
	if provided == "" || !utils.VerifyPaymentSignature(params, provided, secret) {
		return pkgerrors.Wrap(pkgerrors.CodeForbidden, ErrSignatureMismatch, "payment signature verification failed")
	}
	return nil
}

type callResult struct {
	body map[string]interface{}
	err  error
}

// call runs one SDK request. If ctx ends first the request is left to finish
// under the HTTP client timeout and the outcome is reported as unknown.
func call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("gateway sdk panic: %v", r)}
			}
		}()
		body, err := fn()
		done <- callResult{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()), op+" timed out")
	case res := <-done:
		if res.err != nil {
			if isTimeout(res.err) {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("%w: %v", ErrTimeout, res.err), op+" timed out")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.err, op+" request failed")
		}
		if res.body == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, op+" returned an empty response")
		}
		return res.body, nil
	}
}

func stringField(body map[string]interface{}, key string) string {
	v, _ := body[key].(string)
	return v
}

// intField reads a JSON number; the SDK decodes numbers as float64.
func intField(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTimeout reports whether err came from a gateway call whose outcome is
// unknown.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
